package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// ImagingCodec implements Codec on top of disintegration/imaging for the
// standard raster formats and chai2010/webp for WebP.
type ImagingCodec struct{}

// NewImagingCodec returns a new ImagingCodec.
func NewImagingCodec() *ImagingCodec {
	return &ImagingCodec{}
}

// Decode reads and decodes the image at path.
func (c *ImagingCodec) Decode(path string) (image.Image, error) {
	if FormatFromExtension(filepath.Ext(path)) == FormatWebP {
		f, err := os.Open(path)
		if err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
		defer f.Close()
		img, err := webp.Decode(f)
		if err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
		return img, nil
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return img, nil
}

// Encode serializes img into format, entirely in memory.
func (c *ImagingCodec) Encode(img image.Image, format Format, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(clampQuality(opts.Quality)))
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{
			Lossless: opts.Lossless,
			Quality:  float32(clampQuality(opts.Quality)),
		})
	case FormatGIF:
		err = imaging.Encode(&buf, img, imaging.GIF)
	case FormatTIFF:
		err = imaging.Encode(&buf, img, imaging.TIFF)
	case FormatBMP:
		err = imaging.Encode(&buf, img, imaging.BMP)
	default:
		err = fmt.Errorf("unsupported output format")
	}

	if err != nil {
		return nil, &EncodeError{Format: format, Err: err}
	}
	return buf.Bytes(), nil
}

// Resize returns img resampled to width x height with Lanczos filtering.
// Dimensions are clamped so the result is never larger than the input and
// never smaller than 1x1.
func (c *ImagingCodec) Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if width > b.Dx() {
		width = b.Dx()
	}
	if height > b.Dy() {
		height = b.Dy()
	}
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if width == b.Dx() && height == b.Dy() {
		return img
	}
	return imaging.Resize(img, width, height, imaging.Lanczos)
}

// HasAlpha reports whether img carries a non-opaque alpha channel.
func (c *ImagingCodec) HasAlpha(img image.Image) bool {
	switch img.ColorModel() {
	case color.YCbCrModel, color.GrayModel, color.Gray16Model, color.CMYKModel:
		return false
	}
	if opaquer, ok := img.(interface{ Opaque() bool }); ok {
		return !opaquer.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}

// SupportsQuality reports whether format accepts a lossy quality parameter.
func (c *ImagingCodec) SupportsQuality(format Format) bool {
	return format == FormatJPEG || format == FormatWebP
}

// SupportsAlpha reports whether format can represent transparency.
func (c *ImagingCodec) SupportsAlpha(format Format) bool {
	switch format {
	case FormatPNG, FormatWebP, FormatGIF, FormatTIFF:
		return true
	}
	return false
}

// FlattenOpaque composites img over a white background, discarding any alpha
// channel. Used before encoding into formats without transparency.
func FlattenOpaque(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
