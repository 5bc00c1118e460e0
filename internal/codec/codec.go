package codec

import (
	"fmt"
	"image"
	"strings"
)

// Format identifies an image encoding.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatWebP
	FormatGIF
	FormatTIFF
	FormatBMP
)

// String returns the canonical lowercase name of the format.
func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatGIF:
		return "gif"
	case FormatTIFF:
		return "tiff"
	case FormatBMP:
		return "bmp"
	}
	return "unknown"
}

// Extension returns the preferred file extension for the format, dot included.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	case FormatGIF:
		return ".gif"
	case FormatTIFF:
		return ".tif"
	case FormatBMP:
		return ".bmp"
	}
	return ""
}

// FormatFromExtension maps a file extension (with or without the leading dot)
// to a Format. Unrecognized extensions yield FormatUnknown.
func FormatFromExtension(ext string) Format {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "webp":
		return FormatWebP
	case "gif":
		return FormatGIF
	case "tif", "tiff":
		return FormatTIFF
	case "bmp":
		return FormatBMP
	}
	return FormatUnknown
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality  int  // 1-100 for lossy formats; ignored by formats without a quality knob
	Lossless bool // WebP lossless mode
}

// Codec is the decode/encode capability the planner runs its search against.
type Codec interface {
	// Decode reads and decodes the image at path.
	Decode(path string) (image.Image, error)

	// Encode serializes img into format, entirely in memory.
	Encode(img image.Image, format Format, opts EncodeOptions) ([]byte, error)

	// Resize returns img resampled to width x height with a high-quality
	// filter. It never upsizes: dimensions are clamped to the originals.
	Resize(img image.Image, width, height int) image.Image

	// HasAlpha reports whether img carries a non-opaque alpha channel.
	HasAlpha(img image.Image) bool

	// SupportsQuality reports whether format accepts a lossy quality parameter.
	SupportsQuality(format Format) bool

	// SupportsAlpha reports whether format can represent transparency.
	SupportsAlpha(format Format) bool
}

// DecodeError reports an unreadable, corrupt or unsupported input file.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports an encoder failure or an unsupported format/option
// combination.
type EncodeError struct {
	Format Format
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
