package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func opaqueImage(w, h int) *image.NRGBA {
	img := imaging.New(w, h, color.NRGBA{R: 120, G: 80, B: 40, A: 255})
	return img
}

func transparentImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 120, G: 80, B: 40, A: 128})
		}
	}
	return img
}

func TestFormatFromExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want Format
	}{
		{".jpg", FormatJPEG},
		{".jpeg", FormatJPEG},
		{"JPG", FormatJPEG},
		{".PNG", FormatPNG},
		{"png", FormatPNG},
		{".webp", FormatWebP},
		{".gif", FormatGIF},
		{".tif", FormatTIFF},
		{".tiff", FormatTIFF},
		{".bmp", FormatBMP},
		{".txt", FormatUnknown},
		{"", FormatUnknown},
	}

	for _, tt := range tests {
		if got := FormatFromExtension(tt.ext); got != tt.want {
			t.Errorf("FormatFromExtension(%q) = %v, want %v", tt.ext, got, tt.want)
		}
	}
}

func TestFormatExtensionRoundTrip(t *testing.T) {
	for _, f := range []Format{FormatJPEG, FormatPNG, FormatWebP, FormatGIF, FormatTIFF, FormatBMP} {
		if got := FormatFromExtension(f.Extension()); got != f {
			t.Errorf("FormatFromExtension(%s.Extension()) = %v, want %v", f, got, f)
		}
	}
}

func TestHasAlpha(t *testing.T) {
	c := NewImagingCodec()

	if c.HasAlpha(opaqueImage(4, 4)) {
		t.Error("opaque image reported as having alpha")
	}
	if !c.HasAlpha(transparentImage(4, 4)) {
		t.Error("semi-transparent image reported as opaque")
	}

	// YCbCr never carries alpha.
	ycbcr := image.NewYCbCr(image.Rect(0, 0, 4, 4), image.YCbCrSubsampleRatio420)
	if c.HasAlpha(ycbcr) {
		t.Error("YCbCr image reported as having alpha")
	}
}

func TestResizeNeverUpsizes(t *testing.T) {
	c := NewImagingCodec()
	img := opaqueImage(10, 10)

	out := c.Resize(img, 100, 100)
	b := out.Bounds()
	if b.Dx() != 10 || b.Dy() != 10 {
		t.Errorf("upsized to %dx%d, want clamped to 10x10", b.Dx(), b.Dy())
	}
}

func TestResizeFloorsAtOnePixel(t *testing.T) {
	c := NewImagingCodec()
	img := opaqueImage(10, 10)

	out := c.Resize(img, 0, -5)
	b := out.Bounds()
	if b.Dx() != 1 || b.Dy() != 1 {
		t.Errorf("resized to %dx%d, want 1x1", b.Dx(), b.Dy())
	}
}

func TestResizeDownscales(t *testing.T) {
	c := NewImagingCodec()
	img := opaqueImage(100, 100)

	out := c.Resize(img, 90, 90)
	b := out.Bounds()
	if b.Dx() != 90 || b.Dy() != 90 {
		t.Errorf("resized to %dx%d, want 90x90", b.Dx(), b.Dy())
	}
}

func TestJPEGQualityShrinksOutput(t *testing.T) {
	c := NewImagingCodec()
	img := noisyImage(64, 64)

	high, err := c.Encode(img, FormatJPEG, EncodeOptions{Quality: 95})
	if err != nil {
		t.Fatalf("encode q95: %v", err)
	}
	low, err := c.Encode(img, FormatJPEG, EncodeOptions{Quality: 20})
	if err != nil {
		t.Fatalf("encode q20: %v", err)
	}
	if len(low) >= len(high) {
		t.Errorf("quality 20 output (%d bytes) not smaller than quality 95 (%d bytes)", len(low), len(high))
	}
}

func TestEncodeDecodeRoundTripDimensions(t *testing.T) {
	c := NewImagingCodec()
	img := noisyImage(37, 21)

	data, err := c.Encode(img, FormatJPEG, EncodeOptions{Quality: 80})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	path := filepath.Join(t.TempDir(), "roundtrip.jpg")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	decoded, err := c.Decode(path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 37 || b.Dy() != 21 {
		t.Errorf("round-trip dimensions = %dx%d, want 37x21", b.Dx(), b.Dy())
	}
}

func TestDecodeCorruptFileReturnsDecodeError(t *testing.T) {
	c := NewImagingCodec()
	path := filepath.Join(t.TempDir(), "corrupt.png")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xde, 0xad}, 100), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := c.Decode(path)
	if err == nil {
		t.Fatal("expected decode error for corrupt file")
	}
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Errorf("error type = %T, want *DecodeError", err)
	}
	if decErr != nil && decErr.Path != path {
		t.Errorf("DecodeError.Path = %s, want %s", decErr.Path, path)
	}
}

func TestFlattenOpaqueDropsAlpha(t *testing.T) {
	c := NewImagingCodec()
	flat := FlattenOpaque(transparentImage(8, 8))
	if c.HasAlpha(flat) {
		t.Error("flattened image still has alpha")
	}
	b := flat.Bounds()
	if b.Dx() != 8 || b.Dy() != 8 {
		t.Errorf("flatten changed dimensions to %dx%d", b.Dx(), b.Dy())
	}
}

func TestCapabilityQueries(t *testing.T) {
	c := NewImagingCodec()

	qualityFormats := map[Format]bool{
		FormatJPEG: true,
		FormatPNG:  false,
		FormatWebP: true,
		FormatGIF:  false,
		FormatTIFF: false,
		FormatBMP:  false,
	}
	for f, want := range qualityFormats {
		if got := c.SupportsQuality(f); got != want {
			t.Errorf("SupportsQuality(%s) = %v, want %v", f, got, want)
		}
	}

	alphaFormats := map[Format]bool{
		FormatJPEG: false,
		FormatPNG:  true,
		FormatWebP: true,
		FormatBMP:  false,
	}
	for f, want := range alphaFormats {
		if got := c.SupportsAlpha(f); got != want {
			t.Errorf("SupportsAlpha(%s) = %v, want %v", f, got, want)
		}
	}
}

// noisyImage fills a deterministic pseudo-random pattern so encoders cannot
// compress it away.
func noisyImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	seed := uint32(2463534242)
	for i := 0; i < len(img.Pix); i += 4 {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		img.Pix[i] = uint8(seed)
		img.Pix[i+1] = uint8(seed >> 8)
		img.Pix[i+2] = uint8(seed >> 16)
		img.Pix[i+3] = 255
	}
	return img
}
