package walker

import (
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"image-shrinker-go/internal/codec"
	"image-shrinker-go/internal/config"
	"image-shrinker-go/internal/marker"
	"image-shrinker-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

func testConfig(dir string, maxSize int64) *config.Config {
	cfg := config.DefaultConfig()
	cfg.SourceDirectory = dir
	cfg.Compression.MaxFileSize = maxSize
	cfg.Compression.MarkProcessed = false // tests must not depend on exiftool
	cfg.Performance.WorkerThreads = 2
	cfg.Performance.ShowProgress = false
	return cfg
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// noisyImage fills a deterministic pseudo-random pattern so encoders cannot
// compress it away. alpha < 255 yields a semi-transparent image.
func noisyImage(w, h int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	seed := uint32(88172645)
	for i := 0; i < len(img.Pix); i += 4 {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		img.Pix[i] = uint8(seed)
		img.Pix[i+1] = uint8(seed >> 8)
		img.Pix[i+2] = uint8(seed >> 16)
		img.Pix[i+3] = alpha
	}
	return img
}

func writeImage(t *testing.T, c codec.Codec, path string, img image.Image, format codec.Format, quality int) int64 {
	t.Helper()
	data, err := c.Encode(img, format, codec.EncodeOptions{Quality: quality})
	if err != nil {
		t.Fatalf("encode fixture %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
	return int64(len(data))
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestOpaquePNGConvertedToJPEG(t *testing.T) {
	dir := t.TempDir()
	c := codec.NewImagingCodec()
	pngPath := filepath.Join(dir, "photo.png")

	size := writeImage(t, c, pngPath, noisyImage(64, 64, 255), codec.FormatPNG, 0)
	budget := int64(8 * 1024)
	if size <= budget {
		t.Fatalf("fixture too small (%d bytes), must exceed budget %d", size, budget)
	}

	cfg := testConfig(dir, budget)
	stats := statistics.NewStatistics()
	w := New(cfg, testLogger(), stats, c)

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	jpgPath := filepath.Join(dir, "photo.jpg")
	if !fileExists(jpgPath) {
		t.Fatal("expected photo.jpg to be written")
	}
	if fileExists(pngPath) {
		t.Error("original photo.png must be deleted after conversion")
	}
	if got := fileSize(t, jpgPath); got > budget {
		t.Errorf("output size %d exceeds budget %d", got, budget)
	}

	if stats.FilesCompressed != 1 {
		t.Errorf("FilesCompressed = %d, want 1", stats.FilesCompressed)
	}
	if stats.FilesConverted != 1 {
		t.Errorf("FilesConverted = %d, want 1", stats.FilesConverted)
	}
	if stats.FilesWithErrors != 0 {
		t.Errorf("FilesWithErrors = %d, want 0", stats.FilesWithErrors)
	}
}

func TestFileUnderBudgetNeverTouched(t *testing.T) {
	dir := t.TempDir()
	c := codec.NewImagingCodec()
	jpgPath := filepath.Join(dir, "small.jpg")

	writeImage(t, c, jpgPath, noisyImage(16, 16, 255), codec.FormatJPEG, 80)
	before, err := os.ReadFile(jpgPath)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	cfg := testConfig(dir, 512*1024)
	stats := statistics.NewStatistics()
	w := New(cfg, testLogger(), stats, c)

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	after, err := os.ReadFile(jpgPath)
	if err != nil {
		t.Fatalf("read after run: %v", err)
	}
	if string(before) != string(after) {
		t.Error("file under budget was modified")
	}
	if stats.TotalFilesFound != 0 {
		t.Errorf("TotalFilesFound = %d, want 0", stats.TotalFilesFound)
	}
}

func TestUnreadableFileDoesNotAbortRun(t *testing.T) {
	dir := t.TempDir()
	c := codec.NewImagingCodec()
	budget := int64(8 * 1024)

	// A corrupt "png" above budget and a valid oversized one.
	corruptPath := filepath.Join(dir, "corrupt.png")
	garbage := make([]byte, budget+1000)
	for i := range garbage {
		garbage[i] = byte(i)
	}
	if err := os.WriteFile(corruptPath, garbage, 0644); err != nil {
		t.Fatalf("write corrupt fixture: %v", err)
	}

	goodPath := filepath.Join(dir, "good.png")
	writeImage(t, c, goodPath, noisyImage(64, 64, 255), codec.FormatPNG, 0)

	cfg := testConfig(dir, budget)
	stats := statistics.NewStatistics()
	w := New(cfg, testLogger(), stats, c)

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.FilesWithErrors != 1 {
		t.Errorf("FilesWithErrors = %d, want 1", stats.FilesWithErrors)
	}
	if got := fileSize(t, corruptPath); got != int64(len(garbage)) {
		t.Error("corrupt file must be left untouched")
	}
	if !fileExists(filepath.Join(dir, "good.jpg")) {
		t.Error("valid file must still be processed after the corrupt one fails")
	}
	if len(stats.Errors) != 1 {
		t.Fatalf("recorded errors = %d, want 1", len(stats.Errors))
	}
	if stats.Errors[0].FilePath != corruptPath {
		t.Errorf("error file = %s, want %s", stats.Errors[0].FilePath, corruptPath)
	}
}

func TestTransparentPNGStaysPNGWhenBudgetReachableLosslessly(t *testing.T) {
	dir := t.TempDir()
	c := codec.NewImagingCodec()
	pngPath := filepath.Join(dir, "overlay.png")

	size := writeImage(t, c, pngPath, noisyImage(64, 64, 128), codec.FormatPNG, 0)
	budget := int64(8 * 1024)
	if size <= budget {
		t.Fatalf("fixture too small (%d bytes), must exceed budget %d", size, budget)
	}

	cfg := testConfig(dir, budget)
	stats := statistics.NewStatistics()
	w := New(cfg, testLogger(), stats, c)

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !fileExists(pngPath) {
		t.Fatal("transparent png reachable losslessly must stay png")
	}
	if fileExists(filepath.Join(dir, "overlay.webp")) {
		t.Error("no webp conversion expected")
	}
	if fileExists(filepath.Join(dir, "overlay.jpg")) {
		t.Error("transparent png must never become jpeg")
	}
	if got := fileSize(t, pngPath); got > budget {
		t.Errorf("output size %d exceeds budget %d", got, budget)
	}

	img, err := c.Decode(pngPath)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !c.HasAlpha(img) {
		t.Error("alpha channel lost during lossless recompression")
	}
}

func TestTransparentPNGConvertedToWebPWhenLosslessCannotFit(t *testing.T) {
	dir := t.TempDir()
	c := codec.NewImagingCodec()
	pngPath := filepath.Join(dir, "sprite.png")

	writeImage(t, c, pngPath, noisyImage(48, 48, 128), codec.FormatPNG, 0)

	// Below the size of even a 1x1 PNG, so the lossless loop can never fit
	// and the policy must fall through to WebP.
	cfg := testConfig(dir, 60)
	stats := statistics.NewStatistics()
	w := New(cfg, testLogger(), stats, c)

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	webpPath := filepath.Join(dir, "sprite.webp")
	if !fileExists(webpPath) {
		t.Fatal("expected sprite.webp to be written")
	}
	if fileExists(pngPath) {
		t.Error("original sprite.png must be deleted after conversion")
	}
	if stats.FilesConverted != 1 {
		t.Errorf("FilesConverted = %d, want 1", stats.FilesConverted)
	}

	img, err := c.Decode(webpPath)
	if err != nil {
		t.Fatalf("decode webp output: %v", err)
	}
	if !c.HasAlpha(img) {
		t.Error("alpha channel lost in webp conversion")
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	c := codec.NewImagingCodec()
	pngPath := filepath.Join(dir, "photo.png")

	writeImage(t, c, pngPath, noisyImage(64, 64, 255), codec.FormatPNG, 0)
	before, err := os.ReadFile(pngPath)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	cfg := testConfig(dir, 8*1024)
	cfg.Security.DryRun = true
	stats := statistics.NewStatistics()
	w := New(cfg, testLogger(), stats, c)

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	after, err := os.ReadFile(pngPath)
	if err != nil {
		t.Fatalf("read after run: %v", err)
	}
	if string(before) != string(after) {
		t.Error("dry run modified a file")
	}
	if fileExists(filepath.Join(dir, "photo.jpg")) {
		t.Error("dry run wrote an output file")
	}
	if stats.FilesCompressed != 0 {
		t.Errorf("FilesCompressed = %d, want 0", stats.FilesCompressed)
	}
	if stats.TotalFilesFound != 1 {
		t.Errorf("TotalFilesFound = %d, want 1", stats.TotalFilesFound)
	}
}

func TestInPlaceJPEGKeepsSourceEXIF(t *testing.T) {
	if _, err := exec.LookPath("exiftool"); err != nil {
		t.Skip("exiftool not installed")
	}

	dir := t.TempDir()
	c := codec.NewImagingCodec()
	jpgPath := filepath.Join(dir, "camera.jpg")

	writeImage(t, c, jpgPath, noisyImage(256, 256, 255), codec.FormatJPEG, 95)
	tag := exec.Command("exiftool", "-overwrite_original", "-Artist=Ada Example", jpgPath)
	if out, err := tag.CombinedOutput(); err != nil {
		t.Fatalf("exiftool tag fixture: %v: %s", err, out)
	}

	budget := int64(8 * 1024)
	if size := fileSize(t, jpgPath); size <= budget {
		t.Fatalf("fixture too small (%d bytes), must exceed budget %d", size, budget)
	}

	cfg := testConfig(dir, budget)
	cfg.Compression.MarkProcessed = true
	stats := statistics.NewStatistics()
	w := New(cfg, testLogger(), stats, c)

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The source tags must survive the in-place overwrite.
	read := exec.Command("exiftool", "-s3", "-Artist", jpgPath)
	out, err := read.Output()
	if err != nil {
		t.Fatalf("exiftool read: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "Ada Example" {
		t.Errorf("Artist tag after recompression = %q, want %q", got, "Ada Example")
	}
	if !marker.HasMark(jpgPath) {
		t.Error("recompressed jpeg must carry the processed mark")
	}
}

func TestMaxFilesPerRunCapsDiscovery(t *testing.T) {
	dir := t.TempDir()
	c := codec.NewImagingCodec()

	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writeImage(t, c, filepath.Join(dir, name), noisyImage(64, 64, 255), codec.FormatPNG, 0)
	}

	cfg := testConfig(dir, 8*1024)
	cfg.Security.MaxFilesPerRun = 2
	stats := statistics.NewStatistics()
	w := New(cfg, testLogger(), stats, c)

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.TotalFilesFound != 2 {
		t.Errorf("TotalFilesFound = %d, want 2", stats.TotalFilesFound)
	}
}
