// Package marker stamps and recognizes the EXIF Software tag this tool writes
// to JPEG outputs, so a second run skips files that are already compressed.
package marker

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
)

// SoftwareMark is the value written into the EXIF Software tag.
const SoftwareMark = "ImageShrinker Compressed"

// HasMark reports whether the file's EXIF Software tag was stamped by a
// previous run. The in-process goexif read is tried first; the exiftool
// binary is the fallback for files goexif cannot parse.
func HasMark(path string) bool {
	if found, err := hasMarkGoexif(path); err == nil {
		return found
	}
	found, err := hasMarkExiftool(path)
	return err == nil && found
}

// hasMarkGoexif reads the Software tag with rwcarlsen/goexif.
func hasMarkGoexif(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return false, err
	}
	tag, err := x.Get(exif.Software)
	if err != nil {
		// No Software tag at all: definitively unmarked.
		return false, nil
	}
	val, err := tag.StringVal()
	if err != nil {
		return false, err
	}
	return strings.Contains(val, SoftwareMark), nil
}

// hasMarkExiftool reads the Software tag through the exiftool binary.
func hasMarkExiftool(path string) (bool, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return false, err
	}
	defer et.Close()

	files := et.ExtractMetadata(path)
	if len(files) == 0 {
		return false, fmt.Errorf("no metadata extracted from %s", path)
	}
	if files[0].Err != nil {
		return false, files[0].Err
	}
	if sw, ok := files[0].Fields["Software"].(string); ok {
		return strings.Contains(sw, SoftwareMark), nil
	}
	return false, nil
}

// Apply copies EXIF metadata from src onto dst and sets the Software mark.
// It requires the exiftool binary; callers treat a failure as a warning, not
// a processing error.
func Apply(src, dst string) error {
	cmdCopy := exec.Command("exiftool", "-TagsFromFile", src, "-overwrite_original", dst)
	if err := cmdCopy.Run(); err != nil {
		return fmt.Errorf("exiftool copy failed: %v", err)
	}
	cmdSet := exec.Command("exiftool", "-overwrite_original", "-Software="+SoftwareMark, dst)
	if err := cmdSet.Run(); err != nil {
		return fmt.Errorf("exiftool set Software failed: %v", err)
	}
	return nil
}
