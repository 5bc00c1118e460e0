package walker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"image-shrinker-go/internal/codec"
	"image-shrinker-go/internal/config"
	"image-shrinker-go/internal/logger"
	"image-shrinker-go/internal/marker"
	"image-shrinker-go/internal/planner"
	"image-shrinker-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// FilesystemError reports a read, write or delete failure around one file.
type FilesystemError struct {
	Path string
	Op   string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// FileInfo describes one oversized candidate file.
type FileInfo struct {
	Path      string
	Size      int64
	Extension string
}

// FileResult describes the outcome of processing a single file.
type FileResult struct {
	Path         string
	OutputPath   string
	OriginalSize int64
	FinalSize    int64
	Format       string
	Quality      int
	Width        int
	Height       int
	Converted    bool
	WithinBudget bool
	Skipped      bool
	DryRun       bool
	Success      bool
	Message      string
	Err          error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// ProgressFunc receives per-file results as they complete. Used by the web
// server to stream progress; may be nil.
type ProgressFunc func(FileResult)

// Walker discovers oversized images under the source directory and runs the
// compression planner once per file.
type Walker struct {
	config   *config.Config
	logger   *logrus.Logger
	stats    *statistics.Statistics
	codec    codec.Codec
	planner  *planner.Planner
	workers  int
	progress ProgressFunc
}

// New returns a Walker wired to the given codec.
func New(cfg *config.Config, log *logrus.Logger, stats *statistics.Statistics, c codec.Codec) *Walker {
	return NewWithProgress(cfg, log, stats, c, nil)
}

// NewWithProgress additionally registers a per-file progress callback.
func NewWithProgress(cfg *config.Config, log *logrus.Logger, stats *statistics.Statistics, c codec.Codec, progress ProgressFunc) *Walker {
	workers := cfg.Performance.WorkerThreads
	if workers <= 0 {
		workers = 4
	}
	target := planner.Target{
		MaxBytes:       cfg.Compression.MaxFileSize,
		MinQuality:     cfg.Compression.MinQuality,
		QualityStep:    cfg.Compression.QualityStep,
		StartQuality:   cfg.Compression.StartQuality,
		DownscaleRatio: cfg.Compression.DownscaleRatio,
		AllowPNGToWebP: cfg.Compression.AllowPNGToWebP,
	}
	return &Walker{
		config:   cfg,
		logger:   log,
		stats:    stats,
		codec:    c,
		planner:  planner.New(c, target),
		workers:  workers,
		progress: progress,
	}
}

// Run discovers and processes all oversized files under the source directory.
// A failure on one file never aborts the run.
func (w *Walker) Run() error {
	w.logger.Info("Starting image compression run")
	w.stats.StartTime = time.Now()

	files, err := w.discoverFiles()
	if err != nil {
		return fmt.Errorf("failed to discover files: %w", err)
	}

	if len(files) == 0 {
		w.logger.Info("No files above the size budget were found")
		w.stats.Finalize()
		return nil
	}

	w.logger.Infof("Found %d files above %d bytes", len(files), w.config.Compression.MaxFileSize)

	w.processFiles(files)

	w.stats.Finalize()
	w.logger.Info("Image compression run completed")
	return nil
}

// discoverFiles walks the source directory collecting supported files whose
// size exceeds the budget. Files already at or under budget are never touched.
func (w *Walker) discoverFiles() ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.Walk(w.config.SourceDirectory, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			w.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}

		if info.IsDir() {
			w.stats.IncrementDirectoriesScanned()
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !w.config.IsSupportedExtension(ext) {
			return nil
		}

		if info.Size() <= w.config.Compression.MaxFileSize {
			return nil
		}

		files = append(files, FileInfo{
			Path:      path,
			Size:      info.Size(),
			Extension: ext,
		})
		w.stats.IncrementFilesFound()

		if w.config.Security.MaxFilesPerRun > 0 && len(files) >= w.config.Security.MaxFilesPerRun {
			w.logger.Infof("Reached maximum files limit (%d), stopping discovery", w.config.Security.MaxFilesPerRun)
			return filepath.SkipAll
		}

		return nil
	})

	return files, err
}

// processFiles fans the files out across the worker pool. Each file is
// independent; within one file the search is strictly sequential.
func (w *Walker) processFiles(files []FileInfo) {
	var wg sync.WaitGroup
	fileChan := make(chan FileInfo, w.config.Performance.BatchSize)

	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range fileChan {
				w.recordResult(w.processFile(file))
			}
		}()
	}

	for _, file := range files {
		fileChan <- file
	}
	close(fileChan)

	wg.Wait()
}

// processFile runs the full per-file pipeline: marker check, decode, plan,
// write. All three error classes (decode, encode, filesystem) are caught here.
func (w *Walker) processFile(file FileInfo) FileResult {
	res := FileResult{
		Path:         file.Path,
		OriginalSize: file.Size,
		DryRun:       w.config.Security.DryRun,
		StartedAt:    time.Now(),
	}

	if w.config.Compression.MarkProcessed && isJPEGExt(file.Extension) && marker.HasMark(file.Path) {
		res.Skipped = true
		res.Success = true
		res.Message = "already compressed, skipping"
		res.FinishedAt = time.Now()
		return res
	}

	img, err := w.codec.Decode(file.Path)
	if err != nil {
		res.Err = err
		res.Message = fmt.Sprintf("decode failed: %v", err)
		res.FinishedAt = time.Now()
		return res
	}

	if w.config.Security.DryRun {
		class := w.planner.Classify(img, file.Path)
		res.Success = true
		res.Message = fmt.Sprintf("DRY-RUN: would compress as %s", class)
		res.FinishedAt = time.Now()
		return res
	}

	outcome, err := w.planner.Compress(img, file.Path)
	if err != nil {
		res.Err = err
		res.Message = fmt.Sprintf("compression failed: %v", err)
		res.FinishedAt = time.Now()
		return res
	}

	if err := w.writeOutcome(file, outcome); err != nil {
		res.Err = err
		res.Message = fmt.Sprintf("write failed: %v", err)
		res.FinishedAt = time.Now()
		return res
	}

	res.OutputPath = outcome.OutputPath
	res.FinalSize = outcome.Size
	res.Format = outcome.Format.String()
	res.Quality = outcome.Quality
	res.Width = outcome.Width
	res.Height = outcome.Height
	res.Converted = outcome.RemoveOriginal
	res.WithinBudget = outcome.WithinBudget
	res.Success = true
	res.Message = "compressed"
	res.FinishedAt = time.Now()
	return res
}

// writeOutcome persists the single accepted candidate: bytes go to a sibling
// tmp file, are synced, then renamed over the destination. The original is
// removed only after the new file is in place. A failure leaves the original
// untouched.
func (w *Walker) writeOutcome(file FileInfo, outcome *planner.Outcome) error {
	tmpPath := outcome.OutputPath + ".tmp"

	if err := writeFileSync(tmpPath, outcome.Data); err != nil {
		_ = os.Remove(tmpPath)
		return &FilesystemError{Path: tmpPath, Op: "write", Err: err}
	}

	// Stamp the tmp file while the input is still intact, so the source EXIF
	// tags survive in-place overwrites as well as format conversions.
	if w.config.Compression.MarkProcessed && outcome.Format == codec.FormatJPEG {
		if err := marker.Apply(file.Path, tmpPath); err != nil {
			logger.WithFormat(w.logger, outcome.Format.String()).
				Warnf("Could not mark %s as processed: %v", outcome.OutputPath, err)
		}
	}

	if err := os.Rename(tmpPath, outcome.OutputPath); err != nil {
		_ = os.Remove(tmpPath)
		return &FilesystemError{Path: outcome.OutputPath, Op: "rename", Err: err}
	}

	if outcome.RemoveOriginal && outcome.OutputPath != file.Path {
		if err := os.Remove(file.Path); err != nil {
			return &FilesystemError{Path: file.Path, Op: "remove", Err: err}
		}
	}

	return nil
}

// recordResult updates statistics, logs and forwards the result to the
// progress callback.
func (w *Walker) recordResult(res FileResult) {
	w.stats.IncrementFilesProcessed()

	switch {
	case res.Err != nil:
		w.stats.IncrementFilesWithErrors()
		w.stats.AddError(res.Path, "compress", res.Err.Error())
		logger.WithFile(w.logger, res.Path).Errorf("Compression error: %s", res.Message)

	case res.Skipped:
		w.stats.IncrementFilesSkipped()
		logger.WithFile(w.logger, res.Path).Debug(res.Message)

	case res.DryRun:
		logger.WithFile(w.logger, res.Path).Info(res.Message)

	default:
		w.stats.IncrementFilesCompressed()
		w.stats.AddBytesBefore(res.OriginalSize)
		w.stats.AddBytesAfter(res.FinalSize)
		w.stats.IncrementFormat(res.Format)
		if res.Converted {
			w.stats.IncrementFilesConverted()
		}
		if !res.WithinBudget {
			w.stats.IncrementFilesOverBudget()
		}
		logger.WithFileFormat(w.logger, res.Path, res.Format).WithFields(logrus.Fields{
			"output":  res.OutputPath,
			"before":  res.OriginalSize,
			"after":   res.FinalSize,
			"quality": res.Quality,
		}).Info("Compressed file")

		if w.config.Performance.ShowProgress {
			fmt.Printf("Compressing: %s, original size: %.2f MB\n", res.Path, mb(res.OriginalSize))
			if res.Converted {
				fmt.Printf("Compressed file: %s, size: %.2f MB\n\n", res.OutputPath, mb(res.FinalSize))
			} else {
				fmt.Printf("Compressed size: %.2f MB\n\n", mb(res.FinalSize))
			}
		}
	}

	if w.progress != nil {
		w.progress(res)
	}
}

// writeFileSync writes data to path and fsyncs it before closing.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isJPEGExt(ext string) bool {
	return ext == ".jpg" || ext == ".jpeg"
}

func mb(bytes int64) float64 {
	return float64(bytes) / 1024 / 1024
}
