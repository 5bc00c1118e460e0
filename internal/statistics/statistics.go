package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains all counters for one compression run.
type Statistics struct {
	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesCompressed     int64
	FilesConverted      int64 // output format differs from the input
	FilesSkipped        int64 // already marked as processed
	FilesOverBudget     int64 // best-effort terminal results above the budget
	FilesWithErrors     int64

	BytesBefore int64
	BytesAfter  int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	DirectoriesScanned int64

	Errors []StatError

	mutex sync.RWMutex

	FormatStats map[string]int64 // output format -> files written
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// IncrementFilesFound increases the count of found oversized files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.TotalFilesFound, 1)
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
}

// IncrementFilesCompressed increases the count of compressed files by 1.
func (s *Statistics) IncrementFilesCompressed() {
	atomic.AddInt64(&s.FilesCompressed, 1)
}

// IncrementFilesConverted increases the count of format-converted files by 1.
func (s *Statistics) IncrementFilesConverted() {
	atomic.AddInt64(&s.FilesConverted, 1)
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementFilesOverBudget increases the count of best-effort results by 1.
func (s *Statistics) IncrementFilesOverBudget() {
	atomic.AddInt64(&s.FilesOverBudget, 1)
}

// IncrementFilesWithErrors increases the count of files with errors by 1.
func (s *Statistics) IncrementFilesWithErrors() {
	atomic.AddInt64(&s.FilesWithErrors, 1)
}

// IncrementDirectoriesScanned increases the count of scanned directories by 1.
func (s *Statistics) IncrementDirectoriesScanned() {
	atomic.AddInt64(&s.DirectoriesScanned, 1)
}

// IncrementFormat increases the output count for a specific format by 1.
func (s *Statistics) IncrementFormat(format string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[format]++
}

// AddBytesBefore adds to the total size of inputs before compression.
func (s *Statistics) AddBytesBefore(bytes int64) {
	atomic.AddInt64(&s.BytesBefore, bytes)
}

// AddBytesAfter adds to the total size of outputs after compression.
func (s *Statistics) AddBytesAfter(bytes int64) {
	atomic.AddInt64(&s.BytesAfter, bytes)
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize calculates final statistics such as duration and files per second.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalFilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}
}

// SpaceSaved returns the number of bytes reclaimed by the run.
func (s *Statistics) SpaceSaved() int64 {
	before := atomic.LoadInt64(&s.BytesBefore)
	after := atomic.LoadInt64(&s.BytesAfter)
	return before - after
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	return fmt.Sprintf(`Image Shrinker Statistics Summary:

Files:
		Oversized Found: %d
		Processed: %d
		Compressed: %d
		Format Converted: %d
		Skipped: %d
		Over Budget (best effort): %d
		Errors: %d

Size:
		Before: %s
		After: %s
		Saved: %s

Performance:
		Duration: %v
		Files/Second: %.2f

Directories:
		Scanned: %d`,
		atomic.LoadInt64(&s.TotalFilesFound),
		atomic.LoadInt64(&s.TotalFilesProcessed),
		atomic.LoadInt64(&s.FilesCompressed),
		atomic.LoadInt64(&s.FilesConverted),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesOverBudget),
		atomic.LoadInt64(&s.FilesWithErrors),
		formatBytes(atomic.LoadInt64(&s.BytesBefore)),
		formatBytes(atomic.LoadInt64(&s.BytesAfter)),
		formatBytes(s.SpaceSaved()),
		s.Duration,
		s.FilesPerSecond,
		atomic.LoadInt64(&s.DirectoriesScanned))
}

// GetFormatBreakdown returns a formatted breakdown of output formats written.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	result := "Output Format Breakdown:\n"
	for format, count := range s.FormatStats {
		result += fmt.Sprintf("  %s: %d\n", format, count)
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// GetTotalFilesProcessed returns the total number of files processed.
func (s *Statistics) GetTotalFilesProcessed() int64 {
	return atomic.LoadInt64(&s.TotalFilesProcessed)
}

// GetFilesWithErrors returns the total number of recorded errors.
func (s *Statistics) GetFilesWithErrors() int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return int64(len(s.Errors))
}

// GetDuration returns the total duration of the operation.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit && bytes > -unit {
		return fmt.Sprintf("%d B", bytes)
	}
	neg := bytes < 0
	if neg {
		bytes = -bytes
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	out := fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
	if neg {
		return "-" + out
	}
	return out
}
