package statistics

import (
	"strings"
	"testing"
)

func TestCountersAndSpaceSaved(t *testing.T) {
	s := NewStatistics()

	s.IncrementFilesFound()
	s.IncrementFilesFound()
	s.IncrementFilesProcessed()
	s.IncrementFilesCompressed()
	s.IncrementFilesConverted()
	s.AddBytesBefore(4 * 1024 * 1024)
	s.AddBytesAfter(512 * 1024)
	s.IncrementFormat("jpeg")
	s.Finalize()

	if s.TotalFilesFound != 2 {
		t.Errorf("TotalFilesFound = %d, want 2", s.TotalFilesFound)
	}
	if got := s.SpaceSaved(); got != 4*1024*1024-512*1024 {
		t.Errorf("SpaceSaved = %d", got)
	}
	if s.FormatStats["jpeg"] != 1 {
		t.Errorf("FormatStats[jpeg] = %d, want 1", s.FormatStats["jpeg"])
	}
	if s.Duration <= 0 {
		t.Error("Finalize must set a positive duration")
	}
}

func TestErrorRecording(t *testing.T) {
	s := NewStatistics()

	s.AddError("/photos/a.png", "compress", "decode failed")
	s.AddError("/photos/b.jpg", "write", "permission denied")

	if s.GetFilesWithErrors() != 2 {
		t.Errorf("GetFilesWithErrors = %d, want 2", s.GetFilesWithErrors())
	}

	summary := s.GetErrorSummary()
	if !strings.Contains(summary, "/photos/a.png") || !strings.Contains(summary, "decode failed") {
		t.Errorf("error summary missing entries: %s", summary)
	}
}

func TestSummaryMentionsSizes(t *testing.T) {
	s := NewStatistics()
	s.AddBytesBefore(2 * 1024 * 1024)
	s.AddBytesAfter(1024 * 1024)
	s.Finalize()

	summary := s.GetSummary()
	if !strings.Contains(summary, "2.0 MB") {
		t.Errorf("summary missing before size: %s", summary)
	}
	if !strings.Contains(summary, "1.0 MB") {
		t.Errorf("summary missing after size: %s", summary)
	}
}

func TestGetErrorSummaryTruncatesAfterTen(t *testing.T) {
	s := NewStatistics()
	for i := 0; i < 15; i++ {
		s.AddError("/photos/x.png", "compress", "boom")
	}

	summary := s.GetErrorSummary()
	if !strings.Contains(summary, "and 5 more errors") {
		t.Errorf("summary not truncated: %s", summary)
	}
}
