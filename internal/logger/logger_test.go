package logger

import (
	"testing"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "loud"})
	if err == nil {
		t.Fatal("expected an error for an unknown log level")
	}
}

func TestFieldHelpers(t *testing.T) {
	log, err := NewLogger(LoggerConfig{Level: "info", Console: true})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	if got := WithFile(log, "/photos/a.jpg").Data["file"]; got != "/photos/a.jpg" {
		t.Errorf("file field = %v, want /photos/a.jpg", got)
	}
	if got := WithFormat(log, "webp").Data["format"]; got != "webp" {
		t.Errorf("format field = %v, want webp", got)
	}

	entry := WithFileFormat(log, "/photos/b.png", "jpeg")
	if entry.Data["file"] != "/photos/b.png" || entry.Data["format"] != "jpeg" {
		t.Errorf("combined fields = %v", entry.Data)
	}
}
