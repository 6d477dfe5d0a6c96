package failure

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestKindOfAndSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		sentinel error
		code     int
	}{
		{"parse", Parse(7, "bad timestamp %q", "xx"), KindParse, ErrParse, 3},
		{"range", Range(2, "end %.1f past %.1f", 12.0, 10.0), KindRange, ErrRange, 4},
		{"tool", Tool("ffmpeg", errors.New("exit status 1"), []byte("boom")), KindExternalTool, ErrExternalTool, 5},
		{"io", IO("open", fs.ErrNotExist), KindIO, ErrIO, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("stage: %w", tt.err)
			if got := KindOf(wrapped); got != tt.kind {
				t.Fatalf("KindOf = %v, want %v", got, tt.kind)
			}
			if !errors.Is(wrapped, tt.sentinel) {
				t.Fatalf("errors.Is(%v, %v) = false", wrapped, tt.sentinel)
			}
			if got := ExitCode(wrapped); got != tt.code {
				t.Fatalf("ExitCode = %d, want %d", got, tt.code)
			}
		})
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	err := IO("open subtitles", fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("cause lost")
	}
	if !errors.Is(err, ErrIO) {
		t.Fatal("sentinel lost")
	}
}

func TestErrorMessage(t *testing.T) {
	msg := Parse(12, "bad line").Error()
	if !strings.Contains(msg, "line 12") || !strings.HasPrefix(msg, "parse") {
		t.Fatalf("unexpected message %q", msg)
	}
	msg = Range(3, "too long").Error()
	if !strings.Contains(msg, "sentence 003") {
		t.Fatalf("unexpected message %q", msg)
	}
	msg = Tool("yt-dlp", errors.New("exit status 1"), []byte("  ERROR: video unavailable\n")).Error()
	if !strings.Contains(msg, "ERROR: video unavailable") {
		t.Fatalf("tool output missing from %q", msg)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Tool("yt-dlp", errors.New("x"), nil)) {
		t.Fatal("tool errors should be retryable")
	}
	for _, err := range []error{Parse(1, "x"), Range(1, "x"), IO("x", errors.New("x")), errors.New("plain")} {
		if Retryable(err) {
			t.Fatalf("%v should not be retryable", err)
		}
	}
}

func TestExitCodeUnknownAndNil(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Fatal("nil should exit 0")
	}
	if ExitCode(errors.New("plain")) != 1 {
		t.Fatal("unclassified errors should exit 1")
	}
}
