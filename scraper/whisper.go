package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/humblenginr/sentence_slicer/failure"
)

// TranscriptName is the base name of the sentence-level transcript.
const TranscriptName = "transcription.srt"

// WhisperCPP transcribes audio with the whisper.cpp command line tool. Only
// sentence-level SRT output is requested.
type WhisperCPP struct {
	Binary   string
	Language string
	Threads  int
}

// Transcribe writes <dir>/transcription.srt for audio and returns its path.
func (w WhisperCPP) Transcribe(ctx context.Context, audio *Audio, model, dir string) (string, error) {
	if audio == nil || !filepath.IsAbs(audio.Path) {
		return "", errors.New("transcribe: audio path has to be absolute")
	}
	if model == "" {
		return "", errors.New("transcribe: no model configured")
	}
	if _, err := os.Stat(model); err != nil {
		return "", failure.IO("stat whisper model", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", failure.IO("mkdir transcript dir", err)
	}

	binary := w.Binary
	if binary == "" {
		binary = "whisper-cli"
	}
	partial := filepath.Join(dir, ".transcription.part")
	args := []string{
		"-m", model,
		"-f", audio.Path,
		"-osrt",
		"-of", partial,
	}
	if w.Language != "" {
		args = append(args, "-l", w.Language)
	}
	if w.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.Threads))
	}
	defer os.Remove(partial + ".srt")

	cmd := exec.CommandContext(ctx, binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", failure.Tool("whisper-cli", err, out)
	}

	final := filepath.Join(dir, TranscriptName)
	if err := os.Rename(partial+".srt", final); err != nil {
		return "", failure.IO("rename transcript", fmt.Errorf("whisper produced no srt: %w", err))
	}
	return final, nil
}
