package scraper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/humblenginr/sentence_slicer/failure"
)

// Demucs isolates the vocal stem of a recording so music beds do not leak
// into the sentence clips.
type Demucs struct {
	Binary       string
	FFmpegBinary string
	Logger       *slog.Logger
}

// IsolateVocals separates the vocal stem with Demucs, re-encodes it to MP3
// and returns an *Audio describing the result.
func (d Demucs) IsolateVocals(
	ctx context.Context,
	src *Audio,
	artifactDir string,
) (*Audio, error) {
	if src == nil {
		return nil, errors.New("input audio is nil")
	}
	if src.Path == "" {
		return nil, errors.New("input audio path is empty")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	absArtifacts, err := filepath.Abs(artifactDir)
	if err != nil {
		return nil, failure.IO("abs artifact dir", err)
	}
	if err := os.MkdirAll(absArtifacts, fs.ModePerm); err != nil {
		return nil, failure.IO("mkdir artifact dir", err)
	}

	finalMP3 := filepath.Join(absArtifacts, "vocals.mp3")
	// Fast-path: already done.
	if _, err := os.Stat(finalMP3); err == nil {
		return measure(finalMP3)
	}

	/* ------------------------------------------------------------------
	   1. Run Demucs
	------------------------------------------------------------------ */

	separatedDir := filepath.Join(absArtifacts, "separated")
	if err := os.MkdirAll(separatedDir, fs.ModePerm); err != nil {
		return nil, failure.IO("mkdir separated dir", err)
	}

	logger.Info("extracting vocals with demucs", "input", filepath.Base(src.Path))

	demucs := d.Binary
	if demucs == "" {
		demucs = "demucs"
	}
	demucsCmd := exec.CommandContext(
		ctx, demucs,
		"--two-stems=vocals",
		"--out", separatedDir,
		src.Path,
	)
	if out, err := demucsCmd.CombinedOutput(); err != nil {
		return nil, failure.Tool("demucs", err, out)
	}

	/* ------------------------------------------------------------------
	   2. Locate the generated vocals.wav
	------------------------------------------------------------------ */

	base := strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	vocalsWav, err := findStem(separatedDir, base)
	if err != nil {
		return nil, err
	}

	/* ------------------------------------------------------------------
	   3. Convert WAV → MP3 (into temp file then rename)
	------------------------------------------------------------------ */

	tmpMP3 := filepath.Join(absArtifacts, ".vocals.part.mp3")
	defer os.Remove(tmpMP3)

	ffmpeg := d.FFmpegBinary
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffmpegCmd := exec.CommandContext(
		ctx, ffmpeg,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", vocalsWav,
		"-acodec", "libmp3lame",
		"-q:a", "0",
		tmpMP3,
	)
	if out, err := ffmpegCmd.CombinedOutput(); err != nil {
		return nil, failure.Tool("ffmpeg", err, out)
	}

	if err := os.Rename(tmpMP3, finalMP3); err != nil {
		return nil, failure.IO("rename mp3", err)
	}

	return measure(finalMP3)
}

// findStem walks Demucs' output, laid out as separated/<model>/<base>/vocals.wav.
func findStem(separatedDir, base string) (string, error) {
	vocalsWav := ""
	err := filepath.WalkDir(separatedDir, func(p string, d fs.DirEntry, _ error) error {
		if d == nil || d.IsDir() {
			return nil
		}
		if strings.EqualFold(d.Name(), "vocals.wav") && strings.HasSuffix(p, filepath.Join(base, "vocals.wav")) {
			vocalsWav = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", failure.IO("walk separated dir", err)
	}
	if vocalsWav == "" {
		return "", failure.Tool("demucs", fmt.Errorf("vocals.wav not found for %s", base), nil)
	}
	return vocalsWav, nil
}
