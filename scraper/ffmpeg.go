package scraper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/humblenginr/sentence_slicer/failure"
)

// FFmpeg cuts ranges out of an audio file with the ffmpeg binary.
type FFmpeg struct {
	Binary string
}

// Extract writes [start, end) of src to dst as 16-bit PCM WAV. Sample rate
// and channel count are left as in the source.
func (f FFmpeg) Extract(ctx context.Context, src string, start, end float64, dst string) error {
	if end <= start {
		return fmt.Errorf("extract: empty range %.3f-%.3f", start, end)
	}
	binary := f.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	partial := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".part")
	defer os.Remove(partial)

	// -ss/-to after -i gives sample-accurate cuts; -to is the absolute end.
	cmd := exec.CommandContext(ctx, binary,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-ss", fmt.Sprintf("%.6f", start),
		"-to", fmt.Sprintf("%.6f", end),
		"-vn",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		partial,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return failure.Tool("ffmpeg", err, out)
	}
	if err := os.Rename(partial, dst); err != nil {
		return failure.IO("rename slice", err)
	}
	return nil
}
