package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/humblenginr/sentence_slicer/failure"
)

// YTDLP fetches remote media with the yt-dlp binary.
type YTDLP struct {
	Binary string
	Logger *slog.Logger
}

func (y YTDLP) binary() string {
	if y.Binary == "" {
		return "yt-dlp"
	}
	return y.Binary
}

func (y YTDLP) logger() *slog.Logger {
	if y.Logger == nil {
		return slog.Default()
	}
	return y.Logger
}

// Probe reads a video's metadata without downloading it.
func (y YTDLP) Probe(ctx context.Context, videoURL string) (*Info, error) {
	if videoURL == "" {
		return nil, errors.New("videoURL cannot be empty")
	}
	cmd := exec.CommandContext(ctx, y.binary(), "-J", "--no-download", "--no-warnings", videoURL)
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, failure.Tool("yt-dlp", err, ee.Stderr)
		}
		return nil, failure.Tool("yt-dlp", err, nil)
	}
	info := &Info{}
	if err := json.Unmarshal(out, info); err != nil {
		return nil, failure.Tool("yt-dlp", fmt.Errorf("decode metadata: %w", err), nil)
	}
	if info.ID == "" {
		return nil, failure.Tool("yt-dlp", errors.New("metadata has no video id"), nil)
	}
	if info.WebpageURL == "" {
		info.WebpageURL = videoURL
	}
	return info, nil
}

// DownloadAudio downloads the best-quality audio track of info's video,
// converts it to MP3 at outputPath and measures its duration. When r is set
// only that section is downloaded, after ClampRange validation.
//
// The caller controls cancellation with ctx. The function is idempotent:
// if outputPath already exists it simply calculates duration and returns.
func (y YTDLP) DownloadAudio(
	ctx context.Context,
	info *Info,
	r *TimeRange,
	outputPath string,
) (*Audio, error) {
	if info == nil || info.ID == "" {
		return nil, errors.New("download: missing video metadata")
	}

	absOut, err := filepath.Abs(outputPath)
	if err != nil {
		return nil, failure.IO("make abs path", err)
	}
	dir := filepath.Dir(absOut)
	if err = os.MkdirAll(dir, fs.ModePerm); err != nil {
		return nil, failure.IO("mkdir output dir", err)
	}

	args := []string{
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		"--no-playlist",
		"--no-warnings",
	}
	if r != nil {
		clampedRange, clamped, err := ClampRange(*r, info.Duration)
		if err != nil {
			return nil, failure.Range(0, "%w", err)
		}
		if clamped {
			y.logger().Warn("end time beyond video duration, adjusting",
				"requested_end", r.End, "duration", info.Duration)
		}
		*r = clampedRange
		info.Range = r
		args = append(args,
			"--download-sections", fmt.Sprintf("*%.3f-%.3f", r.Start, r.End),
			"--force-keyframes-at-cuts",
		)
	}

	// Fast-path: file already present.
	if _, err := os.Stat(absOut); err == nil {
		y.logger().Info("audio already downloaded", "path", absOut)
		return measure(absOut)
	}

	// Download under a hidden name, then atomically rename. yt-dlp picks the
	// final extension itself, so the template leaves it open.
	partial := filepath.Join(dir, "."+info.ID+".part")
	args = append(args, "--output", partial+".%(ext)s", sourceURL(info))
	defer os.Remove(partial + ".mp3")

	y.logger().Info("downloading audio", "video_id", info.ID, "title", info.Title)
	cmd := exec.CommandContext(ctx, y.binary(), args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, failure.Tool("yt-dlp", err, out)
	}

	if err := os.Rename(partial+".mp3", absOut); err != nil {
		return nil, failure.IO("rename downloaded audio", err)
	}
	return measure(absOut)
}

func sourceURL(info *Info) string {
	if info.WebpageURL != "" {
		return info.WebpageURL
	}
	return "https://www.youtube.com/watch?v=" + info.ID
}

func measure(path string) (*Audio, error) {
	dur, err := Mp3DurationByFrames(path)
	if err != nil {
		return nil, failure.IO("calc duration", err)
	}
	return &Audio{Path: path, Duration: dur, Format: FormatMP3}, nil
}
