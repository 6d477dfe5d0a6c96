package scraper

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tcolgate/mp3"
)

func Mp3DurationByFrames(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := mp3.NewDecoder(f)
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
	)
	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration()
	}
	return total, nil
}

// LocalAudio describes an audio file already on disk. MP3 durations are
// measured from frames; other formats are reported with zero duration.
func LocalAudio(path string) (*Audio, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}
	format := Format(strings.TrimPrefix(strings.ToLower(filepath.Ext(abs)), "."))
	a := &Audio{Path: abs, Format: format}
	if format == FormatMP3 {
		dur, err := Mp3DurationByFrames(abs)
		if err != nil {
			return nil, err
		}
		a.Duration = dur
	}
	return a, nil
}
