// Package slicer selects sentences by duration and cuts each kept sentence
// into a WAV clip plus a cue-per-word subtitle file.
package slicer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/humblenginr/sentence_slicer/align"
	"github.com/humblenginr/sentence_slicer/failure"
	"github.com/humblenginr/sentence_slicer/fileutil"
	"github.com/humblenginr/sentence_slicer/scraper"
	"github.com/humblenginr/sentence_slicer/srt"
)

const (
	DefaultMinDuration = 2.0
	DefaultMaxDuration = 10.0
)

// Extractor cuts [start, end) seconds of src into a PCM WAV at dst.
type Extractor interface {
	Extract(ctx context.Context, src string, start, end float64, dst string) error
}

// OnError decides what a per-sentence failure does to the run.
type OnError string

const (
	// Abort fails the whole run on the first sentence error.
	Abort OnError = "abort"
	// Skip logs the failed sentence and carries on without it.
	Skip OnError = "skip"
)

// Policy is the open duration window a sentence must fall in to be kept.
type Policy struct {
	MinDuration float64
	MaxDuration float64
}

func DefaultPolicy() Policy {
	return Policy{MinDuration: DefaultMinDuration, MaxDuration: DefaultMaxDuration}
}

// Keep reports whether min < d < max; both bounds are excluded.
func (p Policy) Keep(d float64) bool {
	return d > p.MinDuration && d < p.MaxDuration
}

// KeptSentence is a sentence that passed the filter. Start and End are in
// the source audio timeline.
type KeptSentence struct {
	Index        int     `json:"index"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	AudioPath    string  `json:"audio_path"`
	SubtitlePath string  `json:"subtitle_path"`
}

func (k KeptSentence) Duration() float64 {
	return k.End - k.Start
}

// Name is the shared file stem for a kept sentence: sentence_001, ...
func Name(index int) string {
	return fmt.Sprintf("sentence_%03d", index)
}

type Slicer struct {
	Extractor Extractor
	Aligner   align.Aligner
	Policy    Policy
	// Workers bounds concurrent extractions; values below 1 mean 1.
	Workers int
	OnError OnError
	// RangeTolerance lets a sentence end this many seconds past the source
	// audio; its end is clamped to the audio duration with a warning.
	RangeTolerance float64
	Logger         *slog.Logger
}

type job struct {
	kept     KeptSentence
	sentence srt.Sentence
}

// Slice cuts every kept sentence of src into outDir and returns them in
// original order, numbered 1..n without gaps. Indices are assigned before
// any work starts, so output names do not depend on completion order; a
// sentence skipped after a failed cut gives up its index and the clips
// after it are renamed down.
func (s *Slicer) Slice(ctx context.Context, src *scraper.Audio, sentences []srt.Sentence, outDir string) ([]KeptSentence, error) {
	if s.Extractor == nil {
		return nil, errors.New("slicer: no extractor")
	}
	if src == nil || src.Path == "" {
		return nil, errors.New("slicer: no source audio")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, failure.IO("create sentence dir", err)
	}

	jobs, err := s.plan(sentences, src.Seconds(), outDir)
	if err != nil {
		return nil, err
	}
	s.logger().Info("slicing sentences",
		"total", len(sentences), "kept", len(jobs), "workers", s.workers(), "dir", outDir)

	results := make([]*KeptSentence, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if err := s.cut(gctx, src.Path, j); err != nil {
				if s.OnError == Skip && gctx.Err() == nil {
					s.logger().Warn("skipping sentence", "sentence", j.kept.Index, "error", err)
					os.Remove(j.kept.AudioPath)
					os.Remove(j.kept.SubtitlePath)
					return nil
				}
				return err
			}
			results[i] = &j.kept
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := make([]KeptSentence, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		k, err := renumber(*r, len(kept)+1, outDir)
		if err != nil {
			return nil, err
		}
		kept = append(kept, k)
	}
	return kept, nil
}

// renumber moves a clip and its subtitles to the names of index. Callers
// walk kept sentences in ascending order, so the target names are always
// free: they belonged to a skipped sentence or were already moved down.
func renumber(k KeptSentence, index int, outDir string) (KeptSentence, error) {
	if k.Index == index {
		return k, nil
	}
	name := Name(index)
	audio := filepath.Join(outDir, name+".wav")
	subs := filepath.Join(outDir, name+".srt")
	if err := os.Rename(k.AudioPath, audio); err != nil {
		return k, failure.IO("renumber clip", err)
	}
	if err := os.Rename(k.SubtitlePath, subs); err != nil {
		return k, failure.IO("renumber subtitles", err)
	}
	k.Index, k.AudioPath, k.SubtitlePath = index, audio, subs
	return k, nil
}

// plan applies the duration filter and the range check and numbers the
// surviving sentences from 1. sourceSeconds <= 0 disables the range check.
func (s *Slicer) plan(sentences []srt.Sentence, sourceSeconds float64, outDir string) ([]job, error) {
	policy := s.Policy
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	var jobs []job
	for pos, sent := range sentences {
		if !policy.Keep(sent.Duration()) {
			s.logger().Debug("sentence outside duration window",
				"position", pos+1, "duration", sent.Duration())
			continue
		}
		if len(sent.Words) == 0 {
			s.logger().Debug("sentence has no words", "position", pos+1)
			continue
		}
		index := len(jobs) + 1
		start, end := sent.Start, sent.End
		if sourceSeconds > 0 && end > sourceSeconds {
			over := end - sourceSeconds
			switch {
			case over <= s.RangeTolerance:
				s.logger().Warn("clamping sentence end to audio duration",
					"sentence", index, "end", end, "duration", sourceSeconds)
				end = sourceSeconds
			case s.OnError == Skip:
				s.logger().Warn("skipping sentence beyond audio duration",
					"position", pos+1, "end", end, "duration", sourceSeconds)
				continue
			default:
				return nil, failure.Range(index, "range %.3f-%.3f exceeds audio duration %.3f", start, end, sourceSeconds)
			}
		}
		name := Name(index)
		jobs = append(jobs, job{
			sentence: sent,
			kept: KeptSentence{
				Index:        index,
				Start:        start,
				End:          end,
				Text:         sent.Text(),
				AudioPath:    filepath.Join(outDir, name+".wav"),
				SubtitlePath: filepath.Join(outDir, name+".srt"),
			},
		})
	}
	return jobs, nil
}

func (s *Slicer) cut(ctx context.Context, src string, j job) error {
	k := j.kept
	s.logger().Debug("cutting sentence", "sentence", k.Index, "start", k.Start, "end", k.End)
	if err := s.Extractor.Extract(ctx, src, k.Start, k.End, k.AudioPath); err != nil {
		return fmt.Errorf("sentence %03d: %w", k.Index, err)
	}

	aligner := s.Aligner
	if aligner == nil {
		aligner = align.Uniform{}
	}
	// the clip may have been clamped to the end of the source audio
	sent := j.sentence
	sent.End = k.End
	timings := aligner.Align(sent, sent.Start)
	if err := fileutil.WriteAtomic(k.SubtitlePath, func(w *bufio.Writer) error {
		return align.WriteSRT(w, timings)
	}); err != nil {
		return fmt.Errorf("sentence %03d: %w", k.Index, err)
	}
	return nil
}

func (s *Slicer) workers() int {
	if s.Workers < 1 {
		return 1
	}
	return s.Workers
}

func (s *Slicer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
