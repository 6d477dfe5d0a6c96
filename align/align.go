// Package align assigns synthetic per-word timings to a sentence.
package align

import (
	"io"

	"github.com/humblenginr/sentence_slicer/srt"
)

// WordTiming is one word's span relative to a time origin, in seconds.
type WordTiming struct {
	Word  string
	Start float64
	End   float64
}

// Aligner produces word timings for a sentence with times made relative to
// origin.
type Aligner interface {
	Align(s srt.Sentence, origin float64) []WordTiming
}

// Uniform spreads the sentence duration evenly across its words. It knows
// nothing about speech rate; every word gets d/n seconds.
type Uniform struct{}

func (Uniform) Align(s srt.Sentence, origin float64) []WordTiming {
	n := len(s.Words)
	if n == 0 {
		return nil
	}
	start := s.Start - origin
	end := s.End - origin
	perWord := (end - start) / float64(n)

	out := make([]WordTiming, n)
	for i, w := range s.Words {
		out[i] = WordTiming{
			Word:  w,
			Start: start + float64(i)*perWord,
			End:   start + float64(i+1)*perWord,
		}
	}
	// pin the last edge so the words partition [start, end) exactly
	out[n-1].End = end
	return out
}

// Cues numbers the timings from 1 as one subtitle cue per word.
func Cues(timings []WordTiming) []srt.Cue {
	cues := make([]srt.Cue, len(timings))
	for i, t := range timings {
		cues[i] = srt.Cue{Index: i + 1, Start: t.Start, End: t.End, Text: t.Word}
	}
	return cues
}

// WriteSRT writes the timings as a cue-per-word SubRip file.
func WriteSRT(w io.Writer, timings []WordTiming) error {
	return srt.WriteCues(w, Cues(timings))
}
