// Package srt reads sentence-segmented SubRip transcripts and writes
// cue-per-word SubRip files.
package srt

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Sentence is one subtitle block: its span in the transcript timeline
// (seconds) and its cleaned words.
type Sentence struct {
	Start float64
	End   float64
	Words []string
}

// Duration returns End-Start in seconds.
func (s Sentence) Duration() float64 {
	return s.End - s.Start
}

// Text joins the words with single spaces.
func (s Sentence) Text() string {
	return strings.Join(s.Words, " ")
}

// Cue is a numbered subtitle entry with times in seconds.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// ParseTimestamp converts "HH:MM:SS,mmm" to seconds. A period is accepted
// in place of the comma and the fraction may have one to six digits.
func ParseTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	clock, frac, hasFrac := strings.Cut(strings.ReplaceAll(value, ".", ","), ",")
	hms := strings.Split(clock, ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	var parts [3]int
	for i, p := range hms {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || p == "" {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		parts[i] = n
	}
	if parts[1] > 59 || parts[2] > 59 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	seconds := float64(parts[0]*3600 + parts[1]*60 + parts[2])
	if hasFrac {
		if frac == "" || len(frac) > 6 {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		n, err := strconv.Atoi(frac)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		seconds += float64(n) / math.Pow10(len(frac))
	}
	return seconds, nil
}

// FormatTimestamp renders seconds as zero-padded "HH:MM:SS,mmm". The value
// is rounded to microseconds and then truncated to milliseconds so that
// float noise such as 0.30000000000000004 renders as 300ms.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	micros := int64(math.Round(seconds * 1e6))
	millis := micros / 1000
	h := millis / 3_600_000
	m := millis / 60_000 % 60
	s := millis / 1000 % 60
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// WriteCues writes cues in SubRip block format.
func WriteCues(w io.Writer, cues []Cue) error {
	for _, c := range cues {
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			c.Index, FormatTimestamp(c.Start), FormatTimestamp(c.End), c.Text); err != nil {
			return err
		}
	}
	return nil
}
