// Package labels writes and reads the tab-separated label index (one
// "start\tend\ttext" line per kept sentence) that audio editors import as
// label tracks.
package labels

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/humblenginr/sentence_slicer/failure"
	"github.com/humblenginr/sentence_slicer/fileutil"
	"github.com/humblenginr/sentence_slicer/slicer"
)

// FileName is the label index name inside the sentences directory.
const FileName = "labels.txt"

type Label struct {
	Start float64
	End   float64
	Text  string
}

// FromKept keeps the order of kept, which is original sentence order.
func FromKept(kept []slicer.KeptSentence) []Label {
	out := make([]Label, len(kept))
	for i, k := range kept {
		out[i] = Label{Start: k.Start, End: k.End, Text: k.Text}
	}
	return out
}

// Write emits one line per label with times in seconds to two decimals.
func Write(w io.Writer, labels []Label) error {
	for _, l := range labels {
		if _, err := fmt.Fprintf(w, "%.2f\t%.2f\t%s\n", l.Start, l.End, l.Text); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the label index for kept to path.
func WriteFile(path string, kept []slicer.KeptSentence) error {
	return fileutil.WriteAtomic(path, func(w *bufio.Writer) error {
		return Write(w, FromKept(kept))
	})
}

// Read parses a label index. Blank lines are ignored.
func Read(r io.Reader) ([]Label, error) {
	var out []Label
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 2 {
			return nil, failure.Parse(lineNo, "label line %q has %d fields", line, len(fields))
		}
		start, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, failure.Parse(lineNo, "start: %w", err)
		}
		end, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, failure.Parse(lineNo, "end: %w", err)
		}
		l := Label{Start: start, End: end}
		if len(fields) == 3 {
			l.Text = fields[2]
		}
		out = append(out, l)
	}
	if err := sc.Err(); err != nil {
		return nil, failure.IO("read labels", err)
	}
	return out, nil
}

// ReadFile opens path and parses it.
func ReadFile(path string) ([]Label, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.IO("open labels", err)
	}
	defer f.Close()
	return Read(f)
}
