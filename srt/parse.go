package srt

import (
	"bufio"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/humblenginr/sentence_slicer/failure"
)

const maxLineBytes = 1 << 20

// Parse reads a sentence-segmented SubRip stream. Each line containing
// "-->" opens a new sentence; following non-blank lines are tokenized into
// its words. An all-digit line directly preceding a timing line is the cue
// index whatever its value; anywhere else it is text.
func Parse(r io.Reader) ([]Sentence, error) {
	p := parser{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}
		if err := p.line(lineNo, strings.TrimSpace(line)); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, failure.IO("read subtitles", err)
	}
	if err := p.flushHeld(); err != nil {
		return nil, err
	}
	return p.sentences, nil
}

// ParseFile opens path and parses it.
func ParseFile(path string) ([]Sentence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.IO("open subtitles", err)
	}
	defer f.Close()
	return Parse(f)
}

type parser struct {
	sentences []Sentence
	held      string
	heldLine  int
}

func (p *parser) line(n int, line string) error {
	if line == "" {
		return nil
	}
	if strings.Contains(line, "-->") {
		p.held = ""
		return p.timing(n, line)
	}
	if err := p.flushHeld(); err != nil {
		return err
	}
	if isIndex(line) {
		p.held, p.heldLine = line, n
		return nil
	}
	return p.text(n, line)
}

func (p *parser) timing(n int, line string) error {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return failure.Parse(n, "timing line %q has %d separators", line, len(parts)-1)
	}
	start, err := ParseTimestamp(parts[0])
	if err != nil {
		return failure.Parse(n, "start: %w", err)
	}
	// whisper.cpp and others may append cue settings after the end time.
	endField := strings.Fields(parts[1])
	if len(endField) == 0 {
		return failure.Parse(n, "timing line %q has no end time", line)
	}
	end, err := ParseTimestamp(endField[0])
	if err != nil {
		return failure.Parse(n, "end: %w", err)
	}
	if end < start {
		return failure.Parse(n, "end %s precedes start %s", FormatTimestamp(end), FormatTimestamp(start))
	}
	p.sentences = append(p.sentences, Sentence{Start: start, End: end})
	return nil
}

func (p *parser) text(n int, line string) error {
	if len(p.sentences) == 0 {
		return failure.Parse(n, "text %q before first timing line", line)
	}
	cur := &p.sentences[len(p.sentences)-1]
	cur.Words = append(cur.Words, Tokenize(line)...)
	return nil
}

func isIndex(line string) bool {
	for _, r := range line {
		if r < '0' || r > '9' {
			return false
		}
	}
	return line != ""
}

func (p *parser) flushHeld() error {
	if p.held == "" {
		return nil
	}
	held, n := p.held, p.heldLine
	p.held = ""
	return p.text(n, held)
}

// Tokenize splits a text line on whitespace and cleans each token with
// CleanWord, dropping tokens that end up empty.
func Tokenize(line string) []string {
	fields := strings.Fields(norm.NFC.String(line))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := CleanWord(f); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// CleanWord keeps word characters (letters, numbers, underscore),
// whitespace and . , ! ? - and drops everything else.
func CleanWord(token string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), r == '_', unicode.IsSpace(r):
			return r
		case r == '.', r == ',', r == '!', r == '?', r == '-':
			return r
		}
		return -1
	}, token)
}
