// Package failure defines the closed set of error kinds a pipeline run can
// end with. Callers classify with errors.Is against the sentinels or with
// KindOf.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindRange
	KindExternalTool
	KindIO
)

var (
	ErrParse        = errors.New("parse error")
	ErrRange        = errors.New("range error")
	ErrExternalTool = errors.New("external tool error")
	ErrIO           = errors.New("io error")
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindRange:
		return "range"
	case KindExternalTool:
		return "external_tool"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindParse:
		return ErrParse
	case KindRange:
		return ErrRange
	case KindExternalTool:
		return ErrExternalTool
	case KindIO:
		return ErrIO
	default:
		return nil
	}
}

// Error is a classified failure. Line is set for parse errors, Sentence for
// errors tied to one kept sentence, Output for external tool diagnostics.
type Error struct {
	Kind     Kind
	Op       string
	Line     int
	Sentence int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, ": line %d", e.Line)
	}
	if e.Sentence > 0 {
		fmt.Fprintf(&b, ": sentence %03d", e.Sentence)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString(" – ")
		b.WriteString(out)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Parse reports malformed input at a 1-based line.
func Parse(line int, format string, args ...any) error {
	return &Error{Kind: KindParse, Op: "parse subtitles", Line: line, Err: fmt.Errorf(format, args...)}
}

// Range reports a slice that falls outside the source audio.
func Range(sentence int, format string, args ...any) error {
	return &Error{Kind: KindRange, Op: "slice audio", Sentence: sentence, Err: fmt.Errorf(format, args...)}
}

// Tool reports a failed external process, keeping its own diagnostic output.
func Tool(tool string, err error, output []byte) error {
	return &Error{Kind: KindExternalTool, Op: tool, Err: err, Output: string(output)}
}

// IO reports a filesystem failure.
func IO(op string, err error) error {
	return &Error{Kind: KindIO, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrRange):
		return KindRange
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	case errors.Is(err, ErrIO):
		return KindIO
	}
	return KindUnknown
}

// Retryable reports whether retrying the failed operation can help. Only
// external tools (network, process availability) qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindExternalTool
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindParse:
		return 3
	case KindRange:
		return 4
	case KindExternalTool:
		return 5
	case KindIO:
		return 6
	default:
		return 1
	}
}
