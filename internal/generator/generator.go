// Package generator produces candidate artifacts from a user intent.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/flarebyte/ergo/internal/permission"
)

// Intent is what the user asked for.
type Intent struct {
	// Name is the command name. It is empty for a free-form request until a
	// backend proposes one.
	Name string
	// Text is the literal request: the command line, or the natural-language
	// sentence for a free-form request.
	Text     string
	FreeForm bool
}

// CommandIntent is the intent for an unknown command invoked with args.
func CommandIntent(name string, args []string) Intent {
	return Intent{Name: name, Text: strings.Join(append([]string{name}, args...), " ")}
}

// FreeFormIntent is the intent for a natural-language request.
func FreeFormIntent(text string) Intent {
	return Intent{Text: strings.TrimSpace(text), FreeForm: true}
}

// Correction carries what went wrong with the previous revision.
type Correction struct {
	PreviousScript string
	PreviousStderr string
	Feedback       string
}

// Candidate is a generated artifact before it is stored.
type Candidate struct {
	Name        string
	Script      string
	Permissions permission.Set
	Explanation string
}

// Generator turns an intent, and optionally a correction, into a candidate.
type Generator interface {
	Generate(ctx context.Context, intent Intent, correction *Correction) (Candidate, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, intent Intent, correction *Correction) (Candidate, error)

func (f Func) Generate(ctx context.Context, intent Intent, correction *Correction) (Candidate, error) {
	return f(ctx, intent, correction)
}

// ErrorKind classifies generation failures.
type ErrorKind string

const (
	KindUnavailable            ErrorKind = "unavailable"
	KindInvalidResponse        ErrorKind = "invalid response"
	KindUnrecognizedPermission ErrorKind = "unrecognized permission"
	KindMissingCredential      ErrorKind = "missing credential"
	KindTimeout                ErrorKind = "timeout"
)

// Error is a generation failure. Match categories with errors.Is against the
// Err* sentinels.
type Error struct {
	Kind    ErrorKind
	Backend string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("generation failed")
	if e.Backend != "" {
		b.WriteString(" (" + e.Backend + ")")
	}
	b.WriteString(": " + string(e.Kind))
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind that carries no cause, which is
// how the sentinels below are shaped.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Backend == "" && t.Kind == e.Kind
}

var (
	ErrUnavailable            = &Error{Kind: KindUnavailable}
	ErrInvalidResponse        = &Error{Kind: KindInvalidResponse}
	ErrUnrecognizedPermission = &Error{Kind: KindUnrecognizedPermission}
	ErrMissingCredential      = &Error{Kind: KindMissingCredential}
	ErrTimeout                = &Error{Kind: KindTimeout}
)

func newError(kind ErrorKind, backend string, format string, args ...any) *Error {
	return &Error{Kind: kind, Backend: backend, Err: fmt.Errorf(format, args...)}
}
