// Package approval asks the user to consent to an artifact's permissions
// before it runs.
package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/flarebyte/ergo/internal/artifact"
	"github.com/mattn/go-isatty"
)

// ErrNoTerminal is returned when consent is needed but nobody can be asked.
var ErrNoTerminal = errors.New("approval needs an interactive terminal; rerun with --yes to pre-authorize")

// Request describes what is about to run.
type Request struct {
	Name        string
	Mode        artifact.Mode
	Revision    int
	Explanation string
	Permissions []string
	ContentHash string
}

// RequestFor builds the request for rec.
func RequestFor(rec artifact.Record) Request {
	return Request{
		Name:        rec.Name,
		Mode:        rec.Mode,
		Revision:    rec.Revision,
		Explanation: rec.Explanation,
		Permissions: append([]string(nil), rec.Permissions...),
		ContentHash: rec.ContentHash.String(),
	}
}

// Approver decides whether a request may run.
type Approver interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// Func adapts a function to Approver.
type Func func(ctx context.Context, req Request) (bool, error)

func (f Func) Approve(ctx context.Context, req Request) (bool, error) { return f(ctx, req) }

// Render writes a human-readable summary of req.
func Render(w io.Writer, req Request) {
	fmt.Fprintf(w, "ergo: '%s' (revision %d, %s) is new or has changed.\n", req.Name, req.Revision, req.Mode)
	if req.Explanation != "" {
		fmt.Fprintf(w, "  %s\n", req.Explanation)
	}
	if len(req.Permissions) == 0 {
		fmt.Fprintln(w, "  permissions: none")
		return
	}
	fmt.Fprintln(w, "  permissions:")
	for _, p := range req.Permissions {
		fmt.Fprintf(w, "    - %s\n", p)
	}
}

// Preauthorized approves every request. It still prints what is granted.
type Preauthorized struct {
	Out io.Writer
}

func (p Preauthorized) Approve(ctx context.Context, req Request) (bool, error) {
	if p.Out != nil {
		Render(p.Out, req)
		fmt.Fprintln(p.Out, "  pre-authorized with --yes")
	}
	return true, nil
}

// Prompt asks on the terminal.
type Prompt struct {
	In  terminal.FileReader
	Out terminal.FileWriter
	Err io.Writer
	// IsTerminal reports whether fd is interactive.
	IsTerminal func(fd uintptr) bool
}

// NewPrompt prompts on the process's standard streams. The summary and the
// question go to stderr so the artifact's stdout stays clean.
func NewPrompt() *Prompt {
	return &Prompt{In: os.Stdin, Out: os.Stderr, Err: os.Stderr, IsTerminal: isInteractive}
}

func isInteractive(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (p *Prompt) Approve(ctx context.Context, req Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	Render(p.Err, req)
	isTerm := p.IsTerminal
	if isTerm == nil {
		isTerm = isInteractive
	}
	if !isTerm(p.In.Fd()) {
		return false, ErrNoTerminal
	}
	ok := false
	q := &survey.Confirm{
		Message: fmt.Sprintf("Run '%s' with %s?", req.Name, describe(req.Permissions)),
		Default: false,
	}
	if err := survey.AskOne(q, &ok, survey.WithStdio(p.In, p.Out, p.Err)); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return false, nil
		}
		return false, fmt.Errorf("approval prompt: %w", err)
	}
	return ok, nil
}

func describe(perms []string) string {
	switch len(perms) {
	case 0:
		return "no permissions"
	case 1:
		return "permission " + perms[0]
	}
	return "permissions " + strings.Join(perms, ", ")
}
