// Package resolver decides how a typed command is satisfied: by a program
// on PATH, by a cached artifact, or by generating a new one.
package resolver

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode"

	"github.com/flarebyte/ergo/internal/artifact"
	"github.com/flarebyte/ergo/internal/generator"
)

var (
	ErrEmptyRequest = errors.New("no command given")
	ErrModeMismatch = errors.New("cache mode does not match request mode")
)

// PathLookup finds executables on the host.
type PathLookup interface {
	LookPath(name string) (string, error)
}

// PathLookupFunc adapts a function to PathLookup.
type PathLookupFunc func(name string) (string, error)

func (f PathLookupFunc) LookPath(name string) (string, error) { return f(name) }

// ExecLookup searches the process PATH.
var ExecLookup PathLookup = PathLookupFunc(exec.LookPath)

// CacheReader is the read side of one cache namespace.
type CacheReader interface {
	Mode() artifact.Mode
	Get(name string) (artifact.Record, bool, error)
}

// Request is one invocation. FreeText is set instead of Name when the user
// typed a sentence rather than a command.
type Request struct {
	Name     string
	Args     []string
	FreeText string
	Mode     artifact.Mode
}

// IsFreeText reports whether the request is a natural-language sentence.
func (r Request) IsFreeText() bool { return r.FreeText != "" }

// ParseRequest splits positional arguments into a request. A first argument
// containing whitespace starts a free-text request and absorbs the rest.
func ParseRequest(args []string, mode artifact.Mode) (Request, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return Request{}, ErrEmptyRequest
	}
	if strings.IndexFunc(strings.TrimSpace(args[0]), unicode.IsSpace) >= 0 {
		return Request{FreeText: strings.TrimSpace(strings.Join(args, " ")), Mode: mode}, nil
	}
	return Request{Name: args[0], Args: append([]string(nil), args[1:]...), Mode: mode}, nil
}

// Plan is the outcome of Resolve.
type Plan interface {
	plan()
}

// SystemPath runs an existing host program.
type SystemPath struct {
	Path string
}

// Cached runs a stored artifact.
type Cached struct {
	Record artifact.Record
}

// Generate asks a generator for a new artifact.
type Generate struct {
	Intent generator.Intent
}

func (SystemPath) plan() {}
func (Cached) plan()     {}
func (Generate) plan()   {}

// Resolve picks the plan for req. PATH wins over the cache, the cache wins
// over generation, and free text always generates. Resolve has no side
// effects.
func Resolve(paths PathLookup, cache CacheReader, req Request) (Plan, error) {
	if req.IsFreeText() {
		return Generate{Intent: generator.FreeFormIntent(req.FreeText)}, nil
	}
	if req.Name == "" {
		return nil, ErrEmptyRequest
	}
	if p, err := paths.LookPath(req.Name); err == nil && p != "" {
		return SystemPath{Path: p}, nil
	}
	if err := artifact.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if cache.Mode() != req.Mode {
		return nil, fmt.Errorf("%w: cache %q, request %q", ErrModeMismatch, cache.Mode(), req.Mode)
	}
	rec, ok, err := cache.Get(req.Name)
	if err != nil {
		return nil, fmt.Errorf("read cache for %s: %w", req.Name, err)
	}
	if ok {
		return Cached{Record: rec}, nil
	}
	return Generate{Intent: generator.CommandIntent(req.Name, req.Args)}, nil
}
