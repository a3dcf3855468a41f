// Package run wires the state directory, configuration, cache, generator and
// executor into the ergo pipeline.
package run

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/flarebyte/ergo/internal/approval"
	"github.com/flarebyte/ergo/internal/cache"
	"github.com/flarebyte/ergo/internal/config"
	"github.com/flarebyte/ergo/internal/executor"
	"github.com/flarebyte/ergo/internal/generator"
	"github.com/flarebyte/ergo/internal/logging"
	"github.com/flarebyte/ergo/internal/resolver"
	"github.com/flarebyte/ergo/internal/workspace"
)

// Options are the process facts and flags a session is built from. Zero
// values fall back to the real process.
type Options struct {
	Yes       bool
	Verbose   bool
	InProcess bool

	Cwd    string
	Lookup config.LookupFunc
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Paths    resolver.PathLookup
	Approver approval.Approver
	Runner   executor.Runner
}

func (o *Options) fill() error {
	if o.Lookup == nil {
		o.Lookup = os.LookupEnv
	}
	if o.Cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("working directory: %w", err)
		}
		o.Cwd = wd
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Paths == nil {
		o.Paths = resolver.ExecLookup
	}
	return nil
}

// Session holds what one invocation opened.
type Session struct {
	Location workspace.Location
	Config   config.Config
	Store    *cache.Store
	Log      *logrus.Entry

	opts   Options
	closer io.Closer
}

// Open locates the state directory, starts the log, loads the configuration
// and opens the cache of the configured mode.
func Open(opts Options) (*Session, error) {
	if err := opts.fill(); err != nil {
		return nil, err
	}
	getenv := func(k string) string {
		v, _ := opts.Lookup(k)
		return v
	}
	loc, err := workspace.Locate(workspace.Options{Cwd: opts.Cwd, Getenv: getenv})
	if err != nil {
		return nil, err
	}
	if err := loc.Ensure(); err != nil {
		return nil, err
	}
	log, closer, err := logging.Setup(loc.LogPath(), opts.Verbose)
	if err != nil {
		return nil, err
	}
	s := &Session{Location: loc, Log: log, opts: opts, closer: closer}
	cfg, err := config.Load(loc.ConfigPath())
	if err == nil {
		cfg, err = config.FromEnv(cfg, opts.Lookup)
	}
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Config = cfg
	s.Log = log.WithField("mode", cfg.Mode)
	store, err := cache.Open(loc.Root, cfg.Mode,
		cache.WithLogger(s.Log),
		cache.WithWarningHandler(func(err error) {
			fmt.Fprintf(opts.Stderr, "ergo: warning: %v\n", err)
		}),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Store = store
	s.Log.WithFields(logrus.Fields{"state": loc.Root, "source": loc.Source, "backend": cfg.EffectiveBackend()}).Debug("session opened")
	return s, nil
}

// Close releases the log file.
func (s *Session) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Pipeline builds the resolve, generate and execute pipeline.
func (s *Session) Pipeline() (*Pipeline, error) {
	approver := s.opts.Approver
	if approver == nil {
		if s.opts.Yes {
			approver = approval.Preauthorized{Out: s.opts.Stderr}
		} else {
			approver = approval.NewPrompt()
		}
	}
	runner := s.opts.Runner
	if runner == nil {
		if s.opts.InProcess {
			runner = executor.InProcessRunner{}
		} else {
			pr, err := executor.NewProcessRunner()
			if err != nil {
				return nil, err
			}
			runner = pr
		}
	}
	exec := executor.New(s.Store, approver, runner,
		executor.WithStdout(s.opts.Stdout),
		executor.WithStderr(s.opts.Stderr),
		executor.WithTimeout(s.Config.ExecuteTimeout),
		executor.WithLogger(s.Log),
	)
	cfg := s.Config
	log := s.Log
	return &Pipeline{
		Mode:     cfg.Mode,
		Paths:    s.opts.Paths,
		Store:    s.Store,
		Executor: exec,
		NewGenerator: func() (generator.Generator, error) {
			return generator.New(cfg.EffectiveBackend(), generator.Options{
				Allow:    cfg.Allow,
				Provider: cfg.Provider,
				Model:    cfg.Model,
				BaseURL:  cfg.BaseURL,
				APIKey:   cfg.APIKey,
				Timeout:  cfg.GenerateTimeout,
				Logger:   log,
			})
		},
		MissingCredential: missingCredential(cfg),
		Stdin:             s.opts.Stdin,
		Stdout:            s.opts.Stdout,
		Stderr:            s.opts.Stderr,
		Log:               log,
		progress:          newProgressReporter(s.opts.Stderr, isTerminal(s.opts.Stderr)),
	}, nil
}

// missingCredential is the error reported before any cache or generator
// work when the remote backend has no key.
func missingCredential(cfg config.Config) error {
	if !cfg.RequiresCredential() {
		return nil
	}
	return &generator.Error{
		Kind:    generator.KindMissingCredential,
		Backend: config.BackendRemote,
		Err:     fmt.Errorf("set %s or run 'ergo --set-api-key KEY' (ERGO_USE_MOCK=1 selects mock mode)", cfg.CredentialEnv()),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
