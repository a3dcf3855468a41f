package run

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flarebyte/ergo/internal/artifact"
	"github.com/flarebyte/ergo/internal/cache"
	"github.com/flarebyte/ergo/internal/corrective"
	"github.com/flarebyte/ergo/internal/executor"
	"github.com/flarebyte/ergo/internal/generator"
	"github.com/flarebyte/ergo/internal/resolver"
)

// Pipeline is one pass of resolve, optional generate, and execute.
type Pipeline struct {
	Mode         artifact.Mode
	Paths        resolver.PathLookup
	Store        *cache.Store
	Executor     *executor.Executor
	NewGenerator func() (generator.Generator, error)
	// MissingCredential, when set, fails every request that is not
	// satisfied from PATH.
	MissingCredential error

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Log    logrus.FieldLogger
	Now    func() time.Time

	progress *progressReporter
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run satisfies the command line in args.
func (p *Pipeline) Run(ctx context.Context, args []string) error {
	return classify(p.run(ctx, args))
}

func (p *Pipeline) run(ctx context.Context, args []string) error {
	req, err := resolver.ParseRequest(args, p.Mode)
	if err != nil {
		return err
	}
	if !req.IsFreeText() {
		if path, err := p.Paths.LookPath(req.Name); err == nil && path != "" {
			return p.runSystem(ctx, path, req.Args)
		}
	}
	if p.MissingCredential != nil {
		return p.MissingCredential
	}

	plan, err := resolver.Resolve(p.Paths, p.Store, req)
	if err != nil {
		return err
	}
	var rec artifact.Record
	switch pl := plan.(type) {
	case resolver.SystemPath:
		return p.runSystem(ctx, pl.Path, req.Args)
	case resolver.Cached:
		rec = pl.Record
		p.Log.WithFields(logrus.Fields{"command": rec.Name, "revision": rec.Revision}).Info("cache hit")
	case resolver.Generate:
		rec, err = p.generate(ctx, pl.Intent)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unexpected plan %T", plan)
	}
	if err := p.Store.SetLast(rec.Name); err != nil {
		p.Log.WithError(err).Warn("remember last command")
	}
	return p.execute(ctx, rec, req.Args)
}

// generate asks the backend for a candidate and stores it before any
// approval, so a declined run keeps the unapproved record.
func (p *Pipeline) generate(ctx context.Context, intent generator.Intent) (artifact.Record, error) {
	gen, err := p.NewGenerator()
	if err != nil {
		return artifact.Record{}, err
	}
	label := intent.Name
	if label == "" {
		label = "request"
	}
	var cand generator.Candidate
	err = p.progress.run(ctx, "generate "+label, func() error {
		var genErr error
		cand, genErr = gen.Generate(ctx, intent, nil)
		return genErr
	})
	if err != nil {
		return artifact.Record{}, err
	}

	name := intent.Name
	if name == "" {
		name = cand.Name
	}
	if err := artifact.ValidateName(name); err != nil {
		return artifact.Record{}, &generator.Error{Kind: generator.KindInvalidResponse, Err: err}
	}
	content := artifact.Content{Script: cand.Script, Permissions: cand.Permissions, Explanation: cand.Explanation}
	existing, ok, err := p.Store.Get(name)
	if err != nil {
		return artifact.Record{}, err
	}
	rec := artifact.New(name, p.Mode, intent.Text, content, p.now())
	if ok {
		// The new script answers this request, not the one stored before.
		rec = existing.Revise(content, p.now())
		rec.Intent = intent.Text
	}
	if err := p.Store.Put(rec); err != nil {
		return artifact.Record{}, fmt.Errorf("store %s: %w", name, err)
	}
	p.Log.WithFields(logrus.Fields{"command": rec.Name, "revision": rec.Revision, "hash": rec.ContentHash.String()}).Info("generated")
	fmt.Fprintf(p.Stderr, "ergo: generated '%s' (revision %d)\n", rec.Name, rec.Revision)
	return rec, nil
}

// Nope regenerates the most recently resolved command with feedback and
// runs the new revision.
func (p *Pipeline) Nope(ctx context.Context, feedback []string) error {
	return classify(p.nope(ctx, feedback))
}

func (p *Pipeline) nope(ctx context.Context, feedback []string) error {
	if p.MissingCredential != nil {
		return p.MissingCredential
	}
	name, ok, err := p.Store.Last()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: nothing has been run in %s mode yet", corrective.ErrNoRecordToCorrect, p.Mode)
	}
	gen, err := p.NewGenerator()
	if err != nil {
		return err
	}
	var rec artifact.Record
	err = p.progress.run(ctx, "correct "+name, func() error {
		var corrErr error
		rec, corrErr = corrective.Correct(ctx, p.Store, gen, name, strings.Join(feedback, " "),
			corrective.WithLogger(p.Log), corrective.WithClock(p.now))
		return corrErr
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(p.Stderr, "ergo: revised '%s' (revision %d)\n", rec.Name, rec.Revision)
	return p.execute(ctx, rec, nil)
}

func (p *Pipeline) execute(ctx context.Context, rec artifact.Record, args []string) error {
	res, err := p.Executor.Execute(ctx, rec, args)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		fmt.Fprintf(p.Stderr, "ergo: '%s' exited with status %d; run 'ergo --nope [feedback]' to correct it\n", rec.Name, res.ExitCode)
	}
	return artifactExit(res.ExitCode)
}

func (p *Pipeline) runSystem(ctx context.Context, path string, args []string) error {
	p.Log.WithField("path", path).Info("resolved on PATH")
	code, err := runSystem(ctx, path, args, p.Stdin, p.Stdout, p.Stderr)
	if err != nil {
		return err
	}
	return artifactExit(code)
}
