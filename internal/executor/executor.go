// Package executor runs artifacts behind the approval gate and records the
// outcome for the corrective loop.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/flarebyte/ergo/internal/approval"
	"github.com/flarebyte/ergo/internal/artifact"
	"github.com/flarebyte/ergo/internal/sandbox"
	"github.com/flarebyte/ergo/internal/logging"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds one artifact run.
const DefaultTimeout = 300 * time.Second

// ErrPermissionDenied is returned when consent is not given.
var ErrPermissionDenied = errors.New("permission denied")

// SandboxFault is a malfunction of the sandbox itself rather than a failing
// artifact.
type SandboxFault struct {
	Command string
	Err     error
}

func (e *SandboxFault) Error() string {
	return fmt.Sprintf("sandbox fault running %s: %v", e.Command, e.Err)
}

func (e *SandboxFault) Unwrap() error { return e.Err }

// Runner executes a job and reports its exit code.
type Runner interface {
	Run(ctx context.Context, job sandbox.Job, stdio sandbox.Stdio) (int, error)
}

// Store is the part of the cache the executor writes to.
type Store interface {
	Get(name string) (artifact.Record, bool, error)
	Put(rec artifact.Record) error
}

// Result is the outcome of one run. A nonzero ExitCode is an artifact
// failure, not an error.
type Result struct {
	ExitCode int
	Stderr   string
	// Approved is true when consent was given during this call.
	Approved bool
}

// Option configures an Executor.
type Option func(*Executor)

func WithStdout(w io.Writer) Option { return func(e *Executor) { e.stdout = w } }
func WithStderr(w io.Writer) Option { return func(e *Executor) { e.stderr = w } }
func WithTimeout(d time.Duration) Option { return func(e *Executor) { e.timeout = d } }
func WithLogger(l logrus.FieldLogger) Option { return func(e *Executor) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }
func WithMemoryLimit(bytes int) Option { return func(e *Executor) { e.memoryLimit = bytes } }

// Executor gates and runs artifacts.
type Executor struct {
	store       Store
	approver    approval.Approver
	runner      Runner
	stdout      io.Writer
	stderr      io.Writer
	timeout     time.Duration
	memoryLimit int
	log         logrus.FieldLogger
	now         func() time.Time
}

func New(store Store, approver approval.Approver, runner Runner, opts ...Option) *Executor {
	e := &Executor{
		store:    store,
		approver: approver,
		runner:   runner,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		timeout:  DefaultTimeout,
		log:      logging.Discard(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs rec with args. Unapproved content goes through the approver
// first; consent is persisted before the artifact starts.
func (e *Executor) Execute(ctx context.Context, rec artifact.Record, args []string) (Result, error) {
	log := e.log.WithFields(logrus.Fields{"command": rec.Name, "mode": rec.Mode, "revision": rec.Revision})
	res := Result{}
	if !rec.Approved() {
		ok, err := e.approver.Approve(ctx, approval.RequestFor(rec))
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		if !ok {
			log.Info("approval declined")
			return res, ErrPermissionDenied
		}
		rec.ApprovedHash = rec.ContentHash
		if err := e.store.Put(rec); err != nil {
			return res, fmt.Errorf("persist approval: %w", err)
		}
		res.Approved = true
		log.WithField("hash", rec.ContentHash.String()).Info("approved")
	}
	if _, err := rec.Grants(); err != nil {
		return res, &SandboxFault{Command: rec.Name, Err: err}
	}

	job := sandbox.Job{
		Script:           rec.Script,
		Permissions:      rec.Permissions,
		Args:             args,
		TimeoutMs:        e.timeout.Milliseconds(),
		MemoryLimitBytes: e.memoryLimit,
	}
	capture := &limitedBuffer{max: stderrCaptureMax}
	start := time.Now()
	code, runErr := e.runner.Run(ctx, job, sandbox.Stdio{
		Out: e.stdout,
		Err: io.MultiWriter(e.stderr, capture),
	})
	res.ExitCode = code
	res.Stderr = capture.String()
	log.WithFields(logrus.Fields{
		"exit":    code,
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("artifact finished")

	persistErr := e.recordOutcome(rec, res.Stderr)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return res, runErr
		}
		return res, &SandboxFault{Command: rec.Name, Err: runErr}
	}
	if persistErr != nil {
		return res, fmt.Errorf("record outcome: %w", persistErr)
	}
	return res, nil
}

// recordOutcome stores stderr and usage on the stored record, unless the
// record was replaced by other content while the artifact ran.
func (e *Executor) recordOutcome(rec artifact.Record, stderr string) error {
	cur, ok, err := e.store.Get(rec.Name)
	if err != nil {
		return err
	}
	if !ok || cur.ContentHash != rec.ContentHash {
		e.log.WithField("command", rec.Name).Debug("record changed during run; outcome not recorded")
		return nil
	}
	cur.LastStderr = stderr
	cur.UsageCount++
	cur.LastUsed = e.now().UTC()
	return e.store.Put(cur)
}
