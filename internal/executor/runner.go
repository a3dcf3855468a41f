package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/flarebyte/ergo/internal/permission"
	"github.com/flarebyte/ergo/internal/sandbox"
)

// InProcessRunner runs the Lua runtime inside the current process. It cannot
// narrow the environment, so it serves tests and --in-process.
type InProcessRunner struct {
	Seed int64
}

func (r InProcessRunner) Run(ctx context.Context, job sandbox.Job, stdio sandbox.Stdio) (int, error) {
	p, err := job.Program()
	if err != nil {
		return -1, err
	}
	p.Seed = r.Seed
	return sandbox.Run(ctx, p, stdio)
}

// SandboxCommand is the hidden subcommand a ProcessRunner child runs.
const SandboxCommand = "__sandbox"

// DefaultTermGrace is how long a child gets between SIGTERM and SIGKILL.
const DefaultTermGrace = 2 * time.Second

// ProcessRunner re-executes the ergo binary as a sandbox child in its own
// process group with an environment reduced to the granted variables.
type ProcessRunner struct {
	Executable string
	TermGrace  time.Duration
	// Environ supplies the parent environment; nil means os.Environ.
	Environ func() []string
}

// NewProcessRunner uses the running executable.
func NewProcessRunner() (*ProcessRunner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate ergo executable: %w", err)
	}
	return &ProcessRunner{Executable: exe, TermGrace: DefaultTermGrace}, nil
}

func (p *ProcessRunner) Run(ctx context.Context, job sandbox.Job, stdio sandbox.Stdio) (int, error) {
	grants, err := permission.ParseAll(job.Permissions)
	if err != nil {
		return -1, err
	}
	grace := p.TermGrace
	if grace <= 0 {
		grace = DefaultTermGrace
	}
	// The parent enforces the deadline; the child's own limit is a backstop.
	childJob := job
	if job.TimeoutMs > 0 {
		childJob.TimeoutMs = job.TimeoutMs + grace.Milliseconds()
	}
	jobPath, err := writeJobFile(childJob)
	if err != nil {
		return -1, err
	}
	defer os.Remove(jobPath)

	environ := os.Environ
	if p.Environ != nil {
		environ = p.Environ
	}
	cmd := exec.Command(p.Executable, SandboxCommand, "--job", jobPath)
	cmd.Env = sandboxEnv(environ(), grants)
	cmd.Stdout = stdio.Out
	cmd.Stderr = stdio.Err
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start sandbox: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if job.TimeoutMs > 0 {
		timer := time.NewTimer(time.Duration(job.TimeoutMs) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}

	var runErr, stopped error
	select {
	case runErr = <-done:
	case <-deadline:
		stopped = fmt.Errorf("%w after %dms", sandbox.ErrTimeout, job.TimeoutMs)
		runErr = terminate(cmd, done, grace)
	case <-ctx.Done():
		stopped = ctx.Err()
		runErr = terminate(cmd, done, grace)
	}
	if stopped != nil {
		return -1, stopped
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			if exitErr.ExitCode() == sandbox.FaultExitCode {
				return exitErr.ExitCode(), sandbox.ErrFault
			}
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("wait sandbox: %w", runErr)
	}
	return 0, nil
}

// terminate asks the process group to stop, then kills it after grace.
func terminate(cmd *exec.Cmd, done <-chan error, grace time.Duration) error {
	signalProcess(cmd, false)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		signalProcess(cmd, true)
		return <-done
	}
}

func writeJobFile(job sandbox.Job) (string, error) {
	f, err := os.CreateTemp("", "ergo-job-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create job file: %w", err)
	}
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := sandbox.WriteJob(f, job); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write job file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// sandboxEnv keeps only the granted variables, plus PATH when the artifact
// may start programs.
func sandboxEnv(environ []string, grants permission.Set) []string {
	keep := map[string]bool{}
	all := false
	for _, name := range grants.Targets(permission.KindEnv) {
		if name == permission.Any {
			all = true
		}
		keep[name] = true
	}
	if grants.Has(permission.KindRun) {
		keep["PATH"] = true
	}
	out := []string{}
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		if all || keep[name] {
			out = append(out, kv)
		}
	}
	sort.Strings(out)
	return out
}
