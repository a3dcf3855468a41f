// Package sandbox is the hidden entry point a ProcessRunner child executes.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/flarebyte/ergo/internal/executor"
	"github.com/flarebyte/ergo/internal/sandbox"
)

type exitError struct {
	code int
	msg  string
}

func (e exitError) Error() string { return e.msg }
func (e exitError) ExitCode() int { return e.code }

var jobPath string

// Cmd runs one job file and exits with the artifact's status.
var Cmd = &cobra.Command{
	Use:           executor.SandboxCommand,
	Short:         "Run a sandboxed artifact job",
	Hidden:        true,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jobPath == "" {
			return exitError{code: sandbox.FaultExitCode, msg: "missing required flag: --job"}
		}
		return Run(cmd.Context(), jobPath, os.Stdout, os.Stderr)
	},
}

func init() {
	Cmd.Flags().StringVar(&jobPath, "job", "", "Path to the job file")
}

// Run executes the job at path. Faults exit with sandbox.FaultExitCode.
func Run(ctx context.Context, path string, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	job, err := sandbox.ReadJob(path)
	_ = os.Remove(path)
	if err != nil {
		return exitError{code: sandbox.FaultExitCode, msg: err.Error()}
	}
	p, err := job.Program()
	if err != nil {
		return exitError{code: sandbox.FaultExitCode, msg: err.Error()}
	}
	code, err := sandbox.Run(ctx, p, sandbox.Stdio{Out: stdout, Err: stderr})
	if err != nil {
		if errors.Is(err, sandbox.ErrTimeout) {
			return exitError{code: sandbox.FaultExitCode, msg: fmt.Sprintf("sandbox: %v", err)}
		}
		return exitError{code: sandbox.FaultExitCode, msg: err.Error()}
	}
	if code != 0 {
		return exitError{code: code}
	}
	return nil
}
