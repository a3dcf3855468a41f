package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/flarebyte/ergo/internal/permission"
	"gopkg.in/yaml.v3"
)

// FaultExitCode is the exit status of a sandbox child that could not run its
// job at all, as opposed to a script that failed.
const FaultExitCode = 125

// ErrFault reports a sandbox child that exited with FaultExitCode.
var ErrFault = errors.New("sandbox process fault")

// Job is the serialized form of a Program, handed to a child process.
type Job struct {
	Script           string   `yaml:"script"`
	Permissions      []string `yaml:"permissions"`
	Args             []string `yaml:"args"`
	TimeoutMs        int64    `yaml:"timeout_ms"`
	MemoryLimitBytes int      `yaml:"memory_limit_bytes,omitempty"`
}

// Program parses the job's grants.
func (j Job) Program() (Program, error) {
	grants, err := permission.ParseAll(j.Permissions)
	if err != nil {
		return Program{}, fmt.Errorf("job grants: %w", err)
	}
	return Program{
		Script: j.Script,
		Grants: grants,
		Args:   j.Args,
		Limits: Limits{
			Timeout:          time.Duration(j.TimeoutMs) * time.Millisecond,
			MemoryLimitBytes: j.MemoryLimitBytes,
		},
	}, nil
}

// WriteJob encodes j to w.
func WriteJob(w io.Writer, j Job) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(j); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadJob decodes the job file at path.
func ReadJob(path string) (Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read job: %w", err)
	}
	var j Job
	if err := yaml.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return j, nil
}
