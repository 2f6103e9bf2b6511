// run.go implements external tool invocation with output capture and
// process group management. Every collaborator dohctl shells out to
// (apt-get, dpkg-query, certbot, journalctl, the daemon config checkers)
// goes through this package so that exit status and stderr are captured
// uniformly and child processes cannot outlive a cancelled invocation.
package run

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// Result holds the output of an external tool invocation.
type Result struct {
	// ExitCode is the process exit code. -1 indicates death by signal.
	ExitCode int

	// Stdout contains the standard output of the command.
	Stdout string

	// Stderr contains the standard error output of the command.
	Stderr string

	// Duration is how long the command took to execute.
	Duration time.Duration

	// StartedAt is when execution began.
	StartedAt time.Time
}

// Runner executes external tools. The interface exists so that package
// consumers (apt, acme, service) can substitute a fake in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// Exec is the production Runner backed by os/exec.
type Exec struct{}

// Run executes name with args, capturing stdout and stderr separately.
// It creates a new process group and kills the whole group if the context
// is cancelled, preventing orphan processes from accumulating.
//
// A non-zero exit is not an error at this layer: the Result carries the
// exit code and callers decide whether it is fatal. An error is returned
// only when the command could not be started at all.
func (Exec) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Kill the entire process group (negative PID), not just the leader.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	result := &Result{
		StartedAt: time.Now(),
	}

	err := cmd.Run()
	result.Duration = time.Since(result.StartedAt)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// Command not found, permission denied, context cancelled before start.
		return nil, fmt.Errorf("run %s: %w", name, err)
	}

	result.ExitCode = 0
	return result, nil
}

// ToolError reports a failed invocation of an external collaborator.
// It carries the underlying exit status and captured stderr so the failing
// step can surface the tool's own diagnostics to the operator.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, e.Stderr)
}
