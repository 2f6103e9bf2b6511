// step.go - The installation step model and the executor that runs it.
// Steps are data, not code-as-text: a fixed ordered sequence defined at
// process start, each a named closure over a prerequisite check and a body.
// The executor runs them strictly in order and aborts the whole run on the
// first hard failure; nothing is retried, on the premise that
// system-mutating operations are not safe to blindly repeat without
// operator judgment.
package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Class is a step's idempotency class.
type Class int

const (
	// SafeToRepeat steps converge trivially: re-running them overwrites
	// the same state.
	SafeToRepeat Class = iota

	// DestructiveReinstall steps must tolerate a target that is already
	// in the desired state by querying current state and purging before
	// reinstalling, so repeated runs converge rather than error.
	DestructiveReinstall
)

// Step is a named, ordered unit of work.
type Step struct {
	Name  string
	Class Class

	// Optional steps are skipped (not fatal) when their prerequisite
	// check fails.
	Optional bool

	// Check is the prerequisite; nil means the step always runs.
	Check func(ctx context.Context) error

	// Run performs the step's managed-file writes and service actions.
	Run func(ctx context.Context) error
}

// Status is the outcome of a run.
type Status int

const (
	Completed Status = iota
	Failed
)

// RunResult is the outcome of executing the step sequence. It is not
// persisted; it is surfaced to the operator and mapped to the process
// exit status.
type RunResult struct {
	Status Status
	Step   string // failing step name, empty on success
	Cause  error  // failing step cause, nil on success
}

// Succeeded reports whether all steps completed.
func (r RunResult) Succeeded() bool {
	return r.Status == Completed
}

func (r RunResult) String() string {
	if r.Succeeded() {
		return "completed"
	}
	return fmt.Sprintf("failed at step %q: %v", r.Step, r.Cause)
}

// Runner executes an ordered step sequence.
type Runner struct {
	logger *slog.Logger
}

// NewRunner returns a step runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		logger: logger.With(slog.String("component", "steps")),
	}
}

// Run executes steps strictly in order. Each step's prerequisite check runs
// first: a failing check skips the step when it is optional and fails the
// run otherwise. Any error from a step body fails the run immediately.
func (r *Runner) Run(ctx context.Context, steps []Step) RunResult {
	for i, step := range steps {
		log := r.logger.With(
			slog.String("step", step.Name),
			slog.Int("ordinal", i+1),
		)

		if step.Check != nil {
			if err := step.Check(ctx); err != nil {
				if step.Optional {
					log.Info("step skipped", slog.String("reason", err.Error()))
					continue
				}
				log.Error("prerequisite failed", slog.String("error", err.Error()))
				return RunResult{Status: Failed, Step: step.Name, Cause: err}
			}
		}

		log.Info("step starting")
		if err := step.Run(ctx); err != nil {
			log.Error("step failed", slog.String("error", err.Error()))
			return RunResult{Status: Failed, Step: step.Name, Cause: err}
		}
		log.Info("step complete")
	}
	return RunResult{Status: Completed}
}

// ValidationError reports a daemon-native config validation failure. The
// restart is withheld so a known-bad config never reaches a running daemon.
type ValidationError struct {
	Unit string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation for %s failed: %v", e.Unit, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// HealthError reports a service that did not come up active after a
// restart, with a journal tail attached as the diagnostic.
type HealthError struct {
	Unit    string
	LogTail []string
}

func (e *HealthError) Error() string {
	msg := fmt.Sprintf("%s is not active after restart", e.Unit)
	if len(e.LogTail) > 0 {
		msg += "; last log lines:\n" + strings.Join(e.LogTail, "\n")
	}
	return msg
}
