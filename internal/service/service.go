// Package service is the orchestrator for the managed daemons (resolver and
// gateway). It wraps the coreos/go-systemd D-Bus API for unit control and
// state queries, shells out to journalctl for log tails, and hosts the
// per-unit config validators that run before any restart.
//
// Every failed operation is surfaced as a *service.Error carrying the unit,
// the operation, and whatever diagnostic the underlying layer produced; the
// step executor treats all of them as fatal.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sysdbus "github.com/coreos/go-systemd/v22/dbus"

	"github.com/dohctl/dohctl/internal/run"
)

// States a unit can report. Observed on demand, never cached beyond a
// single check.
const (
	StateUnknown  = "unknown"
	StateActive   = "active"
	StateInactive = "inactive"
	StateFailed   = "failed"
)

// Error reports a failed service operation.
type Error struct {
	Unit   string
	Op     string
	Result string // systemd job result ("failed", "timeout", ...) when applicable
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Unit)
	if e.Result != "" {
		msg += ": job " + e.Result
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validator statically validates a daemon's configuration before a restart.
type Validator func(ctx context.Context) error

// Conn is the slice of the systemd D-Bus API the orchestrator needs.
// *sysdbus.Conn satisfies it; tests substitute a fake.
type Conn interface {
	RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	EnableUnitFilesContext(ctx context.Context, files []string, runtime bool, force bool) (bool, []sysdbus.EnableUnitFileChange, error)
	ReloadContext(ctx context.Context) error
	GetUnitPropertyContext(ctx context.Context, unit string, propertyName string) (*sysdbus.Property, error)
	Close()
}

// Manager orchestrates the managed units.
type Manager struct {
	conn       Conn
	runner     run.Runner
	validators map[string]Validator
	logger     *slog.Logger
}

// Connect opens a connection to the system bus and returns a manager over it.
func Connect(ctx context.Context, runner run.Runner, logger *slog.Logger) (*Manager, error) {
	conn, err := sysdbus.NewWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	return NewManager(conn, runner, logger), nil
}

// NewManager returns a manager over an existing connection.
func NewManager(conn Conn, runner run.Runner, logger *slog.Logger) *Manager {
	return &Manager{
		conn:       conn,
		runner:     runner,
		validators: make(map[string]Validator),
		logger:     logger.With(slog.String("component", "service")),
	}
}

// Close releases the underlying bus connection.
func (m *Manager) Close() {
	m.conn.Close()
}

// RegisterValidator attaches a config validator to a unit. Units without
// one are restarted unvalidated (HasValidator lets callers know).
func (m *Manager) RegisterValidator(unit string, v Validator) {
	m.validators[unit] = v
}

// HasValidator reports whether a validator is registered for unit.
func (m *Manager) HasValidator(unit string) bool {
	_, ok := m.validators[unit]
	return ok
}

// Validate runs the unit's registered validator. No-op without one.
func (m *Manager) Validate(ctx context.Context, unit string) error {
	v, ok := m.validators[unit]
	if !ok {
		return nil
	}
	return v(ctx)
}

// Restart restarts the unit and waits for the job to complete.
func (m *Manager) Restart(ctx context.Context, unit string) error {
	return m.runJob(ctx, unit, "restart", m.conn.RestartUnitContext)
}

// Start starts the unit and waits for the job to complete.
func (m *Manager) Start(ctx context.Context, unit string) error {
	return m.runJob(ctx, unit, "start", m.conn.StartUnitContext)
}

// Stop stops the unit. Stopping a unit that is not running is success:
// the orchestrator's callers only care that the unit ends up not active.
func (m *Manager) Stop(ctx context.Context, unit string) error {
	state, err := m.State(ctx, unit)
	if err == nil && state != StateActive {
		m.logger.Debug("stop skipped, unit not active",
			slog.String("unit", unit),
			slog.String("state", state),
		)
		return nil
	}
	return m.runJob(ctx, unit, "stop", m.conn.StopUnitContext)
}

// Enable enables the unit to start at boot and reloads the daemon so the
// change takes effect.
func (m *Manager) Enable(ctx context.Context, unit string) error {
	if _, _, err := m.conn.EnableUnitFilesContext(ctx, []string{unit}, false, true); err != nil {
		return &Error{Unit: unit, Op: "enable", Err: err}
	}
	if err := m.conn.ReloadContext(ctx); err != nil {
		return &Error{Unit: unit, Op: "daemon-reload", Err: err}
	}
	m.logger.Info("unit enabled", slog.String("unit", unit))
	return nil
}

// IsActive reports whether the unit is currently active.
func (m *Manager) IsActive(ctx context.Context, unit string) (bool, error) {
	state, err := m.State(ctx, unit)
	if err != nil {
		return false, err
	}
	return state == StateActive, nil
}

// State returns the unit's current ActiveState, normalized to one of the
// State* constants.
func (m *Manager) State(ctx context.Context, unit string) (string, error) {
	prop, err := m.conn.GetUnitPropertyContext(ctx, unit, "ActiveState")
	if err != nil {
		return StateUnknown, &Error{Unit: unit, Op: "query", Err: err}
	}
	state, ok := prop.Value.Value().(string)
	if !ok {
		return StateUnknown, &Error{Unit: unit, Op: "query", Err: fmt.Errorf("unexpected ActiveState type")}
	}
	switch state {
	case "active", "inactive", "failed":
		return state, nil
	case "activating", "reloading":
		return StateActive, nil
	case "deactivating":
		return StateInactive, nil
	default:
		return StateUnknown, nil
	}
}

// TailLog returns the last n journal lines for the unit, oldest first.
// Used to attach a diagnostic to post-restart health failures.
func (m *Manager) TailLog(ctx context.Context, unit string, n int) ([]string, error) {
	res, err := m.runner.Run(ctx, "journalctl",
		"-u", unit,
		"-n", fmt.Sprintf("%d", n),
		"--no-pager",
		"--output", "short",
	)
	if err != nil {
		return nil, &Error{Unit: unit, Op: "tail log", Err: err}
	}
	if res.ExitCode != 0 {
		return nil, &Error{Unit: unit, Op: "tail log", Err: &run.ToolError{
			Tool:     "journalctl",
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(res.Stderr),
		}}
	}

	out := strings.TrimRight(res.Stdout, "\n")
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// jobFunc matches the shape of the go-systemd unit job calls.
type jobFunc func(ctx context.Context, name string, mode string, ch chan<- string) (int, error)

// runJob starts a systemd job and waits for its result. Anything but
// "done" is a failure.
func (m *Manager) runJob(ctx context.Context, unit, op string, start jobFunc) error {
	ch := make(chan string, 1)
	if _, err := start(ctx, unit, "replace", ch); err != nil {
		return &Error{Unit: unit, Op: op, Err: err}
	}

	select {
	case result := <-ch:
		if result != "done" {
			return &Error{Unit: unit, Op: op, Result: result}
		}
	case <-ctx.Done():
		return &Error{Unit: unit, Op: op, Err: ctx.Err()}
	}

	m.logger.Info("unit "+op+" complete", slog.String("unit", unit))
	return nil
}
