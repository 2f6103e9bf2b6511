// service_test.go tests the orchestrator against a fake systemd connection.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	sysdbus "github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"

	"github.com/dohctl/dohctl/internal/run"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn records unit operations and replays configured job results and
// unit states.
type fakeConn struct {
	states    map[string]string // unit -> raw ActiveState
	jobResult string            // result sent on the job channel

	restarted []string
	started   []string
	stopped   []string
	enabled   [][]string
	reloads   int
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		states:    make(map[string]string),
		jobResult: "done",
	}
}

func (f *fakeConn) job(unit string, ch chan<- string, record *[]string) (int, error) {
	*record = append(*record, unit)
	ch <- f.jobResult
	if f.jobResult == "done" {
		f.states[unit] = "active"
	}
	return 1, nil
}

func (f *fakeConn) RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.job(name, ch, &f.restarted)
}

func (f *fakeConn) StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.job(name, ch, &f.started)
}

func (f *fakeConn) StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	n, err := f.job(name, ch, &f.stopped)
	if f.jobResult == "done" {
		f.states[name] = "inactive"
	}
	return n, err
}

func (f *fakeConn) EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []sysdbus.EnableUnitFileChange, error) {
	f.enabled = append(f.enabled, files)
	return true, nil, nil
}

func (f *fakeConn) ReloadContext(ctx context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeConn) GetUnitPropertyContext(ctx context.Context, unit, propertyName string) (*sysdbus.Property, error) {
	state, ok := f.states[unit]
	if !ok {
		state = "inactive"
	}
	return &sysdbus.Property{
		Name:  propertyName,
		Value: godbus.MakeVariant(state),
	}, nil
}

func (f *fakeConn) Close() { f.closed = true }

// fakeRunner replays a canned command result.
type fakeRunner struct {
	result *run.Result
	err    error
	argv   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*run.Result, error) {
	f.argv = append([]string{name}, args...)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestManager(conn *fakeConn, runner run.Runner) *Manager {
	return NewManager(conn, runner, nopLogger())
}

func TestRestart(t *testing.T) {
	ctx := context.Background()

	t.Run("done job succeeds", func(t *testing.T) {
		conn := newFakeConn()
		m := newTestManager(conn, &fakeRunner{})

		if err := m.Restart(ctx, "dnsdist.service"); err != nil {
			t.Fatalf("Restart failed: %v", err)
		}
		if len(conn.restarted) != 1 || conn.restarted[0] != "dnsdist.service" {
			t.Errorf("restarted = %v", conn.restarted)
		}
	})

	t.Run("failed job surfaces the result", func(t *testing.T) {
		conn := newFakeConn()
		conn.jobResult = "failed"
		m := newTestManager(conn, &fakeRunner{})

		err := m.Restart(ctx, "dnsdist.service")
		if err == nil {
			t.Fatal("expected error for failed job")
		}
		var serr *Error
		if !errors.As(err, &serr) {
			t.Fatalf("error type = %T, want *Error", err)
		}
		if serr.Unit != "dnsdist.service" || serr.Op != "restart" || serr.Result != "failed" {
			t.Errorf("error = %+v", serr)
		}
	})
}

func TestStop(t *testing.T) {
	ctx := context.Background()

	t.Run("active unit is stopped", func(t *testing.T) {
		conn := newFakeConn()
		conn.states["unbound.service"] = "active"
		m := newTestManager(conn, &fakeRunner{})

		if err := m.Stop(ctx, "unbound.service"); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		if len(conn.stopped) != 1 {
			t.Errorf("stop jobs = %v, want one", conn.stopped)
		}
	})

	t.Run("inactive unit is a no-op", func(t *testing.T) {
		conn := newFakeConn()
		m := newTestManager(conn, &fakeRunner{})

		if err := m.Stop(ctx, "unbound.service"); err != nil {
			t.Fatalf("Stop of inactive unit failed: %v", err)
		}
		if len(conn.stopped) != 0 {
			t.Errorf("stop job issued for inactive unit: %v", conn.stopped)
		}
	})
}

func TestEnable(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(conn, &fakeRunner{})

	if err := m.Enable(context.Background(), "dnsdist.service"); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if len(conn.enabled) != 1 || conn.enabled[0][0] != "dnsdist.service" {
		t.Errorf("enabled = %v", conn.enabled)
	}
	if conn.reloads != 1 {
		t.Errorf("daemon reloads = %d, want 1", conn.reloads)
	}
}

func TestState(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		raw  string
		want string
	}{
		{"active", StateActive},
		{"activating", StateActive},
		{"reloading", StateActive},
		{"inactive", StateInactive},
		{"deactivating", StateInactive},
		{"failed", StateFailed},
		{"maintenance", StateUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			conn := newFakeConn()
			conn.states["unbound.service"] = tc.raw
			m := newTestManager(conn, &fakeRunner{})

			state, err := m.State(ctx, "unbound.service")
			if err != nil {
				t.Fatalf("State failed: %v", err)
			}
			if state != tc.want {
				t.Errorf("State(%q) = %q, want %q", tc.raw, state, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	m := newTestManager(conn, &fakeRunner{})

	t.Run("unregistered unit has no validator", func(t *testing.T) {
		if m.HasValidator("unbound.service") {
			t.Error("HasValidator = true before registration")
		}
		if err := m.Validate(ctx, "unbound.service"); err != nil {
			t.Errorf("Validate without validator = %v, want nil", err)
		}
	})

	t.Run("registered validator is invoked", func(t *testing.T) {
		bad := errors.New("syntax error")
		m.RegisterValidator("unbound.service", func(ctx context.Context) error {
			return bad
		})
		if !m.HasValidator("unbound.service") {
			t.Error("HasValidator = false after registration")
		}
		if err := m.Validate(ctx, "unbound.service"); !errors.Is(err, bad) {
			t.Errorf("Validate = %v, want %v", err, bad)
		}
	})
}

func TestTailLog(t *testing.T) {
	ctx := context.Background()

	t.Run("splits journal output into lines", func(t *testing.T) {
		runner := &fakeRunner{result: &run.Result{
			ExitCode: 0,
			Stdout:   "line one\nline two\nline three\n",
		}}
		m := newTestManager(newFakeConn(), runner)

		lines, err := m.TailLog(ctx, "dnsdist.service", 20)
		if err != nil {
			t.Fatalf("TailLog failed: %v", err)
		}
		if len(lines) != 3 || lines[0] != "line one" {
			t.Errorf("lines = %v", lines)
		}
		if runner.argv[0] != "journalctl" {
			t.Errorf("invoked %v, want journalctl", runner.argv)
		}
		if !strings.Contains(strings.Join(runner.argv, " "), "-u dnsdist.service") {
			t.Errorf("unit selector missing from argv: %v", runner.argv)
		}
	})

	t.Run("empty journal yields no lines", func(t *testing.T) {
		runner := &fakeRunner{result: &run.Result{ExitCode: 0, Stdout: ""}}
		m := newTestManager(newFakeConn(), runner)

		lines, err := m.TailLog(ctx, "dnsdist.service", 20)
		if err != nil {
			t.Fatalf("TailLog failed: %v", err)
		}
		if lines != nil {
			t.Errorf("lines = %v, want nil", lines)
		}
	})

	t.Run("journalctl failure is a tool error", func(t *testing.T) {
		runner := &fakeRunner{result: &run.Result{ExitCode: 1, Stderr: "no such unit"}}
		m := newTestManager(newFakeConn(), runner)

		_, err := m.TailLog(ctx, "ghost.service", 20)
		if err == nil {
			t.Fatal("expected error")
		}
		var terr *run.ToolError
		if !errors.As(err, &terr) {
			t.Fatalf("error chain missing *run.ToolError: %v", err)
		}
	})
}

func TestValidators(t *testing.T) {
	ctx := context.Background()

	t.Run("unbound checker passes argv and conf path", func(t *testing.T) {
		runner := &fakeRunner{result: &run.Result{ExitCode: 0}}
		v := UnboundChecker(runner, "/etc/unbound/unbound.conf.d/dohctl.conf")

		if err := v(ctx); err != nil {
			t.Fatalf("validator failed: %v", err)
		}
		want := []string{"unbound-checkconf", "/etc/unbound/unbound.conf.d/dohctl.conf"}
		if strings.Join(runner.argv, " ") != strings.Join(want, " ") {
			t.Errorf("argv = %v, want %v", runner.argv, want)
		}
	})

	t.Run("dnsdist checker uses check mode", func(t *testing.T) {
		runner := &fakeRunner{result: &run.Result{ExitCode: 0}}
		v := DnsdistChecker(runner, "/etc/dnsdist/dnsdist.conf")

		if err := v(ctx); err != nil {
			t.Fatalf("validator failed: %v", err)
		}
		joined := strings.Join(runner.argv, " ")
		if !strings.HasPrefix(joined, "dnsdist --check-config") {
			t.Errorf("argv = %v", runner.argv)
		}
	})

	t.Run("non-zero exit is a tool error with stderr detail", func(t *testing.T) {
		runner := &fakeRunner{result: &run.Result{
			ExitCode: 1,
			Stderr:   "unbound-checkconf: error in line 3",
		}}
		v := UnboundChecker(runner, "/tmp/bad.conf")

		err := v(ctx)
		var terr *run.ToolError
		if !errors.As(err, &terr) {
			t.Fatalf("error type = %T, want *run.ToolError", err)
		}
		if terr.ExitCode != 1 || !strings.Contains(terr.Stderr, "line 3") {
			t.Errorf("tool error = %+v", terr)
		}
	})
}
