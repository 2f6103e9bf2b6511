// Package apt is a thin façade over the Debian package manager. The step
// executor only needs three operations: query whether a package is
// installed, install a set of packages, and purge them. Everything runs
// non-interactively; a non-zero exit from apt-get or dpkg-query is fatal
// to the enclosing step and carries the tool's captured stderr.
package apt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dohctl/dohctl/internal/run"
)

// Manager invokes dpkg-query and apt-get on the local host.
type Manager struct {
	runner run.Runner
	logger *slog.Logger
}

// NewManager returns a package manager façade.
func NewManager(runner run.Runner, logger *slog.Logger) *Manager {
	return &Manager{
		runner: runner,
		logger: logger.With(slog.String("component", "apt")),
	}
}

// Installed reports whether the named package is currently installed.
func (m *Manager) Installed(ctx context.Context, name string) (bool, error) {
	res, err := m.runner.Run(ctx, "dpkg-query", "--show", "--showformat=${db:Status-Status}", name)
	if err != nil {
		return false, fmt.Errorf("query package %s: %w", name, err)
	}
	// dpkg-query exits non-zero for unknown packages; that just means
	// "not installed" here.
	if res.ExitCode != 0 {
		return false, nil
	}
	return strings.TrimSpace(res.Stdout) == "installed", nil
}

// Install installs the named packages non-interactively.
func (m *Manager) Install(ctx context.Context, names ...string) error {
	m.logger.Info("installing packages", slog.String("packages", strings.Join(names, " ")))

	args := append([]string{"install", "-y", "--no-install-recommends"}, names...)
	return m.aptGet(ctx, args...)
}

// Purge removes the named packages and their configuration files.
func (m *Manager) Purge(ctx context.Context, names ...string) error {
	m.logger.Info("purging packages", slog.String("packages", strings.Join(names, " ")))

	args := append([]string{"purge", "-y"}, names...)
	return m.aptGet(ctx, args...)
}

// Update refreshes the package index.
func (m *Manager) Update(ctx context.Context) error {
	return m.aptGet(ctx, "update")
}

func (m *Manager) aptGet(ctx context.Context, args ...string) error {
	res, err := m.runner.Run(ctx, "apt-get", args...)
	if err != nil {
		return fmt.Errorf("apt-get %s: %w", args[0], err)
	}
	if res.ExitCode != 0 {
		return &run.ToolError{
			Tool:     "apt-get " + args[0],
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(res.Stderr),
		}
	}
	return nil
}
