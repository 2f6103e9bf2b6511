// Package rollback restores managed paths to their last known-good
// snapshots. The set of paths comes from the run manifest written during
// installation, falling back to the statically configured managed paths
// when no manifest exists (e.g. the manifest database was removed).
//
// Rollback is configuration-only: it never installs or purges packages,
// since package removal is too destructive to automate blindly. Paths that
// never existed before installation have no snapshot and are deleted,
// which returns them to their pre-install absence.
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dohctl/dohctl/internal/backup"
	"github.com/dohctl/dohctl/internal/manifest"
)

// Services is the slice of the service orchestrator rollback needs.
type Services interface {
	Stop(ctx context.Context, unit string) error
}

// Engine walks the managed paths and restores each to its latest backup.
type Engine struct {
	store    *backup.Store
	services Services
	logger   *slog.Logger
}

// NewEngine returns a rollback engine over the given snapshot store.
func NewEngine(store *backup.Store, services Services, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		services: services,
		logger:   logger.With(slog.String("component", "rollback")),
	}
}

// Run stops the managed services and restores every managed path.
//
// Service stops are best-effort: a failure to stop is logged, not fatal,
// since the goal is restoring files regardless of current service state.
// Path restoration failures are fatal: a rollback that silently leaves a
// path in its post-install state would be worse than stopping.
func (e *Engine) Run(ctx context.Context, paths []manifest.ManagedPath, units []string) error {
	for _, unit := range units {
		if err := e.services.Stop(ctx, unit); err != nil {
			e.logger.Warn("could not stop service, continuing",
				slog.String("unit", unit),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, p := range paths {
		if err := e.restorePath(p); err != nil {
			return err
		}
	}
	return nil
}

// restorePath returns one path to its last snapshot, or removes it when it
// was never backed up (first-time write during installation).
func (e *Engine) restorePath(p manifest.ManagedPath) error {
	rec, err := e.store.Latest(p.Path)
	if err != nil {
		return fmt.Errorf("look up backups for %s: %w", p.Path, err)
	}

	if rec == nil {
		err := os.Remove(p.Path)
		if os.IsNotExist(err) {
			e.logger.Debug("nothing to restore", slog.String("path", p.Path))
			return nil
		}
		if err != nil {
			return fmt.Errorf("remove %s: %w", p.Path, err)
		}
		e.logger.Info("removed unbacked managed file",
			slog.String("path", p.Path),
			slog.String("component", p.Component),
		)
		return nil
	}

	if err := e.store.Restore(rec); err != nil {
		return err
	}
	e.logger.Info("managed file restored",
		slog.String("path", p.Path),
		slog.Int64("version", rec.Version),
	)
	return nil
}
