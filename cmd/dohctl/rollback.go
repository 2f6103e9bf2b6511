// rollback.go - The rollback entry point: stop the managed services and
// restore every managed path to its last snapshot.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dohctl/dohctl/internal/backup"
	"github.com/dohctl/dohctl/internal/config"
	"github.com/dohctl/dohctl/internal/logging"
	"github.com/dohctl/dohctl/internal/manifest"
	"github.com/dohctl/dohctl/internal/rollback"
	"github.com/dohctl/dohctl/internal/run"
	"github.com/dohctl/dohctl/internal/service"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore managed configuration to its last snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRollback()
	},
}

// runRollback restores every path recorded in the run manifest, falling
// back to the statically known managed paths when no manifest entries
// exist. Rollback never touches packages.
func runRollback() error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := guard(ctx, cfg); err != nil {
		return err
	}

	store, err := backup.NewStore(cfg.BackupRoot, logger)
	if err != nil {
		return err
	}

	paths, units, err := rollbackTargets(cfg)
	if err != nil {
		return err
	}

	runner := run.Exec{}
	services, err := service.Connect(ctx, runner, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	engine := rollback.NewEngine(store, services, logger)
	if err := engine.Run(ctx, paths, units); err != nil {
		return err
	}

	fmt.Println("Rollback complete: managed configs restored to their last snapshots.")
	return nil
}

// rollbackTargets determines which paths and services to roll back. The
// run manifest is authoritative when it has entries; otherwise the
// statically configured managed paths and units serve as the fallback.
func rollbackTargets(cfg *config.Config) ([]manifest.ManagedPath, []string, error) {
	man, err := manifest.Open(cfg.ManifestPath)
	if err != nil {
		return nil, nil, err
	}
	defer man.Close()

	paths, err := man.Paths()
	if err != nil {
		return nil, nil, err
	}
	services, err := man.Services()
	if err != nil {
		return nil, nil, err
	}

	if len(paths) == 0 {
		for path, component := range cfg.ManagedPaths() {
			paths = append(paths, manifest.ManagedPath{Path: path, Component: component})
		}
	}

	units := make([]string, 0, len(services))
	for _, s := range services {
		units = append(units, s.Unit)
	}
	if len(units) == 0 {
		units = []string{cfg.GatewayUnit, cfg.ResolverUnit}
	}

	return paths, units, nil
}
