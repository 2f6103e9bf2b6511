// status.go - Read-only view of the managed units and backup inventory.
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
	"github.com/dohctl/dohctl/internal/run"
	"github.com/dohctl/dohctl/internal/service"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show managed service states and backup inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func runStatus() error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	services, err := service.Connect(ctx, run.Exec{}, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	fmt.Println("services:")
	for _, unit := range []string{cfg.ResolverUnit, cfg.GatewayUnit} {
		state, err := services.State(ctx, unit)
		if err != nil {
			state = service.StateUnknown
		}
		fmt.Printf("  %-20s %s\n", unit, state)
	}

	store, err := backup.NewStore(cfg.BackupRoot, logger)
	if err != nil {
		return err
	}

	fmt.Println("backups:")
	for path := range cfg.ManagedPaths() {
		records, err := store.Records(path)
		if err != nil {
			return err
		}
		fmt.Printf("  %-40s %d snapshot(s)\n", path, len(records))
		for _, rec := range records {
			fmt.Printf("    version %d: %s\n", rec.Version, rec.Path)
		}
	}
	return nil
}
