// install.go - The installation entry point: preflight, collaborator
// wiring, and the ordered step sequence.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dohctl/dohctl/internal/acme"
	"github.com/dohctl/dohctl/internal/apt"
	"github.com/dohctl/dohctl/internal/backup"
	"github.com/dohctl/dohctl/internal/config"
	"github.com/dohctl/dohctl/internal/logging"
	"github.com/dohctl/dohctl/internal/manifest"
	"github.com/dohctl/dohctl/internal/preflight"
	"github.com/dohctl/dohctl/internal/run"
	"github.com/dohctl/dohctl/internal/service"
	"github.com/dohctl/dohctl/internal/steps"
)

var (
	installDomain string
	installEmail  string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Provision the DoH edge on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(installDomain, installEmail)
	},
}

func init() {
	installCmd.Flags().StringVar(&installDomain, "domain", "", "public domain name for the DoH endpoint")
	installCmd.Flags().StringVar(&installEmail, "email", "", "operator email for certificate notifications")
}

// runInstall performs a complete installation run. Empty domain or email
// fall back to the config file defaults and then to interactive prompts.
func runInstall(domain, email string) error {
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

	if domain == "" {
		domain = promptString("Domain name for the DoH endpoint", cfg.Domain)
	}
	if email == "" {
		email = promptString("Operator email for certificate notifications", cfg.Email)
	}
	if strings.TrimSpace(domain) == "" {
		return fmt.Errorf("a domain name is required")
	}
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("an operator email is required")
	}

	logger.Info("starting installation",
		slog.String("domain", domain),
		slog.String("email", email),
	)

	// Without an established rollback path, every subsequent mutation is
	// irreversible; refuse to proceed.
	store, err := backup.NewStore(cfg.BackupRoot, logger)
	if err != nil {
		return err
	}
	writer := backup.NewWriter(store, logger)

	man, err := manifest.Open(cfg.ManifestPath)
	if err != nil {
		return err
	}
	defer man.Close()

	runner := run.Exec{}

	services, err := service.Connect(ctx, runner, logger)
	if err != nil {
		return err
	}
	defer services.Close()
	services.RegisterValidator(cfg.ResolverUnit, service.UnboundChecker(runner, cfg.ResolverConf))
	services.RegisterValidator(cfg.GatewayUnit, service.DnsdistChecker(runner, cfg.GatewayConf))

	deps := &steps.Deps{
		Config:   cfg,
		Domain:   domain,
		Email:    email,
		Writer:   writer,
		Services: services,
		Packages: apt.NewManager(runner, logger),
		Issuer:   acme.NewClient(runner, logger),
		Manifest: man,
		PortFree: preflight.AssertPortFree,
		Probe:    steps.NewProber(logger),
		Logger:   logger,
	}

	result := steps.NewRunner(logger).Run(ctx, steps.InstallPlan(deps))
	if !result.Succeeded() {
		return fmt.Errorf("installation %s", result)
	}

	fmt.Println()
	fmt.Printf("DoH edge ready: https://%s/dns-query\n", domain)
	fmt.Printf("Backups of replaced configs are under %s\n", cfg.BackupRoot)
	fmt.Println("Run 'dohctl rollback' to restore the previous configuration.")
	return nil
}

// guard applies the preflight checks shared by installation and rollback:
// both mutate privileged system paths, so both are gated equally.
func guard(ctx context.Context, cfg *config.Config) error {
	if err := preflight.AssertRoot(); err != nil {
		return err
	}
	return preflight.AssertOS(ctx, cfg.Distros)
}
