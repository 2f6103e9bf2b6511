// install.go - The concrete installation plan for the DoH edge.
// Sequence: packages -> resolver config -> certificate -> gateway config ->
// end-to-end probe. Every managed-file write goes through the backing
// writer (snapshot first) and is recorded in the run manifest so rollback
// can find it, and every service whose config changed is validated before
// it is restarted.
package steps

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/dohctl/dohctl/internal/acme"
	"github.com/dohctl/dohctl/internal/backup"
	"github.com/dohctl/dohctl/internal/config"
	"github.com/dohctl/dohctl/internal/render"
)

// requiredPackages are the daemons and tooling the edge needs.
var requiredPackages = []string{"unbound", "dnsdist", "certbot"}

// journalTailLines is how much journal context a health failure carries.
const journalTailLines = 20

// FileWriter replaces managed files, backing them up first.
type FileWriter interface {
	Write(path string, content []byte, perm fs.FileMode) (*backup.Record, error)
}

// Services is the slice of the service orchestrator the plan needs.
type Services interface {
	Restart(ctx context.Context, unit string) error
	Enable(ctx context.Context, unit string) error
	IsActive(ctx context.Context, unit string) (bool, error)
	Validate(ctx context.Context, unit string) error
	HasValidator(unit string) bool
	TailLog(ctx context.Context, unit string, n int) ([]string, error)
}

// Packages is the package manager façade.
type Packages interface {
	Installed(ctx context.Context, name string) (bool, error)
	Update(ctx context.Context) error
	Install(ctx context.Context, names ...string) error
	Purge(ctx context.Context, names ...string) error
}

// Issuer obtains certificates.
type Issuer interface {
	Obtain(ctx context.Context, domain, email string) (*acme.Certificate, error)
	Existing(domain string) (*acme.Certificate, bool)
}

// Recorder is the run manifest surface the plan writes into.
type Recorder interface {
	RecordPath(path, component string) error
	RecordService(unit string) error
}

// Deps carries the collaborators and the per-run inputs. Domain and Email
// are collected once at the start of a run and threaded through here;
// nothing reads ambient environment state mid-step.
type Deps struct {
	Config *config.Config
	Domain string
	Email  string

	Writer   FileWriter
	Services Services
	Packages Packages
	Issuer   Issuer
	Manifest Recorder

	// PortFree checks that nothing is listening on a TCP port.
	PortFree func(ctx context.Context, port uint32) error

	// Probe performs the end-to-end DoH query against the domain.
	Probe func(ctx context.Context, domain string) error

	Logger *slog.Logger
}

// InstallPlan returns the fixed ordered step sequence for an install run.
func InstallPlan(d *Deps) []Step {
	return []Step{
		{
			Name:  "packages",
			Class: DestructiveReinstall,
			Run:   d.installPackages,
		},
		{
			Name:  "resolver-config",
			Class: SafeToRepeat,
			Check: d.resolverPortAvailable,
			Run:   d.configureResolver,
		},
		{
			Name:     "certificate",
			Class:    SafeToRepeat,
			Optional: true,
			Check:    d.certificateNeeded,
			Run:      d.obtainCertificate,
		},
		{
			Name:  "gateway-config",
			Class: SafeToRepeat,
			Run:   d.configureGateway,
		},
		{
			Name:  "doh-probe",
			Class: SafeToRepeat,
			Run:   d.probeEndpoint,
		},
	}
}

// installPackages converges the package set. Already-installed packages are
// purged first so a re-run lands on a known-clean install instead of
// assuming the existing one is intact.
func (d *Deps) installPackages(ctx context.Context) error {
	if err := d.Packages.Update(ctx); err != nil {
		return fmt.Errorf("refresh package index: %w", err)
	}

	var present []string
	for _, name := range requiredPackages {
		installed, err := d.Packages.Installed(ctx, name)
		if err != nil {
			return err
		}
		if installed {
			present = append(present, name)
		}
	}
	if len(present) > 0 {
		d.Logger.Info("purging existing packages before reinstall",
			slog.Any("packages", present),
		)
		if err := d.Packages.Purge(ctx, present...); err != nil {
			return err
		}
	}
	return d.Packages.Install(ctx, requiredPackages...)
}

// resolverPortAvailable requires port 53 to be free unless our own
// resolver already holds it (re-run case).
func (d *Deps) resolverPortAvailable(ctx context.Context) error {
	active, err := d.Services.IsActive(ctx, d.Config.ResolverUnit)
	if err == nil && active {
		return nil
	}
	return d.PortFree(ctx, 53)
}

func (d *Deps) configureResolver(ctx context.Context) error {
	content, err := render.Resolver(render.DefaultResolverData())
	if err != nil {
		return err
	}
	if _, err := d.Writer.Write(d.Config.ResolverConf, content, 0644); err != nil {
		return err
	}
	if err := d.recordManaged(d.Config.ResolverConf, "resolver", d.Config.ResolverUnit); err != nil {
		return err
	}
	return d.restartValidated(ctx, d.Config.ResolverUnit)
}

// certificateNeeded fails (skipping the optional step) when a certificate
// for the domain is already on disk.
func (d *Deps) certificateNeeded(ctx context.Context) error {
	if _, ok := d.Issuer.Existing(d.Domain); ok {
		return fmt.Errorf("certificate for %s already present", d.Domain)
	}
	return nil
}

// obtainCertificate runs the standalone http-01 flow, which needs port 80.
func (d *Deps) obtainCertificate(ctx context.Context) error {
	if err := d.PortFree(ctx, 80); err != nil {
		return err
	}
	_, err := d.Issuer.Obtain(ctx, d.Domain, d.Email)
	return err
}

func (d *Deps) configureGateway(ctx context.Context) error {
	cert, ok := d.Issuer.Existing(d.Domain)
	if !ok {
		return fmt.Errorf("no certificate for %s; issuance did not produce one", d.Domain)
	}

	content, err := render.Gateway(render.DefaultGatewayData(d.Domain, d.Email, cert.CertPath, cert.KeyPath))
	if err != nil {
		return err
	}
	if _, err := d.Writer.Write(d.Config.GatewayConf, content, 0644); err != nil {
		return err
	}
	if err := d.recordManaged(d.Config.GatewayConf, "gateway", d.Config.GatewayUnit); err != nil {
		return err
	}
	return d.restartValidated(ctx, d.Config.GatewayUnit)
}

func (d *Deps) probeEndpoint(ctx context.Context) error {
	return d.Probe(ctx, d.Domain)
}

// recordManaged writes the path and its owning service into the run
// manifest. A manifest failure is fatal: rollback depends on it.
func (d *Deps) recordManaged(path, component, unit string) error {
	if err := d.Manifest.RecordPath(path, component); err != nil {
		return fmt.Errorf("record managed path %s: %w", path, err)
	}
	if err := d.Manifest.RecordService(unit); err != nil {
		return fmt.Errorf("record managed service %s: %w", unit, err)
	}
	return nil
}

// restartValidated is the write-validate-restart-confirm sequence applied
// after a service's configuration changed: validate the new config first
// (a failure withholds the restart entirely), restart, enable at boot, and
// confirm the unit reports active, attaching a journal tail when it does not.
func (d *Deps) restartValidated(ctx context.Context, unit string) error {
	if d.Services.HasValidator(unit) {
		if err := d.Services.Validate(ctx, unit); err != nil {
			return &ValidationError{Unit: unit, Err: err}
		}
	}

	if err := d.Services.Restart(ctx, unit); err != nil {
		return err
	}
	if err := d.Services.Enable(ctx, unit); err != nil {
		return err
	}

	active, err := d.Services.IsActive(ctx, unit)
	if err != nil {
		return err
	}
	if !active {
		tail, tailErr := d.Services.TailLog(ctx, unit, journalTailLines)
		if tailErr != nil {
			d.Logger.Warn("could not read journal tail",
				slog.String("unit", unit),
				slog.String("error", tailErr.Error()),
			)
		}
		return &HealthError{Unit: unit, LogTail: tail}
	}
	return nil
}
