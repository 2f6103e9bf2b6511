// Package config provides run configuration for dohctl.
// It uses koanf v2 to load an optional YAML file and applies defaults for
// everything the file does not set, so a bare host needs no config at all.
//
// The configuration is constructed once at process start and passed by
// reference through the step executor and service orchestrator. Nothing
// reads ambient environment state mid-step.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

// DefaultPath is the default location for the dohctl configuration file.
const DefaultPath = "/etc/dohctl/config.yaml"

// Config holds the dohctl run configuration.
// Fields are tagged for both koanf (loading) and yaml (saving).
type Config struct {
	// Domain is the DoH endpoint's public domain name. Usually supplied
	// per run (prompt or --domain flag); a value here is the default.
	Domain string `koanf:"domain" yaml:"domain"`

	// Email is the operator email passed to the ACME client for
	// certificate expiry notifications.
	Email string `koanf:"email" yaml:"email"`

	// BackupRoot is where snapshots of managed files are stored before
	// they are overwritten. Each file is mirrored under this root at its
	// original absolute path with a ".bak.<unix-timestamp>" suffix.
	BackupRoot string `koanf:"backup_root" yaml:"backup_root"`

	// ManifestPath is the bbolt database recording every path and service
	// an installation run touched, consumed by rollback.
	ManifestPath string `koanf:"manifest_path" yaml:"manifest_path"`

	// ResolverUnit is the systemd unit name of the recursive resolver.
	ResolverUnit string `koanf:"resolver_unit" yaml:"resolver_unit"`

	// GatewayUnit is the systemd unit name of the DoH gateway.
	GatewayUnit string `koanf:"gateway_unit" yaml:"gateway_unit"`

	// ResolverConf is the managed resolver configuration fragment,
	// regenerated in full on every install run.
	ResolverConf string `koanf:"resolver_conf" yaml:"resolver_conf"`

	// GatewayConf is the managed gateway configuration, regenerated in
	// full on every install run.
	GatewayConf string `koanf:"gateway_conf" yaml:"gateway_conf"`

	// Distros lists the distribution identifiers the preflight guard
	// accepts (as reported by the OS release info, e.g. "debian", "ubuntu").
	Distros []string `koanf:"distros" yaml:"distros"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `koanf:"log_level" yaml:"log_level"`
}

// Validation errors returned by Load.
var (
	ErrBackupRootRelative = errors.New("backup_root must be an absolute path")
	ErrConfPathRelative   = errors.New("resolver_conf and gateway_conf must be absolute paths")
	ErrUnitRequired       = errors.New("resolver_unit and gateway_unit are required")
)

// Default returns the built-in configuration for a Debian/Ubuntu host.
func Default() *Config {
	return &Config{
		BackupRoot:   "/var/backups/dohctl",
		ManifestPath: "/var/lib/dohctl/manifest.db",
		ResolverUnit: "unbound.service",
		GatewayUnit:  "dnsdist.service",
		ResolverConf: "/etc/unbound/unbound.conf.d/dohctl.conf",
		GatewayConf:  "/etc/dnsdist/dnsdist.conf",
		Distros:      []string{"debian", "ubuntu"},
		LogLevel:     "info",
	}
}

// Load reads configuration from the given YAML file path, falling back to
// pure defaults when the file does not exist. Explicit paths that cannot be
// read are an error; only the default path is allowed to be absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return cfg, nil
		}
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills any field the config file left empty.
func (c *Config) applyDefaults() {
	d := Default()
	if c.BackupRoot == "" {
		c.BackupRoot = d.BackupRoot
	}
	if c.ManifestPath == "" {
		c.ManifestPath = d.ManifestPath
	}
	if c.ResolverUnit == "" {
		c.ResolverUnit = d.ResolverUnit
	}
	if c.GatewayUnit == "" {
		c.GatewayUnit = d.GatewayUnit
	}
	if c.ResolverConf == "" {
		c.ResolverConf = d.ResolverConf
	}
	if c.GatewayConf == "" {
		c.GatewayConf = d.GatewayConf
	}
	if len(c.Distros) == 0 {
		c.Distros = d.Distros
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// validate checks structural requirements; domain and email are validated
// at the point of use since they may arrive interactively.
func (c *Config) validate() error {
	if !filepath.IsAbs(c.BackupRoot) {
		return ErrBackupRootRelative
	}
	if !filepath.IsAbs(c.ResolverConf) || !filepath.IsAbs(c.GatewayConf) {
		return ErrConfPathRelative
	}
	if strings.TrimSpace(c.ResolverUnit) == "" || strings.TrimSpace(c.GatewayUnit) == "" {
		return ErrUnitRequired
	}
	return nil
}

// ManagedPaths returns the statically known set of paths the lifecycle
// manager is permitted to overwrite, keyed by owning component. Rollback
// falls back to this set when no run manifest exists.
func (c *Config) ManagedPaths() map[string]string {
	return map[string]string{
		c.ResolverConf: "resolver",
		c.GatewayConf:  "gateway",
	}
}

// Save writes the configuration to the given YAML file path, creating the
// parent directory as needed. Used by "dohctl config init" to emit a
// starter file for editing.
func Save(path string, cfg *Config) error {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config to %s: %w", path, err)
	}
	return nil
}
