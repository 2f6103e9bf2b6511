// Package acme is a narrow façade over certbot. The lifecycle manager does
// not speak the ACME protocol itself; it asks certbot to obtain a
// certificate for a domain with the standalone authenticator (which needs
// port 80 free for the http-01 challenge) and learns where the issued
// certificate and key live.
package acme

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dohctl/dohctl/internal/run"
)

// liveDir is where certbot places the current certificate material for a
// domain, as symlinks into its archive.
const liveDir = "/etc/letsencrypt/live"

// Certificate points at the issued certificate material for a domain.
type Certificate struct {
	Domain   string
	CertPath string
	KeyPath  string
}

// Client obtains certificates through the certbot binary.
type Client struct {
	runner run.Runner
	logger *slog.Logger
}

// NewClient returns a certbot-backed ACME client.
func NewClient(runner run.Runner, logger *slog.Logger) *Client {
	return &Client{
		runner: runner,
		logger: logger.With(slog.String("component", "acme")),
	}
}

// Obtain requests a certificate for domain with the standalone
// authenticator, registering email for expiry notifications. This is a
// blocking call with no timeout imposed here; certbot owns its own retry
// and backoff behaviour.
func (c *Client) Obtain(ctx context.Context, domain, email string) (*Certificate, error) {
	c.logger.Info("requesting certificate",
		slog.String("domain", domain),
		slog.String("email", email),
	)

	res, err := c.runner.Run(ctx, "certbot", "certonly",
		"--standalone",
		"--non-interactive",
		"--agree-tos",
		"--email", email,
		"--domain", domain,
	)
	if err != nil {
		return nil, fmt.Errorf("invoke certbot: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, &run.ToolError{
			Tool:     "certbot",
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(res.Stderr),
		}
	}

	cert := Paths(domain)
	c.logger.Info("certificate obtained", slog.String("cert", cert.CertPath))
	return cert, nil
}

// Existing returns the certificate for domain if one is already on disk,
// letting repeated install runs skip issuance entirely.
func (c *Client) Existing(domain string) (*Certificate, bool) {
	cert := Paths(domain)
	if _, err := os.Stat(cert.CertPath); err != nil {
		return nil, false
	}
	if _, err := os.Stat(cert.KeyPath); err != nil {
		return nil, false
	}
	return cert, true
}

// Paths returns the conventional certbot live paths for a domain.
func Paths(domain string) *Certificate {
	return &Certificate{
		Domain:   domain,
		CertPath: filepath.Join(liveDir, domain, "fullchain.pem"),
		KeyPath:  filepath.Join(liveDir, domain, "privkey.pem"),
	}
}
