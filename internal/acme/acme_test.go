// acme_test.go tests the certbot façade against a fake runner.
package acme

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/dohctl/dohctl/internal/run"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

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

func TestObtain(t *testing.T) {
	ctx := context.Background()

	t.Run("invokes the standalone non-interactive flow", func(t *testing.T) {
		runner := &fakeRunner{result: &run.Result{ExitCode: 0}}
		c := NewClient(runner, nopLogger())

		cert, err := c.Obtain(ctx, "doh.example.org", "ops@example.org")
		if err != nil {
			t.Fatalf("Obtain failed: %v", err)
		}

		joined := strings.Join(runner.argv, " ")
		for _, want := range []string{
			"certbot certonly",
			"--standalone",
			"--non-interactive",
			"--agree-tos",
			"--email ops@example.org",
			"--domain doh.example.org",
		} {
			if !strings.Contains(joined, want) {
				t.Errorf("argv %q missing %q", joined, want)
			}
		}
		if cert.CertPath != "/etc/letsencrypt/live/doh.example.org/fullchain.pem" {
			t.Errorf("CertPath = %s", cert.CertPath)
		}
		if cert.KeyPath != "/etc/letsencrypt/live/doh.example.org/privkey.pem" {
			t.Errorf("KeyPath = %s", cert.KeyPath)
		}
	})

	t.Run("certbot failure carries stderr", func(t *testing.T) {
		runner := &fakeRunner{result: &run.Result{
			ExitCode: 1,
			Stderr:   "Challenge failed for domain doh.example.org",
		}}
		c := NewClient(runner, nopLogger())

		_, err := c.Obtain(ctx, "doh.example.org", "ops@example.org")
		var terr *run.ToolError
		if !errors.As(err, &terr) {
			t.Fatalf("error type = %T, want *run.ToolError", err)
		}
		if terr.Tool != "certbot" || !strings.Contains(terr.Stderr, "Challenge failed") {
			t.Errorf("tool error = %+v", terr)
		}
	})

	t.Run("runner failure is wrapped", func(t *testing.T) {
		cause := errors.New("certbot: executable file not found")
		c := NewClient(&fakeRunner{err: cause}, nopLogger())

		if _, err := c.Obtain(ctx, "doh.example.org", "ops@example.org"); !errors.Is(err, cause) {
			t.Errorf("error = %v, want wrapped %v", err, cause)
		}
	})
}

func TestExisting(t *testing.T) {
	// The live dir is fixed under /etc/letsencrypt, so for a domain no
	// test host has a certificate for this must report absence.
	c := NewClient(&fakeRunner{}, nopLogger())
	if _, ok := c.Existing("never-issued.invalid"); ok {
		t.Error("Existing = true for a domain without certificate material")
	}
}

func TestPaths(t *testing.T) {
	cert := Paths("doh.example.org")
	if cert.Domain != "doh.example.org" {
		t.Errorf("Domain = %s", cert.Domain)
	}
	if cert.CertPath != "/etc/letsencrypt/live/doh.example.org/fullchain.pem" {
		t.Errorf("CertPath = %s", cert.CertPath)
	}
	if cert.KeyPath != "/etc/letsencrypt/live/doh.example.org/privkey.pem" {
		t.Errorf("KeyPath = %s", cert.KeyPath)
	}
}
