// probe.go - End-to-end verification of the provisioned DoH endpoint.
// Sends a real DNS query through the public HTTPS endpoint and checks that
// a well-formed answer comes back. This is the one read-only operation in
// the plan where bounded retry is safe, so it uses a retrying HTTP client;
// everything mutating stays retry-free.
package steps

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/miekg/dns"
)

const dohMediaType = "application/dns-message"

// probeQuestion is a name guaranteed to resolve through any functioning
// recursive resolver.
const probeQuestion = "example.com."

// NewProber returns the production DoH probe for Deps.Probe. It queries
// https://<domain>/dns-query with an RFC 8484 GET.
func NewProber(logger *slog.Logger) func(ctx context.Context, domain string) error {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 4
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Backoff = retryablehttp.LinearJitterBackoff
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 15 * time.Second

	client := retryClient.StandardClient()
	log := logger.With(slog.String("component", "probe"))

	return func(ctx context.Context, domain string) error {
		url := "https://" + domain + "/dns-query"
		log.Info("probing DoH endpoint", slog.String("url", url))
		return ProbeDoH(ctx, client, url)
	}
}

// ProbeDoH sends an A query for a well-known name to a DoH endpoint URL
// and verifies the response is a well-formed, successful DNS message.
func ProbeDoH(ctx context.Context, client *http.Client, url string) error {
	query, err := packQuery(probeQuestion)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		url+"?dns="+base64.RawURLEncoding.EncodeToString(query), nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Accept", dohMediaType)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("DoH probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("DoH probe: unexpected status %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != dohMediaType {
		return fmt.Errorf("DoH probe: unexpected content type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("DoH probe: read response: %w", err)
	}

	var msg dns.Msg
	if err := msg.Unpack(body); err != nil {
		return fmt.Errorf("DoH probe: malformed DNS response: %w", err)
	}
	if msg.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("DoH probe: resolver answered %s", dns.RcodeToString[msg.Rcode])
	}
	return nil
}

// packQuery builds the wire-format A query. The message ID is zero per
// RFC 8484 so GET responses stay cacheable.
func packQuery(name string) ([]byte, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeA)
	m.Id = 0
	wire, err := m.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack probe query: %w", err)
	}
	return wire, nil
}
