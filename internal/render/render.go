// Package render produces the managed configuration artifacts from embedded
// templates. Artifacts are always rendered wholesale; partial edits of
// existing files are never attempted.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"runtime"
	"text/template"
)

//go:embed templates/*.tmpl
var templates embed.FS

// ResolverData parameterizes the unbound server fragment.
type ResolverData struct {
	Threads int
}

// GatewayData parameterizes the dnsdist configuration.
type GatewayData struct {
	Domain   string
	Email    string
	Upstream string // upstream resolver address, e.g. "127.0.0.1:53"
	Listen   string // TLS listener binding, e.g. "0.0.0.0:443"
	Path     string // DoH endpoint path, e.g. "/dns-query"
	CertPath string
	KeyPath  string
}

// DefaultResolverData sizes the resolver for the local host.
func DefaultResolverData() ResolverData {
	threads := runtime.NumCPU()
	if threads > 4 {
		threads = 4
	}
	return ResolverData{Threads: threads}
}

// DefaultGatewayData returns the gateway parameters for a domain with the
// conventional bindings: local resolver upstream, TLS on all interfaces,
// the standard /dns-query endpoint.
func DefaultGatewayData(domain, email, certPath, keyPath string) GatewayData {
	return GatewayData{
		Domain:   domain,
		Email:    email,
		Upstream: "127.0.0.1:53",
		Listen:   "0.0.0.0:443",
		Path:     "/dns-query",
		CertPath: certPath,
		KeyPath:  keyPath,
	}
}

// Resolver renders the unbound server fragment.
func Resolver(data ResolverData) ([]byte, error) {
	return render("unbound.conf.tmpl", data)
}

// Gateway renders the dnsdist configuration.
func Gateway(data GatewayData) ([]byte, error) {
	return render("dnsdist.conf.tmpl", data)
}

func render(name string, data any) ([]byte, error) {
	tmpl, err := template.ParseFS(templates, "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
