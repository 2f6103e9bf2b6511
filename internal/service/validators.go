// validators.go - Static config validators for the managed daemons.
// Both unbound and dnsdist ship a checker that validates a config file
// without touching the running instance, which is what lets the executor
// withhold a restart when a freshly written config is broken.
package service

import (
	"context"
	"strings"

	"github.com/dohctl/dohctl/internal/run"
)

// UnboundChecker validates the resolver configuration with unbound-checkconf.
func UnboundChecker(runner run.Runner, confPath string) Validator {
	return checker(runner, "unbound-checkconf", confPath)
}

// DnsdistChecker validates the gateway configuration with dnsdist's
// built-in check mode.
func DnsdistChecker(runner run.Runner, confPath string) Validator {
	return checker(runner, "dnsdist", "--check-config", "--config", confPath)
}

func checker(runner run.Runner, name string, args ...string) Validator {
	return func(ctx context.Context) error {
		res, err := runner.Run(ctx, name, args...)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			detail := strings.TrimSpace(res.Stderr)
			if detail == "" {
				detail = strings.TrimSpace(res.Stdout)
			}
			return &run.ToolError{
				Tool:     name,
				ExitCode: res.ExitCode,
				Stderr:   detail,
			}
		}
		return nil
	}
}
