// Package preflight implements the environment checks gating installation
// and rollback. Both entry points mutate privileged system paths, so both
// are gated equally: root privilege, a supported OS, and (where a step needs
// one) a free listening port.
//
// OS identity comes from gopsutil's host info rather than parsing
// /etc/os-release by hand; port availability comes from the kernel's
// connection table rather than attempting a bind, so a check never
// interferes with a daemon that is about to be restarted.
package preflight

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
	gnet "github.com/shirou/gopsutil/v4/net"
)

// minMajor is the oldest supported major release per distribution.
// Older releases package daemon versions without DoH support.
var minMajor = map[string]int{
	"debian": 11,
	"ubuntu": 20,
}

// Error is a failed precondition. It is always fatal: no recovery is
// attempted, the process exits non-zero with the reason.
type Error struct {
	Check  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("precondition %s failed: %s", e.Check, e.Reason)
}

// AssertRoot verifies the process runs with root privilege.
func AssertRoot() error {
	if os.Geteuid() != 0 {
		return &Error{Check: "root", Reason: "this command must be run as root"}
	}
	return nil
}

// AssertOS verifies the host runs one of the allowed distributions at a
// supported release.
func AssertOS(ctx context.Context, allowed []string) error {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return &Error{Check: "os", Reason: fmt.Sprintf("detect OS: %v", err)}
	}

	platform := strings.ToLower(info.Platform)
	ok := false
	for _, d := range allowed {
		if platform == strings.ToLower(d) {
			ok = true
			break
		}
	}
	if !ok {
		return &Error{
			Check:  "os",
			Reason: fmt.Sprintf("unsupported distribution %q (supported: %s)", info.Platform, strings.Join(allowed, ", ")),
		}
	}

	if min, known := minMajor[platform]; known {
		if major := majorVersion(info.PlatformVersion); major > 0 && major < min {
			return &Error{
				Check:  "os",
				Reason: fmt.Sprintf("%s %s is too old, need %d or newer", info.Platform, info.PlatformVersion, min),
			}
		}
	}
	return nil
}

// AssertPortFree verifies nothing is listening on the given TCP port.
func AssertPortFree(ctx context.Context, port uint32) error {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return &Error{Check: "port", Reason: fmt.Sprintf("inspect listening sockets: %v", err)}
	}
	for _, conn := range conns {
		if conn.Status == "LISTEN" && conn.Laddr.Port == port {
			return &Error{
				Check:  "port",
				Reason: fmt.Sprintf("port %d is already in use (pid %d)", port, conn.Pid),
			}
		}
	}
	return nil
}

// majorVersion extracts the leading numeric component of a release string
// like "12", "22.04" or "11.7". Returns 0 when it cannot be parsed.
func majorVersion(version string) int {
	head, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0
	}
	return n
}
