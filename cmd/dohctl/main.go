// dohctl - DNS-over-HTTPS edge provisioner.
//
// dohctl turns a stock Debian/Ubuntu host into a DoH edge: an unbound
// recursive resolver bound to localhost fronted by a dnsdist gateway that
// terminates TLS on 443 and serves the /dns-query endpoint, with
// certificates obtained through certbot.
//
// The interesting part is not the provisioning itself but how it mutates
// shared system state: every managed file is snapshotted before it is
// overwritten, every path and service an install run touches is recorded
// in a persistent run manifest, daemon configs are validated before any
// restart, and a rollback entry point restores everything to its last
// known-good snapshot.
//
// Invoked with no arguments dohctl presents an interactive menu; the
// install and rollback subcommands run the same flows non-interactively.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dohctl/dohctl/internal/config"
	"github.com/dohctl/dohctl/internal/version"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "dohctl",
	Short: "Provision a DNS-over-HTTPS edge with snapshot-backed rollback",
	Long: "dohctl provisions an unbound recursive resolver fronted by a dnsdist\n" +
		"DoH gateway, obtaining certificates through certbot. All configuration\n" +
		"changes are snapshotted first and can be rolled back.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMenu()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "path to configuration file")
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runMenu is the no-argument entry point: a minimal interactive menu for
// operators who do not want to remember subcommands.
func runMenu() error {
	fmt.Println("dohctl - DNS-over-HTTPS edge provisioner")
	fmt.Println()
	fmt.Println("  1) Install DoH edge")
	fmt.Println("  2) Rollback configuration")
	fmt.Println("  3) Exit")
	fmt.Println()

	choice := promptString("Select an option", "")
	switch choice {
	case "1":
		return runInstall("", "")
	case "2":
		return runRollback()
	case "3", "":
		return nil
	default:
		return fmt.Errorf("invalid choice %q", choice)
	}
}

// promptString reads one line from stdin, returning defaultValue on empty
// input.
func promptString(prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", prompt, defaultValue)
	} else {
		fmt.Printf("%s: ", prompt)
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return defaultValue
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultValue
	}
	return line
}
