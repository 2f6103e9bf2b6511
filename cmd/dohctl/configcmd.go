// configcmd.go - Config file helpers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dohctl/dohctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the dohctl configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file for editing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgPath); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", cfgPath)
		}
		if err := config.Save(cfgPath, config.Default()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfgPath)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
