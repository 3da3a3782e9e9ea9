// Package config implements the "driftfs config" command group.
package config

import "github.com/spf13/cobra"

// Cmd is the parent command for configuration inspection.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect driftfs configuration",
}

func init() {
	Cmd.AddCommand(showCmd)
}
