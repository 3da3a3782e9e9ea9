package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/internal/cli/output"
	"github.com/driftfs/driftfs/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the current driftfs configuration.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show effective config as YAML
  driftfs config show

  # Show as JSON
  driftfs config show --output json

  # Show specific config file
  driftfs config show --config /etc/driftfs/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Config path comes from the root command's persistent flag.
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	return output.Print(os.Stdout, format, cfg)
}
