package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/samsaffron/mdstream/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show mdstream configuration",
	Long: `Show the effective mdstream configuration, with defaults applied.

Examples:
  mdstream config          # show current config
  mdstream config path     # print the config file location`,
	RunE: configShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	RunE:  configPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd)
}

func configShow(cmd *cobra.Command, args []string) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !config.Exists() {
		fmt.Fprintf(out, "# No config file (using defaults)\n")
		fmt.Fprintf(out, "# Create one at: %s\n\n", configPath)
	} else {
		fmt.Fprintf(out, "# %s\n\n", configPath)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
