package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/ecostream/cmd/ecostream/internal/config"
	"github.com/haivivi/ecostream/pkg/cli"
)

var (
	configForce  bool
	configFormat string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write or show the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			if path, err = config.DefaultPath(); err != nil {
				return err
			}
		}
		if err := config.Write(config.Default(), path, configForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(configFormat)
		if err != nil {
			return err
		}
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		shown := *cfg
		shown.Provider.APIKey = maskKey(cfg.Provider.APIKey)
		if format == cli.FormatText {
			format = cli.FormatYAML
			src := cfg.File
			if src == "" {
				src = "defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", src)
		}
		return cli.Output(shown, cli.OutputOptions{Format: format, Writer: cmd.OutOrStdout()})
	},
}

// maskKey hides all but the last four characters of a literal key.
// Environment references are shown as is.
func maskKey(key string) string {
	if key == "" || strings.HasPrefix(key, "$") {
		return key
	}
	if len(key) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configShowCmd.Flags().StringVarP(&configFormat, "output", "o", "text", "output format: text, json or yaml")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
