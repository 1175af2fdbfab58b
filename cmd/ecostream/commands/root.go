package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/ecostream/cmd/ecostream/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string

	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ecostream",
	Short: "Streaming reply orchestration for the ECO assistant",
	Long: `ecostream - decides, selects prompt modules and streams assistant replies.

Configuration is read from the OS config directory:
  macOS:   ~/Library/Application Support/ecostream/config.yaml
  Linux:   ~/.config/ecostream/config.yaml

Every key can be overridden with an ECO_ environment variable, for example
ECO_PROVIDER_API_KEY or ECO_SERVER_ADDR.

Examples:
  # Write the default configuration
  ecostream config init

  # Inspect how a message is classified
  ecostream decide "estou muito ansioso com o trabalho"

  # Serve chat turns
  ecostream serve --addr :8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		log := cfg.Log
		if verbose {
			log.Level = "debug"
		}
		slog.SetDefault(log.NewLogger(os.Stderr))
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is the OS config directory)")
}

// GetConfig loads the configuration once.
func GetConfig() (*config.Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config not available: %w", err)
	}
	globalConfig = cfg
	return cfg, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
