package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/haivivi/ecostream/cmd/ecostream/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, build.String())
		if IsVerbose() {
			fmt.Fprintf(out, "  go:     %s\n", runtime.Version())
			if cfg, err := GetConfig(); err == nil && cfg.File != "" {
				fmt.Fprintf(out, "  config: %s\n", cfg.File)
			} else {
				fmt.Fprintf(out, "  config: (defaults)\n")
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
