package commands

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/ecostream/pkg/cache"
	"github.com/haivivi/ecostream/pkg/cli"
	"github.com/haivivi/ecostream/pkg/prompt"
)

var (
	modulesFormat string
	modulesPrompt bool
)

// moduleReport is the machine-readable output of the modules command.
type moduleReport struct {
	Modules []string            `json:"modules" yaml:"modules"`
	Tokens  int                 `json:"tokens" yaml:"tokens"`
	Hash    string              `json:"hash" yaml:"hash"`
	Debug   []prompt.DebugEntry `json:"debug" yaml:"debug"`
}

var modulesCmd = &cobra.Command{
	Use:   "modules <message>",
	Short: "Show the prompt modules selected for a message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(modulesFormat)
		if err != nil {
			return err
		}
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		pipeline := newPipeline(cfg, cache.NewMemory(cache.MemoryOptions{}))
		text := strings.Join(args, " ")
		dec := pipeline.Engine.Decide(text)
		sel, err := pipeline.Selector.Select(cmd.Context(), text, dec)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if modulesPrompt {
			_, err := fmt.Fprintln(out, sel.Prompt())
			return err
		}
		if format != cli.FormatText {
			report := moduleReport{Tokens: sel.Tokens(), Hash: sel.Hash(), Debug: sel.Debug}
			for _, p := range slices.Concat(sel.Regular, sel.Footers) {
				report.Modules = append(report.Modules, p.Name)
			}
			return cli.Output(report, cli.OutputOptions{Format: format, Writer: out})
		}

		s := cli.NewStyles(cli.DefaultTheme)
		rows := [][]string{{"module", "source", "active", "reason"}}
		for _, d := range sel.Debug {
			reason := d.Reason
			if reason == "" && d.Rule != "" {
				reason = d.Rule
			}
			rows = append(rows, []string{d.ID, d.Source, s.Check(d.Activated), reason})
		}
		fmt.Fprintln(out, cli.Table(s, rows))
		_, err = fmt.Fprintf(out, "\n%d modules, ~%d tokens, hash %s\n",
			len(sel.Regular)+len(sel.Footers), sel.Tokens(), sel.Hash()[:12])
		return err
	},
}

func init() {
	modulesCmd.Flags().StringVarP(&modulesFormat, "output", "o", "text", "output format: text, json or yaml")
	modulesCmd.Flags().BoolVar(&modulesPrompt, "prompt", false, "print the assembled system prompt")
	rootCmd.AddCommand(modulesCmd)
}
