package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/ecostream/pkg/cli"
	"github.com/haivivi/ecostream/pkg/decision"
)

var decideFormat string

var decideCmd = &cobra.Command{
	Use:   "decide <message>",
	Short: "Show the decision for a message",
	Long: `Classify a message the way a chat turn would: intensity, openness,
vulnerability, flags and whether a technical block and a memory are due.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(decideFormat)
		if err != nil {
			return err
		}
		text := strings.Join(args, " ")
		res := decision.NewEngine(decision.DefaultDetectors()).Decide(text)
		if format != cli.FormatText {
			return cli.Output(res, cli.OutputOptions{Format: format, Writer: cmd.OutOrStdout()})
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), renderDecision(res))
		return err
	},
}

func renderDecision(res decision.Result) string {
	s := cli.NewStyles(cli.DefaultTheme)
	p := cli.Panel{Styles: s, Title: "decision"}
	p.Add("intensity", strconv.Itoa(res.Intensity))
	p.Add("openness", strconv.Itoa(res.Openness))
	p.Add("vulnerable", s.Check(res.IsVulnerable))
	p.Add("tech block", s.Check(res.HasTechBlock))
	p.Add("save memory", s.Check(res.SaveMemory))
	if res.Domain != "" {
		p.Add("domain", res.Domain)
	}
	if names := res.Flags.Names(); len(names) > 0 {
		p.Add("flags", strings.Join(names, ", "))
	}
	if len(res.Tags) > 0 {
		p.Add("tags", strings.Join(res.Tags, ", "))
	}
	p.Add("viva", strings.Join(res.VivaSteps, " "))
	return p.Render()
}

func init() {
	decideCmd.Flags().StringVarP(&decideFormat, "output", "o", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(decideCmd)
}
