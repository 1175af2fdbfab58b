package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haivivi/ecostream/pkg/cli"
	"github.com/haivivi/ecostream/pkg/stream"
	"github.com/haivivi/ecostream/pkg/transport"
)

var (
	chatUser   string
	chatName   string
	chatGuest  bool
	chatFormat string
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Run one chat turn against the configured model",
	Long: `Run a full turn: decide, select the prompt modules, stream the reply
to stdout and finalize it. Control events are logged with -v.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(chatFormat)
		if err != nil {
			return err
		}
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		req, _ := a.pipeline.Prepare(ctx, transport.ChatRequest{
			UserID:   chatUser,
			UserName: chatName,
			Guest:    chatGuest,
			Text:     strings.Join(args, " "),
		})
		if cfg.Debug.Logic {
			slog.Info("chat: decision",
				"intensity", req.Decision.Intensity,
				"openness", req.Decision.Openness,
				"flags", req.Decision.Flags.Names(),
				"modules", req.SelectedModules,
			)
		}

		out := cmd.OutOrStdout()
		sess, err := a.orchestrator.Run(ctx, req, consoleSink(out))
		if err != nil {
			return err
		}
		fmt.Fprintln(out)

		res, err := sess.Finalize(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
		if format != cli.FormatText {
			return cli.Output(res, cli.OutputOptions{Format: format, Writer: out})
		}
		s := cli.NewStyles(cli.DefaultTheme)
		p := cli.Panel{Styles: s, Title: "turn"}
		p.Add("model", sess.Model)
		p.Add("finish", sess.FinishReason)
		if sess.Fallback {
			p.Add("fallback", sess.Reason)
		}
		p.Add("context", cli.Between(sess.Marks.ContextBuildStart, sess.Marks.ContextBuildEnd))
		p.Add("llm", cli.Between(sess.Marks.LLMStart, sess.Marks.LLMEnd))
		p.Add("block", string(res.BlockStatus))
		if res.Emocao != "" {
			p.Add("emotion", res.Emocao)
		}
		p.Add("memory", s.Check(sess.MemorySaved))
		_, err = fmt.Fprintln(out, p.Render())
		return err
	},
}

// consoleSink writes chunks to w and logs every other event.
func consoleSink(w io.Writer) stream.Sink {
	return stream.SinkFunc(func(ev stream.Event) {
		switch ev := ev.(type) {
		case stream.Chunk:
			io.WriteString(w, ev.Delta)
		case stream.Control:
			slog.Debug("chat: control", "name", ev.Name, "meta", ev.Meta)
		case stream.Error:
			slog.Warn("chat: stream error", "error", ev.Err)
		}
	})
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user id, empty for a guest")
	chatCmd.Flags().StringVar(&chatName, "name", "", "user display name")
	chatCmd.Flags().BoolVar(&chatGuest, "guest", false, "treat the user as a guest")
	chatCmd.Flags().StringVarP(&chatFormat, "output", "o", "text", "summary format: text, json or yaml")
	rootCmd.AddCommand(chatCmd)
}
