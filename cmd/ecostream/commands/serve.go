package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/ecostream/pkg/transport"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve chat turns over SSE and WebSocket",
	Long: `Serve chat turns.

Routes:
  /v1/chat                   POST for Server-Sent Events, or a WebSocket upgrade
  POST /v1/chat/{id}/cancel  cancel an active run
  GET /v1/streams            list active runs
  GET /healthz               liveness`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		h := &transport.Handler{
			Pipeline:     a.pipeline,
			Orchestrator: a.orchestrator,
			GuardTimeout: cfg.Server.GuardTimeout,
			Heartbeat:    cfg.Server.Heartbeat,
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			slog.Info("serve: listening", "addr", addr, "provider", cfg.Provider.Kind, "model", cfg.Models.Main)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err := srv.Shutdown(sctx)
			h.Wait()
			slog.Info("serve: stopped")
			return err
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")
	rootCmd.AddCommand(serveCmd)
}
