package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/bunquery/internal/server"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP query server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		e, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := e.Close(); err != nil {
				logger.Warn("engine close", "error", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("starting bunquery", "addr", cfg.ListenAddr(), "timeout", cfg.Query.Timeout.String())
		return server.New(cfg, e, logger.Get()).ListenAndServe(ctx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("host", "0.0.0.0", "Listen host")
	f.Int("port", 3333, "Listen port")
	f.String("cors-origin", "*", "Allowed CORS origin")
}
