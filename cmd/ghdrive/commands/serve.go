package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/mscno/ghdrive/pkg/config"
	"github.com/mscno/ghdrive/pkg/logging"
	"github.com/mscno/ghdrive/server"
)

type ServeCmd struct {
	EnvFile []string `help:"Dotenv files to load before reading the environment" type:"path" name:"env-file"`
	Listen  string   `help:"Listen address, overrides LISTEN_ADDR" short:"l"`
}

func (c *ServeCmd) Run(ctx *cliCtx) error {
	cfg, err := config.Load(c.EnvFile...)
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.ListenAddr = c.Listen
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel).With("version", ctx.Version)
	slog.SetDefault(logger)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.ListenAndServe(runCtx); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
