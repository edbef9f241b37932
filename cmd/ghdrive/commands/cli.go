package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
)

type cliCtx struct {
	context.Context
	Logger  *slog.Logger
	Stdout  io.Writer
	Version string
}

type cli struct {
	Serve       ServeCmd       `cmd:"" help:"Run the gateway"`
	Healthcheck HealthcheckCmd `cmd:"" help:"Check that a running gateway is healthy"`
	Version     VersionCmd     `cmd:"" help:"Print the version"`
}

func Execute(version string) {
	var cli cli
	ctx := kong.Parse(&cli,
		kong.UsageOnError(),
		kong.Name("ghdrive"),
		kong.Description("ghdrive stores files as GitHub release assets behind a small HTTP gateway"),
		kong.Vars{"version": version},
	)

	err := ctx.Run(&cliCtx{
		Context: context.Background(),
		Logger:  slog.Default(),
		Stdout:  os.Stdout,
		Version: version,
	})
	ctx.FatalIfErrorf(err)
}

type VersionCmd struct{}

func (c *VersionCmd) Run(ctx *cliCtx) error {
	_, err := fmt.Fprintf(ctx.Stdout, "ghdrive %s\n", ctx.Version)
	return err
}
