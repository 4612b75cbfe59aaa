package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/respawn-arena/arena_auth/internal/cli"
	"github.com/respawn-arena/arena_auth/internal/config"
	"github.com/respawn-arena/arena_auth/internal/infra"
	"github.com/respawn-arena/arena_auth/internal/logging"
)

func main() {
	_ = godotenv.Load()

	base, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("arena-auth", flag.ExitOnError)
	opts, args, err := cli.ParseOptions(fs, os.Args[1:], base, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse flags: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(opts.Config.LogLevel, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infra.SetupTracing(ctx, opts.Config.OTELEndpoint, opts.Config.AppName)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Warn("flush traces", "error", err)
			}
		}()
	}

	app, err := cli.New(ctx, opts, os.Stdin, os.Stdout, logger)
	if err != nil {
		logger.Error("start client", "error", err)
		os.Exit(1)
	}
	runErr := app.Run(ctx, args)
	if err := app.Close(); err != nil {
		logger.Warn("close client state", "error", err)
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, cli.ErrUsage):
		os.Exit(2)
	default:
		os.Exit(1)
	}
}
