package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/lox/pokerbench/internal/bench"
	"github.com/lox/pokerbench/internal/config"
)

type CLI struct {
	ConfigFile string `kong:"arg,help='Path to the server configuration file'"`
	LogLevel   string `kong:"default='info',enum='debug,info,warn,error',help='Minimum log level'"`
	LogFormat  string `kong:"default='console',enum='console,json',help='Log output format'"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("pokerbench-server"),
		kong.Description("Dispatches and supervises benchmark matches between poker bots"),
		kong.UsageOnError(),
	)

	logger := newLogger(cli.LogLevel, cli.LogFormat)

	conf, err := config.Load(cli.ConfigFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not load configuration")
	}

	srv, err := bench.New(&conf, logger, quartz.NewReal())
	if err != nil {
		logger.Fatal().Err(err).Msg("could not construct server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.ListenAndServe(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}

	logger.Info().Msg("shutting down")
	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("error waiting for child processes during shutdown")
	}
}

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var out zerolog.Logger
	if format == "json" {
		out = zerolog.New(os.Stderr)
	} else {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return out.Level(lvl).With().Timestamp().Logger()
}
