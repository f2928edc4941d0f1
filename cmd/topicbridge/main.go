// Copyright 2024-2026 Aiku AI

// Command topicbridge relays Discord direct-message threads into per-conversation
// forum topics of a Telegram supergroup, and relays topic replies back.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/aiku/topicbridge/pkg/bridge"
	"github.com/aiku/topicbridge/pkg/discord"
	"github.com/aiku/topicbridge/pkg/media"
	"github.com/aiku/topicbridge/pkg/store"
	"github.com/aiku/topicbridge/pkg/telegram"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "topicbridge",
		Usage:   "Bridge Discord DMs into Telegram forum topics",
		Version: fmt.Sprintf("%s (%s, built %s)", Tag, Commit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   "config.yaml",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	configPath := cliCtx.String("config")
	cfg, err := bridge.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := setupLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting topicbridge")

	db, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}

	source, err := discord.New(cfg.Source.Token, log)
	if err != nil {
		return err
	}
	dest, err := telegram.New(cfg.Destination.Token, cfg.Destination.ChatID, log)
	if err != nil {
		return err
	}

	b, err := bridge.New(cfg, source, dest, db, &media.FFmpegTranscoder{Log: log}, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		return err
	}
	dest.Connect(ctx)

	go func() {
		if err := bridge.WatchBlockedTerms(ctx, configPath, b.Filter(), log); err != nil {
			log.Warn().Err(err).Msg("Blocked-terms watcher unavailable")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("Shutting down")

	cancel()
	b.Stop()
	return nil
}

func setupLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger(), nil
}
