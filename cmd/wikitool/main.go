package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"wikitool/internal/cli"
	"wikitool/internal/config"
	"wikitool/internal/notify"
	"wikitool/internal/observability"
	"wikitool/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		return 1
	}

	log := newLogger(cfg.LogLevel)
	metrics := observability.New()
	defer func() {
		if err := metrics.WriteFile(cfg.MetricsFile); err != nil {
			log.Error("write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			return 1
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	var notifier notify.Sender = notify.Discard{}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
		if err != nil {
			log.Error("create notifier", "error", err)
			return 1
		}
		notifier = tg
	}

	shell := cli.New(cli.Options{
		Config:   cfg,
		Log:      log,
		Metrics:  metrics,
		Store:    store,
		Notifier: notifier,
		Out:      os.Stdout,
	})

	args := os.Args[1:]
	signals := []os.Signal{syscall.SIGTERM}
	if len(args) > 0 {
		signals = append(signals, os.Interrupt)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), signals...)
	defer cancel()

	if cfg.Site.Host != "" {
		if err := shell.Connect(ctx, cfg.Site); err != nil {
			log.Error("connect", "host", cfg.Site.Host, "error", err)
			if len(args) > 0 {
				return 1
			}
		}
	}

	if len(args) == 0 {
		if err := shell.Run(ctx, os.Stdin); err != nil {
			log.Error("read commands", "error", err)
			return 1
		}
		return 0
	}

	if err := shell.Exec(ctx, quoteArgs(args)); err != nil && !errors.Is(err, cli.ErrExit) {
		log.Error("command failed", "command", args[0], "error", err)
		return 1
	}
	return 0
}

// quoteArgs joins process arguments back into a command line.
func quoteArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t'\"") {
			q := "'"
			if strings.Contains(a, "'") {
				q = `"`
			}
			a = q + a + q
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
