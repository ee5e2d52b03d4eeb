package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Run is the process entrypoint: load config, build the runtime, serve until
// SIGINT/SIGTERM.
func Run() {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("terminal.init.fail", "err", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		log.Error("terminal.run.fail", "err", err)
		os.Exit(1)
	}
}
