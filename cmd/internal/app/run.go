package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Serve loads config, builds the App and runs it until SIGINT or SIGTERM.
// It returns an error instead of calling os.Exit so deferred cleanup runs.
func Serve(ctx context.Context) error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
