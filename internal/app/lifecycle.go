package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ContextWithShutdownSignal cancels the returned context on the first
// SIGINT or SIGTERM so an active run can drain. A second signal exits
// without waiting.
func ContextWithShutdownSignal(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	return withShutdownSignal(parent, logger, os.Exit)
}

func withShutdownSignal(parent context.Context, logger *slog.Logger, exit func(int)) (context.Context, context.CancelFunc) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	stop := make(chan struct{})
	var once sync.Once
	release := func() {
		cancel()
		once.Do(func() { close(stop) })
	}

	go func() {
		defer signal.Stop(signals)
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			logger.Info("shutdown requested, draining active run", "signal", sig.String())
			cancel()
		}
		select {
		case <-stop:
		case sig := <-signals:
			logger.Warn("second shutdown signal, exiting immediately", "signal", sig.String())
			exit(130)
		}
	}()

	return ctx, release
}
