package main

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

// interruptWatcher turns signals into shell actions: the first signal runs
// onInterrupt (cancel the running command and downloads), a second one
// before the next input line forces exit.
type interruptWatcher struct {
	onInterrupt func()
	exit        func(code int)
	logger      *slog.Logger

	armed atomic.Bool
}

func newInterruptWatcher(onInterrupt func(), exit func(int), logger *slog.Logger) *interruptWatcher {
	return &interruptWatcher{
		onInterrupt: onInterrupt,
		exit:        exit,
		logger:      logger,
	}
}

// watch handles signals from sigCh until ctx is done.
func (w *interruptWatcher) watch(ctx context.Context, sigCh <-chan os.Signal) {
	for {
		select {
		case sig := <-sigCh:
			if w.armed.Swap(true) {
				w.logger.Warn("received second signal, forcing exit",
					slog.String("signal", sig.String()),
				)
				w.exit(1)

				return
			}

			w.logger.Debug("received signal, canceling in-flight work",
				slog.String("signal", sig.String()),
			)
			w.onInterrupt()
		case <-ctx.Done():
			return
		}
	}
}

// disarm forgets an earlier signal so the next one interrupts again instead
// of exiting.
func (w *interruptWatcher) disarm() {
	w.armed.Store(false)
}
