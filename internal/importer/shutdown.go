package importer

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"trends-importer/internal/logger"
)

var (
	osExit = os.Exit
	// exit is swapped out in tests
	exit = osExit
)

// StopOnSignal returns a context that is cancelled on the first SIGINT or
// SIGTERM so fetching stops at the next record boundary. A second signal
// exits the process with status 1. The returned func stops listening.
func StopOnSignal(parent context.Context, log *logger.Logger) (context.Context, func()) {
	return stopOn(parent, log, syscall.SIGINT, syscall.SIGTERM)
}

func stopOn(parent context.Context, log *logger.Logger, sigs ...os.Signal) (context.Context, func()) {
	if log == nil {
		log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, sigs...)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			log.Warn("Received signal, finishing the current batch", "signal", sig.String())
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			log.Warn("Received second signal, exiting", "signal", sig.String())
			exit(1)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel()
	}
}
