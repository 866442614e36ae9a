package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Run serves HTTP until ctx is cancelled, then shuts down gracefully: open
// streams are ended, in-flight requests drain and running tasks are
// cancelled and awaited.
func (a *application) Run(ctx context.Context) error {
	defer a.cleanup()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	// Server-sent event streams never finish on their own.
	server.RegisterOnShutdown(a.broadcaster.Stop)

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "port", a.config.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutdown signal received")
	return a.shutdown(server)
}

// shutdown stops the listener first so no task starts while running tasks
// are being cancelled.
func (a *application) shutdown(server *http.Server) error {
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.manager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("task manager shutdown: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	a.logger.Info("server stopped")
	return nil
}
