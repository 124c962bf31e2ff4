package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/richinex/skein/server"
)

// Serve runs the HTTP server until SIGINT or SIGTERM, then drains
// in-flight requests within the configured shutdown timeout.
func Serve(ctx context.Context, opts Options) error {
	app, err := NewApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := server.New(app.Settings.Server.Addr, app.Orchestrator, app.Limiter, app.Logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	app.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(app.Settings.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
