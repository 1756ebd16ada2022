package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Handler serves /live, /ready and /metrics.
//
// Liveness fails once the event bus is closed. Readiness additionally
// requires a completed discovery pass.
func (app *Application) Handler() http.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("event-bus", func() error {
		if !app.bus.IsRunning() {
			return ErrClosed
		}
		return nil
	})
	health.AddReadinessCheck("discovery", func() error {
		if !app.discovered.Load() {
			return ErrNotDiscovered
		}
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("/live", health)
	mux.Handle("/ready", health)
	mux.Handle("/metrics", promhttp.HandlerFor(app.promReg, promhttp.HandlerOpts{}))
	return mux
}

// Serve listens on the configured address until ctx is done.
func (app *Application) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return app.ServeListener(ctx, ln)
}

// ServeListener serves Handler on ln until ctx is done, then shuts the
// server down gracefully.
func (app *Application) ServeListener(ctx context.Context, ln net.Listener) error {
	if !app.running.CompareAndSwap(false, true) {
		ln.Close()
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	srv := &http.Server{
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	app.logger.Info("http listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
