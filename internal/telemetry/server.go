package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yambot/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Serve exposes /metrics on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, logger *logging.Logger) error {
	if logger == nil {
		panic("telemetry.Serve: logger must not be nil")
	}
	Init()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("metrics endpoint listening", logging.Field("addr", ln.Addr().String()))

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics endpoint shutdown failed", logging.Field("error", err))
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
