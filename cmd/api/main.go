package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcrowley/go-metrics"
	"github.com/shuttlemath/guessit/internal/api"
	"github.com/shuttlemath/guessit/internal/config"
	"github.com/shuttlemath/guessit/internal/infra/logging"
	"github.com/shuttlemath/guessit/internal/nowpayments"
	"github.com/shuttlemath/guessit/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	cfg := new(apiConfig)

	err := config.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	queue := shutdownqueue.New()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := queue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	if cfg.NowPayments.APIKey == "" {
		// Keep serving; every payment call answers 500 misconfigured.
		slog.Warn("NOWPAYMENTS_API_KEY is not set")
	}

	upstream := nowpayments.New(cfg.NowPayments)

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, api.NewRouter(upstream, cfg.RateLimit, metrics.DefaultRegistry))

	queue.Add("http server", srv.Shutdown)

	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("payment proxy started", "port", cfg.Port, "upstream", cfg.NowPayments.BaseURL)

	select {
	case <-ctx.Done():
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}
