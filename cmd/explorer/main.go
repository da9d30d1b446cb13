// Command explorer serves the scalar autograd engine over HTTP.
//
//	explorer -addr :8080 -seed 7 -log-format json
//
// EXPLORER_ADDR, when set, overrides -addr.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"scalargrad-explorer/internal/explorer"
)

func main() {
	def := explorer.DefaultConfig()
	cfg := def
	flag.StringVar(&cfg.Addr, "addr", def.Addr, "listen address")
	flag.Int64Var(&cfg.DefaultSeed, "seed", def.DefaultSeed, "seed for models created without one")
	flag.IntVar(&cfg.MaxBatch, "max-batch", def.MaxBatch, "largest batch accepted by /api/gradients")
	flag.IntVar(&cfg.MaxParams, "max-params", def.MaxParams, "largest model accepted by /api/init")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	debug := flag.Bool("debug", false, "log every request")
	flag.Parse()

	if addr := os.Getenv("EXPLORER_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	logger := newLogger(*logFormat, *debug)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(format string, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg explorer.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	explorer.NewServer(cfg, logger).RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
