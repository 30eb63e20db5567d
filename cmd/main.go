// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package main runs the BEADS switch/controller proxy: one listener per
// configured environment prefix, plus metrics and health endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	beads "github.com/rubiruchi/BEADS"
	"github.com/rubiruchi/BEADS/examples/logging"
	"github.com/rubiruchi/BEADS/pkg/breaker"
	"github.com/rubiruchi/BEADS/pkg/health"
	"github.com/rubiruchi/BEADS/pkg/listener"
	"github.com/rubiruchi/BEADS/pkg/metrics"
	"github.com/rubiruchi/BEADS/pkg/proxy"
	"github.com/rubiruchi/BEADS/pkg/ratelimit"
)

const (
	listenerPrefix = "BEADS_PROXY_%d_"

	// maxListeners bounds the environment scan for per-listener prefixes.
	maxListeners = 8
)

// processConfig holds the process-wide (non per-listener) configuration.
type processConfig struct {
	MetricsPort int    `env:"BEADS_METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"BEADS_HEALTH_PORT" envDefault:"8080"`
	LogLevel    string `env:"BEADS_LOG_LEVEL" envDefault:"info"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// .env file is optional
	}

	var pcfg processConfig
	if err := env.Parse(&pcfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(pcfg.LogLevel),
	}))
	slog.SetDefault(logger)

	mtr := metrics.New("beads")
	checker := health.NewChecker(10 * time.Second)
	hook := logging.New(logger)

	listeners, err := buildListeners(logger, mtr, checker, hook)
	if err != nil {
		logger.Error("invalid listener configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if len(listeners) == 0 {
		logger.Error("no listeners configured",
			slog.String("hint", "set BEADS_PROXY_0_PORT and BEADS_PROXY_0_CONTROLLER_HOST"))
		os.Exit(1)
	}

	p := proxy.New(logger, listeners...)
	g.Go(func() error {
		return p.Listen(ctx)
	})

	// Metrics endpoint
	g.Go(func() error {
		return serveHTTP(ctx, pcfg.MetricsPort, promMux(), logger, "metrics")
	})

	// Health endpoints
	g.Go(func() error {
		return serveHTTP(ctx, pcfg.HealthPort, healthMux(checker), logger, "health")
	})

	// Signal handler
	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("beads proxy terminated with error: %s", err))
	} else {
		logger.Info("beads proxy stopped")
	}
}

// buildListeners scans the numbered environment prefixes and builds one
// listener per configured instance.
func buildListeners(logger *slog.Logger, mtr *metrics.Metrics, checker *health.Checker, hook *logging.Interceptor) ([]*listener.Listener, error) {
	var listeners []*listener.Listener

	for i := 0; i < maxListeners; i++ {
		prefix := fmt.Sprintf(listenerPrefix, i)
		cfg, err := beads.NewConfig(env.Options{Prefix: prefix})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", prefix, err)
		}
		if !cfg.Configured() {
			continue
		}

		lcfg := listener.Config{
			ID:              cfg.ID,
			Host:            cfg.Host,
			Port:            cfg.Port,
			ControllerHost:  cfg.ControllerHost,
			ControllerPort:  cfg.ControllerPort,
			DialTimeout:     cfg.DialTimeout,
			BufferSize:      cfg.BufferSize,
			OpenFlowFraming: cfg.OpenFlowFraming,
			Interceptor:     hook,
			Metrics:         mtr,
			Logger:          logger,
		}
		if cfg.RateLimitCapacity > 0 {
			lcfg.RateLimit = ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill, 0)
		}
		if cfg.BreakerMaxFailures > 0 {
			lcfg.Breaker = breaker.New(breaker.Config{
				MaxFailures:  cfg.BreakerMaxFailures,
				ResetTimeout: cfg.BreakerResetTimeout,
			})
		}

		l := listener.New(lcfg)
		checker.Register(l.ID(), listenerCheck(l))
		listeners = append(listeners, l)

		logger.Info("listener configured",
			slog.String("prefix", prefix),
			slog.String("listener", l.ID()),
			slog.Int("port", cfg.Port))
	}

	return listeners, nil
}

// listenerCheck reports a listener as healthy once it is bound.
func listenerCheck(l *listener.Listener) health.CheckFunc {
	return func(ctx context.Context) error {
		if l.Addr() == nil {
			return fmt.Errorf("listener %s not bound", l.ID())
		}
		return nil
	}
}

func promMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func healthMux(checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/live", health.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	return mux
}

// serveHTTP runs an HTTP server until the context is cancelled.
func serveHTTP(ctx context.Context, port int, mux *http.ServeMux, logger *slog.Logger, name string) error {
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(name+" server started", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
