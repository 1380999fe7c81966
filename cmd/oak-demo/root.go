package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/on-the-ground/oak/effects/httpget"
	"github.com/on-the-ground/oak/effects/log"
	"github.com/on-the-ground/oak/internal/config"
	"github.com/on-the-ground/oak/metrics"
	"github.com/on-the-ground/oak/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "oak-demo",
		Short:         "Run the oak demo applications",
		Long:          `oak-demo drives small reducer/effect applications and prints every state they publish.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags (available to all commands)
	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().Bool("log", false, "Log every message and reducer output")
	root.PersistentFlags().String("log-level", "", "Override the configured log level")
	root.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address")

	root.AddCommand(newRunCmd(), newLoadCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is what every subcommand needs once flags and config are resolved.
type env struct {
	cfg       config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	registry  *prometheus.Registry
	panics    chan any
}

func setup(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log") {
		cfg.Log.Dispatch, _ = cmd.Flags().GetBool("log")
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = log.LogLevel(level)
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := log.New(cfg.Log.Level, cfg.Log.Console)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg, cfg.Metrics.Namespace)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, collector: collector, registry: reg, panics: make(chan any, 1)}, nil
}

func storeOptions[S any, M any](e *env) []store.Option[S, M] {
	scope := e.cfg.Scope()
	return []store.Option[S, M]{
		store.WithLogger[S, M](e.logger),
		store.WithLog[S, M](e.cfg.Log.Dispatch),
		store.WithScope[S, M](scope.BufferSize, scope.NumWorkers),
		store.WithHooks(metrics.Hooks[S, M](e.collector)),
		store.WithHooks(store.Hooks[S, M]{
			OnPanic: metrics.PanicHook(e.collector, func(r any) {
				select {
				case e.panics <- r:
				default:
				}
			}),
		}),
	}
}

// panicked returns an error if a store built from e stopped on a panic.
func (e *env) panicked() error {
	select {
	case r := <-e.panics:
		return fmt.Errorf("store stopped after panic: %v", r)
	default:
		return nil
	}
}

// follow subscribes to s, calls start if set, and writes every state s
// publishes to out until done accepts one. It reports false when ctx ends or
// the store stops first.
func follow[S any, M any](ctx context.Context, s *store.Store[S, M], out io.Writer, start func(), done func(S) bool) bool {
	states := make(chan S)
	quit := make(chan struct{})
	defer close(quit)
	defer s.Subscribe(func(st S) {
		select {
		case states <- st:
		case <-quit:
		}
	})()
	if start != nil {
		start()
	}

	for {
		select {
		case st := <-states:
			fmt.Fprintln(out, st)
			if done(st) {
				return true
			}
		case <-ctx.Done():
			return false
		case <-s.Done():
			return false
		}
	}
}

func httpOptions(cfg config.DemoConfig) []httpget.Option {
	opts := []httpget.Option{
		httpget.WithClient(&http.Client{Timeout: 10 * time.Second}),
	}
	if cfg.Retries > 1 {
		opts = append(opts, httpget.WithRetry(cfg.Retries, cfg.Backoff))
	}
	return opts
}

// serveMetrics serves the registry until ctx ends. It returns the bound
// address, or "" when metrics are disabled.
func serveMetrics(ctx context.Context, e *env) (string, error) {
	if e.cfg.Metrics.Addr == "" {
		return "", nil
	}
	ln, err := net.Listen("tcp", e.cfg.Metrics.Addr)
	if err != nil {
		return "", fmt.Errorf("listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	addr := ln.Addr().String()
	e.logger.Info("serving metrics", zap.String("addr", addr))
	return addr, nil
}
