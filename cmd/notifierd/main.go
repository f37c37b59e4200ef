// Command notifierd runs the notification dispatch engine behind its HTTP
// API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/api"
	"github.com/xraph/notifier/engine"
	"github.com/xraph/notifier/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "notifierd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.storeConfig(), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	n, err := notifier.New(
		notifier.WithConfig(cfg.notifierConfig()),
		notifier.WithLogger(logger),
		notifier.WithStore(st),
	)
	if err != nil {
		_ = st.Close()
		return err
	}

	hub, err := newHub(cfg.Channels.Push, logger)
	if err != nil {
		_ = st.Close()
		return err
	}
	opts, err := engineOptions(cfg, hub, logger)
	if err != nil {
		_ = st.Close()
		return err
	}
	eng, err := engine.Build(n, opts...)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("build engine: %w", err)
	}

	apiOpts := []api.Option{api.WithVersion(version), api.WithLogger(logger)}
	if hub != nil {
		apiOpts = append(apiOpts, api.WithPushHandler(hub))
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.New(eng, apiOpts...).Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	if err := eng.Start(ctx); err != nil {
		_ = st.Close()
		return fmt.Errorf("start engine: %w", err)
	}

	logger.Info("notifierd starting",
		slog.String("version", version),
		slog.String("addr", srv.Addr),
		slog.String("store", cfg.Store.Driver),
		slog.Int("concurrency", cfg.Dispatch.Concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("notifierd shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if hub != nil {
			_ = hub.Close()
		}
		if err := eng.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("engine stop: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
