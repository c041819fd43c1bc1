// Command codeforward runs the verification-code forwarding service: an
// HTTP intake for intercepted messages, per-channel delivery with learned
// protocol preference, and a queryable delivery history.
package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kart-io/codeforward/pkg/api"
	"github.com/kart-io/codeforward/pkg/backlog"
	"github.com/kart-io/codeforward/pkg/config"
	"github.com/kart-io/codeforward/pkg/dispatcher"
	"github.com/kart-io/codeforward/pkg/hub"
	"github.com/kart-io/codeforward/pkg/logger"
	"github.com/kart-io/codeforward/pkg/prefs"
	"github.com/kart-io/codeforward/pkg/store"
	"github.com/kart-io/codeforward/pkg/telemetry"
	"github.com/kart-io/codeforward/pkg/transport/email"
	"github.com/kart-io/codeforward/pkg/transport/push"
)

const shutdownTimeout = 10 * time.Second

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "codeforward:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.NewStandardLogger(
		stdlog.New(os.Stdout, "", stdlog.LstdFlags),
		logger.ParseLevel(cfg.LogLevel),
		"[codeforward]",
	)

	ps, err := cfg.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if closer, ok := ps.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	metrics, err := telemetry.NewProvider(telemetry.Config{
		Enabled:        cfg.Metrics.Enabled,
		ServiceName:    "codeforward",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	tracker := prefs.NewTracker(ctx, ps, log)
	messages := store.New(ctx, ps, log)
	queued := backlog.New(ctx, ps, log)

	emailCfg := cfg.EmailChannel()
	pushCfg := cfg.PushChannel()
	channels := []hub.Channel{
		{
			Config:     emailCfg,
			Dispatcher: dispatcher.New(email.New(emailCfg), tracker, log),
		},
		{
			Config:     pushCfg,
			Dispatcher: dispatcher.New(push.New(pushCfg), tracker, log),
		},
	}
	for _, ch := range channels {
		log.Info("channel configured", "channel", ch.Config.Kind(), "enabled", ch.Config.Enabled())
	}

	h := hub.New(messages, queued, channels, metrics, log, hub.WithWorkers(cfg.Workers))
	h.Start(ctx)

	server := api.New(h, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.ListenAddr, "storage", cfg.Storage.Backend)
		if err := server.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := h.Stop(shutdownCtx); err != nil {
			log.Warn("sends still in flight at shutdown", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
