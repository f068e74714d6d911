// Command extractor runs the Discogs dump extraction pipeline: it polls the
// upstream object store for new monthly dumps, streams and dedups each
// entity class, and publishes canonical JSON records to the message broker,
// checkpointing progress so a restart resumes rather than reprocessing.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapetech/discogs-extractor/internal/broker"
	"github.com/snapetech/discogs-extractor/internal/config"
	"github.com/snapetech/discogs-extractor/internal/dedup"
	"github.com/snapetech/discogs-extractor/internal/health"
	"github.com/snapetech/discogs-extractor/internal/ledger"
	"github.com/snapetech/discogs-extractor/internal/metrics"
	"github.com/snapetech/discogs-extractor/internal/objectstore"
	"github.com/snapetech/discogs-extractor/internal/obslog"
	"github.com/snapetech/discogs-extractor/internal/scheduler"
)

// Exit codes per the configuration/error-handling design: 0 clean shutdown,
// 1 unrecoverable configuration/startup error, 2 unrecoverable pipeline
// error surfaced from the scheduler loop.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitPipelineError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = config.LoadEnvFile(".env")
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	obslog.SetLevel(cfg.LogLevel)
	logger := obslog.For("main")

	led, err := ledger.Open(cfg.DiscogsRoot)
	if err != nil {
		obslog.ErrorEvent(logger, "startup_failed", err).Msg("failed to open ledger")
		return exitConfigError
	}
	defer led.Close()

	dedupStore, err := dedup.Open(filepath.Join(cfg.DiscogsRoot, "dedup.sqlite"))
	if err != nil {
		obslog.ErrorEvent(logger, "startup_failed", err).Msg("failed to open dedup store")
		return exitConfigError
	}
	defer dedupStore.Close()

	store, err := objectstore.New(cfg.UpstreamBaseURL, cfg.HTTPRateLimitRPS)
	if err != nil {
		obslog.ErrorEvent(logger, "startup_failed", err).Msg("failed to construct object store client")
		return exitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher, err := broker.Open(ctx, cfg.AMQPConnection, cfg.AMQPHeartbeat, cfg.ConfirmWindow, obslog.For("broker"))
	if err != nil {
		obslog.ErrorEvent(logger, "startup_failed", err).Msg("failed to connect to broker")
		return exitConfigError
	}
	defer publisher.Close()

	failureLog, err := broker.OpenFailureLog(filepath.Join(cfg.DiscogsRoot, "failures.jsonl"))
	if err != nil {
		obslog.ErrorEvent(logger, "startup_failed", err).Msg("failed to open failure log")
		return exitConfigError
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	reporter := health.NewReporter()

	httpServer := &http.Server{
		Addr:    cfg.HealthAddr,
		Handler: reporter.Router(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	}
	go func() {
		obslog.Event(logger, "http_listening").Str("addr", cfg.HealthAddr).Msg("serving /health, /healthz, /metrics")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.ErrorEvent(logger, "http_server_failed", err).Msg("health/metrics server exited")
		}
	}()
	defer httpServer.Shutdown(context.Background())

	s := scheduler.New(cfg, store, led, dedupStore, publisher, failureLog, m, reporter)
	if err := s.Run(ctx); err != nil {
		obslog.ErrorEvent(logger, "scheduler_failed", err).Msg("scheduler exited with an unrecoverable error")
		return exitPipelineError
	}

	obslog.Event(logger, "shutdown_complete").Msg("extractor stopped cleanly")
	return exitOK
}
