// Package scheduler wires every other component into the top-level control
// loop: discover the latest dump, verify it, run the four entity-class
// pipelines concurrently, checkpoint and mark completion, then sleep until
// the next check interval. Its goroutine-per-worker-with-shared-error-channel
// shape and context-cancellation-with-grace-period shutdown follow a
// supervisor run-loop idiom.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snapetech/discogs-extractor/internal/broker"
	"github.com/snapetech/discogs-extractor/internal/canonical"
	"github.com/snapetech/discogs-extractor/internal/config"
	"github.com/snapetech/discogs-extractor/internal/dedup"
	"github.com/snapetech/discogs-extractor/internal/health"
	"github.com/snapetech/discogs-extractor/internal/ledger"
	"github.com/snapetech/discogs-extractor/internal/metrics"
	"github.com/snapetech/discogs-extractor/internal/objectstore"
	"github.com/snapetech/discogs-extractor/internal/obslog"
)

// shutdownGrace bounds how long shutdown waits for the publisher to close
// once the context is cancelled; shutdown runs after the current cycle's
// pipelines have already returned.
const shutdownGrace = 30 * time.Second

// Scheduler owns every long-lived component the extractor needs and runs
// the top-level loop.
type Scheduler struct {
	cfg        *config.Config
	store      *objectstore.Client
	ledger     *ledger.Ledger
	dedupStore *dedup.Store
	publisher  *broker.Publisher
	failureLog *broker.FailureLog
	metrics    *metrics.Metrics
	reporter   *health.Reporter
	logger     zerolog.Logger
}

// New assembles a Scheduler from already-constructed components; callers
// (cmd/extractor/main.go) are responsible for opening each one so resource
// lifetimes are explicit at the wiring site.
func New(cfg *config.Config, store *objectstore.Client, led *ledger.Ledger, dedupStore *dedup.Store, publisher *broker.Publisher, failureLog *broker.FailureLog, m *metrics.Metrics, reporter *health.Reporter) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		ledger:     led,
		dedupStore: dedupStore,
		publisher:  publisher,
		failureLog: failureLog,
		metrics:    m,
		reporter:   reporter,
		logger:     obslog.For("scheduler"),
	}
}

// Run executes the top-level loop until ctx is cancelled. It returns nil on
// a clean cooperative shutdown and a non-nil error only for conditions the
// caller should treat as fatal (matching the ConfigError/unrecoverable-
// upstream exit codes).
func (s *Scheduler) Run(ctx context.Context) error {
	last, err := s.ledger.LastCompletedVersion()
	if err != nil {
		return fmt.Errorf("scheduler: load last completed version: %w", err)
	}

	for {
		runID := uuid.New().String()
		logger := s.logger.With().Str("run_id", runID).Logger()

		if err := s.runOnce(ctx, logger, last); err != nil {
			obslog.ErrorEvent(logger, "cycle_failed", err).Msg("dump check/process cycle failed; will retry next interval")
		} else if v, lerr := s.ledger.LastCompletedVersion(); lerr == nil {
			last = v
		}

		select {
		case <-ctx.Done():
			return s.shutdown(logger)
		case <-time.After(s.cfg.CheckInterval()):
		}
	}
}

func (s *Scheduler) shutdown(logger zerolog.Logger) error {
	obslog.Event(logger, "shutdown_requested").Msg("context cancelled; shutting down")
	done := make(chan struct{})
	go func() {
		_ = s.publisher.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		obslog.Event(logger, "shutdown_grace_exceeded").Msg("forcing shutdown after grace period")
	}
	return nil
}

// runOnce performs exactly one discover-verify-process cycle.
func (s *Scheduler) runOnce(ctx context.Context, logger zerolog.Logger, lastCompleted string) error {
	latest, err := s.store.LatestVersion(ctx)
	if err != nil {
		return fmt.Errorf("latest_version: %w", err)
	}
	if latest <= lastCompleted {
		obslog.Event(logger, "no_new_dump").Str("latest", latest).Str("last_completed", lastCompleted).Msg("no newer dump available")
		return nil
	}

	digests, err := s.store.VerifyManifest(ctx, latest)
	if err != nil {
		return fmt.Errorf("verify_manifest(%s): %w", latest, err)
	}
	obslog.Event(logger, "dump_discovered").Str("version", latest).Msg("new dump discovered and verified")
	s.reporter.SetVersion(latest)

	var wg sync.WaitGroup
	errCh := make(chan error, len(canonical.Classes))
	for _, class := range canonical.Classes {
		wg.Add(1)
		go func(class canonical.EntityClass) {
			defer wg.Done()
			if err := s.runEntityPipeline(ctx, logger, latest, class, digests[class]); err != nil {
				errCh <- fmt.Errorf("%s: %w", class, err)
			}
		}(class)
	}
	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	if err := s.ledger.MarkVersionComplete(latest); err != nil {
		return fmt.Errorf("mark_version_complete(%s): %w", latest, err)
	}
	s.metrics.DumpVersionInfo.Reset()
	s.metrics.DumpVersionInfo.WithLabelValues(latest).Set(1)
	obslog.Event(logger, "version_completed").Str("version", latest).Msg("dump version fully processed")
	return nil
}
