package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/snapetech/discogs-extractor/internal/broker"
	"github.com/snapetech/discogs-extractor/internal/canonical"
	"github.com/snapetech/discogs-extractor/internal/metrics"
	"github.com/snapetech/discogs-extractor/internal/objectstore"
	"github.com/snapetech/discogs-extractor/internal/obslog"
	"github.com/snapetech/discogs-extractor/internal/xmlpipeline"
)

// runEntityPipeline fetches, streams, dedups, publishes, and checkpoints one
// (version, class) dump file end to end, resuming from the ledger's last
// checkpoint if one exists. The dedup index is written here, after
// broker.PublishWithRetry reports a confirmed publish, not inside
// xmlpipeline.Run's decision step: writing it earlier would mark a record
// seen before it is actually durable in the broker, so a crash or an
// exhausted-retry nack in between would make it silently un-republishable
// on the next run.
func (s *Scheduler) runEntityPipeline(ctx context.Context, baseLogger zerolog.Logger, version string, class canonical.EntityClass, digest string) error {
	logger := baseLogger.With().Str("version", version).Str("entity_class", string(class)).Logger()

	cursor, err := s.ledger.Load(version, class)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cursor.Complete {
		obslog.Event(logger, "file_already_complete").Msg("skipping already-completed file")
		return nil
	}

	if _, err := s.dedupStore.BulkLoad(class); err != nil {
		return fmt.Errorf("bulk load dedup index: %w", err)
	}

	stream, err := s.store.Fetch(ctx, version, class, digest)
	if err != nil {
		s.reporter.RecordError(class, "fetch_failure")
		return fmt.Errorf("fetch: %w", err)
	}
	defer stream.Close()

	out := make(chan xmlpipeline.Record, s.cfg.ChannelCapacity)
	runErrCh := make(chan error, 1)
	statsCh := make(chan xmlpipeline.Stats, 1)
	go func() {
		stats, runErr := xmlpipeline.Run(ctx, class, stream, s.dedupStore, cursor.ElementIndex, out)
		close(out)
		statsCh <- stats
		runErrCh <- runErr
	}()

	processed := cursor.RecordCount
	lastCheckpointCount := processed
	lastCheckpointTime := time.Now()

	// loopErr short-circuits record handling once set, but the loop keeps
	// draining out so the Run goroutine (which may be blocked sending on it)
	// is never left stuck once this function returns.
	var loopErr error
	for rec := range out {
		if loopErr != nil {
			continue
		}
		processed++
		s.metrics.ChannelDepth.WithLabelValues(string(class)).Set(float64(len(out)))

		switch rec.Decision {
		case xmlpipeline.Publish:
			msg := broker.OutboundMessage{Version: version, Class: class, ID: rec.ID, Body: rec.CanonicalJSON, Hash: rec.Hash}
			start := time.Now()
			// PublishMaxRetries counts retries after the first attempt;
			// PublishWithRetry takes a total attempt count (0 would mean unlimited).
			published, perr := broker.PublishWithRetry(ctx, s.publisher, s.failureLog, msg, s.cfg.PublishMaxRetries+1)
			if perr != nil {
				s.reporter.RecordError(class, "publish_failure")
				loopErr = fmt.Errorf("publish %s/%d: %w", class, rec.ID, perr)
				continue
			}
			if published {
				if err := s.dedupStore.Update(class, rec.ID, rec.Hash); err != nil {
					loopErr = fmt.Errorf("dedup update %s/%d: %w", class, rec.ID, err)
					continue
				}
				s.metrics.ConfirmLatency.WithLabelValues(string(class)).Observe(time.Since(start).Seconds())
				s.metrics.RecordsPublished.WithLabelValues(string(class)).Inc()
			} else {
				s.metrics.RecordsSkipped.WithLabelValues(string(class), "publish_exhausted").Inc()
			}
		case xmlpipeline.Drop:
			s.metrics.RecordsSkipped.WithLabelValues(string(class), metrics.ReasonDedupHit).Inc()
		}

		s.reporter.UpdateProgress(class, processed, 0)

		dueByCount := processed-lastCheckpointCount >= s.cfg.CheckpointRecords
		dueByTime := time.Since(lastCheckpointTime) >= s.cfg.CheckpointInterval
		if dueByCount || dueByTime {
			if err := s.ledger.Checkpoint(version, class, 0, processed, rec.ElementIndex+1); err != nil {
				loopErr = fmt.Errorf("checkpoint: %w", err)
				continue
			}
			lastCheckpointCount = processed
			lastCheckpointTime = time.Now()
			s.metrics.CheckpointLag.WithLabelValues(string(class)).Set(0)
		} else {
			s.metrics.CheckpointLag.WithLabelValues(string(class)).Set(float64(processed - lastCheckpointCount))
		}
	}

	runErr := <-runErrCh
	stats := <-statsCh
	if loopErr != nil {
		return loopErr
	}
	if runErr != nil {
		var mismatch *objectstore.ErrChecksumMismatch
		if errors.As(runErr, &mismatch) {
			s.reporter.RecordError(class, "checksum_mismatch")
		}
		return fmt.Errorf("stream: %w", runErr)
	}

	s.metrics.RecordsProcessed.WithLabelValues(string(class)).Add(float64(stats.Processed))
	if stats.Malformed > 0 {
		s.metrics.RecordsSkipped.WithLabelValues(string(class), metrics.ReasonMalformed).Add(float64(stats.Malformed))
	}

	if err := s.ledger.MarkFileComplete(version, class, stats.Processed, stats.Processed); err != nil {
		return fmt.Errorf("mark file complete: %w", err)
	}
	obslog.Event(logger, "file_completed").
		Int("processed", stats.Processed).
		Int("published", stats.Published).
		Int("dropped", stats.Dropped).
		Int("malformed", stats.Malformed).
		Msg(fmt.Sprintf("processed %s records (%s published, %s deduped)",
			humanize.Comma(int64(stats.Processed)), humanize.Comma(int64(stats.Published)), humanize.Comma(int64(stats.Dropped))))
	return nil
}
