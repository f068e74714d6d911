package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/snapetech/discogs-extractor/internal/retry"
)

// FailureEntry is one record appended to the failure log once a message
// exhausts its publish retries: the file is not aborted for one bad record.
type FailureEntry struct {
	Version       string    `json:"version"`
	Class         string    `json:"class"`
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Reason        string    `json:"reason"`
	FailedAt      time.Time `json:"failed_at"`
}

// FailureLog is an append-only JSONL file, following the same
// temp-file-free append+fsync idiom as internal/ledger since entries are
// small and infrequent relative to the ledger's checkpoint cadence.
type FailureLog struct {
	mu   sync.Mutex
	path string
}

func OpenFailureLog(path string) (*FailureLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("broker: create failure log dir: %w", err)
	}
	return &FailureLog{path: path}, nil
}

func (l *FailureLog) Append(entry FailureEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("broker: open failure log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("broker: write failure log: %w", err)
	}
	return f.Sync()
}

// PublishWithRetry wraps Publish in the shared retry combinator, routing the
// message to failureLog instead of returning an error once maxAttempts is
// exhausted — a single bad record never aborts the containing file's run.
// published is false when the record was given up on and logged instead.
func PublishWithRetry(ctx context.Context, p *Publisher, failureLog *FailureLog, msg OutboundMessage, maxAttempts int) (published bool, err error) {
	policy := retry.Policy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
	publishErr := retry.Do(ctx, policy, func(ctx context.Context) error {
		return p.Publish(ctx, msg)
	})
	if publishErr == nil {
		return true, nil
	}
	logErr := failureLog.Append(FailureEntry{
		Version:       msg.Version,
		Class:         string(msg.Class),
		ID:            msg.ID,
		CorrelationID: msg.correlationID(),
		Reason:        publishErr.Error(),
		FailedAt:      time.Now(),
	})
	if logErr != nil {
		return false, fmt.Errorf("broker: publish failed (%v) and failure log write also failed: %w", publishErr, logErr)
	}
	return false, nil
}
