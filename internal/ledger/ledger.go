// Package ledger implements a crash-safe progress cursor: one append-only,
// fsync'd JSONL file per (dump version, entity class), guarded by a
// single-writer advisory lock over the ledger directory. The
// atomic-write-and-tolerant-of-corruption load idiom ("corrupt tail means
// fall back to the last good line rather than hard-fail") is generalized
// from a whole-file-per-save shape to an append-only JSONL log, since this
// ledger must checkpoint far more often than a one-shot fetch state would.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/snapetech/discogs-extractor/internal/canonical"
)

// Cursor is one checkpoint record: how far into a given (version, class)
// file the pipeline has durably progressed.
type Cursor struct {
	Version      string                `json:"version"`
	Class        canonical.EntityClass `json:"class"`
	ByteOffset   int64                 `json:"offset"`
	RecordCount  int                   `json:"records"`
	ElementIndex int                   `json:"idx"`
	Complete     bool                  `json:"complete"`
	UpdatedAt    time.Time             `json:"ts"`
}

// ErrWriteFailure wraps any error encountered while durably persisting a
// checkpoint, distinguishing it from a read-side corruption that the loader
// tolerates.
type ErrWriteFailure struct {
	Path  string
	Cause error
}

func (e *ErrWriteFailure) Error() string {
	return fmt.Sprintf("ledger: write %s: %v", e.Path, e.Cause)
}

func (e *ErrWriteFailure) Unwrap() error { return e.Cause }

// Ledger owns the single-writer lock over a ledger directory tree rooted at
// <discogsRoot>/ledger.
type Ledger struct {
	root string
	lock *flock.Flock

	mu sync.Mutex
}

// Open acquires the advisory lock over root/ledger, creating the directory
// tree if needed. Only one process may hold the lock at a time; Open does
// not wait for it (it uses TryLock) and returns an error immediately if
// another process already holds it, since a second writer racing the cursor files
// would violate the single-writer invariant the durability guarantees
// depend on.
func Open(discogsRoot string) (*Ledger, error) {
	dir := filepath.Join(discogsRoot, "ledger")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create %s: %w", dir, err)
	}
	lockPath := filepath.Join(dir, ".lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("ledger: lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("ledger: %s is held by another process", lockPath)
	}
	return &Ledger{root: dir, lock: fl}, nil
}

// Close releases the single-writer lock.
func (l *Ledger) Close() error {
	return l.lock.Unlock()
}

func (l *Ledger) cursorPath(version string, class canonical.EntityClass) string {
	return filepath.Join(l.root, version, string(class)+".cursor")
}

// Checkpoint appends a new cursor record and fsyncs it before returning, so
// a crash immediately after Checkpoint returns never loses the checkpoint.
// byteOffset is informational only; element_index is the authoritative
// resume watermark (streaming decompression makes byte seeks fragile).
func (l *Ledger) Checkpoint(version string, class canonical.EntityClass, byteOffset int64, recordCount, elementIndex int) error {
	return l.append(Cursor{Version: version, Class: class, ByteOffset: byteOffset, RecordCount: recordCount, ElementIndex: elementIndex, UpdatedAt: time.Now()})
}

// MarkFileComplete appends a terminal cursor record for (version, class).
func (l *Ledger) MarkFileComplete(version string, class canonical.EntityClass, recordCount, elementIndex int) error {
	return l.append(Cursor{Version: version, Class: class, RecordCount: recordCount, ElementIndex: elementIndex, Complete: true, UpdatedAt: time.Now()})
}

func (l *Ledger) append(c Cursor) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.cursorPath(c.Version, c.Class)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &ErrWriteFailure{Path: path, Cause: err}
	}
	line, err := json.Marshal(c)
	if err != nil {
		return &ErrWriteFailure{Path: path, Cause: err}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &ErrWriteFailure{Path: path, Cause: err}
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return &ErrWriteFailure{Path: path, Cause: err}
	}
	if err := f.Sync(); err != nil {
		return &ErrWriteFailure{Path: path, Cause: err}
	}
	return nil
}

// Load returns the last durably-recorded cursor for (version, class), or a
// zero-value Cursor with ElementIndex 0 if no cursor file exists yet. A
// truncated or corrupt trailing line (left by a crash mid-write) is skipped
// rather than treated as fatal; the loader scans backward from the tail for
// the last line that parses.
func (l *Ledger) Load(version string, class canonical.EntityClass) (Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.cursorPath(version, class)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Cursor{Version: version, Class: class}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	// A scanner error here means the final line was too long or unreadable;
	// treat it the same as a corrupt tail and fall back to earlier lines.

	for i := len(lines) - 1; i >= 0; i-- {
		var c Cursor
		if err := json.Unmarshal([]byte(lines[i]), &c); err == nil {
			return c, nil
		}
	}
	return Cursor{Version: version, Class: class}, nil
}

// MarkVersionComplete records that every entity class for version has
// finished, via an empty marker file rather than the JSONL log since it has
// no element-index payload to carry.
func (l *Ledger) MarkVersionComplete(version string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir := filepath.Join(l.root, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ErrWriteFailure{Path: dir, Cause: err}
	}
	path := filepath.Join(dir, ".complete")
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return &ErrWriteFailure{Path: path, Cause: err}
	}
	return nil
}

// LastCompletedVersion returns the lexicographically greatest version
// directory under the ledger root that carries a .complete marker, or "" if
// none does. Discogs dump versions are YYYYMMDD-stamped, so lexicographic
// order is chronological order.
func (l *Ledger) LastCompletedVersion() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.root)
	if err != nil {
		return "", fmt.Errorf("ledger: read %s: %w", l.root, err)
	}
	best := ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.root, e.Name(), ".complete")); err != nil {
			continue
		}
		if e.Name() > best {
			best = e.Name()
		}
	}
	return best, nil
}
