// Package dedup implements the persistent (entity class, entity id) -> content
// hash index, backed by an embedded cgo-free SQLite database via
// database/sql + modernc.org/sqlite.
package dedup

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snapetech/discogs-extractor/internal/canonical"
)

// Store is the durable dedup index. One *Store serves all four entity
// classes; each class gets its own table so per-class access never contends
// on another class's rows.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	caches map[canonical.EntityClass]map[int64][32]byte
}

// Open opens (creating if absent) the sqlite database at path and ensures the
// per-entity-class tables exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dedup: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite serializes writers anyway; avoid lock contention errors
	s := &Store{db: db, caches: make(map[canonical.EntityClass]map[int64][32]byte)}
	for _, class := range canonical.Classes {
		if err := s.ensureTable(class); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureTable(class canonical.EntityClass) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS dedup_%s (
		entity_id INTEGER PRIMARY KEY,
		content_hash BLOB NOT NULL,
		last_seen_at INTEGER NOT NULL
	)`, class)
	_, err := s.db.Exec(stmt)
	if err != nil {
		return fmt.Errorf("dedup: create table for %s: %w", class, err)
	}
	return nil
}

// Seen reports whether (class, id) is already recorded with exactly hash.
// It consults the in-process cache first (populated by BulkLoad), falling
// back to the database on a cache miss so correctness never depends on
// BulkLoad having been called.
func (s *Store) Seen(class canonical.EntityClass, id int64, hash [32]byte) (bool, error) {
	s.mu.Lock()
	cache := s.caches[class]
	if cache != nil {
		if h, ok := cache[id]; ok {
			s.mu.Unlock()
			return h == hash, nil
		}
	}
	s.mu.Unlock()

	var stored []byte
	row := s.db.QueryRow(fmt.Sprintf(`SELECT content_hash FROM dedup_%s WHERE entity_id = ?`, class), id)
	err := row.Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup: seen lookup %s/%d: %w", class, id, err)
	}
	return len(stored) == 32 && [32]byte(stored) == hash, nil
}

// Update upserts the current content hash for (class, id). It must be
// durable before the caller advances the progress ledger, so it
// writes through to sqlite synchronously and only updates the in-memory
// cache after the write succeeds.
func (s *Store) Update(class canonical.EntityClass, id int64, hash [32]byte) error {
	_, err := s.db.Exec(
		fmt.Sprintf(`INSERT INTO dedup_%s (entity_id, content_hash, last_seen_at) VALUES (?, ?, ?)
			ON CONFLICT(entity_id) DO UPDATE SET content_hash = excluded.content_hash, last_seen_at = excluded.last_seen_at`, class),
		id, hash[:], time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("dedup: update %s/%d: %w", class, id, err)
	}
	s.mu.Lock()
	cache := s.caches[class]
	if cache == nil {
		cache = make(map[int64][32]byte)
		s.caches[class] = cache
	}
	cache[id] = hash
	s.mu.Unlock()
	return nil
}

// BulkLoad warms the in-memory cache for class from the durable store. Call
// once per file at the start of each pipeline run.
func (s *Store) BulkLoad(class canonical.EntityClass) (map[int64][32]byte, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT entity_id, content_hash FROM dedup_%s`, class))
	if err != nil {
		return nil, fmt.Errorf("dedup: bulk load %s: %w", class, err)
	}
	defer rows.Close()

	cache := make(map[int64][32]byte)
	for rows.Next() {
		var id int64
		var hash []byte
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("dedup: bulk load %s scan: %w", class, err)
		}
		if len(hash) == 32 {
			cache[id] = [32]byte(hash)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dedup: bulk load %s rows: %w", class, err)
	}

	s.mu.Lock()
	s.caches[class] = cache
	s.mu.Unlock()
	return cache, nil
}
