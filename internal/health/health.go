// Package health serves this process's own progress and liveness: per-file
// percent complete, last error class, and version info, routed through
// github.com/go-chi/chi/v5 instead of a bare http.ServeMux so /health,
// /metrics, and /healthz share one router.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snapetech/discogs-extractor/internal/canonical"
)

// FileProgress is the per-entity-class row of the health snapshot.
type FileProgress struct {
	Processed     int       `json:"processed"`
	EstimatedTotal int      `json:"estimated_total,omitempty"`
	Pct           float64   `json:"pct"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
}

// Snapshot is the full /health response body.
type Snapshot struct {
	Status  string                                  `json:"status"`
	Version string                                  `json:"version"`
	Files   map[canonical.EntityClass]FileProgress `json:"files"`
}

// Reporter holds the live snapshot, updated by the scheduler/pipeline and
// read by the HTTP handlers. All access goes through the mutex since reads
// (HTTP requests) and writes (pipeline progress) happen concurrently.
type Reporter struct {
	mu      sync.RWMutex
	version string
	files   map[canonical.EntityClass]FileProgress
}

func NewReporter() *Reporter {
	return &Reporter{files: make(map[canonical.EntityClass]FileProgress)}
}

// SetVersion records the dump version currently (or most recently) processed.
func (r *Reporter) SetVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

// UpdateProgress records processed/estimatedTotal for class.
func (r *Reporter) UpdateProgress(class canonical.EntityClass, processed, estimatedTotal int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp := r.files[class]
	fp.Processed = processed
	fp.EstimatedTotal = estimatedTotal
	if estimatedTotal > 0 {
		fp.Pct = float64(processed) / float64(estimatedTotal) * 100
	}
	r.files[class] = fp
}

// RecordError records the most recent error kind for class.
func (r *Reporter) RecordError(class canonical.EntityClass, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp := r.files[class]
	fp.LastErrorKind = kind
	fp.LastErrorAt = time.Now()
	r.files[class] = fp
}

// Snapshot returns a copy of the current state for serialization.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	files := make(map[canonical.EntityClass]FileProgress, len(r.files))
	for k, v := range r.files {
		files[k] = v
	}
	version := r.version
	if version == "" {
		version = "none"
	}
	return Snapshot{Status: "ok", Version: version, Files: files}
}

// Router builds the chi router serving /health, /metrics, and /healthz.
// metricsHandler is passed in rather than imported directly to avoid this
// package depending on internal/metrics's registry wiring.
func (r *Reporter) Router(metricsHandler http.Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Get("/health", r.handleHealth)
	mux.Get("/healthz", handleHealthz)
	mux.Handle("/metrics", metricsHandler)
	return mux
}

func (r *Reporter) handleHealth(w http.ResponseWriter, req *http.Request) {
	snap := r.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func handleHealthz(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
