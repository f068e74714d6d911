package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/snapetech/discogs-extractor/internal/canonical"
)

func TestReporter_snapshotReflectsProgress(t *testing.T) {
	r := NewReporter()
	r.SetVersion("20260101")
	r.UpdateProgress(canonical.Artist, 50, 200)

	snap := r.Snapshot()
	if snap.Version != "20260101" {
		t.Errorf("Version = %q", snap.Version)
	}
	fp := snap.Files[canonical.Artist]
	if fp.Processed != 50 || fp.Pct != 25 {
		t.Errorf("artist progress = %+v, want processed=50 pct=25", fp)
	}
}

func TestReporter_recordErrorSetsLastError(t *testing.T) {
	r := NewReporter()
	r.RecordError(canonical.Master, "checksum_mismatch")
	snap := r.Snapshot()
	fp := snap.Files[canonical.Master]
	if fp.LastErrorKind != "checksum_mismatch" {
		t.Errorf("LastErrorKind = %q", fp.LastErrorKind)
	}
	if fp.LastErrorAt.IsZero() {
		t.Error("LastErrorAt should be set")
	}
}

func TestRouter_healthEndpointServesJSON(t *testing.T) {
	r := NewReporter()
	r.SetVersion("20260101")
	router := r.Router(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != "ok" || snap.Version != "20260101" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRouter_healthzReturnsOK(t *testing.T) {
	r := NewReporter()
	router := r.Router(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
