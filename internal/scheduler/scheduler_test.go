package scheduler

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/snapetech/discogs-extractor/internal/canonical"
	"github.com/snapetech/discogs-extractor/internal/config"
	"github.com/snapetech/discogs-extractor/internal/dedup"
	"github.com/snapetech/discogs-extractor/internal/health"
	"github.com/snapetech/discogs-extractor/internal/ledger"
	"github.com/snapetech/discogs-extractor/internal/metrics"
	"github.com/snapetech/discogs-extractor/internal/objectstore"
	"github.com/snapetech/discogs-extractor/internal/obslog"
)

// gzippedXML builds the dump body and manifest checksum line for one class.
func gzippedXML(t *testing.T, class canonical.EntityClass, body string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	return raw, canonical.ContentHash(raw)
}

func newTestServer(t *testing.T, version string, bodies map[canonical.EntityClass]string) *httptest.Server {
	t.Helper()
	gz := map[string][]byte{}
	manifest := &bytes.Buffer{}
	for _, class := range canonical.Classes {
		body, ok := bodies[class]
		if !ok {
			body = fmt.Sprintf("<%s></%s>", class.RootTag(), class.RootTag())
		}
		raw, sum := gzippedXML(t, class, body)
		name := fmt.Sprintf("discogs_%s_%s.xml.gz", version, class.RootTag())
		gz[name] = raw
		fmt.Fprintf(manifest, "%s  %s\n", sum, name)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/"+version+"/CHECKSUM.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write(manifest.Bytes())
	})
	for name, raw := range gz {
		name, raw := name, raw
		mux.HandleFunc("/"+version+"/"+name, func(w http.ResponseWriter, r *http.Request) {
			w.Write(raw)
		})
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<ListBucketResult><Contents><Key>%s/CHECKSUM.txt</Key></Contents></ListBucketResult>`, version)
	})
	return httptest.NewServer(mux)
}

func newTestComponents(t *testing.T, srv *httptest.Server) (*config.Config, *objectstore.Client, *ledger.Ledger, *dedup.Store, *metrics.Metrics, *health.Reporter) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		DiscogsRoot:        dir,
		UpstreamBaseURL:    srv.URL,
		PeriodicCheckDays:  15,
		CheckpointRecords:  1,
		CheckpointInterval: time.Hour,
		ChannelCapacity:    16,
		ConfirmWindow:      8,
		PublishMaxRetries:  1,
		HTTPRateLimitRPS:   1000,
	}

	store, err := objectstore.New(srv.URL, 1000)
	if err != nil {
		t.Fatalf("objectstore.New: %v", err)
	}

	led, err := ledger.Open(dir)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	dedupStore, err := dedup.Open(filepath.Join(dir, "dedup.sqlite"))
	if err != nil {
		t.Fatalf("dedup.Open: %v", err)
	}
	t.Cleanup(func() { dedupStore.Close() })

	m := metrics.New(prometheus.NewRegistry())
	reporter := health.NewReporter()

	return cfg, store, led, dedupStore, m, reporter
}

// TestRunOnce_noNewDump verifies that a version no newer than lastCompleted
// is a no-op, without needing a broker connection.
func TestRunOnce_noNewDump(t *testing.T) {
	srv := newTestServer(t, "20260101", nil)
	defer srv.Close()

	cfg, store, led, dedupStore, m, reporter := newTestComponents(t, srv)
	s := &Scheduler{cfg: cfg, store: store, ledger: led, dedupStore: dedupStore, metrics: m, reporter: reporter, logger: obslog.For("scheduler_test")}

	if err := os.MkdirAll(filepath.Join(cfg.DiscogsRoot, "ledger", "20260101"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := led.MarkVersionComplete("20260101"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runOnce(ctx, s.logger, "20260101"); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
}
