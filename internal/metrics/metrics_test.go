package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_collectorsObserveLabeledValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordsProcessed.WithLabelValues("artist").Inc()
	m.RecordsPublished.WithLabelValues("artist").Inc()
	m.RecordsSkipped.WithLabelValues("artist", ReasonDedupHit).Inc()
	m.ChannelDepth.WithLabelValues("artist").Set(12)
	m.CheckpointLag.WithLabelValues("artist").Set(3)
	m.DumpVersionInfo.WithLabelValues("20260101").Set(1)
	m.ConfirmLatency.WithLabelValues("artist").Observe(0.05)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 7 {
		t.Fatalf("got %d metric families, want 7", len(families))
	}

	var found bool
	for _, fam := range families {
		if fam.GetName() == "extractor_records_processed_total" {
			found = true
			if got := fam.Metric[0].Counter.GetValue(); got != 1 {
				t.Errorf("processed counter = %v, want 1", got)
			}
		}
	}
	if !found {
		t.Fatal("extractor_records_processed_total not found in gathered families")
	}
}
