package broker

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/snapetech/discogs-extractor/internal/canonical"
)

func TestQueueNames_coverAllClassesAndFamilies(t *testing.T) {
	for _, class := range canonical.Classes {
		for _, family := range consumerFamilies {
			q := queueName(family, class)
			dlq := deadLetterQueueName(family, class)
			if q == "" || dlq == "" {
				t.Fatalf("empty queue name for %s/%s", family, class)
			}
			if dlq != q+".dlq" {
				t.Errorf("dlq = %q, want %q", dlq, q+".dlq")
			}
		}
	}
}

func TestOutboundMessage_correlationIDFormat(t *testing.T) {
	msg := OutboundMessage{Version: "20260101", Class: canonical.Artist, ID: 42}
	want := "20260101:artist:42"
	if got := msg.correlationID(); got != want {
		t.Errorf("correlationID = %q, want %q", got, want)
	}
}

func TestOutboundMessage_routingKeyIsClassName(t *testing.T) {
	msg := OutboundMessage{Class: canonical.Release}
	if msg.routingKey() != "release" {
		t.Errorf("routingKey = %q, want release", msg.routingKey())
	}
}

func TestFailureLog_appendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "failures.jsonl")
	log, err := OpenFailureLog(path)
	if err != nil {
		t.Fatalf("OpenFailureLog: %v", err)
	}

	if err := log.Append(FailureEntry{Version: "20260101", Class: "artist", ID: 1, Reason: "nack"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(FailureEntry{Version: "20260101", Class: "label", ID: 2, Reason: "timeout"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open failure log: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if scanner.Text() != "" {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("lines = %d, want 2", lines)
	}
}
