package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/snapetech/discogs-extractor/internal/canonical"
)

func TestOpen_secondOpenFailsWhileLocked(t *testing.T) {
	dir := t.TempDir()
	l1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer l1.Close()

	if _, err := Open(dir); err == nil {
		t.Fatal("expected second Open to fail while first holds the lock")
	}
}

func TestCheckpointAndLoad_roundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.Checkpoint("20260101", canonical.Artist, 1000, 10, 10); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := l.Checkpoint("20260101", canonical.Artist, 2000, 20, 20); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	c, err := l.Load("20260101", canonical.Artist)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ElementIndex != 20 {
		t.Errorf("ElementIndex = %d, want 20 (latest checkpoint)", c.ElementIndex)
	}
}

func TestLoad_missingFileReturnsZeroCursor(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	c, err := l.Load("20260101", canonical.Release)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ElementIndex != 0 {
		t.Errorf("ElementIndex = %d, want 0 for no prior checkpoint", c.ElementIndex)
	}
}

func TestLoad_toleratesCorruptTrailingLine(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.Checkpoint("20260101", canonical.Label, 500, 5, 5); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	path := filepath.Join(dir, "ledger", "20260101", "label.cursor")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corrupt append: %v", err)
	}
	if _, err := f.WriteString(`{"version":"20260101","class":"label","element_inde`); err != nil {
		t.Fatalf("write corrupt tail: %v", err)
	}
	f.Close()

	c, err := l.Load("20260101", canonical.Label)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ElementIndex != 5 {
		t.Errorf("ElementIndex = %d, want 5 from the last valid line", c.ElementIndex)
	}
}

func TestMarkFileComplete_setsCompleteFlag(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.MarkFileComplete("20260101", canonical.Master, 99, 99); err != nil {
		t.Fatalf("MarkFileComplete: %v", err)
	}
	c, err := l.Load("20260101", canonical.Master)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.Complete || c.ElementIndex != 99 {
		t.Errorf("cursor = %+v, want Complete=true ElementIndex=99", c)
	}
}

func TestMarkVersionComplete_andLastCompletedVersion(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	v, err := l.LastCompletedVersion()
	if err != nil {
		t.Fatalf("LastCompletedVersion (empty): %v", err)
	}
	if v != "" {
		t.Errorf("LastCompletedVersion = %q, want empty before any completion", v)
	}

	if err := l.MarkVersionComplete("20260101"); err != nil {
		t.Fatalf("MarkVersionComplete: %v", err)
	}
	if err := l.MarkVersionComplete("20260201"); err != nil {
		t.Fatalf("MarkVersionComplete: %v", err)
	}

	v, err = l.LastCompletedVersion()
	if err != nil {
		t.Fatalf("LastCompletedVersion: %v", err)
	}
	if v != "20260201" {
		t.Errorf("LastCompletedVersion = %q, want 20260201", v)
	}
}
