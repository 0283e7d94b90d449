package store

import (
	"errors"
	"testing"
	"time"
)

func TestTraceRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	runID := "trace-run"

	tw, err := NewTraceWriter(tempDir, runID)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}

	entries := []TraceEntry{
		{MetaStep: 0, Phase: "cma", Costs: []float64{0.9, 0.8}, Timestamp: time.Now()},
		{MetaStep: 0, Phase: "grad", Costs: []float64{0.5, 0.6}, Timestamp: time.Now()},
		{MetaStep: 1, Phase: "finetune", Costs: []float64{0.1, 0.2}, Timestamp: time.Now()},
	}
	for _, e := range entries {
		if err := tw.Write(e); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadTrace(tempDir, runID)
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(got))
	}
	for i, e := range entries {
		if got[i].MetaStep != e.MetaStep || got[i].Phase != e.Phase {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], e)
		}
		for j, c := range e.Costs {
			if got[i].Costs[j] != c {
				t.Errorf("entry %d cost %d: got %v, want %v", i, j, got[i].Costs[j], c)
			}
		}
	}
}

func TestReadTraceNotFound(t *testing.T) {
	tempDir := t.TempDir()
	_, err := ReadTrace(tempDir, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTraceWriterPath(t *testing.T) {
	tempDir := t.TempDir()
	tw, err := NewTraceWriter(tempDir, "abc")
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	defer tw.Close()
	if tw.Path() == "" {
		t.Error("empty trace path")
	}
}
