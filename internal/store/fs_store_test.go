package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir() // Automatically cleaned up after test
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}

	return store, tempDir
}

// createTestResult builds a two-seed run result with test data.
func createTestResult(runID string) *RunResult {
	return &RunResult{
		RunID: runID,
		Variables: map[string][][]float64{
			"z": {{0.1, -0.3}, {0.2, 0.4}},
			"c": {{0.5}, {-0.5}},
		},
		BestCosts:    []float64{0.031, 0.044},
		InitialCosts: []float64{0.91, 0.88},
		Timestamp:    time.Now(),
		Settings: RunSettings{
			ImagePath:         "assets/target.png",
			LearningRate:      0.05,
			Truncate:          2.0,
			NumSeeds:          2,
			PopPerSeed:        16,
			MetaSteps:         30,
			GradSteps:         30,
			FinetuneGradSteps: 300,
			MaxBatchSize:      9,
			Seed:              42,
		},
	}
}

func TestNewFSStore(t *testing.T) {
	tempDir := t.TempDir()

	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store == nil {
		t.Fatal("Expected non-nil store")
	}

	// Verify base directory was created
	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestSaveAndLoadResult(t *testing.T) {
	store, tempDir := setupTestStore(t)

	runID := "test-run-123"
	result := createTestResult(runID)

	if err := store.SaveResult(result); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	expectedPath := filepath.Join(tempDir, "runs", runID, "result.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Result file was not created at %s", expectedPath)
	}

	loaded, err := store.LoadResult(runID)
	if err != nil {
		t.Fatalf("LoadResult failed: %v", err)
	}
	if loaded.RunID != runID {
		t.Errorf("RunID: got %q, want %q", loaded.RunID, runID)
	}
	if len(loaded.Variables["z"]) != 2 {
		t.Errorf("Expected 2 seeds for z, got %d", len(loaded.Variables["z"]))
	}
	if loaded.Variables["z"][1][1] != 0.4 {
		t.Errorf("z[1][1]: got %v, want 0.4", loaded.Variables["z"][1][1])
	}
	if loaded.Settings.MetaSteps != 30 {
		t.Errorf("Settings not round-tripped: %+v", loaded.Settings)
	}
}

func TestSaveResultValidates(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveResult(nil); err == nil {
		t.Error("nil result accepted")
	}

	bad := createTestResult("")
	if err := store.SaveResult(bad); err == nil {
		t.Error("empty run ID accepted")
	}

	bad = createTestResult("run-x")
	bad.Variables["z"] = bad.Variables["z"][:1]
	if err := store.SaveResult(bad); err == nil {
		t.Error("seed-count mismatch accepted")
	}
}

func TestLoadResultNotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadResult("does-not-exist")
	if err == nil {
		t.Fatal("Expected error for missing run")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store, _ := setupTestStore(t)

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns on empty store failed: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("Expected empty listing, got %d", len(infos))
	}

	for _, id := range []string{"run-a", "run-b"} {
		if err := store.SaveResult(createTestResult(id)); err != nil {
			t.Fatalf("SaveResult %s failed: %v", id, err)
		}
	}

	infos, err = store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(infos))
	}
	for _, info := range infos {
		// ToInfo reports the best cost across seeds.
		if info.BestCost != 0.031 {
			t.Errorf("run %s: best cost %v, want 0.031", info.RunID, info.BestCost)
		}
		if info.NumSeeds != 2 {
			t.Errorf("run %s: seeds %d, want 2", info.RunID, info.NumSeeds)
		}
	}
}

func TestDeleteRun(t *testing.T) {
	store, _ := setupTestStore(t)

	runID := "run-to-delete"
	if err := store.SaveResult(createTestResult(runID)); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	if err := store.DeleteRun(runID); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := store.LoadResult(runID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	if err := store.DeleteRun(runID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleting twice should report ErrNotFound, got %v", err)
	}
}

func TestNewRunIDUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == "" || a == b {
		t.Errorf("run IDs not unique: %q, %q", a, b)
	}
}
