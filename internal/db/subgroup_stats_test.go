package db

import (
	"context"
	"math"
	"testing"
)

// TestSubgroupStatsCache verifies the worker populates the cache, that
// re-runs rewrite rather than duplicate, and that excluding a sample
// sweeps its row.
func TestSubgroupStatsCache(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	char := createTestCharacteristic(t, database, "Bore Diameter", 3)
	ids := seedSubgroupSamples(t, database, char.ID, cleanSubgroups())
	ctx := context.Background()

	worker := NewSPCWorker(database, 0, 0)
	if _, err := worker.EvaluateCharacteristic(ctx, char.ID, 0); err != nil {
		t.Fatalf("EvaluateCharacteristic failed: %v", err)
	}

	stats, err := database.GetSubgroupStats(ctx, char.ID, 0)
	if err != nil {
		t.Fatalf("GetSubgroupStats failed: %v", err)
	}
	if len(stats) != 10 {
		t.Fatalf("Expected 10 cached rows, got %d", len(stats))
	}
	first := stats[0]
	if first.SampleID != ids[0] {
		t.Errorf("Expected oldest sample first, got sample %d", first.SampleID)
	}
	if math.Abs(first.Mean-10.002) > 1e-9 {
		t.Errorf("Expected first mean 10.002, got %f", first.Mean)
	}
	if math.Abs(first.Range-0.03) > 1e-9 {
		t.Errorf("Expected range 0.03, got %f", first.Range)
	}
	if first.N != 3 {
		t.Errorf("Expected subgroup size 3, got %d", first.N)
	}
	if math.Abs(first.RecordedAt-1700000000.0) > 1e-6 {
		t.Errorf("Expected recording time carried through, got %f", first.RecordedAt)
	}

	// A second run rewrites the same rows.
	if _, err := worker.EvaluateCharacteristic(ctx, char.ID, 0); err != nil {
		t.Fatalf("Second evaluation failed: %v", err)
	}
	stats, err = database.GetSubgroupStats(ctx, char.ID, 0)
	if err != nil {
		t.Fatalf("GetSubgroupStats after re-run failed: %v", err)
	}
	if len(stats) != 10 {
		t.Fatalf("Expected 10 cached rows after re-run, got %d", len(stats))
	}

	// Excluding a sample drops its row on the next run.
	if err := database.SetSampleExcluded(ids[4], true); err != nil {
		t.Fatalf("Failed to exclude sample: %v", err)
	}
	if _, err := worker.EvaluateCharacteristic(ctx, char.ID, 0); err != nil {
		t.Fatalf("Evaluation after exclusion failed: %v", err)
	}
	stats, err = database.GetSubgroupStats(ctx, char.ID, 0)
	if err != nil {
		t.Fatalf("GetSubgroupStats after exclusion failed: %v", err)
	}
	if len(stats) != 9 {
		t.Fatalf("Expected 9 cached rows after exclusion, got %d", len(stats))
	}
	for _, s := range stats {
		if s.SampleID == ids[4] {
			t.Error("Excluded sample still present in cache")
		}
	}
}

// TestGetSubgroupStats_Window verifies the window applies to the cached
// read path.
func TestGetSubgroupStats_Window(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	char := createTestCharacteristic(t, database, "Pin Length", 3)
	ids := seedSubgroupSamples(t, database, char.ID, cleanSubgroups())
	ctx := context.Background()

	worker := NewSPCWorker(database, 0, 0)
	if _, err := worker.EvaluateCharacteristic(ctx, char.ID, 0); err != nil {
		t.Fatalf("EvaluateCharacteristic failed: %v", err)
	}

	stats, err := database.GetSubgroupStats(ctx, char.ID, 3)
	if err != nil {
		t.Fatalf("GetSubgroupStats failed: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("Expected 3 rows in window, got %d", len(stats))
	}
	if stats[0].SampleID != ids[7] || stats[2].SampleID != ids[9] {
		t.Errorf("Expected the newest 3 samples oldest-first, got %d..%d", stats[0].SampleID, stats[2].SampleID)
	}
}
