package db

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/process.report/internal/spc"
)

// cleanSubgroups returns ten in-control subgroups of three. The means
// alternate around 10.0 within a third of a sigma and every range is
// 0.03, so no rule fires on this history.
func cleanSubgroups() [][]float64 {
	means := []float64{10.002, 9.998, 10.001, 9.999, 10.003, 9.997, 10.000, 10.002, 9.998, 10.000}
	groups := make([][]float64, len(means))
	for i, m := range means {
		groups[i] = []float64{m - 0.015, m, m + 0.015}
	}
	return groups
}

// insertExcursionSample appends a subgroup with mean 10.2, far above any
// limit estimated from cleanSubgroups. Recorded after the seeded history.
func insertExcursionSample(t *testing.T, db *DB, characteristicID int64) int64 {
	t.Helper()

	sample := &Sample{
		CharacteristicID: characteristicID,
		RecordedAt:       1700000900.0,
		Source:           "test",
		Measurements: []Measurement{
			{Position: 1, Value: 10.185},
			{Position: 2, Value: 10.2},
			{Position: 3, Value: 10.215},
		},
	}
	if err := db.CreateSample(sample); err != nil {
		t.Fatalf("CreateSample failed for excursion: %v", err)
	}
	return sample.ID
}

// TestSPCWorker_EmptyDatabase verifies RunOnce is a no-op without
// characteristics.
func TestSPCWorker_EmptyDatabase(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	worker := NewSPCWorker(database, 0, 0)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Errorf("RunOnce on empty database should not error, got: %v", err)
	}
}

// TestSPCWorker_FirstEvaluationEstimatesLimits verifies that the first
// pass over a characteristic stores a limits revision and later passes
// reuse it.
func TestSPCWorker_FirstEvaluationEstimatesLimits(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	char := createTestCharacteristic(t, database, "Bore Diameter", 3)
	seedSubgroupSamples(t, database, char.ID, cleanSubgroups())

	worker := NewSPCWorker(database, 0, 0)
	ctx := context.Background()

	res, err := worker.EvaluateCharacteristic(ctx, char.ID, 0)
	if err != nil {
		t.Fatalf("EvaluateCharacteristic failed: %v", err)
	}
	if !res.Estimated {
		t.Error("Expected first pass to estimate limits")
	}
	if res.LimitsRevision != 1 {
		t.Errorf("Expected limits revision 1, got %d", res.LimitsRevision)
	}
	if res.Subgroups != 10 {
		t.Errorf("Expected 10 subgroups evaluated, got %d", res.Subgroups)
	}
	if res.Violations != 0 {
		t.Errorf("Expected no violations on in-control history, got %d", res.Violations)
	}

	stored, err := database.GetCurrentLimits(ctx, char.ID)
	if err != nil {
		t.Fatalf("Failed to get current limits: %v", err)
	}
	if stored == nil {
		t.Fatal("Expected stored limits after first evaluation")
	}
	if stored.BasisN != 10 {
		t.Errorf("Expected limits based on 10 subgroups, got %d", stored.BasisN)
	}
	if stored.CenterLine < 9.999 || stored.CenterLine > 10.001 {
		t.Errorf("Expected center line near 10.0, got %f", stored.CenterLine)
	}

	// A second pass must reuse the stored revision instead of estimating
	// another one.
	res, err = worker.EvaluateCharacteristic(ctx, char.ID, 0)
	if err != nil {
		t.Fatalf("Second EvaluateCharacteristic failed: %v", err)
	}
	if res.Estimated {
		t.Error("Expected second pass to reuse current limits")
	}
	if res.LimitsRevision != 1 {
		t.Errorf("Expected revision 1 reused, got %d", res.LimitsRevision)
	}
}

// TestSPCWorker_FlagsExcursionAgainstCurrentLimits verifies that a point
// recorded after the limits were set is judged against those limits, that
// re-runs are idempotent, and that acknowledgements survive re-runs.
func TestSPCWorker_FlagsExcursionAgainstCurrentLimits(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	char := createTestCharacteristic(t, database, "Pin Length", 3)
	seedSubgroupSamples(t, database, char.ID, cleanSubgroups())

	worker := NewSPCWorker(database, 0, 0)
	ctx := context.Background()

	if _, err := worker.RecalculateLimits(ctx, char.ID); err != nil {
		t.Fatalf("RecalculateLimits failed: %v", err)
	}

	excursionID := insertExcursionSample(t, database, char.ID)

	res, err := worker.EvaluateCharacteristic(ctx, char.ID, 0)
	if err != nil {
		t.Fatalf("EvaluateCharacteristic failed: %v", err)
	}
	if res.Estimated {
		t.Error("Expected evaluation to reuse the recalculated limits")
	}
	if res.Subgroups != 11 {
		t.Errorf("Expected 11 subgroups evaluated, got %d", res.Subgroups)
	}
	if res.Violations != 1 {
		t.Fatalf("Expected exactly one violation, got %d", res.Violations)
	}

	stored, err := database.ListViolations(char.ID, false)
	if err != nil {
		t.Fatalf("Failed to list violations: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("Expected 1 stored violation, got %d", len(stored))
	}
	v := stored[0]
	if v.Rule != spc.RuleBeyondLimits {
		t.Errorf("Expected rule 1, got rule %d", v.Rule)
	}
	if v.SampleID != excursionID {
		t.Errorf("Expected violation on sample %d, got %d", excursionID, v.SampleID)
	}
	if v.Severity != "critical" {
		t.Errorf("Expected critical severity, got %q", v.Severity)
	}
	if v.LimitsRevision != 1 {
		t.Errorf("Expected limits revision 1, got %d", v.LimitsRevision)
	}

	// Re-running the evaluation must not duplicate the finding.
	if _, err := worker.EvaluateCharacteristic(ctx, char.ID, 0); err != nil {
		t.Fatalf("Re-evaluation failed: %v", err)
	}
	stored, err = database.ListViolations(char.ID, false)
	if err != nil {
		t.Fatalf("Failed to list violations after re-run: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("Expected 1 violation after re-run, got %d", len(stored))
	}

	// Acknowledge the finding, re-run, and check the flag carried over.
	if err := database.AcknowledgeViolation(stored[0].ID); err != nil {
		t.Fatalf("Failed to acknowledge violation: %v", err)
	}
	if _, err := worker.EvaluateCharacteristic(ctx, char.ID, 0); err != nil {
		t.Fatalf("Re-evaluation after ack failed: %v", err)
	}
	stored, err = database.ListViolations(char.ID, false)
	if err != nil {
		t.Fatalf("Failed to list violations after ack re-run: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("Expected 1 violation after ack re-run, got %d", len(stored))
	}
	if !stored[0].Acknowledged {
		t.Error("Expected acknowledgement to survive the re-run")
	}
}

// TestSPCWorker_RunOnceSkipsThinHistory verifies that a characteristic
// without enough subgroups for limit estimation is skipped without
// stalling the rest of the run.
func TestSPCWorker_RunOnceSkipsThinHistory(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	ready := createTestCharacteristic(t, database, "Shaft Diameter", 3)
	seedSubgroupSamples(t, database, ready.ID, cleanSubgroups())

	thin := createTestCharacteristic(t, database, "Wall Thickness", 3)
	seedSubgroupSamples(t, database, thin.ID, [][]float64{{4.01, 4.02, 4.00}})

	worker := NewSPCWorker(database, 0, 0)
	ctx := context.Background()

	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	stored, err := database.GetCurrentLimits(ctx, ready.ID)
	if err != nil {
		t.Fatalf("Failed to get limits for seeded characteristic: %v", err)
	}
	if stored == nil {
		t.Error("Expected limits for the characteristic with history")
	}

	stored, err = database.GetCurrentLimits(ctx, thin.ID)
	if err != nil {
		t.Fatalf("Failed to get limits for thin characteristic: %v", err)
	}
	if stored != nil {
		t.Error("Expected no limits for a characteristic with one subgroup")
	}
}

// TestSPCWorker_ExcludedSampleRemovedFromChart verifies that excluding a
// sample removes it from the evaluated sequence and clears its findings
// on the next pass.
func TestSPCWorker_ExcludedSampleRemovedFromChart(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	char := createTestCharacteristic(t, database, "Groove Depth", 3)
	seedSubgroupSamples(t, database, char.ID, cleanSubgroups())

	worker := NewSPCWorker(database, 0, 0)
	ctx := context.Background()

	if _, err := worker.RecalculateLimits(ctx, char.ID); err != nil {
		t.Fatalf("RecalculateLimits failed: %v", err)
	}
	excursionID := insertExcursionSample(t, database, char.ID)

	res, err := worker.EvaluateCharacteristic(ctx, char.ID, 0)
	if err != nil {
		t.Fatalf("EvaluateCharacteristic failed: %v", err)
	}
	if res.Violations != 1 {
		t.Fatalf("Expected 1 violation before exclusion, got %d", res.Violations)
	}

	// Operator reviews the point and excludes the sample as a gauge
	// glitch.
	if err := database.SetSampleExcluded(excursionID, true); err != nil {
		t.Fatalf("Failed to exclude sample: %v", err)
	}

	res, err = worker.EvaluateCharacteristic(ctx, char.ID, 0)
	if err != nil {
		t.Fatalf("Evaluation after exclusion failed: %v", err)
	}
	if res.Subgroups != 10 {
		t.Errorf("Expected 10 subgroups after exclusion, got %d", res.Subgroups)
	}
	if res.Violations != 0 {
		t.Errorf("Expected no violations after exclusion, got %d", res.Violations)
	}

	stored, err := database.ListViolations(char.ID, false)
	if err != nil {
		t.Fatalf("Failed to list violations: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("Expected stored violations cleared, got %d", len(stored))
	}
}

// TestSPCWorker_RecalculateCreatesNewRevision verifies that each
// recalculation appends a revision and marks only the newest current.
func TestSPCWorker_RecalculateCreatesNewRevision(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	char := createTestCharacteristic(t, database, "Flange Width", 3)
	seedSubgroupSamples(t, database, char.ID, cleanSubgroups())

	worker := NewSPCWorker(database, 0, 0)
	ctx := context.Background()

	res, err := worker.RecalculateLimits(ctx, char.ID)
	if err != nil {
		t.Fatalf("First RecalculateLimits failed: %v", err)
	}
	if res.LimitsRevision != 1 {
		t.Errorf("Expected revision 1, got %d", res.LimitsRevision)
	}
	if !res.Estimated {
		t.Error("Expected recalculation to report a fresh estimate")
	}

	res, err = worker.RecalculateLimits(ctx, char.ID)
	if err != nil {
		t.Fatalf("Second RecalculateLimits failed: %v", err)
	}
	if res.LimitsRevision != 2 {
		t.Errorf("Expected revision 2, got %d", res.LimitsRevision)
	}

	revisions, err := database.ListLimitRevisions(ctx, char.ID)
	if err != nil {
		t.Fatalf("Failed to list revisions: %v", err)
	}
	if len(revisions) != 2 {
		t.Fatalf("Expected 2 revisions, got %d", len(revisions))
	}
	current := 0
	for _, r := range revisions {
		if r.IsCurrent {
			current++
			if r.Revision != 2 {
				t.Errorf("Expected revision 2 to be current, got %d", r.Revision)
			}
		}
	}
	if current != 1 {
		t.Errorf("Expected exactly one current revision, got %d", current)
	}
}

// TestSPCWorker_HistoryWindow verifies that a window limits both the
// evaluated sequence and the basis of a first estimate.
func TestSPCWorker_HistoryWindow(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	char := createTestCharacteristic(t, database, "Slot Width", 3)
	seedSubgroupSamples(t, database, char.ID, cleanSubgroups())

	worker := NewSPCWorker(database, 4, 0)
	ctx := context.Background()

	res, err := worker.EvaluateCharacteristic(ctx, char.ID, 4)
	if err != nil {
		t.Fatalf("EvaluateCharacteristic failed: %v", err)
	}
	if res.Subgroups != 4 {
		t.Errorf("Expected 4 subgroups in window, got %d", res.Subgroups)
	}

	stored, err := database.GetCurrentLimits(ctx, char.ID)
	if err != nil {
		t.Fatalf("Failed to get current limits: %v", err)
	}
	if stored == nil {
		t.Fatal("Expected stored limits")
	}
	if stored.BasisN != 4 {
		t.Errorf("Expected limits based on the 4 windowed subgroups, got %d", stored.BasisN)
	}
}

// TestSPCWorker_StartStop verifies the periodic loop starts and stops
// cleanly.
func TestSPCWorker_StartStop(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	worker := NewSPCWorker(database, 0, 0)
	worker.Interval = 50 * time.Millisecond

	worker.Start()
	time.Sleep(100 * time.Millisecond)
	worker.Stop()
}
