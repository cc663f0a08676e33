package db

import (
	"context"
	"math"
	"testing"

	"github.com/banshee-data/process.report/internal/spc"
)

func testLimits(center, sigma float64, nominalN, basisN int) spc.ControlLimits {
	return spc.ControlLimits{
		CenterLine:    center,
		UCL:           center + 3*sigma,
		LCL:           center - 3*sigma,
		SigmaEstimate: sigma,
		Method:        spc.FamilyRange,
		Mode:          spc.ModeNominal,
		NominalN:      nominalN,
		BasisN:        basisN,
	}
}

// TestInsertControlLimits tests revision numbering and the current flag
func TestInsertControlLimits(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	char := createTestCharacteristic(t, db, "bore diameter", 5)

	first, err := db.InsertControlLimits(ctx, char.ID, testLimits(10.0, 0.02, 5, 30))
	if err != nil {
		t.Fatalf("InsertControlLimits failed: %v", err)
	}
	if first.Revision != 1 {
		t.Errorf("Expected first revision 1, got %d", first.Revision)
	}
	if !first.IsCurrent {
		t.Error("Expected first revision to be current")
	}

	second, err := db.InsertControlLimits(ctx, char.ID, testLimits(10.01, 0.018, 5, 42))
	if err != nil {
		t.Fatalf("InsertControlLimits failed: %v", err)
	}
	if second.Revision != 2 {
		t.Errorf("Expected second revision 2, got %d", second.Revision)
	}

	// The old revision loses the current flag but stays on record
	old, err := db.GetLimitsRevision(ctx, char.ID, 1)
	if err != nil {
		t.Fatalf("GetLimitsRevision failed: %v", err)
	}
	if old.IsCurrent {
		t.Error("Expected revision 1 to no longer be current")
	}
	if old.CenterLine != 10.0 {
		t.Errorf("Expected revision 1 center line 10.0, got %v", old.CenterLine)
	}

	current, err := db.GetCurrentLimits(ctx, char.ID)
	if err != nil {
		t.Fatalf("GetCurrentLimits failed: %v", err)
	}
	if current == nil {
		t.Fatal("Expected current limits")
	}
	if current.Revision != 2 {
		t.Errorf("Expected current revision 2, got %d", current.Revision)
	}
	if current.BasisN != 42 {
		t.Errorf("Expected basis 42, got %d", current.BasisN)
	}
}

// TestGetCurrentLimits_None tests the no-limits-yet case
func TestGetCurrentLimits_None(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	char := createTestCharacteristic(t, db, "depth", 5)

	current, err := db.GetCurrentLimits(context.Background(), char.ID)
	if err != nil {
		t.Fatalf("GetCurrentLimits failed: %v", err)
	}
	if current != nil {
		t.Errorf("Expected nil limits for fresh characteristic, got %+v", current)
	}
}

// TestGetLimitsRevision_NotFound tests missing revision lookup
func TestGetLimitsRevision_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	char := createTestCharacteristic(t, db, "width", 5)

	_, err := db.GetLimitsRevision(context.Background(), char.ID, 7)
	if err == nil {
		t.Error("Expected error for missing limits revision")
	}
}

// TestStoredLimitsRoundTrip tests conversion back into engine form
func TestStoredLimitsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	char := createTestCharacteristic(t, db, "runout", 4)

	in := spc.ControlLimits{
		CenterLine:    4.5,
		UCL:           4.65,
		LCL:           4.35,
		SigmaEstimate: 0.05,
		Method:        spc.FamilyStdDev,
		Mode:          spc.ModeVariable,
		NominalN:      4,
		BasisN:        25,
	}
	if _, err := db.InsertControlLimits(ctx, char.ID, in); err != nil {
		t.Fatalf("InsertControlLimits failed: %v", err)
	}

	stored, err := db.GetCurrentLimits(ctx, char.ID)
	if err != nil {
		t.Fatalf("GetCurrentLimits failed: %v", err)
	}

	out, err := stored.Limits()
	if err != nil {
		t.Fatalf("Limits() failed: %v", err)
	}

	if out.Mode != spc.ModeVariable {
		t.Errorf("Mode mismatch: got %v", out.Mode)
	}
	if out.Method != spc.FamilyStdDev {
		t.Errorf("Method mismatch: got %v", out.Method)
	}
	if math.Abs(out.UCL-in.UCL) > 1e-12 || math.Abs(out.LCL-in.LCL) > 1e-12 {
		t.Errorf("Limit mismatch: got UCL=%v LCL=%v", out.UCL, out.LCL)
	}
	if out.NominalN != 4 || out.BasisN != 25 {
		t.Errorf("Size mismatch: got nominal %d basis %d", out.NominalN, out.BasisN)
	}
}

// TestListLimitRevisions tests the audit trail ordering
func TestListLimitRevisions(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	char := createTestCharacteristic(t, db, "taper", 5)

	for i := 0; i < 3; i++ {
		if _, err := db.InsertControlLimits(ctx, char.ID, testLimits(10.0+float64(i), 0.02, 5, 30)); err != nil {
			t.Fatalf("InsertControlLimits failed: %v", err)
		}
	}

	revisions, err := db.ListLimitRevisions(ctx, char.ID)
	if err != nil {
		t.Fatalf("ListLimitRevisions failed: %v", err)
	}

	if len(revisions) != 3 {
		t.Fatalf("Expected 3 revisions, got %d", len(revisions))
	}
	// Newest first
	if revisions[0].Revision != 3 || revisions[2].Revision != 1 {
		t.Errorf("Expected newest-first ordering, got %d..%d", revisions[0].Revision, revisions[2].Revision)
	}
	// Exactly one current
	currentCount := 0
	for _, r := range revisions {
		if r.IsCurrent {
			currentCount++
		}
	}
	if currentCount != 1 {
		t.Errorf("Expected exactly one current revision, got %d", currentCount)
	}
}
