package db

import (
	"os"
	"testing"
)

// Helper functions for creating pointer values
func strPtr(s string) *string {
	return &s
}

func floatPtr(f float64) *float64 {
	return &f
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	db, err := NewDB(fname)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	return db
}

func cleanupTestDB(t *testing.T, db *DB) {
	t.Helper()
	fname := t.Name() + ".db"
	db.Close()
	_ = os.Remove(fname)
	_ = os.Remove(fname + "-shm")
	_ = os.Remove(fname + "-wal")
}

// createTestSite creates a minimal site for tests that need one
func createTestSite(t *testing.T, db *DB, name string) *Site {
	t.Helper()

	site := &Site{
		Name:        name,
		Line:        "Line 1",
		Description: strPtr("Test Description"),
		Contact:     strPtr("qa@example.com"),
	}

	err := db.CreateSite(site)
	if err != nil {
		t.Fatalf("CreateSite failed: %v", err)
	}

	return site
}

// createTestCharacteristic creates a site and a characteristic charting
// subgroups of the given nominal size under it
func createTestCharacteristic(t *testing.T, db *DB, name string, nominalN int) *Characteristic {
	t.Helper()

	site := createTestSite(t, db, name+" Site")

	char := &Characteristic{
		SiteID:              site.ID,
		Name:                name,
		Units:               "mm",
		NominalSubgroupSize: nominalN,
		ChartMode:           "nominal",
	}

	err := db.CreateCharacteristic(char)
	if err != nil {
		t.Fatalf("CreateCharacteristic failed: %v", err)
	}

	return char
}

// createTestCharacteristicWithSpecs is like createTestCharacteristic but
// with specification limits set for capability tests
func createTestCharacteristicWithSpecs(t *testing.T, db *DB, name string, nominalN int, usl, lsl float64) *Characteristic {
	t.Helper()

	site := createTestSite(t, db, name+" Site")

	char := &Characteristic{
		SiteID:              site.ID,
		Name:                name,
		Units:               "mm",
		NominalSubgroupSize: nominalN,
		ChartMode:           "nominal",
		USL:                 floatPtr(usl),
		LSL:                 floatPtr(lsl),
		Target:              floatPtr((usl + lsl) / 2),
	}

	err := db.CreateCharacteristic(char)
	if err != nil {
		t.Fatalf("CreateCharacteristic failed: %v", err)
	}

	return char
}

// seedSubgroupSamples inserts one sample per value group, spaced one
// minute apart in recording order. Returns the created sample IDs.
func seedSubgroupSamples(t *testing.T, db *DB, characteristicID int64, groups [][]float64) []int64 {
	t.Helper()

	base := 1700000000.0
	ids := make([]int64, 0, len(groups))
	for i, values := range groups {
		measurements := make([]Measurement, len(values))
		for j, v := range values {
			measurements[j] = Measurement{Position: j + 1, Value: v}
		}
		sample := &Sample{
			CharacteristicID: characteristicID,
			RecordedAt:       base + float64(i)*60,
			Source:           "test",
			Measurements:     measurements,
		}
		if err := db.CreateSample(sample); err != nil {
			t.Fatalf("CreateSample failed for group %d: %v", i, err)
		}
		ids = append(ids, sample.ID)
	}
	return ids
}
