package ingest

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/monitoring"
	"github.com/banshee-data/process.report/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// setupIngestDB creates a database with one site and one characteristic
// and returns the characteristic ID for readings to land on.
func setupIngestDB(t *testing.T) (*db.DB, int64) {
	t.Helper()

	database, err := db.NewDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	site := &db.Site{Name: "Grind Cell", Line: "Line 1"}
	if err := database.CreateSite(site); err != nil {
		t.Fatalf("CreateSite failed: %v", err)
	}

	char := &db.Characteristic{
		SiteID:              site.ID,
		Name:                "Journal OD",
		Units:               "mm",
		NominalSubgroupSize: 3,
		ChartMode:           "nominal",
	}
	if err := database.CreateCharacteristic(char); err != nil {
		t.Fatalf("CreateCharacteristic failed: %v", err)
	}

	return database, char.ID
}

func sampleCount(t *testing.T, database *db.DB, characteristicID int64) int {
	t.Helper()
	samples, err := database.ListSamples(characteristicID, 0)
	if err != nil {
		t.Fatalf("ListSamples failed: %v", err)
	}
	return len(samples)
}

func TestBuilder_FlushAtNominalSize(t *testing.T) {
	database, charID := setupIngestDB(t)
	b := NewBuilder(database, nil, 3, 0)

	for _, v := range []float64{10.001, 9.998, 10.002} {
		if err := b.Add(charID, v); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	samples, err := database.ListSamples(charID, 0)
	if err != nil {
		t.Fatalf("ListSamples failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("Expected 1 sample after nominal-size flush, got %d", len(samples))
	}
	if samples[0].Source != "serial" {
		t.Errorf("Expected source 'serial', got %q", samples[0].Source)
	}

	full, err := database.GetSample(samples[0].ID)
	if err != nil {
		t.Fatalf("GetSample failed: %v", err)
	}
	if len(full.Measurements) != 3 {
		t.Fatalf("Expected 3 measurements, got %d", len(full.Measurements))
	}
	want := []float64{10.001, 9.998, 10.002}
	for i, m := range full.Measurements {
		if m.Value != want[i] {
			t.Errorf("Measurement %d: expected %v, got %v", i, want[i], m.Value)
		}
		if m.Position != i+1 {
			t.Errorf("Measurement %d: expected position %d, got %d", i, i+1, m.Position)
		}
	}

	if got := b.PendingCount(charID); got != 0 {
		t.Errorf("Expected empty pending group after flush, got %d readings", got)
	}
}

func TestBuilder_PartialGroupStaysPending(t *testing.T) {
	database, charID := setupIngestDB(t)
	b := NewBuilder(database, nil, 5, 0)

	if err := b.Add(charID, 10.0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := b.Add(charID, 10.1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if got := b.PendingCount(charID); got != 2 {
		t.Errorf("Expected 2 pending readings, got %d", got)
	}
	if got := sampleCount(t, database, charID); got != 0 {
		t.Errorf("Expected no stored samples yet, got %d", got)
	}
}

func TestBuilder_AddFlushesStaleGroupFirst(t *testing.T) {
	database, charID := setupIngestDB(t)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	b := NewBuilder(database, clock, 5, 2*time.Minute)

	if err := b.Add(charID, 10.0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := b.Add(charID, 10.1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// The operator walks away. The next reading arrives well past the
	// gap timeout and must start a fresh subgroup.
	clock.Advance(3 * time.Minute)
	if err := b.Add(charID, 10.2); err != nil {
		t.Fatalf("Add after gap failed: %v", err)
	}

	samples, err := database.ListSamples(charID, 0)
	if err != nil {
		t.Fatalf("ListSamples failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("Expected the stale group flushed as 1 sample, got %d", len(samples))
	}

	full, err := database.GetSample(samples[0].ID)
	if err != nil {
		t.Fatalf("GetSample failed: %v", err)
	}
	if len(full.Measurements) != 2 {
		t.Errorf("Expected 2 measurements in the stale group, got %d", len(full.Measurements))
	}
	if got := b.PendingCount(charID); got != 1 {
		t.Errorf("Expected the late reading pending alone, got %d", got)
	}
}

func TestBuilder_FlushStale(t *testing.T) {
	database, charID := setupIngestDB(t)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	b := NewBuilder(database, clock, 5, time.Minute)

	if err := b.Add(charID, 10.0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Within the gap nothing flushes.
	clock.Advance(30 * time.Second)
	if err := b.FlushStale(); err != nil {
		t.Fatalf("FlushStale failed: %v", err)
	}
	if got := sampleCount(t, database, charID); got != 0 {
		t.Errorf("Expected no samples before the gap elapses, got %d", got)
	}

	clock.Advance(45 * time.Second)
	if err := b.FlushStale(); err != nil {
		t.Fatalf("FlushStale failed: %v", err)
	}
	if got := sampleCount(t, database, charID); got != 1 {
		t.Errorf("Expected 1 sample after the gap elapses, got %d", got)
	}
	if got := b.PendingCount(charID); got != 0 {
		t.Errorf("Expected pending group cleared, got %d readings", got)
	}
}

func TestBuilder_FlushStaleDisabledWithoutGap(t *testing.T) {
	database, charID := setupIngestDB(t)
	b := NewBuilder(database, nil, 5, 0)

	if err := b.Add(charID, 10.0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := b.FlushStale(); err != nil {
		t.Fatalf("FlushStale failed: %v", err)
	}
	if got := b.PendingCount(charID); got != 1 {
		t.Errorf("Expected pending reading untouched with no gap timeout, got %d", got)
	}
}

func TestBuilder_FlushAll(t *testing.T) {
	database, charID := setupIngestDB(t)

	first, err := database.GetCharacteristic(charID)
	if err != nil {
		t.Fatalf("GetCharacteristic failed: %v", err)
	}
	char2 := &db.Characteristic{
		SiteID:              first.SiteID,
		Name:                "Journal Length",
		Units:               "mm",
		NominalSubgroupSize: 3,
		ChartMode:           "nominal",
	}
	if err := database.CreateCharacteristic(char2); err != nil {
		t.Fatalf("CreateCharacteristic failed: %v", err)
	}

	b := NewBuilder(database, nil, 5, 0)
	if err := b.Add(charID, 10.0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := b.Add(charID, 10.1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := b.Add(char2.ID, 55.2); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := b.FlushAll(); err != nil {
		t.Fatalf("FlushAll failed: %v", err)
	}

	if got := sampleCount(t, database, charID); got != 1 {
		t.Errorf("Expected 1 sample for first characteristic, got %d", got)
	}
	if got := sampleCount(t, database, char2.ID); got != 1 {
		t.Errorf("Expected 1 sample for second characteristic, got %d", got)
	}
	if got := b.PendingCount(charID); got != 0 {
		t.Errorf("Expected pending cleared, got %d", got)
	}
	if got := b.PendingCount(char2.ID); got != 0 {
		t.Errorf("Expected pending cleared, got %d", got)
	}
}

func TestBuilder_RecordedAtIsFirstReadingTime(t *testing.T) {
	database, charID := setupIngestDB(t)
	start := time.Unix(1700000000, 0)
	clock := timeutil.NewMockClock(start)
	b := NewBuilder(database, clock, 3, 0)

	if err := b.Add(charID, 10.0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	clock.Advance(20 * time.Second)
	if err := b.Add(charID, 10.1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	clock.Advance(20 * time.Second)
	if err := b.Add(charID, 10.2); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	samples, err := database.ListSamples(charID, 0)
	if err != nil {
		t.Fatalf("ListSamples failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(samples))
	}
	if math.Abs(samples[0].RecordedAt-1700000000.0) > 1e-6 {
		t.Errorf("Expected recorded_at 1700000000.0 (first reading), got %v", samples[0].RecordedAt)
	}
}

func TestBuilder_NominalSizeClamped(t *testing.T) {
	database, charID := setupIngestDB(t)
	b := NewBuilder(database, nil, 0, 0)

	if err := b.Add(charID, 10.0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := b.Add(charID, 10.1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Size 0 clamps to 1, so every reading flushes as its own sample.
	if got := sampleCount(t, database, charID); got != 2 {
		t.Errorf("Expected 2 single-reading samples, got %d", got)
	}
}

func TestBuilder_RunFlushesPendingOnCancel(t *testing.T) {
	database, charID := setupIngestDB(t)
	b := NewBuilder(database, nil, 5, time.Hour)

	if err := b.Add(charID, 10.0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := b.Add(charID, 10.1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := sampleCount(t, database, charID); got != 1 {
		t.Errorf("Expected pending subgroup flushed at shutdown, got %d samples", got)
	}
}

func TestBuilder_RunFlushesStaleOnTicker(t *testing.T) {
	database, charID := setupIngestDB(t)
	b := NewBuilder(database, timeutil.RealClock{}, 5, 25*time.Millisecond)

	if err := b.Add(charID, 10.0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sampleCount(t, database, charID) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := sampleCount(t, database, charID); got != 1 {
		t.Fatalf("Expected the ticker to flush the stale subgroup, got %d samples", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
