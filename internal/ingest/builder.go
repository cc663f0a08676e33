// Package ingest turns incoming gauge readings into stored samples. The
// subgroup builder accumulates individual readings into rational subgroups;
// the broker subscriber ingests complete subgroups published over MQTT.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/monitoring"
	"github.com/banshee-data/process.report/internal/timeutil"
)

// Builder accumulates serial gauge readings into rational subgroups, one
// pending group per characteristic. A group is written as a sample when it
// reaches the nominal subgroup size, or when the gap since its last reading
// exceeds the configured timeout (an operator walked away mid-subgroup, or
// a fixture produced fewer parts than usual). Undersized flushed groups are
// still valid samples; the chart layer handles variable subgroup sizes.
type Builder struct {
	db      *db.DB
	clock   timeutil.Clock
	nominal int
	gap     time.Duration

	mu      sync.Mutex
	pending map[int64]*pendingGroup
}

type pendingGroup struct {
	values    []float64
	startedAt time.Time
	lastAt    time.Time
}

// NewBuilder creates a subgroup builder writing to the given database.
// nominalSize is clamped to at least 1; gapTimeout at or below zero
// disables time-based flushing.
func NewBuilder(database *db.DB, clock timeutil.Clock, nominalSize int, gapTimeout time.Duration) *Builder {
	if nominalSize < 1 {
		nominalSize = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Builder{
		db:      database,
		clock:   clock,
		nominal: nominalSize,
		gap:     gapTimeout,
		pending: make(map[int64]*pendingGroup),
	}
}

// Add appends one reading to the pending subgroup for the characteristic.
// If the pending group has gone stale it is flushed first, so the new
// reading starts a fresh subgroup rather than joining one taken long ago.
// A group that reaches the nominal size is flushed immediately.
func (b *Builder) Add(characteristicID int64, value float64) error {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	group := b.pending[characteristicID]
	if group != nil && b.gap > 0 && now.Sub(group.lastAt) > b.gap {
		if err := b.flushLocked(characteristicID, group); err != nil {
			return fmt.Errorf("failed to flush stale subgroup: %w", err)
		}
		group = nil
	}

	if group == nil {
		group = &pendingGroup{startedAt: now}
		b.pending[characteristicID] = group
	}

	group.values = append(group.values, value)
	group.lastAt = now

	if len(group.values) >= b.nominal {
		if err := b.flushLocked(characteristicID, group); err != nil {
			return fmt.Errorf("failed to flush completed subgroup: %w", err)
		}
	}
	return nil
}

// PendingCount returns the number of readings waiting in the pending
// subgroup for the characteristic.
func (b *Builder) PendingCount(characteristicID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if group := b.pending[characteristicID]; group != nil {
		return len(group.values)
	}
	return 0
}

// FlushStale writes out every pending subgroup whose last reading is older
// than the gap timeout. Called periodically by Run and safe to call
// directly.
func (b *Builder) FlushStale() error {
	if b.gap <= 0 {
		return nil
	}
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, group := range b.pending {
		if now.Sub(group.lastAt) > b.gap {
			if err := b.flushLocked(id, group); err != nil {
				return fmt.Errorf("failed to flush stale subgroup for characteristic %d: %w", id, err)
			}
		}
	}
	return nil
}

// FlushAll writes out every pending subgroup regardless of age. Used at
// shutdown so partial subgroups are not lost.
func (b *Builder) FlushAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, group := range b.pending {
		if err := b.flushLocked(id, group); err != nil {
			return fmt.Errorf("failed to flush subgroup for characteristic %d: %w", id, err)
		}
	}
	return nil
}

// flushLocked writes the group as a sample and removes it from pending.
// Caller must hold b.mu.
func (b *Builder) flushLocked(characteristicID int64, group *pendingGroup) error {
	if len(group.values) == 0 {
		delete(b.pending, characteristicID)
		return nil
	}

	sample := &db.Sample{
		CharacteristicID: characteristicID,
		RecordedAt:       float64(group.startedAt.UnixNano()) / 1e9,
		Source:           "serial",
		Measurements:     make([]db.Measurement, 0, len(group.values)),
	}
	for _, v := range group.values {
		sample.Measurements = append(sample.Measurements, db.Measurement{Value: v})
	}

	if err := b.db.CreateSample(sample); err != nil {
		return err
	}
	delete(b.pending, characteristicID)

	monitoring.Logf("Ingest: stored subgroup of %d reading(s) for characteristic %d (sample %d)",
		len(sample.Measurements), characteristicID, sample.ID)
	return nil
}

// Run flushes stale subgroups on a ticker until the context is cancelled,
// then flushes everything still pending. Intended to run as its own
// goroutine alongside the gauge monitor.
func (b *Builder) Run(ctx context.Context) error {
	if b.gap <= 0 {
		<-ctx.Done()
		return b.FlushAll()
	}

	ticker := b.clock.NewTicker(b.gap)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return b.FlushAll()
		case <-ticker.C():
			if err := b.FlushStale(); err != nil {
				monitoring.Logf("Ingest: stale flush failed: %v", err)
			}
		}
	}
}
