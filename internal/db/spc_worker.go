package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/process.report/internal/monitoring"
	"github.com/banshee-data/process.report/internal/spc"
)

// SPCWorker periodically re-evaluates control charts for every
// characteristic: it loads the recent subgroup history, refreshes the
// subgroup statistics cache, reuses the current control limits
// (estimating a first revision when none exist), runs the rule engine
// and replaces the stored violations with the findings. Designed to run
// every minute over a rolling sample window.
type SPCWorker struct {
	DB *DB
	// HistoryWindow is the number of most recent samples evaluated per
	// characteristic (0 = all samples).
	HistoryWindow int
	// MinSubgroupN drops subgroups with fewer usable measurements from
	// limit estimation. Short subgroups are still charted.
	MinSubgroupN int
	Interval     time.Duration // how often to run (e.g., 60s)
	StopChan     chan struct{}
}

func NewSPCWorker(db *DB, historyWindow, minSubgroupN int) *SPCWorker {
	return &SPCWorker{
		DB:            db,
		HistoryWindow: historyWindow,
		MinSubgroupN:  minSubgroupN,
		Interval:      time.Minute,
		StopChan:      make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *SPCWorker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.RunOnce(context.Background()); err != nil {
					monitoring.Logf("SPC worker run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *SPCWorker) Stop() {
	close(w.StopChan)
}

// EvaluationResult summarises one charting pass over a characteristic.
type EvaluationResult struct {
	CharacteristicID int64 `json:"characteristic_id"`
	Subgroups        int   `json:"subgroups"`
	Violations       int   `json:"violations"`
	LimitsRevision   int   `json:"limits_revision"`
	// Estimated is true when this pass stored a fresh limits revision
	// instead of reusing the current one.
	Estimated bool `json:"estimated"`
}

// RunOnce evaluates every characteristic over the configured history
// window. Characteristics that fail evaluation are logged and skipped so
// one bad characteristic cannot stall the rest.
func (w *SPCWorker) RunOnce(ctx context.Context) error {
	return w.runAll(ctx, w.HistoryWindow)
}

// RunFullHistory evaluates every characteristic over its entire sample
// history, ignoring the configured window.
func (w *SPCWorker) RunFullHistory(ctx context.Context) error {
	return w.runAll(ctx, 0)
}

func (w *SPCWorker) runAll(ctx context.Context, window int) error {
	chars, err := w.DB.GetAllCharacteristics()
	if err != nil {
		return fmt.Errorf("failed to list characteristics: %w", err)
	}

	for _, c := range chars {
		_, err := w.EvaluateCharacteristic(ctx, c.ID, window)
		if errors.Is(err, spc.ErrInsufficientHistory) {
			monitoring.Logf("SPC worker: characteristic %d (%s) skipped: %v", c.ID, c.Name, err)
			continue
		}
		if err != nil {
			monitoring.Logf("SPC worker: characteristic %d (%s): %v", c.ID, c.Name, err)
		}
	}

	return nil
}

// EvaluateCharacteristic runs one charting pass for a single
// characteristic: load history, ensure limits, classify the points, run
// the rules and replace the stored violations. A window of 0 loads all
// samples. When no limits revision exists yet one is estimated from the
// loaded history and stored before evaluation.
func (w *SPCWorker) EvaluateCharacteristic(ctx context.Context, characteristicID int64, window int) (*EvaluationResult, error) {
	char, err := w.DB.GetCharacteristic(characteristicID)
	if err != nil {
		return nil, err
	}

	history, err := w.loadHistory(ctx, characteristicID, window)
	if err != nil {
		return nil, err
	}

	stored, err := w.DB.GetCurrentLimits(ctx, characteristicID)
	if err != nil {
		return nil, err
	}
	estimated := false
	if stored == nil {
		stored, err = w.estimateRevision(ctx, char, history)
		if err != nil {
			return nil, err
		}
		estimated = true
		monitoring.Logf("SPC worker: characteristic %d (%s): estimated limits revision %d from %d subgroups",
			char.ID, char.Name, stored.Revision, stored.BasisN)
	}

	result, err := w.evaluateAgainst(ctx, characteristicID, history, stored)
	if err != nil {
		return nil, err
	}
	result.Estimated = estimated
	return result, nil
}

// RecalculateLimits estimates a fresh limits revision for the
// characteristic from its current history window, marks it current, and
// re-evaluates the chart against it. Prior revisions stay on record so
// old violations keep pointing at the limits they were flagged under.
func (w *SPCWorker) RecalculateLimits(ctx context.Context, characteristicID int64) (*EvaluationResult, error) {
	char, err := w.DB.GetCharacteristic(characteristicID)
	if err != nil {
		return nil, err
	}

	history, err := w.loadHistory(ctx, characteristicID, w.HistoryWindow)
	if err != nil {
		return nil, err
	}

	stored, err := w.estimateRevision(ctx, char, history)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("SPC worker: characteristic %d (%s): recalculated limits revision %d from %d subgroups",
		char.ID, char.Name, stored.Revision, stored.BasisN)

	result, err := w.evaluateAgainst(ctx, characteristicID, history, stored)
	if err != nil {
		return nil, err
	}
	result.Estimated = true
	return result, nil
}

// loadHistory loads the charting window and reduces each sample to its
// subgroup statistics. Samples whose measurements are all excluded drop
// out of the sequence; the surrounding points close over the gap.
func (w *SPCWorker) loadHistory(ctx context.Context, characteristicID int64, window int) ([]spc.SubgroupStat, error) {
	samples, err := w.DB.LoadSubgroupHistory(ctx, characteristicID, window)
	if err != nil {
		return nil, err
	}

	history := make([]spc.SubgroupStat, 0, len(samples))
	for _, s := range samples {
		stat, err := spc.ComputeSubgroupStat(s)
		if err != nil {
			monitoring.Logf("SPC worker: characteristic %d: dropping sample %d: %v", characteristicID, s.ID, err)
			continue
		}
		history = append(history, stat)
	}
	return history, nil
}

func (w *SPCWorker) estimateRevision(ctx context.Context, char *Characteristic, history []spc.SubgroupStat) (*StoredLimits, error) {
	mode, err := char.Mode()
	if err != nil {
		return nil, err
	}
	family, err := char.Family()
	if err != nil {
		return nil, err
	}

	limits, err := spc.EstimateLimits(history, spc.EstimateParams{
		NominalN:     char.NominalSubgroupSize,
		Mode:         mode,
		Family:       family,
		MinSubgroupN: w.MinSubgroupN,
	})
	if err != nil {
		return nil, err
	}

	return w.DB.InsertControlLimits(ctx, char.ID, limits)
}

func (w *SPCWorker) evaluateAgainst(ctx context.Context, characteristicID int64, history []spc.SubgroupStat, stored *StoredLimits) (*EvaluationResult, error) {
	limits, err := stored.Limits()
	if err != nil {
		return nil, err
	}

	if err := w.DB.ReplaceSubgroupStats(ctx, characteristicID, history); err != nil {
		return nil, err
	}

	points, err := spc.BuildPoints(history, limits)
	if err != nil {
		return nil, err
	}
	found := spc.Evaluate(points)

	if _, err := w.DB.ReplaceViolations(ctx, characteristicID, stored.Revision, found); err != nil {
		return nil, err
	}

	return &EvaluationResult{
		CharacteristicID: characteristicID,
		Subgroups:        len(history),
		Violations:       len(found),
		LimitsRevision:   stored.Revision,
	}, nil
}
