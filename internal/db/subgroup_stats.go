package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/banshee-data/process.report/internal/spc"
)

// StoredSubgroupStat is one cached row of per-sample subgroup
// statistics. The worker rewrites the cache on every evaluation run;
// readers treat it as a snapshot of the last run, not live data.
type StoredSubgroupStat struct {
	SampleID         int64   `json:"sample_id"`
	CharacteristicID int64   `json:"characteristic_id"`
	Mean             float64 `json:"mean"`
	Range            float64 `json:"range"`
	StdDev           float64 `json:"stddev"`
	N                int     `json:"n"`
	RecordedAt       float64 `json:"recorded_at"`
	ComputedAt       int64   `json:"computed_at"`
}

// ReplaceSubgroupStats rewrites the cached statistics for the evaluated
// samples in one transaction. Rows for samples excluded since the last
// run are swept out; rows for samples outside the evaluated window are
// left alone.
func (db *DB) ReplaceSubgroupStats(ctx context.Context, characteristicID int64, stats []spc.SubgroupStat) error {
	tx, err := db.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed/rolled back
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subgroup_stats
		 WHERE characteristic_id = ?
		   AND sample_id IN (SELECT id FROM samples WHERE characteristic_id = ? AND excluded = 1)`,
		characteristicID, characteristicID,
	); err != nil {
		return fmt.Errorf("failed to sweep excluded subgroup stats: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO subgroup_stats
		 (sample_id, characteristic_id, mean, subgroup_range, subgroup_stddev, subgroup_n, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, UNIXEPOCH())`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare subgroup stat insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range stats {
		if _, err := stmt.ExecContext(ctx,
			s.SampleID, characteristicID, s.Mean, s.Range, s.StdDev, s.N,
		); err != nil {
			return fmt.Errorf("failed to insert subgroup stat for sample %d: %w", s.SampleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subgroup stats: %w", err)
	}
	return nil
}

// GetSubgroupStats returns cached statistics for a characteristic in
// recording order. window limits the result to the most recent samples
// (0 = all).
func (db *DB) GetSubgroupStats(ctx context.Context, characteristicID int64, window int) ([]StoredSubgroupStat, error) {
	if window <= 0 {
		window = -1 // SQLite: negative LIMIT means no limit
	}

	query := `
		SELECT ss.sample_id, ss.characteristic_id, ss.mean, ss.subgroup_range,
		       ss.subgroup_stddev, ss.subgroup_n, s.recorded_at, ss.computed_at
		FROM subgroup_stats ss
		JOIN (
			SELECT id, recorded_at FROM samples
			WHERE characteristic_id = ? AND excluded = 0
			ORDER BY recorded_at DESC, id DESC
			LIMIT ?
		) s ON s.id = ss.sample_id
		ORDER BY s.recorded_at ASC, s.id ASC
	`

	rows, err := db.DB.QueryContext(ctx, query, characteristicID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to query subgroup stats: %w", err)
	}
	defer rows.Close()

	var stats []StoredSubgroupStat
	for rows.Next() {
		var s StoredSubgroupStat
		if err := rows.Scan(&s.SampleID, &s.CharacteristicID, &s.Mean, &s.Range, &s.StdDev, &s.N, &s.RecordedAt, &s.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subgroup stat: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subgroup stats: %w", err)
	}

	return stats, nil
}
