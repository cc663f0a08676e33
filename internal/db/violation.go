package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/banshee-data/process.report/internal/spc"
)

// Violation is a stored rule violation. LimitsRevision records which
// limit revision the evaluation used, so acknowledged findings stay
// auditable after limits are recalculated.
type Violation struct {
	ID               int64  `json:"id"`
	CharacteristicID int64  `json:"characteristic_id"`
	Rule             int    `json:"rule"`
	SampleID         int64  `json:"sample_id"`
	Severity         string `json:"severity"`
	LimitsRevision   int    `json:"limits_revision"`
	Acknowledged     bool   `json:"acknowledged"`
	CreatedAt        int64  `json:"created_at"`
}

// ReplaceViolations replaces all stored violations for a characteristic
// with the engine's current findings in one transaction. Evaluation is
// deterministic over the same inputs, so delete-then-insert makes
// worker re-runs idempotent. Acknowledgements are preserved for any
// (rule, sample) pair that is still flagged.
func (db *DB) ReplaceViolations(ctx context.Context, characteristicID int64, limitsRevision int, found []spc.Violation) (int, error) {
	tx, err := db.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed/rolled back
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	// Remember which (rule, sample) pairs were acknowledged so the
	// flags survive the rewrite.
	type pair struct {
		rule     int
		sampleID int64
	}
	acked := make(map[pair]bool)

	rows, err := tx.QueryContext(ctx,
		`SELECT rule, sample_id FROM violations WHERE characteristic_id = ? AND acknowledged = 1`,
		characteristicID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to query acknowledged violations: %w", err)
	}
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.rule, &p.sampleID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan acknowledged violation: %w", err)
		}
		acked[p] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("error iterating acknowledged violations: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM violations WHERE characteristic_id = ?`,
		characteristicID,
	); err != nil {
		return 0, fmt.Errorf("failed to delete violations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO violations (characteristic_id, rule, sample_id, severity, limits_revision, acknowledged)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare violation insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range found {
		ackInt := 0
		if acked[pair{rule: v.Rule, sampleID: v.SampleID}] {
			ackInt = 1
		}
		if _, err := stmt.ExecContext(ctx,
			characteristicID, v.Rule, v.SampleID, v.Severity.String(), limitsRevision, ackInt,
		); err != nil {
			return 0, fmt.Errorf("failed to insert violation (rule %d, sample %d): %w", v.Rule, v.SampleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit violations: %w", err)
	}

	return len(found), nil
}

// ListViolations returns violations for a characteristic, newest sample
// first. With unacknowledgedOnly only open findings are returned.
func (db *DB) ListViolations(characteristicID int64, unacknowledgedOnly bool) ([]Violation, error) {
	query := `
		SELECT id, characteristic_id, rule, sample_id, severity, limits_revision, acknowledged, created_at
		FROM violations
		WHERE characteristic_id = ?
	`
	if unacknowledgedOnly {
		query += ` AND acknowledged = 0`
	}
	query += ` ORDER BY sample_id DESC, rule ASC`

	rows, err := db.DB.Query(query, characteristicID)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var violations []Violation
	for rows.Next() {
		var v Violation
		var ackInt int
		err := rows.Scan(
			&v.ID,
			&v.CharacteristicID,
			&v.Rule,
			&v.SampleID,
			&v.Severity,
			&v.LimitsRevision,
			&ackInt,
			&v.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		v.Acknowledged = ackInt == 1
		violations = append(violations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating violations: %w", err)
	}

	return violations, nil
}

// AcknowledgeViolation marks a violation as acknowledged. INFO level
// findings do not require acknowledgement but accept it.
func (db *DB) AcknowledgeViolation(id int64) error {
	result, err := db.DB.Exec(`UPDATE violations SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge violation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("violation not found")
	}
	return nil
}

// ViolationCounts returns per-severity counts for a characteristic.
func (db *DB) ViolationCounts(characteristicID int64) (map[string]int, error) {
	rows, err := db.DB.Query(
		`SELECT severity, COUNT(*) FROM violations WHERE characteristic_id = ? GROUP BY severity`,
		characteristicID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count violations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan violation count: %w", err)
		}
		counts[severity] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating violation counts: %w", err)
	}

	return counts, nil
}
