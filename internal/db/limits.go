package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/banshee-data/process.report/internal/spc"
)

// StoredLimits is one control limit revision for a characteristic.
// Revisions are append-only: recalculating limits inserts a new revision
// and flips is_current, so past violations keep an audit trail of the
// limits they were judged against.
type StoredLimits struct {
	ID               int64   `json:"id"`
	CharacteristicID int64   `json:"characteristic_id"`
	Revision         int     `json:"revision"`
	ChartMode        string  `json:"chart_mode"`
	ChartFamily      string  `json:"chart_family"`
	CenterLine       float64 `json:"center_line"`
	UCL              float64 `json:"ucl"`
	LCL              float64 `json:"lcl"`
	SigmaEstimate    float64 `json:"sigma_estimate"`
	NominalN         int     `json:"nominal_n"`
	BasisN           int     `json:"basis_n"`
	IsCurrent        bool    `json:"is_current"`
	CreatedAt        int64   `json:"created_at"`
}

// Limits converts the stored row back into engine form.
func (sl *StoredLimits) Limits() (spc.ControlLimits, error) {
	mode, err := spc.ParseMode(sl.ChartMode)
	if err != nil {
		return spc.ControlLimits{}, fmt.Errorf("stored limits %d: %w", sl.ID, err)
	}
	family, err := spc.ParseFamily(sl.ChartFamily)
	if err != nil {
		return spc.ControlLimits{}, fmt.Errorf("stored limits %d: %w", sl.ID, err)
	}
	return spc.ControlLimits{
		CenterLine:    sl.CenterLine,
		UCL:           sl.UCL,
		LCL:           sl.LCL,
		SigmaEstimate: sl.SigmaEstimate,
		Method:        family,
		Mode:          mode,
		NominalN:      sl.NominalN,
		BasisN:        sl.BasisN,
	}, nil
}

// InsertControlLimits stores limits as the next revision for the
// characteristic and marks it current.
func (db *DB) InsertControlLimits(ctx context.Context, characteristicID int64, limits spc.ControlLimits) (*StoredLimits, error) {
	tx, err := db.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed/rolled back
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	var revision int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision), 0) + 1 FROM control_limits WHERE characteristic_id = ?`,
		characteristicID,
	).Scan(&revision)
	if err != nil {
		return nil, fmt.Errorf("failed to determine next revision: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE control_limits SET is_current = 0 WHERE characteristic_id = ?`,
		characteristicID,
	); err != nil {
		return nil, fmt.Errorf("failed to clear current limits: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO control_limits (
			characteristic_id, revision, chart_mode, chart_family,
			center_line, ucl, lcl, sigma_estimate, nominal_n, basis_n, is_current
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		characteristicID,
		revision,
		limits.Mode.String(),
		limits.Method.String(),
		limits.CenterLine,
		limits.UCL,
		limits.LCL,
		limits.SigmaEstimate,
		limits.NominalN,
		limits.BasisN,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert control limits: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit control limits: %w", err)
	}

	return &StoredLimits{
		ID:               id,
		CharacteristicID: characteristicID,
		Revision:         revision,
		ChartMode:        limits.Mode.String(),
		ChartFamily:      limits.Method.String(),
		CenterLine:       limits.CenterLine,
		UCL:              limits.UCL,
		LCL:              limits.LCL,
		SigmaEstimate:    limits.SigmaEstimate,
		NominalN:         limits.NominalN,
		BasisN:           limits.BasisN,
		IsCurrent:        true,
	}, nil
}

const limitsColumns = `
	id, characteristic_id, revision, chart_mode, chart_family,
	center_line, ucl, lcl, sigma_estimate, nominal_n, basis_n,
	is_current, created_at
`

func scanStoredLimits(row rowScanner) (*StoredLimits, error) {
	var sl StoredLimits
	var isCurrentInt int
	err := row.Scan(
		&sl.ID,
		&sl.CharacteristicID,
		&sl.Revision,
		&sl.ChartMode,
		&sl.ChartFamily,
		&sl.CenterLine,
		&sl.UCL,
		&sl.LCL,
		&sl.SigmaEstimate,
		&sl.NominalN,
		&sl.BasisN,
		&isCurrentInt,
		&sl.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sl.IsCurrent = isCurrentInt == 1
	return &sl, nil
}

// GetCurrentLimits returns the current limit revision for a
// characteristic, or nil when none has been stored yet.
func (db *DB) GetCurrentLimits(ctx context.Context, characteristicID int64) (*StoredLimits, error) {
	query := `SELECT ` + limitsColumns + ` FROM control_limits WHERE characteristic_id = ? AND is_current = 1`

	sl, err := scanStoredLimits(db.DB.QueryRowContext(ctx, query, characteristicID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current limits: %w", err)
	}
	return sl, nil
}

// GetLimitsRevision returns a specific limit revision for a characteristic.
func (db *DB) GetLimitsRevision(ctx context.Context, characteristicID int64, revision int) (*StoredLimits, error) {
	query := `SELECT ` + limitsColumns + ` FROM control_limits WHERE characteristic_id = ? AND revision = ?`

	sl, err := scanStoredLimits(db.DB.QueryRowContext(ctx, query, characteristicID, revision))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("limits revision not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get limits revision: %w", err)
	}
	return sl, nil
}

// ListLimitRevisions returns all limit revisions for a characteristic,
// newest first.
func (db *DB) ListLimitRevisions(ctx context.Context, characteristicID int64) ([]StoredLimits, error) {
	query := `SELECT ` + limitsColumns + ` FROM control_limits WHERE characteristic_id = ? ORDER BY revision DESC`

	rows, err := db.DB.QueryContext(ctx, query, characteristicID)
	if err != nil {
		return nil, fmt.Errorf("failed to query limit revisions: %w", err)
	}
	defer rows.Close()

	var revisions []StoredLimits
	for rows.Next() {
		sl, err := scanStoredLimits(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan limit revision: %w", err)
		}
		revisions = append(revisions, *sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating limit revisions: %w", err)
	}

	return revisions, nil
}
