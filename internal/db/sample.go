package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/banshee-data/process.report/internal/spc"
)

// Sample represents one rational subgroup: a set of measurements taken
// together at a point in time. RecordedAt is unix seconds (subsecond
// precision preserved for gauge feeds).
type Sample struct {
	ID               int64         `json:"id"`
	CharacteristicID int64         `json:"characteristic_id"`
	SampleUID        string        `json:"sample_uid"`
	RecordedAt       float64       `json:"recorded_at"`
	Source           string        `json:"source"`
	Excluded         bool          `json:"excluded"`
	CreatedAt        int64         `json:"created_at"`
	Measurements     []Measurement `json:"measurements,omitempty"`
}

// Measurement is a single gauged value within a sample.
type Measurement struct {
	ID       int64   `json:"id"`
	SampleID int64   `json:"sample_id"`
	Position int     `json:"position"`
	Value    float64 `json:"value"`
	Excluded bool    `json:"excluded"`
}

// CreateSample inserts a sample and its measurements in one transaction.
// A sample UID is generated when the caller does not supply one, so
// replayed gauge feeds can carry their own UIDs for dedup.
func (db *DB) CreateSample(s *Sample) error {
	if len(s.Measurements) == 0 {
		return fmt.Errorf("sample must have at least one measurement")
	}
	if s.SampleUID == "" {
		s.SampleUID = uuid.NewString()
	}
	if s.Source == "" {
		s.Source = "manual"
	}

	tx, err := db.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed/rolled back
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	excludedInt := 0
	if s.Excluded {
		excludedInt = 1
	}

	result, err := tx.Exec(
		`INSERT INTO samples (characteristic_id, sample_uid, recorded_at, source, excluded)
		 VALUES (?, ?, ?, ?, ?)`,
		s.CharacteristicID, s.SampleUID, s.RecordedAt, s.Source, excludedInt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sample: %w", err)
	}

	sampleID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO measurements (sample_id, position, value, excluded) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare measurement insert: %w", err)
	}
	defer stmt.Close()

	for i := range s.Measurements {
		m := &s.Measurements[i]
		if m.Position == 0 {
			m.Position = i + 1
		}
		mExcluded := 0
		if m.Excluded {
			mExcluded = 1
		}
		res, err := stmt.Exec(sampleID, m.Position, m.Value, mExcluded)
		if err != nil {
			return fmt.Errorf("failed to insert measurement %d: %w", m.Position, err)
		}
		mID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get measurement insert ID: %w", err)
		}
		m.ID = mID
		m.SampleID = sampleID
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sample: %w", err)
	}

	s.ID = sampleID
	return nil
}

// GetSample retrieves a sample with its measurements by ID
func (db *DB) GetSample(id int64) (*Sample, error) {
	query := `
		SELECT id, characteristic_id, sample_uid, recorded_at, source, excluded, created_at
		FROM samples
		WHERE id = ?
	`

	var s Sample
	var excludedInt int
	err := db.DB.QueryRow(query, id).Scan(
		&s.ID,
		&s.CharacteristicID,
		&s.SampleUID,
		&s.RecordedAt,
		&s.Source,
		&excludedInt,
		&s.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sample not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sample: %w", err)
	}
	s.Excluded = excludedInt == 1

	rows, err := db.DB.Query(
		`SELECT id, sample_id, position, value, excluded
		 FROM measurements WHERE sample_id = ? ORDER BY position ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Measurement
		var mExcluded int
		if err := rows.Scan(&m.ID, &m.SampleID, &m.Position, &m.Value, &mExcluded); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.Excluded = mExcluded == 1
		s.Measurements = append(s.Measurements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating measurements: %w", err)
	}

	return &s, nil
}

// ListSamples returns the most recent samples for a characteristic,
// newest first, without their measurements. Pass limit <= 0 for all.
func (db *DB) ListSamples(characteristicID int64, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}

	query := `
		SELECT id, characteristic_id, sample_uid, recorded_at, source, excluded, created_at
		FROM samples
		WHERE characteristic_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`

	rows, err := db.DB.Query(query, characteristicID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var excludedInt int
		err := rows.Scan(
			&s.ID,
			&s.CharacteristicID,
			&s.SampleUID,
			&s.RecordedAt,
			&s.Source,
			&excludedInt,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		s.Excluded = excludedInt == 1
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating samples: %w", err)
	}

	return samples, nil
}

// ListSamplesWithMeasurements returns the most recent samples for a
// characteristic, newest first, with measurements attached. Pass
// limit <= 0 for all.
func (db *DB) ListSamplesWithMeasurements(characteristicID int64, limit int) ([]Sample, error) {
	samples, err := db.ListSamples(characteristicID, limit)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return samples, nil
	}

	index := make(map[int64]*Sample, len(samples))
	for i := range samples {
		index[samples[i].ID] = &samples[i]
	}

	rows, err := db.DB.Query(
		`SELECT m.id, m.sample_id, m.position, m.value, m.excluded
		 FROM measurements m
		 JOIN samples s ON s.id = m.sample_id
		 WHERE s.characteristic_id = ?
		 ORDER BY m.sample_id ASC, m.position ASC`,
		characteristicID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Measurement
		var mExcluded int
		if err := rows.Scan(&m.ID, &m.SampleID, &m.Position, &m.Value, &mExcluded); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.Excluded = mExcluded == 1
		if parent, ok := index[m.SampleID]; ok {
			parent.Measurements = append(parent.Measurements, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating measurements: %w", err)
	}

	return samples, nil
}

// CountSamples returns the number of non-excluded samples for a characteristic.
func (db *DB) CountSamples(characteristicID int64) (int, error) {
	var count int
	err := db.DB.QueryRow(
		`SELECT COUNT(*) FROM samples WHERE characteristic_id = ? AND excluded = 0`,
		characteristicID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return count, nil
}

// SetSampleExcluded marks a sample as excluded or re-includes it.
// Excluded samples are dropped from charting entirely, so rule streaks
// run across the gap they leave.
func (db *DB) SetSampleExcluded(id int64, excluded bool) error {
	excludedInt := 0
	if excluded {
		excludedInt = 1
	}

	result, err := db.DB.Exec(`UPDATE samples SET excluded = ? WHERE id = ?`, excludedInt, id)
	if err != nil {
		return fmt.Errorf("failed to update sample: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("sample not found")
	}
	return nil
}

// SetMeasurementExcluded marks a single measurement as excluded or
// re-includes it. The sample stays on the chart with its remaining
// usable measurements.
func (db *DB) SetMeasurementExcluded(id int64, excluded bool) error {
	excludedInt := 0
	if excluded {
		excludedInt = 1
	}

	result, err := db.DB.Exec(`UPDATE measurements SET excluded = ? WHERE id = ?`, excludedInt, id)
	if err != nil {
		return fmt.Errorf("failed to update measurement: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("measurement not found")
	}
	return nil
}

// LoadSubgroupHistory loads the newest `window` non-excluded samples for
// a characteristic as engine input, ordered oldest first. Pass window
// <= 0 for the full history. Measurement exclusion flags are carried
// through so the engine can drop individual values.
func (db *DB) LoadSubgroupHistory(ctx context.Context, characteristicID int64, window int) ([]spc.Sample, error) {
	if window <= 0 {
		window = -1 // SQLite: negative LIMIT means no limit
	}

	query := `
		SELECT s.id, m.value, m.excluded
		FROM (
			SELECT id, recorded_at FROM samples
			WHERE characteristic_id = ? AND excluded = 0
			ORDER BY recorded_at DESC, id DESC
			LIMIT ?
		) s
		JOIN measurements m ON m.sample_id = s.id
		ORDER BY s.recorded_at ASC, s.id ASC, m.position ASC
	`

	rows, err := db.DB.QueryContext(ctx, query, characteristicID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to query subgroup history: %w", err)
	}
	defer rows.Close()

	var samples []spc.Sample
	var current *spc.Sample
	for rows.Next() {
		var sampleID int64
		var value float64
		var excludedInt int
		if err := rows.Scan(&sampleID, &value, &excludedInt); err != nil {
			return nil, fmt.Errorf("failed to scan subgroup row: %w", err)
		}

		if current == nil || current.ID != sampleID {
			samples = append(samples, spc.Sample{ID: sampleID})
			current = &samples[len(samples)-1]
		}
		current.Measurements = append(current.Measurements, spc.Measurement{
			Value:    value,
			Excluded: excludedInt == 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subgroup history: %w", err)
	}

	return samples, nil
}
