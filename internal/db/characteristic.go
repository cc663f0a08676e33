package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/process.report/internal/spc"
	"github.com/banshee-data/process.report/internal/units"
)

// Characteristic represents one measured dimension on a site, together
// with its charting configuration and optional specification limits.
// ChartFamily may be nil, in which case the family recommended for the
// nominal subgroup size is used.
type Characteristic struct {
	ID                  int64     `json:"id"`
	SiteID              int64     `json:"site_id"`
	Name                string    `json:"name"`
	Units               string    `json:"units"`
	NominalSubgroupSize int       `json:"nominal_subgroup_size"`
	ChartMode           string    `json:"chart_mode"`
	ChartFamily         *string   `json:"chart_family"`
	USL                 *float64  `json:"usl"`
	LSL                 *float64  `json:"lsl"`
	Target              *float64  `json:"target"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Mode parses the configured chart mode.
func (c *Characteristic) Mode() (spc.Mode, error) {
	return spc.ParseMode(c.ChartMode)
}

// Family returns the configured chart family, or the family recommended
// for the nominal subgroup size when none is configured.
func (c *Characteristic) Family() (spc.ChartFamily, error) {
	if c.ChartFamily == nil || *c.ChartFamily == "" {
		return spc.RecommendedFamily(c.NominalSubgroupSize), nil
	}
	return spc.ParseFamily(*c.ChartFamily)
}

// FamilyLabel returns the effective chart family name for display. A
// stored but unparseable family is shown raw rather than hidden.
func (c *Characteristic) FamilyLabel() string {
	f, err := c.Family()
	if err != nil {
		return *c.ChartFamily
	}
	return f.String()
}

// SpecLimits returns the characteristic's specification limits for
// capability calculations.
func (c *Characteristic) SpecLimits() spc.SpecLimits {
	return spc.SpecLimits{USL: c.USL, LSL: c.LSL, Target: c.Target}
}

// validateCharacteristic rejects configurations the engine cannot chart.
func validateCharacteristic(c *Characteristic) error {
	if c.NominalSubgroupSize < 1 {
		return fmt.Errorf("nominal subgroup size must be at least 1, got %d", c.NominalSubgroupSize)
	}
	if !units.IsValid(c.Units) {
		return fmt.Errorf("invalid units %q (valid: %s)", c.Units, units.GetValidUnitsString())
	}
	if _, err := c.Mode(); err != nil {
		return fmt.Errorf("invalid chart mode %q: %w", c.ChartMode, err)
	}
	if _, err := c.Family(); err != nil {
		return fmt.Errorf("invalid chart family %q: %w", *c.ChartFamily, err)
	}
	return nil
}

// CreateCharacteristic creates a new characteristic in the database
func (db *DB) CreateCharacteristic(c *Characteristic) error {
	if err := validateCharacteristic(c); err != nil {
		return err
	}

	query := `
		INSERT INTO characteristics (
			site_id, name, units, nominal_subgroup_size,
			chart_mode, chart_family, usl, lsl, target
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.DB.Exec(
		query,
		c.SiteID,
		c.Name,
		c.Units,
		c.NominalSubgroupSize,
		c.ChartMode,
		c.ChartFamily,
		c.USL,
		c.LSL,
		c.Target,
	)
	if err != nil {
		return fmt.Errorf("failed to create characteristic: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}

	c.ID = id
	return nil
}

const characteristicColumns = `
	id, site_id, name, units, nominal_subgroup_size,
	chart_mode, chart_family, usl, lsl, target,
	created_at, updated_at
`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCharacteristic(row rowScanner) (*Characteristic, error) {
	var c Characteristic
	var createdAtUnix, updatedAtUnix int64

	err := row.Scan(
		&c.ID,
		&c.SiteID,
		&c.Name,
		&c.Units,
		&c.NominalSubgroupSize,
		&c.ChartMode,
		&c.ChartFamily,
		&c.USL,
		&c.LSL,
		&c.Target,
		&createdAtUnix,
		&updatedAtUnix,
	)
	if err != nil {
		return nil, err
	}

	c.CreatedAt = time.Unix(createdAtUnix, 0)
	c.UpdatedAt = time.Unix(updatedAtUnix, 0)
	return &c, nil
}

// GetCharacteristic retrieves a characteristic by ID
func (db *DB) GetCharacteristic(id int64) (*Characteristic, error) {
	query := `SELECT ` + characteristicColumns + ` FROM characteristics WHERE id = ?`

	c, err := scanCharacteristic(db.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("characteristic not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get characteristic: %w", err)
	}

	return c, nil
}

// GetCharacteristicsBySite retrieves all characteristics for a site
func (db *DB) GetCharacteristicsBySite(siteID int64) ([]Characteristic, error) {
	query := `SELECT ` + characteristicColumns + ` FROM characteristics WHERE site_id = ? ORDER BY name ASC`

	rows, err := db.DB.Query(query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query characteristics: %w", err)
	}
	defer rows.Close()

	return collectCharacteristics(rows)
}

// GetAllCharacteristics retrieves all characteristics from the database
func (db *DB) GetAllCharacteristics() ([]Characteristic, error) {
	query := `SELECT ` + characteristicColumns + ` FROM characteristics ORDER BY site_id ASC, name ASC`

	rows, err := db.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query characteristics: %w", err)
	}
	defer rows.Close()

	return collectCharacteristics(rows)
}

func collectCharacteristics(rows *sql.Rows) ([]Characteristic, error) {
	var characteristics []Characteristic
	for rows.Next() {
		c, err := scanCharacteristic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan characteristic: %w", err)
		}
		characteristics = append(characteristics, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating characteristics: %w", err)
	}

	return characteristics, nil
}

// UpdateCharacteristic updates an existing characteristic in the database
func (db *DB) UpdateCharacteristic(c *Characteristic) error {
	if err := validateCharacteristic(c); err != nil {
		return err
	}

	query := `
		UPDATE characteristics SET
			site_id = ?,
			name = ?,
			units = ?,
			nominal_subgroup_size = ?,
			chart_mode = ?,
			chart_family = ?,
			usl = ?,
			lsl = ?,
			target = ?,
			updated_at = UNIXEPOCH()
		WHERE id = ?
	`

	result, err := db.DB.Exec(
		query,
		c.SiteID,
		c.Name,
		c.Units,
		c.NominalSubgroupSize,
		c.ChartMode,
		c.ChartFamily,
		c.USL,
		c.LSL,
		c.Target,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update characteristic: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("characteristic not found")
	}

	return nil
}

// DeleteCharacteristic deletes a characteristic from the database
func (db *DB) DeleteCharacteristic(id int64) error {
	query := `DELETE FROM characteristics WHERE id = ?`

	result, err := db.DB.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete characteristic: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("characteristic not found")
	}

	return nil
}
