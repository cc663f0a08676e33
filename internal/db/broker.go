package db

import (
	"database/sql"
	"fmt"
)

// Broker represents an MQTT broker subscription used for networked
// gauge ingestion. Topic is the subscription filter; wildcards are
// allowed.
type Broker struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	URL       string  `json:"url"`
	Topic     string  `json:"topic"`
	ClientID  string  `json:"client_id"`
	Username  *string `json:"username"`
	Password  *string `json:"password"`
	QoS       int     `json:"qos"`
	Enabled   bool    `json:"enabled"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// GetBrokers returns all broker configurations
func (db *DB) GetBrokers() ([]Broker, error) {
	query := `SELECT id, name, url, topic, client_id, username, password, qos, enabled, created_at, updated_at
	          FROM mqtt_brokers
	          ORDER BY created_at ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query brokers: %w", err)
	}
	defer rows.Close()

	var brokers []Broker
	for rows.Next() {
		var b Broker
		var enabled int
		err := rows.Scan(&b.ID, &b.Name, &b.URL, &b.Topic, &b.ClientID, &b.Username,
			&b.Password, &b.QoS, &enabled, &b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan broker: %w", err)
		}
		b.Enabled = enabled == 1
		brokers = append(brokers, b)
	}

	return brokers, nil
}

// GetBroker returns a single broker configuration by ID
func (db *DB) GetBroker(id int64) (*Broker, error) {
	query := `SELECT id, name, url, topic, client_id, username, password, qos, enabled, created_at, updated_at
	          FROM mqtt_brokers
	          WHERE id = ?`

	var b Broker
	var enabled int
	err := db.QueryRow(query, id).Scan(&b.ID, &b.Name, &b.URL, &b.Topic, &b.ClientID,
		&b.Username, &b.Password, &b.QoS, &enabled, &b.CreatedAt, &b.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broker: %w", err)
	}

	b.Enabled = enabled == 1
	return &b, nil
}

// GetEnabledBrokers returns all enabled broker configurations
func (db *DB) GetEnabledBrokers() ([]Broker, error) {
	query := `SELECT id, name, url, topic, client_id, username, password, qos, enabled, created_at, updated_at
	          FROM mqtt_brokers
	          WHERE enabled = 1
	          ORDER BY created_at ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled brokers: %w", err)
	}
	defer rows.Close()

	var brokers []Broker
	for rows.Next() {
		var b Broker
		var enabled int
		err := rows.Scan(&b.ID, &b.Name, &b.URL, &b.Topic, &b.ClientID, &b.Username,
			&b.Password, &b.QoS, &enabled, &b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan broker: %w", err)
		}
		b.Enabled = enabled == 1
		brokers = append(brokers, b)
	}

	return brokers, nil
}

// CreateBroker creates a new broker configuration
func (db *DB) CreateBroker(b *Broker) (int64, error) {
	query := `INSERT INTO mqtt_brokers (name, url, topic, client_id, username, password, qos, enabled)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	enabled := 0
	if b.Enabled {
		enabled = 1
	}

	result, err := db.Exec(query, b.Name, b.URL, b.Topic, b.ClientID, b.Username, b.Password, b.QoS, enabled)
	if err != nil {
		return 0, fmt.Errorf("failed to create broker: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// UpdateBroker updates an existing broker configuration
func (db *DB) UpdateBroker(b *Broker) error {
	query := `UPDATE mqtt_brokers
	          SET name = ?, url = ?, topic = ?, client_id = ?, username = ?, password = ?,
	              qos = ?, enabled = ?, updated_at = UNIXEPOCH()
	          WHERE id = ?`

	enabled := 0
	if b.Enabled {
		enabled = 1
	}

	result, err := db.Exec(query, b.Name, b.URL, b.Topic, b.ClientID, b.Username, b.Password, b.QoS, enabled, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update broker: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("broker with ID %d not found", b.ID)
	}

	return nil
}

// DeleteBroker deletes a broker configuration
func (db *DB) DeleteBroker(id int64) error {
	query := `DELETE FROM mqtt_brokers WHERE id = ?`

	result, err := db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete broker: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("broker with ID %d not found", id)
	}

	return nil
}
