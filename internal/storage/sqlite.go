package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/hub-server/internal/models"
)

// Store is the durable home of sensor accumulation state and the append-only
// readings log. Commit must persist both atomically; callers serialize
// commits per sensor id, but commits for different sensors may arrive
// concurrently.
type Store interface {
	Close() error
	Migrate() error

	// GetState returns the state for a sensor, or nil if the sensor has
	// never been seen.
	GetState(sensorID string) (*models.SensorState, error)

	// Commit upserts the sensor state and appends the reading record in a
	// single transaction.
	Commit(state *models.SensorState, record *models.ReadingRecord) error

	// ListStates returns all sensor states ordered by sensor id.
	ListStates() ([]*models.SensorState, error)

	// RecentRecords returns up to limit records for a sensor, newest first.
	RecentRecords(sensorID string, limit int) ([]*models.ReadingRecord, error)

	// Labels returns every distinct label in the readings log, for
	// startup discovery replay.
	Labels() ([]string, error)

	// DeleteRecordsBefore prunes readings older than cutoff. Sensor state
	// is never pruned: cumulative totals must survive retention.
	DeleteRecordsBefore(cutoff time.Time) (int64, error)

	Stats() (*StorageStats, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists sensor state and readings to a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalRecords   int64     `json:"total_records"`
	UniqueSensors  int       `json:"unique_sensors"`
	TotalEnergyKWh float64   `json:"total_energy_kwh"`
	OldestRecord   time.Time `json:"oldest_record,omitempty"`
	NewestRecord   time.Time `json:"newest_record,omitempty"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates the
// schema.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Apply performance pragmas for SQLite
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sensor_state (
		sensor_id TEXT PRIMARY KEY,
		last_timestamp INTEGER NOT NULL,
		last_power_watts REAL NOT NULL,
		cumulative_energy_kwh REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id TEXT NOT NULL,
		label TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		power_watts REAL NOT NULL,
		cumulative_energy_kwh REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_sensor_time ON readings(sensor_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(timestamp);
	CREATE INDEX IF NOT EXISTS idx_readings_label ON readings(label);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// GetState returns the persisted state for a sensor, or nil when the sensor
// has never been seen.
func (s *SQLiteStore) GetState(sensorID string) (*models.SensorState, error) {
	query := `
		SELECT sensor_id, last_timestamp, last_power_watts, cumulative_energy_kwh
		FROM sensor_state
		WHERE sensor_id = ?
	`

	var (
		state models.SensorState
		ts    int64
	)
	err := s.db.QueryRow(query, sensorID).Scan(&state.SensorID, &ts, &state.LastPowerWatts, &state.CumulativeEnergyKWh)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor state: %w", err)
	}
	state.LastTimestamp = time.Unix(ts, 0)

	return &state, nil
}

// Commit upserts the state row and appends the reading record in one
// transaction, so a crash can never record a reading without its state
// advance or vice versa.
func (s *SQLiteStore) Commit(state *models.SensorState, record *models.ReadingRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sensor_state (sensor_id, last_timestamp, last_power_watts, cumulative_energy_kwh)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sensor_id) DO UPDATE SET
			last_timestamp = excluded.last_timestamp,
			last_power_watts = excluded.last_power_watts,
			cumulative_energy_kwh = excluded.cumulative_energy_kwh
	`,
		state.SensorID,
		state.LastTimestamp.Unix(),
		state.LastPowerWatts,
		state.CumulativeEnergyKWh,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sensor state: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO readings (sensor_id, label, timestamp, power_watts, cumulative_energy_kwh)
		VALUES (?, ?, ?, ?, ?)
	`,
		record.SensorID,
		record.Label,
		record.Timestamp.Unix(),
		record.PowerWatts,
		record.CumulativeEnergyKWh,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListStates returns all sensor states ordered by sensor id.
func (s *SQLiteStore) ListStates() ([]*models.SensorState, error) {
	rows, err := s.db.Query(`
		SELECT sensor_id, last_timestamp, last_power_watts, cumulative_energy_kwh
		FROM sensor_state
		ORDER BY sensor_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor states: %w", err)
	}
	defer rows.Close()

	var states []*models.SensorState
	for rows.Next() {
		var (
			state models.SensorState
			ts    int64
		)
		if err := rows.Scan(&state.SensorID, &ts, &state.LastPowerWatts, &state.CumulativeEnergyKWh); err != nil {
			return nil, fmt.Errorf("failed to scan sensor state: %w", err)
		}
		state.LastTimestamp = time.Unix(ts, 0)
		states = append(states, &state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return states, nil
}

// RecentRecords returns up to limit records for a sensor, newest first.
func (s *SQLiteStore) RecentRecords(sensorID string, limit int) ([]*models.ReadingRecord, error) {
	rows, err := s.db.Query(`
		SELECT sensor_id, label, timestamp, power_watts, cumulative_energy_kwh
		FROM readings
		WHERE sensor_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var records []*models.ReadingRecord
	for rows.Next() {
		var (
			r  models.ReadingRecord
			ts int64
		)
		if err := rows.Scan(&r.SensorID, &r.Label, &ts, &r.PowerWatts, &r.CumulativeEnergyKWh); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Timestamp = time.Unix(ts, 0)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// Labels returns every distinct label in the readings log, sorted.
func (s *SQLiteStore) Labels() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT label FROM readings ORDER BY label")
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, label)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return labels, nil
}

// DeleteRecordsBefore removes readings older than cutoff. The sensor_state
// table is untouched.
func (s *SQLiteStore) DeleteRecordsBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM readings WHERE timestamp < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if deleted > 0 {
		s.logger.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Deleted old readings")
	}

	return deleted, nil
}

// Stats returns statistics about the database
func (s *SQLiteStore) Stats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow("SELECT COUNT(*) FROM readings").Scan(&stats.TotalRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM sensor_state").Scan(&stats.UniqueSensors)
	if err != nil {
		return nil, fmt.Errorf("failed to count sensors: %w", err)
	}

	err = s.db.QueryRow("SELECT COALESCE(SUM(cumulative_energy_kwh), 0) FROM sensor_state").Scan(&stats.TotalEnergyKWh)
	if err != nil {
		return nil, fmt.Errorf("failed to sum energy: %w", err)
	}

	if stats.TotalRecords > 0 {
		var oldest, newest int64
		err = s.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM readings").Scan(&oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("failed to get timestamp range: %w", err)
		}
		stats.OldestRecord = time.Unix(oldest, 0)
		stats.NewestRecord = time.Unix(newest, 0)
	}

	// Get database size using PRAGMA
	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}
