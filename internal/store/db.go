package store

import (
	"database/sql"
	"fmt"
	"time"

	"breathe/internal/metrics"
	"breathe/internal/models"

	_ "github.com/go-sql-driver/mysql"
)

// DB is the MySQL-backed reading store.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema
// dsn format: "username:password@tcp(host:port)/dbname?parseTime=true"
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initSchema creates the sensor_readings table. The unique key over
// (zone_id, ts) is what makes SaveReading idempotent.
func (db *DB) initSchema() error {
	stmt := `CREATE TABLE IF NOT EXISTS sensor_readings (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		zone_id VARCHAR(255) NOT NULL,
		ts BIGINT NOT NULL,
		pm2_5 DOUBLE,
		pm10 DOUBLE,
		UNIQUE KEY uniq_zone_ts (zone_id, ts),
		INDEX idx_zone_time (zone_id, ts)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	if _, err := db.conn.Exec(stmt); err != nil {
		return fmt.Errorf("failed to execute schema statement: %w", err)
	}
	return nil
}

// SaveReading inserts one reading. INSERT IGNORE keeps re-insertion of an
// existing (zone_id, ts) pair a no-op, never an update.
func (db *DB) SaveReading(zoneKey string, pm25, pm10 float64, ts int64) error {
	defer func() {
		stats := db.conn.Stats()
		metrics.UpdateDBConnectionStats(stats.OpenConnections, stats.InUse, stats.Idle)
	}()

	query := `INSERT IGNORE INTO sensor_readings (zone_id, ts, pm2_5, pm10) VALUES (?, ?, ?, ?)`
	queryStart := time.Now()
	_, err := db.conn.Exec(query, zoneKey, ts, pm25, pm10)
	metrics.RecordDBQuery("INSERT", "sensor_readings", time.Since(queryStart), err)
	if err != nil {
		return fmt.Errorf("failed to save reading for %s at %d: %w", zoneKey, ts, err)
	}
	return nil
}

// GetHistory returns the zone's readings for the trailing hoursBack hours,
// oldest first.
func (db *DB) GetHistory(zoneKey string, hoursBack int) ([]models.PersistedReading, error) {
	cutoff := time.Now().Unix() - int64(hoursBack)*3600

	query := `SELECT zone_id, ts, pm2_5, pm10 FROM sensor_readings WHERE zone_id = ? AND ts > ? ORDER BY ts ASC`
	queryStart := time.Now()
	rows, err := db.conn.Query(query, zoneKey, cutoff)
	metrics.RecordDBQuery("SELECT", "sensor_readings", time.Since(queryStart), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", zoneKey, err)
	}
	defer rows.Close()

	var readings []models.PersistedReading
	for rows.Next() {
		var r models.PersistedReading
		var pm25, pm10 sql.NullFloat64
		if err := rows.Scan(&r.ZoneKey, &r.TS, &pm25, &pm10); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.PM25 = pm25.Float64
		r.PM10 = pm10.Float64
		readings = append(readings, r)
	}

	return readings, rows.Err()
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
