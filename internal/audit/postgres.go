// internal/audit/postgres.go
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig holds connection settings for the audit table.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN builds a lib/pq connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Database, sslMode)
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS coordination_audit (
    id         UUID PRIMARY KEY,
    kind       TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    status     TEXT NOT NULL,
    ts         TIMESTAMPTZ NOT NULL,
    payload    JSONB
)`

const insertSQL = `
INSERT INTO coordination_audit (id, kind, subject_id, status, ts, payload)
VALUES ($1, $2, $3, $4, $5, $6)`

// PostgresSink appends entries to the coordination_audit table. Rows are
// only ever inserted.
type PostgresSink struct {
	db *sql.DB
}

// OpenPostgresSink connects using lib/pq.
func OpenPostgresSink(cfg PostgresConfig) (*PostgresSink, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresSink{db: db}, nil
}

// NewPostgresSink wraps an existing handle.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the audit table if it does not exist.
func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// Append inserts one row.
func (p *PostgresSink) Append(ctx context.Context, entry Entry) error {
	var payload interface{}
	if len(entry.Payload) > 0 {
		payload = []byte(entry.Payload)
	}

	_, err := p.db.ExecContext(ctx, insertSQL,
		entry.ID.String(),
		string(entry.Kind),
		entry.SubjectID,
		entry.Status,
		entry.Timestamp,
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// Close closes the database handle.
func (p *PostgresSink) Close() error {
	return p.db.Close()
}
