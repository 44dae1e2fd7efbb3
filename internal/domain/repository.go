// Package domain defines the core interfaces and types for the verifier.
package domain

import (
	"context"
	"time"
)

// HistoryRepository persists every submission and each simulation report.
type HistoryRepository interface {
	// Submission history
	SaveRecord(ctx context.Context, rec *HistoryRecord) error
	ListRecords(ctx context.Context, limit int) ([]*HistoryRecord, error)

	// Simulation reports
	SaveRun(ctx context.Context, run *SimulationRun) error
	GetRun(ctx context.Context, runID string) (*SimulationRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// HistoryRecord is one entry of the submission history.
type HistoryRecord struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"`
	StatusCode     int       `json:"status"`
	Success        bool      `json:"success"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	MessageID      string    `json:"message_id"`
	EndToEndID     string    `json:"end_to_end_id,omitempty"`
}

// RepositoryConfig holds configuration for history storage.
type RepositoryConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver string `json:"driver" mapstructure:"driver"`

	// MaxRecords bounds the in-memory history.
	MaxRecords int `json:"maxRecords" mapstructure:"max_records"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgres_port"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgres_user"`
	PostgresPassword string `json:"postgresPassword" mapstructure:"postgres_password"`
	PostgresDB       string `json:"postgresDb" mapstructure:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn_max_lifetime"`
}
