// Package repository persists the submission history and simulation reports.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// ErrInvalidInput is returned for records missing required identifiers.
var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.HistoryRepository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.HistoryRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "", "memory":
		return NewMemoryRepository(cfg.MaxRecords), nil
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRecord appends one history record.
func (r *SQLRepository) SaveRecord(ctx context.Context, rec *domain.HistoryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO history_records (
			id, run_id, timestamp, type, status_code, success,
			response_time_ms, message_id, end_to_end_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, nullString(rec.RunID), rec.Timestamp.UTC(), rec.Type,
		rec.StatusCode, boolToInt(rec.Success), rec.ResponseTimeMs,
		rec.MessageID, nullString(rec.EndToEndID),
	)
	return err
}

// ListRecords returns up to limit records, newest first. limit <= 0 returns all.
func (r *SQLRepository) ListRecords(ctx context.Context, limit int) ([]*domain.HistoryRecord, error) {
	query := `
		SELECT id, run_id, timestamp, type, status_code, success,
			   response_time_ms, message_id, end_to_end_id
		FROM history_records
		ORDER BY timestamp DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.HistoryRecord
	for rows.Next() {
		var rec domain.HistoryRecord
		var runID, e2e sql.NullString
		var success int

		if err := rows.Scan(
			&rec.ID, &runID, &rec.Timestamp, &rec.Type, &rec.StatusCode, &success,
			&rec.ResponseTimeMs, &rec.MessageID, &e2e,
		); err != nil {
			return nil, err
		}
		rec.RunID = runID.String
		rec.EndToEndID = e2e.String
		rec.Success = success == 1
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// SaveRun stores a run report, replacing an earlier save of the same run.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.SimulationRun) error {
	if run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	var completed any
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC()
	}

	query := `
		INSERT INTO simulation_runs (
			id, status, account_id, target_rule, fraud_detected,
			started_at, completed_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			fraud_detected = excluded.fraud_detected,
			completed_at = excluded.completed_at,
			payload = excluded.payload
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, string(run.Status), run.AccountID, run.TargetRule,
		boolToInt(run.FraudDetected), run.StartedAt.UTC(), completed, string(payload),
	)
	return err
}

// GetRun retrieves a run report by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.SimulationRun, error) {
	query := `SELECT payload FROM simulation_runs WHERE id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var run domain.SimulationRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &run, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $N for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
