package repository

// Schema definitions for the verifier history.
// Compatible with both SQLite and PostgreSQL.

const schemaHistoryRecords = `
CREATE TABLE IF NOT EXISTS history_records (
    id TEXT PRIMARY KEY,
    run_id TEXT,
    timestamp TIMESTAMP NOT NULL,
    type TEXT NOT NULL,
    status_code INTEGER NOT NULL,
    success INTEGER NOT NULL DEFAULT 0,
    response_time_ms INTEGER NOT NULL DEFAULT 0,
    message_id TEXT NOT NULL,
    end_to_end_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_history_records_timestamp ON history_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_history_records_run ON history_records(run_id);
CREATE INDEX IF NOT EXISTS idx_history_records_message ON history_records(message_id);
`

// schemaSimulationRuns stores each run report. The full report is kept as
// JSON in payload; the remaining columns exist for filtering.
const schemaSimulationRuns = `
CREATE TABLE IF NOT EXISTS simulation_runs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    account_id TEXT NOT NULL,
    target_rule TEXT NOT NULL,
    fraud_detected INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_simulation_runs_started ON simulation_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_simulation_runs_rule ON simulation_runs(target_rule, status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaHistoryRecords,
		schemaSimulationRuns,
	}
}
