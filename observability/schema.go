package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Schema is the DDL of the observability database. Timestamps are Unix
// seconds.
const Schema = `
CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name TEXT NOT NULL,
    hostname TEXT NOT NULL,
    worker_pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb REAL,
    memory_sys_mb REAL,
    gc_count INTEGER
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON worker_heartbeats(worker_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS audit_log (
    entry_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    transport TEXT NOT NULL,
    operation TEXT NOT NULL,
    request_id TEXT,
    patient_id TEXT,
    parameters TEXT NOT NULL DEFAULT '{}',
    error_message TEXT,
    duration_ms INTEGER,
    status TEXT NOT NULL CHECK(status IN ('success','error'))
);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_log(operation, timestamp DESC);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("observability: init schema: %w", err)
	}
	return nil
}

// Pruned counts the rows removed by Prune.
type Pruned struct {
	Metrics    int64 `json:"metrics"`
	Audit      int64 `json:"audit"`
	Heartbeats int64 `json:"heartbeats"`
}

// Prune deletes metrics, audit entries and heartbeats older than
// retentionDays.
func Prune(ctx context.Context, db *sql.DB, retentionDays int) (Pruned, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	var p Pruned
	for _, t := range []struct {
		table string
		n     *int64
	}{
		{"metrics_timeseries", &p.Metrics},
		{"audit_log", &p.Audit},
		{"worker_heartbeats", &p.Heartbeats},
	} {
		res, err := db.ExecContext(ctx, "DELETE FROM "+t.table+" WHERE timestamp < ?", threshold)
		if err != nil {
			return p, fmt.Errorf("prune %s: %w", t.table, err)
		}
		*t.n, _ = res.RowsAffected()
	}
	return p, nil
}
