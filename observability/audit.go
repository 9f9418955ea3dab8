package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/dischargedx/idgen"
	"github.com/hazyhaar/dischargedx/kit"
)

// MaxParameterBytes caps the JSON parameters stored per audit entry.
const MaxParameterBytes = 512

// Audit statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AuditEntry records one API or tool call.
type AuditEntry struct {
	EntryID      string    `json:"entry_id"`
	Timestamp    time.Time `json:"timestamp"`
	Transport    string    `json:"transport"` // "http", "mcp"
	Operation    string    `json:"operation"` // tool name or route pattern
	RequestID    string    `json:"request_id,omitempty"`
	PatientID    string    `json:"patient_id,omitempty"`
	Parameters   string    `json:"parameters"` // JSON, truncated to MaxParameterBytes
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Status       string    `json:"status"`
}

// AuditFilter selects entries for QueryAudit. Zero fields match everything.
type AuditFilter struct {
	Operation string
	Status    string
	Since     time.Time
	Limit     int // default 100
}

// AuditLogger persists audit entries asynchronously.
type AuditLogger struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *AuditEntry
	stop  chan struct{}
	done  chan struct{}
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets the generator of entry ids.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// NewAuditLogger starts an async audit logger with a queue of bufferSize.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		db:    db,
		newID: idgen.Prefixed("audit_", idgen.Default),
		ch:    make(chan *AuditEntry, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// LogAsync queues e. Falls back to a synchronous insert when the queue is full.
func (a *AuditLogger) LogAsync(e *AuditEntry) {
	a.fillDefaults(e)
	select {
	case a.ch <- e:
	default:
		slog.Warn("observability audit buffer full, sync fallback", "operation", e.Operation)
		if err := a.insert(context.Background(), e); err != nil {
			slog.Error("observability audit: sync fallback failed", "error", err)
		}
	}
}

// Middleware audits every call of the wrapped endpoint under operation.
func (a *AuditLogger) Middleware(operation string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			e := &AuditEntry{
				Timestamp:  start,
				Transport:  kit.GetTransport(ctx),
				Operation:  operation,
				RequestID:  kit.GetRequestID(ctx),
				PatientID:  kit.GetPatientID(ctx),
				Parameters: parameters(req),
				DurationMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.ErrorMessage = err.Error()
			}
			a.LogAsync(e)
			return resp, err
		}
	}
}

// HTTP audits every request routed by chi. Responses with status >= 400 are
// recorded as errors.
func (a *AuditLogger) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		op := r.Method + " " + r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			op = r.Method + " " + rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		e := &AuditEntry{
			Timestamp:  start,
			Transport:  "http",
			Operation:  op,
			RequestID:  kit.GetRequestID(r.Context()),
			PatientID:  chi.URLParam(r, "patientID"),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if status >= 400 {
			e.ErrorMessage = fmt.Sprintf("%d %s", status, http.StatusText(status))
		}
		a.LogAsync(e)
	})
}

func parameters(req any) string {
	if req == nil {
		return "{}"
	}
	b, err := json.Marshal(req)
	if err != nil {
		return "{}"
	}
	if len(b) > MaxParameterBytes {
		return string(b[:MaxParameterBytes])
	}
	return string(b)
}

// QueryAudit returns the audit entries of db matching f, newest first.
func QueryAudit(ctx context.Context, db *sql.DB, f AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, transport, operation, request_id, patient_id,
		parameters, error_message, duration_ms, status
		FROM audit_log WHERE 1=1`
	var args []any
	if f.Operation != "" {
		q += " AND operation = ?"
		args = append(args, f.Operation)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.Unix())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		var requestID, patientID, errMsg sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&e.EntryID, &ts, &e.Transport, &e.Operation, &requestID, &patientID,
			&e.Parameters, &errMsg, &duration, &e.Status); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.RequestID = requestID.String
		e.PatientID = patientID.String
		e.ErrorMessage = errMsg.String
		e.DurationMs = duration.Int64
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close drains the queue and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		e.Status = StatusSuccess
		if e.ErrorMessage != "" {
			e.Status = StatusError
		}
	}
}

const insertAudit = `INSERT INTO audit_log
	(entry_id, timestamp, transport, operation, request_id, patient_id,
	 parameters, error_message, duration_ms, status)
	VALUES (?,?,?,?,?,?,?,?,?,?)`

func auditArgs(e *AuditEntry) []any {
	return []any{e.EntryID, e.Timestamp.Unix(), e.Transport, e.Operation, e.RequestID, e.PatientID,
		e.Parameters, e.ErrorMessage, e.DurationMs, e.Status}
}

func (a *AuditLogger) insert(ctx context.Context, e *AuditEntry) error {
	_, err := a.db.ExecContext(ctx, insertAudit, auditArgs(e)...)
	return err
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("observability audit: begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if _, err := tx.ExecContext(ctx, insertAudit, auditArgs(e)...); err != nil {
				slog.Error("observability audit: insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("observability audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
