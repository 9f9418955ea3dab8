package observability

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/dischargedx/dbopen"
	"github.com/hazyhaar/dischargedx/idgen"
	"github.com/hazyhaar/dischargedx/kit"

	_ "modernc.org/sqlite"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInit_Idempotent(t *testing.T) {
	db := setupObsDB(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"worker_heartbeats", "metrics_timeseries", "audit_log"} {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		if n != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

// --- MetricsManager ---

func TestRunMetrics(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)
	defer mm.Close()

	run := map[string]string{"run_id": "run_1"}
	mm.Record(&Metric{Name: MetricRunRecords, Value: 12, Unit: "count", Labels: run})
	mm.Record(&Metric{Name: MetricRunHalted, Value: 0, Unit: "bool", Labels: run})
	mm.Record(&Metric{Name: MetricRunRecords, Value: 3, Unit: "count", Labels: map[string]string{"run_id": "run_2"}})
	mm.Record(&Metric{Name: MetricRunPatients, Value: 5, Unit: "count"})
	mm.Flush()

	got, err := RunMetrics(context.Background(), db, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[MetricRunRecords] != 12 || got[MetricRunHalted] != 0 {
		t.Fatalf("run_1 metrics = %v", got)
	}

	none, err := RunMetrics(context.Background(), db, "run_unknown")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("unknown run metrics = %v", none)
	}
}

func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour)
	defer mm.Close()

	mm.Record(&Metric{Name: "a", Value: 1})
	mm.Record(&Metric{Name: "b", Value: 2})

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 2 {
		t.Fatalf("rows after full buffer = %d, want 2", n)
	}
}

func TestMetricsManager_CloseFlushes(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)
	mm.Record(&Metric{Name: MetricRunHalted, Value: 1, Unit: "bool"})
	mm.Close()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries WHERE metric_name = ?", MetricRunHalted).Scan(&n)
	if n != 1 {
		t.Fatalf("rows after Close = %d, want 1", n)
	}
}

// --- AuditLogger ---

func TestAuditLogger_LogAsyncAndQuery(t *testing.T) {
	db := setupObsDB(t)
	a := NewAuditLogger(db, 10, WithAuditIDGenerator(idgen.Sequence("audit_")))
	a.LogAsync(&AuditEntry{Transport: "mcp", Operation: "dischargedx_signatures"})
	a.LogAsync(&AuditEntry{Transport: "mcp", Operation: "dischargedx_extract_chart", ErrorMessage: "boom"})
	a.Close()

	failed, err := QueryAudit(context.Background(), db, AuditFilter{Status: StatusError})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Operation != "dischargedx_extract_chart" || failed[0].EntryID != "audit_2" {
		t.Fatalf("failed = %+v", failed)
	}
	if failed[0].Parameters != "{}" {
		t.Fatalf("parameters = %q", failed[0].Parameters)
	}

	all, err := QueryAudit(context.Background(), db, AuditFilter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("limited entries = %d, want 1", len(all))
	}
}

func TestAuditLogger_FullBufferFallsBackToInsert(t *testing.T) {
	db := setupObsDB(t)
	a := NewAuditLogger(db, 1)
	for i := 0; i < 5; i++ {
		a.LogAsync(&AuditEntry{Transport: "http", Operation: "GET /v1/signatures"})
	}
	a.Close()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&n)
	if n != 5 {
		t.Fatalf("audit rows = %d, want 5", n)
	}
}

func TestAuditLogger_Middleware(t *testing.T) {
	db := setupObsDB(t)
	a := NewAuditLogger(db, 10)

	type req struct {
		Path string `json:"path"`
	}
	endpoint := a.Middleware("dischargedx_extract_chart")(func(ctx context.Context, r any) (any, error) {
		return nil, errors.New("chart unreadable")
	})
	ctx := kit.WithTransport(kit.WithRequestID(context.Background(), "req_1"), "mcp")
	ctx = kit.WithPatientID(ctx, "Doe John 19181111")
	if _, err := endpoint(ctx, req{Path: "/charts/a.xml"}); err == nil {
		t.Fatal("error not propagated")
	}
	a.Close()

	rows, err := QueryAudit(context.Background(), db, AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("entries = %d, want 1", len(rows))
	}
	e := rows[0]
	if e.Transport != "mcp" || e.RequestID != "req_1" || e.PatientID != "Doe John 19181111" || e.Status != StatusError {
		t.Fatalf("entry = %+v", e)
	}
	if !strings.Contains(e.Parameters, "/charts/a.xml") {
		t.Fatalf("parameters = %q", e.Parameters)
	}
}

func TestAuditLogger_HTTP(t *testing.T) {
	db := setupObsDB(t)
	a := NewAuditLogger(db, 10)

	r := chi.NewRouter()
	r.Use(a.HTTP)
	r.Post("/v1/patients/{patientID}/chart", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	r.Get("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/v1/patients/p1/chart", strings.NewReader("<Chart/>")),
		httptest.NewRequest(http.MethodGet, "/v1/health", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	a.Close()

	errs, err := QueryAudit(context.Background(), db, AuditFilter{Operation: "POST /v1/patients/{patientID}/chart"})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || errs[0].Status != StatusError || errs[0].PatientID != "p1" || !strings.HasPrefix(errs[0].ErrorMessage, "422") {
		t.Fatalf("entries = %+v", errs)
	}
	ok, err := QueryAudit(context.Background(), db, AuditFilter{Status: StatusSuccess})
	if err != nil {
		t.Fatal(err)
	}
	if len(ok) != 1 || ok[0].Operation != "GET /v1/health" {
		t.Fatalf("entries = %+v", ok)
	}
}

func TestParameters_Truncated(t *testing.T) {
	got := parameters(map[string]string{"body": strings.Repeat("A", 2*MaxParameterBytes)})
	if len(got) != MaxParameterBytes {
		t.Fatalf("len = %d", len(got))
	}
	if parameters(nil) != "{}" {
		t.Fatal("nil request should be {}")
	}
}

// --- Heartbeat ---

func TestHeartbeat_RunAndLatest(t *testing.T) {
	db := setupObsDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHeartbeat(db, "dischargedx-serve", time.Hour)
	go h.Run(ctx)

	deadline := time.Now().Add(5 * time.Second)
	var hs *HeartbeatStatus
	for time.Now().Before(deadline) {
		var err error
		if hs, err = LatestHeartbeat(context.Background(), db, "dischargedx-serve", time.Minute); err != nil {
			t.Fatal(err)
		}
		if hs != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-h.Done()

	if hs == nil || !hs.Alive || hs.Goroutines == 0 {
		t.Fatalf("heartbeat = %+v", hs)
	}
}

func TestLatestHeartbeat_None(t *testing.T) {
	hs, err := LatestHeartbeat(context.Background(), setupObsDB(t), "nobody", time.Minute)
	if err != nil || hs != nil {
		t.Fatalf("got %+v, %v", hs, err)
	}
}

func TestLatestHeartbeat_Stale(t *testing.T) {
	db := setupObsDB(t)
	db.Exec(`INSERT INTO worker_heartbeats (worker_name, hostname, worker_pid, timestamp, goroutines_count, memory_alloc_mb)
		VALUES ('mcp', 'h', 1, ?, 3, 1.5)`, time.Now().Add(-time.Hour).Unix())
	hs, err := LatestHeartbeat(context.Background(), db, "mcp", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs == nil || hs.Alive {
		t.Fatalf("heartbeat = %+v, want stale", hs)
	}
}

// --- Retention ---

func TestPrune(t *testing.T) {
	db := setupObsDB(t)
	old := time.Now().AddDate(0, 0, -40)

	mm := NewMetricsManager(db, 100, time.Hour)
	mm.Record(&Metric{Name: "old", Value: 1, Timestamp: old})
	mm.Record(&Metric{Name: "new", Value: 1})
	mm.Close()

	a := NewAuditLogger(db, 10)
	a.LogAsync(&AuditEntry{Transport: "mcp", Operation: "old", Timestamp: old})
	a.LogAsync(&AuditEntry{Transport: "mcp", Operation: "new"})
	a.Close()

	for _, ts := range []time.Time{old, old, time.Now()} {
		db.Exec(`INSERT INTO worker_heartbeats (worker_name, hostname, worker_pid, timestamp)
			VALUES ('serve', 'h', 1, ?)`, ts.Unix())
	}

	got, err := Prune(context.Background(), db, 30)
	if err != nil {
		t.Fatal(err)
	}
	if want := (Pruned{Metrics: 1, Audit: 1, Heartbeats: 2}); got != want {
		t.Fatalf("pruned = %+v, want %+v", got, want)
	}

	again, err := Prune(context.Background(), db, 30)
	if err != nil {
		t.Fatal(err)
	}
	if again != (Pruned{}) {
		t.Fatalf("second prune = %+v, want nothing", again)
	}
}
