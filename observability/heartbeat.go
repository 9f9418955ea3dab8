package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// RuntimeMetrics is a snapshot of Go process health.
type RuntimeMetrics struct {
	Goroutines    int
	MemoryAllocMB float64
	MemorySysMB   float64
	GCCount       uint32
}

// CollectRuntimeMetrics reads the current runtime stats.
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:   float64(mem.Sys) / 1024 / 1024,
		GCCount:       mem.NumGC,
	}
}

// Heartbeat writes periodic liveness rows for a long-running process
// (the API server or the MCP server).
type Heartbeat struct {
	db       *sql.DB
	name     string
	hostname string
	pid      int
	interval time.Duration
	done     chan struct{}
}

// NewHeartbeat returns a heartbeat for the process called name.
func NewHeartbeat(db *sql.DB, name string, interval time.Duration) *Heartbeat {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Heartbeat{db: db, name: name, hostname: hostname, pid: os.Getpid(), interval: interval, done: make(chan struct{})}
}

// Run writes one heartbeat immediately, then one per interval until ctx is
// done. Done is closed when Run returns.
func (h *Heartbeat) Run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		if err := h.Beat(ctx); err != nil && ctx.Err() == nil {
			slog.Error("heartbeat write failed", "error", err, "worker", h.name)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Done is closed once Run has returned.
func (h *Heartbeat) Done() <-chan struct{} { return h.done }

// Beat writes a single heartbeat row.
func (h *Heartbeat) Beat(ctx context.Context) error {
	m := CollectRuntimeMetrics()
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp,
			goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		) VALUES (?,?,?,?,?,?,?,?)`,
		h.name, h.hostname, h.pid, time.Now().Unix(),
		m.Goroutines, m.MemoryAllocMB, m.MemorySysMB, m.GCCount)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	return nil
}

// HeartbeatStatus is the latest heartbeat of a process.
type HeartbeatStatus struct {
	Name       string    `json:"name"`
	Hostname   string    `json:"hostname"`
	PID        int       `json:"pid"`
	Timestamp  time.Time `json:"timestamp"`
	Goroutines int       `json:"goroutines"`
	AllocMB    float64   `json:"memory_alloc_mb"`
	Alive      bool      `json:"alive"`
}

// LatestHeartbeat returns the newest heartbeat of name, or nil when none was
// recorded. A heartbeat older than staleAfter is not alive.
func LatestHeartbeat(ctx context.Context, db *sql.DB, name string, staleAfter time.Duration) (*HeartbeatStatus, error) {
	var hs HeartbeatStatus
	var ts int64
	err := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp, goroutines_count, memory_alloc_mb
		FROM worker_heartbeats WHERE worker_name = ?
		ORDER BY timestamp DESC, rowid DESC LIMIT 1`, name,
	).Scan(&hs.Name, &hs.Hostname, &hs.PID, &ts, &hs.Goroutines, &hs.AllocMB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}
	hs.Timestamp = time.Unix(ts, 0)
	hs.Alive = time.Since(hs.Timestamp) <= staleAfter
	return &hs, nil
}
