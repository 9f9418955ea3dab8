package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dischargedx/dbopen"
	"github.com/hazyhaar/dischargedx/dxpipe"
	"github.com/hazyhaar/dischargedx/observability"
	"github.com/hazyhaar/dischargedx/report"
	"github.com/hazyhaar/dischargedx/safeio"
	"github.com/hazyhaar/dischargedx/shield"

	_ "modernc.org/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var code int
	switch os.Args[1] {
	case "extract":
		code = cmdExtract(ctx, os.Args[2:], os.Stdout)
	case "resolve":
		code = cmdResolve(os.Args[2:], os.Stdin, os.Stdout)
	case "serve":
		code = cmdServe(ctx, os.Args[2:])
	case "mcp":
		code = cmdMCP(ctx, os.Args[2:])
	case "report":
		code = cmdReport(ctx, os.Args[2:], os.Stdout)
	case "audit":
		code = cmdAudit(ctx, os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		code = 1
	}
	cancel()
	os.Exit(code)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `dischargedx - principal diagnoses from discharge summaries

usage:
  dischargedx extract [-config file] [-db file] [-csv file] [-workers n] [-continue] <charts_dir>
  dischargedx resolve [-config file] [-ref label] <payload_file|->
  dischargedx serve   [-config file] [-listen addr]
  dischargedx mcp     [-config file]
  dischargedx report  [-config file] [-db file] <run_id>
  dischargedx audit   [-config file] [-operation op] [-status s] [-since dur] [-limit n]

extract  Extracts every chart in <charts_dir>, prints one JSON line per patient
         and writes the report sinks. Exits 1 on a halted run.
resolve  Unwraps one correspondence body and prints its diagnoses.
serve    Starts the HTTP API.
mcp      Serves the MCP tools over stdio.
report   Prints the diagnoses, patients without follow-up and run metrics
         stored for <run_id>.
audit    Prints recent audit entries, newest first, one JSON line each.

environment:
  DISCHARGEDX_CONFIG  default for -config
  LOG_LEVEL           overrides log_level (debug, info, warn, error)
  PORT                overrides the listen port of serve
`)
}

// setup loads the config and installs the JSON logger on stderr. Stdout
// carries command output.
func setup(configPath string) (*dxpipe.Config, error) {
	if configPath == "" {
		configPath = env("DISCHARGEDX_CONFIG", "")
	}
	cfg := dxpipe.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = dxpipe.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}
	cfg.LogLevel = env("LOG_LEVEL", cfg.LogLevel)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	cfg.Logger = logger
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func cmdExtract(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to dischargedx.yaml")
	dbPath := fs.String("db", "", "SQLite report database (overrides report.db_path)")
	csvPath := fs.String("csv", "", "CSV report file (overrides report.csv_path)")
	workers := fs.Int("workers", 0, "concurrent charts (0 = config or NumCPU)")
	cont := fs.Bool("continue", false, "keep going after a fatal document error")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "extract requires a charts directory")
		return 2
	}

	cfg, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.Report.DBPath = *dbPath
	}
	if *csvPath != "" {
		cfg.Report.CSVPath = *csvPath
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *cont {
		halt := false
		cfg.HaltOnFatal = &halt
	}

	p := dxpipe.New(*cfg)
	run, runErr := p.ExtractDir(ctx, fs.Arg(0))
	if run == nil {
		slog.Error("extract failed", "dir", fs.Arg(0), "error", runErr)
		return 1
	}

	enc := json.NewEncoder(stdout)
	for i := range run.Results {
		if err := enc.Encode(run.Results[i].View()); err != nil {
			slog.Error("write output", "error", err)
			return 1
		}
	}

	code := 0
	sinks, closeSinks, err := openSinks(cfg.Report)
	if err != nil {
		slog.Error("open report", "error", err)
		code = 1
	}
	defer closeSinks()
	if cfg.ObservabilityDB != "" {
		obs, err := openObservability(cfg.ObservabilityDB)
		if err != nil {
			slog.Error("open observability", "error", err)
			code = 1
		} else {
			defer obs.Close()
			mm := observability.NewMetricsManager(obs, 100, 5*time.Second)
			defer mm.Close()
			sinks = append(sinks, &report.MetricsSink{Metrics: mm})
		}
	}
	for _, sink := range sinks {
		if err := sink.Write(ctx, run); err != nil {
			slog.Error("write report", "error", err)
			code = 1
		}
	}

	patients, records, skipped, unreadable, failed := run.Counts()
	slog.Info("extract done", "run_id", run.ID, "patients", patients, "records", records,
		"skipped", skipped, "unreadable", unreadable, "failed", failed, "halted", run.Halted)

	if runErr != nil {
		if errors.Is(runErr, dxpipe.ErrHalted) {
			fmt.Fprintf(os.Stderr, "halted: %v\n", run.HaltErr)
		} else {
			slog.Error("extract interrupted", "error", runErr)
		}
		return 1
	}
	return code
}

// openSinks builds the sinks selected by rc. The returned func closes them.
func openSinks(rc dxpipe.ReportConfig) ([]report.Sink, func(), error) {
	var out []report.Sink
	closeFn := func() {}
	if rc.DBPath != "" {
		db, err := report.OpenSQLite(rc.DBPath)
		if err != nil {
			return nil, closeFn, err
		}
		out = append(out, db)
		closeFn = func() { db.Close() }
	}
	if rc.CSVPath != "" {
		out = append(out, &report.CSVSink{Path: rc.CSVPath})
	}
	return out, closeFn, nil
}

func openObservability(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
}

const heartbeatInterval = 15 * time.Second

// obsRuntime is the observability state of serve and mcp.
type obsRuntime struct {
	db    *sql.DB
	name  string
	audit *observability.AuditLogger
	stop  func()
}

// startObservability opens the observability database, prunes rows older
// than retentionDays, then starts the heartbeat of name and the audit logger.
// stop ends both and closes the database.
func startObservability(ctx context.Context, path, name string, retentionDays int) (*obsRuntime, error) {
	db, err := openObservability(path)
	if err != nil {
		return nil, err
	}
	pruned, err := observability.Prune(ctx, db, retentionDays)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("observability pruned", "retention_days", retentionDays,
		"metrics", pruned.Metrics, "audit", pruned.Audit, "heartbeats", pruned.Heartbeats)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hb := observability.NewHeartbeat(db, name, heartbeatInterval)
	go hb.Run(hbCtx)
	audit := observability.NewAuditLogger(db, 1000)
	return &obsRuntime{db: db, name: name, audit: audit, stop: func() {
		stopHeartbeat()
		<-hb.Done()
		audit.Close()
		db.Close()
	}}, nil
}

// health reports the latest heartbeat. Three missed beats make it stale.
func (rt *obsRuntime) health(ctx context.Context) (any, error) {
	hs, err := observability.LatestHeartbeat(ctx, rt.db, rt.name, 3*heartbeatInterval)
	if err != nil {
		return nil, err
	}
	if hs == nil {
		return nil, errors.New("no heartbeat recorded")
	}
	if !hs.Alive {
		return hs, fmt.Errorf("heartbeat stale since %s", hs.Timestamp.Format(time.RFC3339))
	}
	return hs, nil
}

func cmdResolve(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to dischargedx.yaml")
	ref := fs.String("ref", "", "label used in error messages (default: file name)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "resolve requires a payload file or -")
		return 2
	}

	cfg, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	src := fs.Arg(0)
	var body []byte
	if src == "-" {
		body, err = io.ReadAll(io.LimitReader(stdin, cfg.MaxEncodedBytes+1))
	} else {
		body, err = safeio.ReadFile(src, cfg.MaxEncodedBytes+1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", src, err)
		return 1
	}
	if *ref == "" {
		*ref = filepath.Base(src)
	}

	view, err := dxpipe.New(*cfg).ResolvePayload(*ref, strings.TrimSpace(string(body)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(view); err != nil {
		return 1
	}
	return 0
}

func cmdServe(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to dischargedx.yaml")
	listen := fs.String("listen", "", "listen address (overrides listen)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	addr := cfg.Listen
	if port := env("PORT", ""); port != "" {
		addr = ":" + port
	}
	if *listen != "" {
		addr = *listen
	}

	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(cfg.MaxChartBytes) {
		r.Use(mw)
	}
	if cfg.ObservabilityDB != "" {
		obs, err := startObservability(ctx, cfg.ObservabilityDB, "dischargedx-serve", cfg.RetentionDays)
		if err != nil {
			slog.Error("open observability", "error", err)
			return 1
		}
		defer obs.stop()
		r.Use(obs.audit.HTTP)
		cfg.Health = obs.health
	}
	dxpipe.New(*cfg).RegisterHTTP(r)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			slog.Error("server error", "error", err)
			return 1
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
		return 1
	}
	slog.Info("server stopped")
	return 0
}

func cmdMCP(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to dischargedx.yaml")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	if cfg.ObservabilityDB != "" {
		obs, err := startObservability(ctx, cfg.ObservabilityDB, "dischargedx-mcp", cfg.RetentionDays)
		if err != nil {
			slog.Error("open observability", "error", err)
			return 1
		}
		defer obs.stop()
		cfg.Audit = obs.audit.Middleware
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "dischargedx", Version: "1.0.0"}, nil)
	dxpipe.New(*cfg).RegisterMCP(srv)

	slog.Info("mcp server starting", "transport", "stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		slog.Error("mcp server", "error", err)
		return 1
	}
	return 0
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// runReport is the output of the report command.
type runReport struct {
	RunID      string             `json:"run_id"`
	Diagnoses  []dxpipe.Record    `json:"diagnoses"`
	NoFollowUp []string           `json:"no_followup"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

func cmdReport(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to dischargedx.yaml")
	dbPath := fs.String("db", "", "SQLite report database (overrides report.db_path)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "report requires a run id")
		return 2
	}

	cfg, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.Report.DBPath = *dbPath
	}
	if cfg.Report.DBPath == "" {
		fmt.Fprintln(os.Stderr, "report needs -db or report.db_path")
		return 2
	}
	if _, err := os.Stat(cfg.Report.DBPath); err != nil {
		fmt.Fprintf(os.Stderr, "report database: %v\n", err)
		return 1
	}

	sink, err := report.OpenSQLite(cfg.Report.DBPath)
	if err != nil {
		slog.Error("open report", "error", err)
		return 1
	}
	defer sink.Close()

	out := runReport{RunID: fs.Arg(0)}
	if out.Diagnoses, err = sink.Diagnoses(ctx, out.RunID); err != nil {
		slog.Error("read diagnoses", "run_id", out.RunID, "error", err)
		return 1
	}
	if out.NoFollowUp, err = sink.NoFollowUp(ctx, out.RunID); err != nil {
		slog.Error("read follow-up", "run_id", out.RunID, "error", err)
		return 1
	}
	if cfg.ObservabilityDB != "" {
		obs, err := openObservability(cfg.ObservabilityDB)
		if err != nil {
			slog.Error("open observability", "error", err)
			return 1
		}
		defer obs.Close()
		if out.Metrics, err = observability.RunMetrics(ctx, obs, out.RunID); err != nil {
			slog.Error("read run metrics", "run_id", out.RunID, "error", err)
			return 1
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 1
	}
	return 0
}

func cmdAudit(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to dischargedx.yaml")
	operation := fs.String("operation", "", "only entries of this tool or route")
	status := fs.String("status", "", "only entries with this status (success, error)")
	since := fs.Duration("since", 0, "only entries newer than this (0 = all)")
	limit := fs.Int("limit", 100, "maximum number of entries")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if cfg.ObservabilityDB == "" {
		fmt.Fprintln(os.Stderr, "audit needs observability_db in the config")
		return 2
	}

	db, err := openObservability(cfg.ObservabilityDB)
	if err != nil {
		slog.Error("open observability", "error", err)
		return 1
	}
	defer db.Close()

	f := observability.AuditFilter{Operation: *operation, Status: *status, Limit: *limit}
	if *since > 0 {
		f.Since = time.Now().Add(-*since)
	}
	entries, err := observability.QueryAudit(ctx, db, f)
	if err != nil {
		slog.Error("query audit", "error", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return 1
		}
	}
	return 0
}
