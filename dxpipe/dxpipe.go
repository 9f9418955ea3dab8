// Package dxpipe extracts principal diagnoses from the discharge summaries held
// in per-patient chart exports.
//
// For every patient the pipeline keeps the recent discharge summaries, unwraps
// their payloads (base64, single-entry zip, RTF), and reads the value two lines
// below the PRINCIPAL DIAGNOSIS heading:
//
//	pipe := dxpipe.New(dxpipe.Config{})
//	run, err := pipe.ExtractDir(ctx, "/data/pts")
//	for _, rec := range run.Records() {
//		fmt.Println(rec.PatientID, rec.Diagnosis, rec.AdmissionDate)
//	}
//
// Binary summaries (PDF, bitmap, JPEG) are skipped and reported. Structural
// problems with a payload are fatal for the patient and, by default, for the
// run. A chart that cannot be read at all only skips that patient.
package dxpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/dischargedx/chart"
	"github.com/hazyhaar/dischargedx/idgen"
	"github.com/hazyhaar/dischargedx/kit"
	"github.com/hazyhaar/dischargedx/payload"
	"github.com/hazyhaar/dischargedx/safeio"
	"github.com/hazyhaar/dischargedx/visits"
)

// Pipeline is the diagnosis extraction engine. It is safe for concurrent use.
type Pipeline struct {
	cfg      Config
	logger   *slog.Logger
	resolver *payload.Resolver
	runIDs   idgen.Generator
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
		resolver: payload.NewResolver(payload.Limits{
			MaxEncodedBytes:      cfg.MaxEncodedBytes,
			MaxDecompressedBytes: cfg.MaxDecompressedBytes,
		}, payload.WithLogger(cfg.Logger)),
		runIDs: idgen.Prefixed("run_", idgen.Default),
	}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Resolver returns the payload resolver used by the pipeline.
func (p *Pipeline) Resolver() *payload.Resolver { return p.resolver }

func (p *Pipeline) now() time.Time { return p.cfg.Now().In(p.cfg.Location) }

// ExtractEntries runs the document stages over one patient's correspondence.
// On a fatal error no records are returned; the error is wrapped with the
// patient id and still matches the typed payload, chart and diagnosis errors.
func (p *Pipeline) ExtractEntries(ctx context.Context, patientID string, entries []chart.Correspondence) ([]Record, []Skip, error) {
	now := p.now()
	admissions, err := FilterAdmissions(entries, now, p.cfg.RecencyDays, p.cfg.DischargeCategory)
	if err != nil {
		return nil, nil, fmt.Errorf("patient %s: %w", patientID, err)
	}

	var records []Record
	var skipped []Skip
	for _, adm := range admissions {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		values, skip, err := p.extractDocument(ctx, adm)
		if err != nil {
			return nil, nil, fmt.Errorf("patient %s: %w", patientID, err)
		}
		if skip != nil {
			skipped = append(skipped, *skip)
			continue
		}
		for _, v := range values {
			records = append(records, Record{
				Diagnosis:     v,
				AdmissionDate: adm.Date,
				PatientID:     patientID,
				DocumentRef:   adm.Ref,
			})
		}
	}
	return records, skipped, nil
}

func (p *Pipeline) extractDocument(ctx context.Context, adm Admission) ([]string, *Skip, error) {
	meta := payload.Meta{Ref: adm.Ref, Date: adm.Date}

	res, err := p.resolver.Resolve(meta, adm.Body)
	if err != nil {
		return nil, nil, err
	}
	if res.Skipped() {
		p.logger.Info("skipping binary discharge summary", append(kit.LogAttrs(ctx),
			"document", adm.Ref, "date", adm.Date.Format("02/01/2006"), "kind", res.Kind, "detail", res.Detail)...)
		return nil, &Skip{DocumentRef: adm.Ref, Date: adm.Date, Kind: res.Kind, Detail: res.Detail}, nil
	}

	_, values, err := p.readDiagnoses(meta, res.Text)
	if err != nil {
		return nil, nil, err
	}
	if len(values) == 0 {
		p.logger.Debug("no principal diagnosis heading", append(kit.LogAttrs(ctx), "document", adm.Ref)...)
	}
	return values, nil, nil
}

// ExtractChart extracts the records of a parsed chart and attaches the
// reporting enrichments: active conditions, visit follow-up per discharge and,
// when a discharge had no follow-up, demographics. Enrichment problems are
// logged and never fail the patient.
func (p *Pipeline) ExtractChart(ctx context.Context, c *chart.Chart) PatientResult {
	ctx = kit.WithPatientID(ctx, c.ID)
	res := PatientResult{PatientID: c.ID}

	records, skipped, err := p.ExtractEntries(ctx, c.ID, c.Correspondence(p.cfg.DischargeCategory))
	if err != nil {
		res.Err = err
		p.logger.Error("patient extraction failed", append(kit.LogAttrs(ctx), "error", err)...)
		return res
	}
	res.Records = records
	res.Skipped = skipped

	if conds, err := c.ActiveConditions(); err != nil {
		p.logger.Warn("cannot read conditions", append(kit.LogAttrs(ctx), "error", err)...)
	} else {
		res.Conditions = conds
	}

	for _, rec := range records {
		res.FollowUps = append(res.FollowUps, FollowUp{
			DocumentRef: rec.DocumentRef,
			Summary:     visits.Summarize(c.Visits, rec.AdmissionDate, p.cfg.ExcludedVisitDoctors),
		})
	}
	if res.NoFollowUp() {
		if demo, err := c.Demographics(p.now()); err != nil {
			p.logger.Warn("cannot read demographics", append(kit.LogAttrs(ctx), "error", err)...)
		} else {
			res.Demographics = &demo
		}
	}

	p.logger.Info("patient extracted", append(kit.LogAttrs(ctx),
		"records", len(res.Records), "skipped", len(res.Skipped))...)
	return res
}

// ExtractReader parses a chart from r, bounded by max_chart_bytes.
func (p *Pipeline) ExtractReader(ctx context.Context, patientID string, r io.Reader) PatientResult {
	data, err := safeio.LimitedReadAll(r, p.cfg.MaxChartBytes)
	if err != nil {
		return p.unreadable(ctx, &chart.ChartUnreadableError{PatientID: patientID, Err: err})
	}
	c, err := chart.Parse(patientID, bytes.NewReader(data))
	if err != nil {
		return p.unreadable(ctx, err)
	}
	return p.ExtractChart(ctx, c)
}

// ExtractFile parses and extracts the chart at path.
func (p *Pipeline) ExtractFile(ctx context.Context, path string) PatientResult {
	c, err := chart.ParseFile(path, p.cfg.MaxChartBytes)
	if err != nil {
		return p.unreadable(ctx, err)
	}
	return p.ExtractChart(ctx, c)
}

func (p *Pipeline) unreadable(ctx context.Context, err error) PatientResult {
	cu, _ := asUnreadable(err)
	p.logger.Warn("chart unreadable, patient skipped", append(kit.LogAttrs(ctx),
		"patient", cu.PatientID, "path", cu.Path, "error", cu.Err)...)
	return PatientResult{PatientID: cu.PatientID, Err: err}
}

func asUnreadable(err error) (*chart.ChartUnreadableError, bool) {
	var cu *chart.ChartUnreadableError
	if errors.As(err, &cu) {
		return cu, true
	}
	return &chart.ChartUnreadableError{Err: err}, false
}

// ChartFiles lists the chart exports in dir, sorted by name. Hidden files and
// files other than .xml are ignored.
func ChartFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list charts in %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".xml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths, nil
}

// ErrHalted is wrapped by the error ExtractDir returns when a fatal document
// error stopped the run.
var ErrHalted = errors.New("run halted")

// ExtractDir extracts every chart in dir with a bounded worker pool. Results
// are in file name order. When halt_on_fatal is set, the run stops at the
// first patient (in file order) with a document-level fatal error: results
// end with that patient and the returned error wraps ErrHalted and the cause.
// The output does not depend on the number of workers.
func (p *Pipeline) ExtractDir(ctx context.Context, dir string) (*Run, error) {
	paths, err := ChartFiles(dir)
	if err != nil {
		return nil, err
	}

	run := &Run{ID: p.runIDs(), Dir: dir, StartedAt: p.cfg.Now()}
	ctx = kit.WithRunID(ctx, run.ID)
	p.logger.Info("run started", append(kit.LogAttrs(ctx), "dir", dir, "charts", len(paths))...)

	workers := p.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	halt := *p.cfg.HaltOnFatal

	results := make([]PatientResult, len(paths))
	var (
		mu      sync.Mutex
		haltIdx = len(paths)
	)
	halted := func(i int) bool {
		mu.Lock()
		defer mu.Unlock()
		return i > haltIdx
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			break
		}
		if halted(i) {
			break
		}
		g.Go(func() error {
			if halted(i) {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = p.ExtractFile(ctx, path)
			if halt && results[i].Fatal() {
				mu.Lock()
				haltIdx = min(haltIdx, i)
				mu.Unlock()
			}
			return nil
		})
	}
	waitErr := g.Wait()

	run.FinishedAt = p.cfg.Now()
	if err := ctx.Err(); err != nil {
		run.Results = completed(results)
		return run, err
	}
	if waitErr != nil {
		run.Results = completed(results)
		return run, waitErr
	}

	if haltIdx < len(paths) {
		run.Results = results[:haltIdx+1]
		run.Halted = true
		run.HaltErr = results[haltIdx].Err
		p.logger.Error("run halted", append(kit.LogAttrs(ctx), "patient", results[haltIdx].PatientID, "error", run.HaltErr)...)
		return run, fmt.Errorf("%w: %w", ErrHalted, run.HaltErr)
	}
	run.Results = results

	patients, records, skipped, unreadable, failed := run.Counts()
	p.logger.Info("run finished", append(kit.LogAttrs(ctx),
		"patients", patients, "records", records, "skipped", skipped,
		"unreadable", unreadable, "failed", failed,
		"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds())...)
	return run, nil
}

func completed(results []PatientResult) []PatientResult {
	var out []PatientResult
	for _, r := range results {
		if r.PatientID != "" || r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
