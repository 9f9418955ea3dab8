// Package report writes extraction runs to report sinks: a SQLite database
// for querying across runs and a CSV sheet for review.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/dischargedx/dbopen"
	"github.com/hazyhaar/dischargedx/dxpipe"
	"github.com/hazyhaar/dischargedx/idgen"
)

// Sink receives a finished run.
type Sink interface {
	Write(ctx context.Context, run *dxpipe.Run) error
}

// SQLiteSink stores runs in a SQLite database created with Schema.
type SQLiteSink struct {
	db  *sql.DB
	ids idgen.Generator
}

// NewSQLiteSink wraps an open database. The schema must already be applied.
func NewSQLiteSink(db *sql.DB) *SQLiteSink {
	return &SQLiteSink{db: db, ids: idgen.Prefixed("dx_", idgen.Default)}
}

// OpenSQLite opens (or creates) the report database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return NewSQLiteSink(db), nil
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error { return s.db.Close() }

func ts(t time.Time) string { return t.Format(time.RFC3339) }

// Write stores run in a single transaction.
func (s *SQLiteSink) Write(ctx context.Context, run *dxpipe.Run) error {
	patients, records, _, _, _ := run.Counts()
	var haltErr any
	if run.HaltErr != nil {
		haltErr = run.HaltErr.Error()
	}

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (run_id, dir, started_at, finished_at, halted, halt_error, patients, records)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Dir, ts(run.StartedAt), ts(run.FinishedAt), run.Halted, haltErr, patients, records,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		ordinal := 0
		for i := range run.Results {
			pr := &run.Results[i]
			if pr.Err != nil {
				status := dxpipe.StatusFatal
				if pr.Unreadable() {
					status = dxpipe.StatusUnreadable
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO patient_failures (run_id, patient_id, status, error) VALUES (?, ?, ?, ?)`,
					run.ID, pr.PatientID, status, pr.Err.Error(),
				); err != nil {
					return fmt.Errorf("insert failure %s: %w", pr.PatientID, err)
				}
				continue
			}

			for _, rec := range pr.Records {
				ordinal++
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO diagnoses (diagnosis_id, run_id, ordinal, patient_id, document_ref, diagnosis, admission_date)
					 VALUES (?, ?, ?, ?, ?, ?, ?)`,
					s.ids(), run.ID, ordinal, rec.PatientID, rec.DocumentRef, rec.Diagnosis, ts(rec.AdmissionDate),
				); err != nil {
					return fmt.Errorf("insert diagnosis %s: %w", rec.DocumentRef, err)
				}
			}
			for _, sk := range pr.Skipped {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO skipped_documents (run_id, patient_id, document_ref, doc_date, kind, detail) VALUES (?, ?, ?, ?, ?, ?)`,
					run.ID, pr.PatientID, sk.DocumentRef, ts(sk.Date), string(sk.Kind), sk.Detail,
				); err != nil {
					return fmt.Errorf("insert skip %s: %w", sk.DocumentRef, err)
				}
			}
			// A summary with two diagnoses yields one follow-up row.
			for _, f := range pr.FollowUps {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO visit_summaries
					 (run_id, patient_id, document_ref, discharge, year_visits, qtr_visits, after_visits, unreadable)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					run.ID, pr.PatientID, f.DocumentRef, ts(f.Discharge), f.Year, f.Quarter, f.After, f.Unreadable,
				); err != nil {
					return fmt.Errorf("insert visits %s: %w", f.DocumentRef, err)
				}
			}
			if d := pr.Demographics; d != nil {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO no_followup_patients (run_id, patient_id, age, sex_code, ethnic_code, smoking_status)
					 VALUES (?, ?, ?, ?, ?, ?)`,
					run.ID, pr.PatientID, d.Age, d.SexCode, d.EthnicCode, d.SmokingStatus,
				); err != nil {
					return fmt.Errorf("insert demographics %s: %w", pr.PatientID, err)
				}
			}
		}
		return nil
	})
}

// Diagnoses returns the records stored for runID in extraction order.
func (s *SQLiteSink) Diagnoses(ctx context.Context, runID string) ([]dxpipe.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, document_ref, diagnosis, admission_date
		 FROM diagnoses WHERE run_id = ? ORDER BY ordinal`, runID)
	if err != nil {
		return nil, fmt.Errorf("query diagnoses: %w", err)
	}
	defer rows.Close()

	var out []dxpipe.Record
	for rows.Next() {
		var rec dxpipe.Record
		var date string
		if err := rows.Scan(&rec.PatientID, &rec.DocumentRef, &rec.Diagnosis, &date); err != nil {
			return nil, fmt.Errorf("scan diagnosis: %w", err)
		}
		if rec.AdmissionDate, err = time.Parse(time.RFC3339, date); err != nil {
			return nil, fmt.Errorf("diagnosis %s: bad admission_date %q: %w", rec.DocumentRef, date, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// NoFollowUp returns the patients of runID with a discharge not followed by
// any visit.
func (s *SQLiteSink) NoFollowUp(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT patient_id FROM visit_summaries
		 WHERE run_id = ? AND after_visits = 0 ORDER BY patient_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query follow-up: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
