package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hazyhaar/dischargedx/dxpipe"
)

// CSVHeader is the first row written by CSVSink.
var CSVHeader = []string{
	"patient_id", "document_ref", "diagnosis", "admission_date",
	"visits_365d", "visits_90d", "visits_after", "active_conditions",
}

// CSVSink writes one row per diagnosis record.
type CSVSink struct {
	Path string
}

// Write replaces the file at s.Path with the rows of run.
func (s *CSVSink) Write(_ context.Context, run *dxpipe.Run) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}
	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", s.Path, err)
	}
	if err := WriteCSV(f, run); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCSV renders run as CSV. Dates are dd/mm/yyyy.
func WriteCSV(w io.Writer, run *dxpipe.Run) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("report: csv: %w", err)
	}
	for i := range run.Results {
		pr := &run.Results[i]
		if pr.Err != nil {
			continue
		}
		conds := strings.Join(pr.Conditions, "; ")
		for j, rec := range pr.Records {
			row := []string{rec.PatientID, rec.DocumentRef, rec.Diagnosis, rec.AdmissionDate.Format("02/01/2006"), "", "", ""}
			if j < len(pr.FollowUps) {
				f := pr.FollowUps[j]
				row[4], row[5], row[6] = strconv.Itoa(f.Year), strconv.Itoa(f.Quarter), strconv.Itoa(f.After)
			}
			if err := cw.Write(append(row, conds)); err != nil {
				return fmt.Errorf("report: csv: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: csv: %w", err)
	}
	return nil
}
