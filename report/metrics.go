package report

import (
	"context"

	"github.com/hazyhaar/dischargedx/dxpipe"
	"github.com/hazyhaar/dischargedx/observability"
)

// MetricsSink records the counters of each run as observability metrics
// labelled with the run id.
type MetricsSink struct {
	Metrics *observability.MetricsManager
}

// Write queues the run counters and flushes them.
func (s *MetricsSink) Write(_ context.Context, run *dxpipe.Run) error {
	patients, records, skipped, unreadable, failed := run.Counts()
	halted := 0.0
	if run.Halted {
		halted = 1
	}
	labels := map[string]string{"run_id": run.ID}
	for _, m := range []struct {
		name  string
		value float64
		unit  string
	}{
		{observability.MetricRunPatients, float64(patients), "count"},
		{observability.MetricRunRecords, float64(records), "count"},
		{observability.MetricRunSkipped, float64(skipped), "count"},
		{observability.MetricRunUnreadable, float64(unreadable), "count"},
		{observability.MetricRunFailed, float64(failed), "count"},
		{observability.MetricRunDurationMs, float64(run.FinishedAt.Sub(run.StartedAt).Milliseconds()), "milliseconds"},
		{observability.MetricRunHalted, halted, "bool"},
	} {
		s.Metrics.Record(&observability.Metric{
			Name:      m.name,
			Timestamp: run.FinishedAt,
			Value:     m.value,
			Labels:    labels,
			Unit:      m.unit,
		})
	}
	s.Metrics.Flush()
	return nil
}
