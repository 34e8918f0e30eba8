// Package monitoring watches extraction run history and raises alerts when
// runs fail, properties fail, or API usage runs over budget.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/costar-cli/internal/model"
)

// MetricsSnapshot holds a point-in-time view of extraction health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Property metrics summed over the window's runs.
	PropertiesProcessed int              `json:"properties_processed"`
	PropertyFailures    int              `json:"property_failures"`
	PropertyFailRate    float64          `json:"property_fail_rate"`
	Contacts            int              `json:"contacts"`
	ContactsPerProperty float64          `json:"contacts_per_property"`
	APICalls            int64            `json:"api_calls"`
	CallsByOperation    map[string]int64 `json:"calls_by_operation,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the store capability the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	store   RunLister
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, nowFunc: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours:    lookbackHours,
		CollectedAt:      now,
		CallsByOperation: map[string]int64{},
	}

	runs, err := c.store.ListRuns(ctx, model.RunFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.Result == nil {
			continue
		}
		snap.PropertiesProcessed += r.Result.PropertiesProcessed
		snap.PropertyFailures += r.Result.Failures
		snap.Contacts += r.Result.Contacts
		for op, n := range r.Result.Calls {
			snap.CallsByOperation[op] += n
			snap.APICalls += n
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.PropertiesProcessed > 0 {
		snap.PropertyFailRate = float64(snap.PropertyFailures) / float64(snap.PropertiesProcessed)
		snap.ContactsPerProperty = float64(snap.Contacts) / float64(snap.PropertiesProcessed)
	}

	return snap, nil
}
