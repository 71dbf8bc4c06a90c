// Package monitoring summarizes recent run history and raises webhook alerts
// when failure rate or spend crosses a threshold.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/internal/store"
)

// maxRuns bounds how many runs a single collection reads.
const maxRuns = 10000

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	Total     int     `json:"total"`
	Complete  int     `json:"complete"`
	Failed    int     `json:"failed"`
	Running   int     `json:"running"`
	FailRate  float64 `json:"fail_rate"`
	Transient int     `json:"transient"`
	Permanent int     `json:"permanent"`

	ByFlow          map[model.FlowID]int `json:"by_flow"`
	CostUSD         float64              `json:"cost_usd"`
	AvgTokens       int                  `json:"avg_tokens"`
	AvgDurationSecs float64              `json:"avg_duration_secs"`

	// LookbackHours is zero when every stored run was considered.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run history store.
type Collector struct {
	store RunLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect summarizes the runs created within the last lookbackHours. A
// lookback of zero or less covers all stored runs.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	now := c.now().UTC()
	if lookbackHours > 0 {
		cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
		recent := runs[:0]
		for _, r := range runs {
			if !r.CreatedAt.Before(cutoff) {
				recent = append(recent, r)
			}
		}
		runs = recent
	} else {
		lookbackHours = 0
	}

	snap := Summarize(runs)
	snap.LookbackHours = lookbackHours
	snap.CollectedAt = now
	return snap, nil
}

// Summarize computes aggregate statistics over runs.
func Summarize(runs []model.Run) *MetricsSnapshot {
	snap := &MetricsSnapshot{
		Total:  len(runs),
		ByFlow: make(map[model.FlowID]int),
	}

	var totalTokens int
	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			durCount++
		case model.RunStatusFailed:
			snap.Failed++
		default:
			snap.Running++
		}

		if r.Result == nil {
			continue
		}
		if r.Result.Flow != 0 {
			snap.ByFlow[r.Result.Flow]++
		}
		usage := r.Result.TokenUsage
		snap.CostUSD += usage.Cost
		totalTokens += usage.InputTokens + usage.OutputTokens

		if r.Status == model.RunStatusFailed {
			switch resilience.ErrorClass(r.Result.ErrorClass) {
			case resilience.ClassTransient:
				snap.Transient++
			case resilience.ClassPermanent:
				snap.Permanent++
			}
		}
	}

	if finished := snap.Complete + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	if snap.Total > 0 {
		snap.AvgTokens = totalTokens / snap.Total
	}
	if durCount > 0 {
		snap.AvgDurationSecs = totalDur.Seconds() / float64(durCount)
	}
	return snap
}
