// Package monitoring summarizes extraction health for the metrics endpoint.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/store"
)

// MetricsSnapshot holds a point-in-time view of extraction health.
type MetricsSnapshot struct {
	// Entity counts by extraction status (within lookback window).
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	// StaleRunning counts entities with a step stuck at running past the
	// stale threshold. Nonzero values usually mean a crashed process.
	StaleRunning int `json:"stale_running"`

	FailRate  float64 `json:"fail_rate"`
	AvgRating float64 `json:"avg_rating"`

	ByType map[model.EntityType]int `json:"by_type"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the entity store.
type Collector struct {
	store          store.Store
	staleThreshold time.Duration
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, staleThreshold time.Duration) *Collector {
	return &Collector{store: st, staleThreshold: staleThreshold}
}

// Collect gathers a snapshot of extraction metrics over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		ByType:        make(map[model.EntityType]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	filter := store.EntityFilter{Limit: 10000}
	if lookbackHours > 0 {
		filter.CreatedAfter = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}

	entities, err := c.store.ListEntities(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list entities")
	}

	snap.Total = len(entities)
	var ratingSum float64
	var rated int

	for _, e := range entities {
		switch e.ExtractionStatus {
		case model.ExtractionPending:
			snap.Pending++
		case model.ExtractionProcessing:
			snap.Processing++
		case model.ExtractionCompleted:
			snap.Completed++
		case model.ExtractionFailed:
			snap.Failed++
		}
		snap.ByType[e.Type]++

		if e.Rating > 0 {
			ratingSum += e.Rating
			rated++
		}
		if c.hasStaleRunning(e, now) {
			snap.StaleRunning++
		}
	}

	finished := snap.Completed + snap.Failed
	if finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	if rated > 0 {
		snap.AvgRating = ratingSum / float64(rated)
	}
	return snap, nil
}

func (c *Collector) hasStaleRunning(e model.Entity, now time.Time) bool {
	for _, st := range e.Progress {
		if st.Status != model.StepRunning {
			continue
		}
		if st.StartedAt == nil || now.Sub(*st.StartedAt) >= c.staleThreshold {
			return true
		}
	}
	return false
}
