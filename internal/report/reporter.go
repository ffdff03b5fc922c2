// Package report aggregates per-pool counters into snapshots for the HTTP
// API and the metrics collector.
package report

import (
	"github.com/modelq/modelq/internal/pool"
	"github.com/modelq/modelq/internal/task"
)

type Reporter struct {
	pools []*pool.Pool
}

func New(pools []*pool.Pool) *Reporter {
	return &Reporter{pools: pools}
}

// Snapshot reads every pool's atomically-updated counters. No locks are
// taken over pool state, so calling this concurrently with worker activity
// is safe and cheap.
func (r *Reporter) Snapshot() map[task.Specialization]pool.Status {
	snapshot := make(map[task.Specialization]pool.Status, len(r.pools))
	for _, p := range r.pools {
		snapshot[p.Specialization()] = p.Status()
	}
	return snapshot
}

// Totals collapses a snapshot into system-wide counters.
type Totals struct {
	Queued      int   `json:"queued"`
	Active      int   `json:"active"`
	Succeeded   int64 `json:"succeeded"`
	Failed      int64 `json:"failed"`
	Cancelled   int64 `json:"cancelled"`
	TotalTokens int64 `json:"total_tokens"`
}

func (r *Reporter) Totals() Totals {
	var totals Totals
	for _, p := range r.pools {
		s := p.Status()
		totals.Queued += s.Queued
		totals.Active += s.Active
		totals.Succeeded += s.Succeeded
		totals.Failed += s.Failed
		totals.Cancelled += s.Cancelled
		totals.TotalTokens += s.TotalTokens
	}
	return totals
}
