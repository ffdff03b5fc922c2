// Package dispatch routes free-text tasks to specialization pools. Routing
// is a deliberate keyword heuristic behind this package boundary, so it can
// be swapped for a real classifier without touching pool or client code.
package dispatch

import (
	"errors"
	"log"
	"sort"
	"strings"

	"github.com/modelq/modelq/internal/metrics"
	"github.com/modelq/modelq/internal/pool"
	"github.com/modelq/modelq/internal/task"
)

// ErrOverloaded signals local backpressure: every candidate pool's queue is
// full. Surfaced immediately to the submitter, never silently buffered.
var ErrOverloaded = errors.New("all candidate pools are at capacity")

var ErrUnknownTask = errors.New("task not found in any pool")

// ErrNoRoute means no registered pool can serve the task: no keyword match
// and no general pool in the registry. Distinct from ErrOverloaded, which
// is transient backpressure.
var ErrNoRoute = errors.New("no pool can serve the task")

type routeRule struct {
	spec     task.Specialization
	keywords []string
}

// Keyword table in declaration order; order breaks ties between equally
// loaded pools.
var routingTable = []routeRule{
	{task.SpecCoding, []string{"code", "program", "debug", "develop"}},
	{task.SpecAnalysis, []string{"analyze", "data", "trend", "statistic"}},
	{task.SpecCreative, []string{"create", "write", "story", "creative"}},
	{task.SpecReasoning, []string{"reason", "logic", "decide", "strategy"}},
}

type Dispatcher struct {
	pools map[task.Specialization]*pool.Pool
	order []task.Specialization
}

// New builds a dispatcher over an explicit pool registry. The registry is
// constructed once at startup and never mutated afterwards.
func New(pools []*pool.Pool) *Dispatcher {
	d := &Dispatcher{
		pools: make(map[task.Specialization]*pool.Pool, len(pools)),
	}
	for _, p := range pools {
		d.pools[p.Specialization()] = p
		d.order = append(d.order, p.Specialization())
	}
	return d
}

// Dispatch routes the task and submits it to the selected pool. When the
// best candidate reports backpressure the next-best candidate is tried
// once; if every candidate is full the task is rejected with ErrOverloaded.
func (d *Dispatcher) Dispatch(t *task.Task) (task.Specialization, error) {
	candidates := d.candidates(t.Description)
	if len(candidates) == 0 {
		return "", ErrNoRoute
	}

	for attempt, spec := range candidates {
		if attempt > 1 {
			break
		}
		p := d.pools[spec]
		if p.Submit(t) {
			metrics.RecordTaskSubmitted(spec, t.Priority)
			log.Printf("Task %s routed to pool %s", t.ID, spec)
			return spec, nil
		}
		log.Printf("Pool %s is full, task %s falling through", spec, t.ID)
	}

	metrics.RecordTaskRejected(candidates[0])
	return "", ErrOverloaded
}

// Cancel forwards a cancellation to whichever pool still holds the task
// queued. Terminal or in-flight tasks are not cancellable.
func (d *Dispatcher) Cancel(taskID string) error {
	for _, spec := range d.order {
		if d.pools[spec].Cancel(taskID) {
			return nil
		}
	}
	return ErrUnknownTask
}

func (d *Dispatcher) Pools() []*pool.Pool {
	pools := make([]*pool.Pool, 0, len(d.order))
	for _, spec := range d.order {
		pools = append(pools, d.pools[spec])
	}
	return pools
}

// candidates returns the pools to try, best first: keyword matches in table
// order, least-loaded first, table order on equal load. No keyword match
// falls back to the general pool.
func (d *Dispatcher) candidates(description string) []task.Specialization {
	matched := matchSpecs(description)

	specs := make([]task.Specialization, 0, len(matched))
	for _, spec := range matched {
		if _, ok := d.pools[spec]; ok {
			specs = append(specs, spec)
		}
	}
	if len(specs) == 0 {
		if _, ok := d.pools[task.SpecGeneral]; ok {
			return []task.Specialization{task.SpecGeneral}
		}
		return nil
	}

	// stable sort keeps table-declaration order between equally loaded pools
	sort.SliceStable(specs, func(i, j int) bool {
		return d.pools[specs[i]].Load() < d.pools[specs[j]].Load()
	})
	return specs
}

func matchSpecs(description string) []task.Specialization {
	lower := strings.ToLower(description)

	var matched []task.Specialization
	for _, rule := range routingTable {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				matched = append(matched, rule.spec)
				break
			}
		}
	}
	return matched
}
