// Package pool implements the bounded-concurrency worker pool that executes
// completion tasks for one specialization. Each pool owns a bounded queue
// and a fixed number of worker goroutines; the only blocking point in a
// worker is the completion call itself.
package pool

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/modelq/modelq/internal/completion"
	"github.com/modelq/modelq/internal/metrics"
	"github.com/modelq/modelq/internal/task"
)

// Recorder persists task state transitions. Pools treat persistence as
// best-effort: a failing recorder is logged, never fatal to the task.
type Recorder interface {
	SaveTask(t *task.Task) error
}

type Config struct {
	Specialization task.Specialization
	Workers        int
	QueueCapacity  int
	Model          string
	SystemPrompt   string
	MaxAttempts    int
	RetryBackoff   time.Duration
	RateLimit      float64 // completion calls per second, 0 for unlimited
	Client         completion.Client
	Recorder       Recorder
}

// Status is a point-in-time view of a pool's counters. Dequeued always
// equals Succeeded + Failed + Cancelled.
type Status struct {
	Specialization task.Specialization `json:"specialization"`
	Workers        int                 `json:"workers"`
	QueueCapacity  int                 `json:"queue_capacity"`
	Queued         int                 `json:"queued"`
	Active         int                 `json:"active"`
	Dequeued       int64               `json:"dequeued"`
	Succeeded      int64               `json:"succeeded"`
	Failed         int64               `json:"failed"`
	Cancelled      int64               `json:"cancelled"`
	TotalTokens    int64               `json:"total_tokens"`
	AvgLatencyMs   int64               `json:"avg_latency_ms"`
}

type Pool struct {
	spec         task.Specialization
	workers      int
	capacity     int
	model        string
	systemPrompt string
	maxAttempts  int
	retryBackoff time.Duration
	client       completion.Client
	recorder     Recorder
	limiter      *rate.Limiter

	queue chan *task.Task

	// mu guards task status transitions and the pending registry, so a
	// cancel can never race a worker picking the same task up.
	mu      sync.Mutex
	pending map[string]*task.Task
	stopped bool

	active       atomic.Int32
	dequeued     atomic.Int64
	succeeded    atomic.Int64
	failed       atomic.Int64
	cancelled    atomic.Int64
	totalTokens  atomic.Int64
	latencySumMs atomic.Int64
	latencyCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = workers * 2
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 500 * time.Millisecond
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		spec:         cfg.Specialization,
		workers:      workers,
		capacity:     capacity,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxAttempts:  maxAttempts,
		retryBackoff: retryBackoff,
		client:       cfg.Client,
		recorder:     cfg.Recorder,
		limiter:      limiter,
		queue:        make(chan *task.Task, capacity),
		pending:      make(map[string]*task.Task),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("Pool %s started with %d workers (queue capacity %d)", p.spec, p.workers, p.capacity)
}

// Submit offers a task to the pool without blocking. A false return means
// the bounded queue is full; the caller must handle the backpressure.
func (p *Pool) Submit(t *task.Task) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	t.Specialization = p.spec
	select {
	case p.queue <- t:
		p.pending[t.ID] = t
		snapshot := *t
		p.mu.Unlock()
		metrics.UpdateQueueDepth(p.spec, len(p.queue))
		p.record(&snapshot)
		return true
	default:
		p.mu.Unlock()
		return false
	}
}

// Cancel marks a still-queued task as cancelled. Returns false once a
// worker has begun executing the task or after it reached a terminal state.
func (p *Pool) Cancel(taskID string) bool {
	p.mu.Lock()
	t, ok := p.pending[taskID]
	if !ok || t.Status != task.StatusPending {
		p.mu.Unlock()
		return false
	}
	t.Status = task.StatusCancelled
	now := time.Now()
	t.CompletedAt = &now
	snapshot := *t
	p.mu.Unlock()

	metrics.RecordTaskCancelled(p.spec)
	p.record(&snapshot)
	log.Printf("Task %s cancelled while queued in pool %s", taskID, p.spec)
	return true
}

// Status is a pure read of the pool's counters, safe to call concurrently
// with worker activity.
func (p *Pool) Status() Status {
	var avgLatency int64
	if n := p.latencyCount.Load(); n > 0 {
		avgLatency = p.latencySumMs.Load() / n
	}

	return Status{
		Specialization: p.spec,
		Workers:        p.workers,
		QueueCapacity:  p.capacity,
		Queued:         len(p.queue),
		Active:         int(p.active.Load()),
		Dequeued:       p.dequeued.Load(),
		Succeeded:      p.succeeded.Load(),
		Failed:         p.failed.Load(),
		Cancelled:      p.cancelled.Load(),
		TotalTokens:    p.totalTokens.Load(),
		AvgLatencyMs:   avgLatency,
	}
}

func (p *Pool) Specialization() task.Specialization {
	return p.spec
}

// Load is the dispatcher's tie-break signal: queued plus in-flight tasks.
func (p *Pool) Load() int {
	return len(p.queue) + int(p.active.Load())
}

// Stop drains the queue and waits for in-flight work, up to ctx's deadline.
// After the deadline workers are cancelled and remaining tasks stay pending
// in the record store.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
	log.Printf("Pool %s stopped", p.spec)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(t)
		}
	}
}

func (p *Pool) process(t *task.Task) {
	p.dequeued.Add(1)
	metrics.UpdateQueueDepth(p.spec, len(p.queue))

	p.mu.Lock()
	delete(p.pending, t.ID)
	if t.Status == task.StatusCancelled {
		p.mu.Unlock()
		p.cancelled.Add(1)
		return
	}
	now := time.Now()
	t.Status = task.StatusInProgress
	t.StartedAt = &now
	p.mu.Unlock()

	metrics.RecordTaskWaitTime(p.spec, t.Priority, now.Sub(t.CreatedAt))
	p.record(t)

	p.active.Add(1)
	metrics.UpdateActiveWorkers(p.spec, int(p.active.Load()))
	defer func() {
		p.active.Add(-1)
		metrics.UpdateActiveWorkers(p.spec, int(p.active.Load()))
	}()

	result, err := p.execute(t)
	completedAt := time.Now()
	t.CompletedAt = &completedAt
	t.ElapsedMs = completedAt.Sub(*t.StartedAt).Milliseconds()

	if err != nil {
		t.Status = task.StatusFailed
		t.Error = err.Error()
		p.failed.Add(1)
		p.latencySumMs.Add(t.ElapsedMs)
		p.latencyCount.Add(1)
		metrics.RecordTaskFailed(p.spec, completedAt.Sub(*t.StartedAt))
		log.Printf("Task %s failed in pool %s after %d retries: %v", t.ID, p.spec, t.Retries, err)
	} else {
		t.Status = task.StatusCompleted
		t.Result = &task.Result{
			Content:    result.Content,
			Model:      result.Model,
			TokensUsed: result.TokensUsed,
			LatencyMs:  result.Latency.Milliseconds(),
		}
		t.TokensUsed = result.TokensUsed
		p.succeeded.Add(1)
		p.totalTokens.Add(int64(result.TokensUsed))
		p.latencySumMs.Add(t.ElapsedMs)
		p.latencyCount.Add(1)
		metrics.RecordTaskCompleted(p.spec, completedAt.Sub(*t.StartedAt), result.TokensUsed)
		log.Printf("Task %s completed in pool %s (%d tokens, %dms)", t.ID, p.spec, t.TokensUsed, t.ElapsedMs)
	}

	p.record(t)
}

// execute runs the retry policy around the completion client: transport
// errors, 429 and 5xx back off exponentially up to maxAttempts; everything
// else fails on the first attempt.
func (p *Pool) execute(t *task.Task) (completion.Result, error) {
	req := completion.Request{
		Model:        p.model,
		SystemPrompt: p.systemPrompt,
		UserText:     t.Description,
		MaxTokens:    t.MaxTokens,
		Temperature:  t.Temperature,
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(p.ctx); err != nil {
				return completion.Result{}, err
			}
		}

		result, err := p.client.Complete(p.ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !completion.Retryable(err) || attempt == p.maxAttempts {
			break
		}

		t.Retries++
		metrics.RecordCompletionRetry(p.spec)
		backoff := p.retryBackoff * (1 << (attempt - 1))
		log.Printf("Task %s attempt %d failed in pool %s, retrying in %s: %v", t.ID, attempt, p.spec, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-p.ctx.Done():
			timer.Stop()
			return completion.Result{}, p.ctx.Err()
		case <-timer.C:
		}
	}

	return completion.Result{}, lastErr
}

func (p *Pool) record(t *task.Task) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.SaveTask(t); err != nil {
		log.Printf("Failed to record task %s: %v", t.ID, err)
	}
}
