package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelq/modelq/internal/completion"
	"github.com/modelq/modelq/internal/pool"
	"github.com/modelq/modelq/internal/task"
)

type clientFunc func(ctx context.Context, req completion.Request) (completion.Result, error)

func (f clientFunc) Complete(ctx context.Context, req completion.Request) (completion.Result, error) {
	return f(ctx, req)
}

func okClient() completion.Client {
	return clientFunc(func(_ context.Context, _ completion.Request) (completion.Result, error) {
		return completion.Result{Content: "ok", Model: "m", TokensUsed: 5, Latency: time.Millisecond}, nil
	})
}

// newTestDispatcher builds one idle pool per specialization. Pools are not
// started, so queue contents are fully deterministic.
func newTestDispatcher(t *testing.T, capacity int) *Dispatcher {
	pools := make([]*pool.Pool, 0, len(task.Specializations()))
	for _, spec := range task.Specializations() {
		pools = append(pools, pool.New(pool.Config{
			Specialization: spec,
			Workers:        2,
			QueueCapacity:  capacity,
			Model:          "m",
			Client:         okClient(),
		}))
	}
	d := New(pools)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, p := range d.Pools() {
			p.Stop(ctx)
		}
	})
	return d
}

func TestDispatch_KeywordRouting(t *testing.T) {
	tests := []struct {
		description string
		want        task.Specialization
	}{
		{"debug the login flow", task.SpecCoding},
		{"please program a parser", task.SpecCoding},
		{"analyze quarterly trends", task.SpecAnalysis},
		{"compile statistics for Q3", task.SpecAnalysis},
		{"write a short story", task.SpecCreative},
		{"decide on a rollout strategy", task.SpecReasoning},
		{"hello there", task.SpecGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			d := newTestDispatcher(t, 10)

			spec, err := d.Dispatch(task.New(tt.description, task.PriorityNormal))

			require.NoError(t, err)
			assert.Equal(t, tt.want, spec)
		})
	}
}

func TestDispatch_DeterministicWithEmptyPools(t *testing.T) {
	// routing the same description against idle pools always picks the
	// same pool
	for i := 0; i < 5; i++ {
		d := newTestDispatcher(t, 10)
		spec, err := d.Dispatch(task.New("debug this crash", task.PriorityNormal))
		require.NoError(t, err)
		assert.Equal(t, task.SpecCoding, spec)
	}
}

func TestDispatch_MultiMatchLeastLoaded(t *testing.T) {
	d := newTestDispatcher(t, 10)

	// "analyze the program" matches both coding and analysis; load coding
	// so analysis wins the tie-break
	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(task.New("debug something", task.PriorityNormal))
		require.NoError(t, err)
	}

	spec, err := d.Dispatch(task.New("analyze the program output", task.PriorityNormal))

	require.NoError(t, err)
	assert.Equal(t, task.SpecAnalysis, spec)
}

func TestDispatch_MultiMatchTableOrderOnTie(t *testing.T) {
	d := newTestDispatcher(t, 10)

	// both matched pools idle: coding comes first in the table
	spec, err := d.Dispatch(task.New("analyze the program output", task.PriorityNormal))

	require.NoError(t, err)
	assert.Equal(t, task.SpecCoding, spec)
}

func TestDispatch_NextBestOnBackpressure(t *testing.T) {
	// coding: capacity 1, already full. analysis: equal load but room
	// left. The tie-break picks coding by table order, coding reports
	// backpressure, and the dispatcher falls through to analysis.
	coding := pool.New(pool.Config{Specialization: task.SpecCoding, Workers: 1, QueueCapacity: 1, Model: "m", Client: okClient()})
	analysis := pool.New(pool.Config{Specialization: task.SpecAnalysis, Workers: 1, QueueCapacity: 10, Model: "m", Client: okClient()})
	d := New([]*pool.Pool{coding, analysis})

	require.True(t, coding.Submit(task.New("debug it", task.PriorityNormal)))
	require.True(t, analysis.Submit(task.New("analyze it", task.PriorityNormal)))

	spec, err := d.Dispatch(task.New("debug and analyze it", task.PriorityNormal))

	require.NoError(t, err)
	assert.Equal(t, task.SpecAnalysis, spec)
}

func TestDispatch_LeastLoadedAvoidsFullPool(t *testing.T) {
	d := newTestDispatcher(t, 2)

	// fill the coding pool; the multi-match then prefers the idle
	// analysis pool outright
	for i := 0; i < 2; i++ {
		spec, err := d.Dispatch(task.New("debug it", task.PriorityNormal))
		require.NoError(t, err)
		require.Equal(t, task.SpecCoding, spec)
	}

	spec, err := d.Dispatch(task.New("debug and analyze it", task.PriorityNormal))

	require.NoError(t, err)
	assert.Equal(t, task.SpecAnalysis, spec)
}

func TestDispatch_Overloaded(t *testing.T) {
	d := newTestDispatcher(t, 1)

	_, err := d.Dispatch(task.New("debug it", task.PriorityNormal))
	require.NoError(t, err)

	_, err = d.Dispatch(task.New("debug it again", task.PriorityNormal))

	assert.ErrorIs(t, err, ErrOverloaded)
}

func TestDispatch_GeneralFallbackOverloaded(t *testing.T) {
	d := newTestDispatcher(t, 1)

	_, err := d.Dispatch(task.New("no keywords here", task.PriorityNormal))
	require.NoError(t, err)

	_, err = d.Dispatch(task.New("still no keywords", task.PriorityNormal))

	assert.ErrorIs(t, err, ErrOverloaded)
}

func TestCancel(t *testing.T) {
	d := newTestDispatcher(t, 10)

	tk := task.New("debug it", task.PriorityNormal)
	_, err := d.Dispatch(tk)
	require.NoError(t, err)

	assert.NoError(t, d.Cancel(tk.ID))
	assert.Equal(t, task.StatusCancelled, tk.Status)

	assert.ErrorIs(t, d.Cancel("unknown-id"), ErrUnknownTask)
}

func TestDispatch_DrainScenario(t *testing.T) {
	// five analysis tasks against a pool with two workers: two run
	// immediately, three wait, and all five reach a terminal state with a
	// recorded latency once the workers drain the queue
	release := make(chan struct{})
	client := clientFunc(func(_ context.Context, _ completion.Request) (completion.Result, error) {
		<-release
		return completion.Result{Content: "ok", Model: "m", TokensUsed: 5, Latency: time.Millisecond}, nil
	})

	analysis := pool.New(pool.Config{
		Specialization: task.SpecAnalysis,
		Workers:        2,
		QueueCapacity:  5,
		Model:          "m",
		Client:         client,
	})
	d := New([]*pool.Pool{analysis})
	analysis.Start()

	tasks := make([]*task.Task, 0, 5)
	for i := 0; i < 5; i++ {
		tk := task.New("analyze quarterly trends", task.PriorityNormal)
		spec, err := d.Dispatch(tk)
		require.NoError(t, err)
		require.Equal(t, task.SpecAnalysis, spec)
		tasks = append(tasks, tk)
	}

	assert.Eventually(t, func() bool {
		s := analysis.Status()
		return s.Active == 2 && s.Queued == 3
	}, 2*time.Second, 5*time.Millisecond)

	close(release)

	assert.Eventually(t, func() bool {
		return analysis.Status().Succeeded == 5
	}, 2*time.Second, 5*time.Millisecond)

	for _, tk := range tasks {
		assert.True(t, tk.Status.Terminal())
		assert.Greater(t, tk.ElapsedMs, int64(-1))
		require.NotNil(t, tk.CompletedAt)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	analysis.Stop(ctx)
}

func TestDispatch_NoRoute(t *testing.T) {
	coding := pool.New(pool.Config{
		Specialization: task.SpecCoding,
		Workers:        1,
		QueueCapacity:  2,
		Client:         okClient(),
	})

	// No general pool registered, so an unmatched description has nowhere
	// to go. This must not be reported as backpressure.
	d := New([]*pool.Pool{coding})

	_, err := d.Dispatch(task.New("summarize the meeting notes", task.PriorityNormal))
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.NotErrorIs(t, err, ErrOverloaded)
}
