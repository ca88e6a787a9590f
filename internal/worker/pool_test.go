package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/worker"
)

func newJob() *models.Job {
	return models.NewJob("alice", models.NewResourceID(), "nc", "", nil)
}

func TestPool_RunsAllTasks(t *testing.T) {
	var ran atomic.Int32
	pool := worker.NewPool(3, 10, func(_ context.Context, job *models.Job) error {
		ran.Add(1)
		return nil
	}, nil)
	pool.Start()

	jobs := map[string]bool{}
	for i := 0; i < 10; i++ {
		job := newJob()
		jobs[job.ResourceID] = true
		require.NoError(t, pool.Submit(worker.Task{Job: job}))
	}
	pool.Stop()

	seen := map[string]bool{}
	for result := range pool.Results() {
		assert.NoError(t, result.Err)
		seen[result.Job.ResourceID] = true
	}
	assert.Equal(t, jobs, seen)
	assert.Equal(t, int32(10), ran.Load())
}

func TestPool_RunsConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})

	pool := worker.NewPool(2, 4, func(_ context.Context, _ *models.Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}, nil)
	pool.Start()

	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(worker.Task{Job: newJob()}))
	}

	assert.Eventually(t, func() bool { return running.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	close(release)
	pool.Stop()

	assert.Equal(t, int32(2), peak.Load(), "never more than the configured workers")
}

func TestPool_ReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	pool := worker.NewPool(1, 1, func(_ context.Context, _ *models.Job) error { return boom }, nil)
	pool.Start()

	require.NoError(t, pool.Submit(worker.Task{Job: newJob()}))
	pool.Stop()

	result := <-pool.Results()
	assert.ErrorIs(t, result.Err, boom)
}

func TestPool_TaskContext(t *testing.T) {
	type key struct{}
	var got atomic.Value

	pool := worker.NewPool(1, 2, func(ctx context.Context, _ *models.Job) error {
		if v := ctx.Value(key{}); v != nil {
			got.Store(v)
		}
		return ctx.Err()
	}, nil)
	pool.Start()

	ctx := context.WithValue(context.Background(), key{}, "caller")
	require.NoError(t, pool.Submit(worker.Task{Context: ctx, Job: newJob()}))
	require.NoError(t, pool.Submit(worker.Task{Job: newJob()}), "nil context uses the pool's")
	pool.Stop()

	for result := range pool.Results() {
		assert.NoError(t, result.Err)
	}
	assert.Equal(t, "caller", got.Load())
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := worker.NewPool(1, 1, func(context.Context, *models.Job) error { return nil }, nil)
	pool.Start()
	pool.Stop()
	pool.Stop()

	assert.Error(t, pool.Submit(worker.Task{Job: newJob()}))
	assert.Equal(t, 0, pool.QueueLength())
}
