package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int64
	err   error
	delay time.Duration
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
		}
	}
	j.runs.Add(1)
	return j.err
}

func TestScheduler_RunsOnStartAndOnInterval(t *testing.T) {
	s := New(Config{TickInterval: 5 * time.Millisecond, RunOnStart: true}, nil)
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, Every(10*time.Millisecond)))

	var completed atomic.Int64
	s.OnJobComplete(func(r JobResult) {
		assert.Equal(t, "tick", r.JobName)
		completed.Add(1)
	})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, job.runs.Load(), s.RunCount("tick"))
	assert.Equal(t, job.runs.Load(), completed.Load())
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := New(Config{TickInterval: time.Millisecond, RunOnStart: true}, nil)
	job := &countingJob{name: "slow", delay: 30 * time.Millisecond}
	require.NoError(t, s.Register(job, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, int64(1), job.runs.Load())
}

func TestScheduler_Errors(t *testing.T) {
	s := New(DefaultConfig(), nil)

	assert.ErrorIs(t, s.Register(nil, Every(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, nil), ErrNilSchedule)
	require.NoError(t, s.Register(&countingJob{name: "a"}, Every(time.Second)))
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, Every(time.Second)), ErrJobAlreadyExists)

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	_, err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNowReportsFailure(t *testing.T) {
	boom := errors.New("boom")
	s := New(DefaultConfig(), nil)
	require.NoError(t, s.Register(&countingJob{name: "fails", err: boom}, Every(time.Hour)))

	res, err := s.RunNow(context.Background(), "fails")
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)
	assert.Equal(t, int64(1), s.RunCount("fails"))
}

func TestEvery_String(t *testing.T) {
	assert.Equal(t, "@every 1m0s", Every(time.Minute).String())
}
