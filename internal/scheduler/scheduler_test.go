package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func TestAddJob_RunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	job := &countingJob{name: "ticker"}

	require.NoError(t, s.AddJob("@every 10ms", job))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestAddJob_RejectsInvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	err := s.AddJob("not a cron schedule", &countingJob{name: "bad"})
	assert.Error(t, err)
}

func TestRunNow_ExecutesOutsideSchedule(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	job := &countingJob{name: "manual"}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestRunNow_PropagatesJobError(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	job := &countingJob{name: "failing", err: errors.New("boom")}

	err := s.RunNow(job)
	assert.EqualError(t, err, "boom")
}

func TestRunTracked_BacksOffAfterConsecutiveFailures(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	job := &countingJob{name: "flaky", err: errors.New("boom")}

	for i := 0; i < maxConsecutiveJobFailures; i++ {
		require.Error(t, s.runTracked(job, false))
	}
	require.Equal(t, int32(maxConsecutiveJobFailures), job.runs.Load())

	// A scheduled (non-forced) run is now skipped without invoking Run.
	require.NoError(t, s.runTracked(job, false))
	assert.Equal(t, int32(maxConsecutiveJobFailures), job.runs.Load())

	// A forced run (RunNow) still executes, and success clears the backoff.
	job.err = nil
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(maxConsecutiveJobFailures+1), job.runs.Load())

	require.NoError(t, s.runTracked(job, false))
	assert.Equal(t, int32(maxConsecutiveJobFailures+2), job.runs.Load())
}
