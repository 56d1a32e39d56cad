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

type stubJob struct {
	name string
	err  error
	runs int32
}

func (j *stubJob) Name() string        { return j.name }
func (j *stubJob) Description() string { return "stub job for scheduler tests" }

func (j *stubJob) Run(ctx context.Context) error {
	atomic.AddInt32(&j.runs, 1)
	return j.err
}

func newTestScheduler() *Scheduler {
	return NewScheduler(DefaultSchedulerConfig())
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := newTestScheduler()
	schedule := NewIntervalSchedule(time.Hour)

	assert.True(t, errors.Is(s.Register(nil, schedule), ErrNilJob))
	assert.True(t, errors.Is(s.Register(&stubJob{name: "sweep"}, nil), ErrNilSchedule))

	require.NoError(t, s.Register(&stubJob{name: "sweep"}, schedule))
	err := s.Register(&stubJob{name: "sweep"}, schedule)
	assert.True(t, errors.Is(err, ErrJobAlreadyExists))
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "sweep"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "sweep")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "sweep", result.JobName)
	assert.Equal(t, int32(1), atomic.LoadInt32(&job.runs))

	info, err := s.GetJobInfo("sweep")
	require.NoError(t, err)
	assert.NotNil(t, info.LastResult)

	history := s.GetHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, "sweep", history[0].JobName)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalExecutions)
	assert.Equal(t, int64(1), snap.TotalSuccesses)
	assert.Equal(t, 1.0, snap.SuccessRate)
}

func TestScheduler_RunNowFailure(t *testing.T) {
	s := newTestScheduler()
	jobErr := errors.New("registry unavailable")
	require.NoError(t, s.Register(&stubJob{name: "sweep", err: jobErr}, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "sweep")
	assert.True(t, errors.Is(err, jobErr))
	require.NotNil(t, result)
	assert.False(t, result.Success)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalFailures)

	_, err = s.RunNow(context.Background(), "phantom")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestScheduler_GetHistoryLimit(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&stubJob{name: "sweep"}, NewIntervalSchedule(time.Hour)))

	for i := 0; i < 3; i++ {
		_, err := s.RunNow(context.Background(), "sweep")
		require.NoError(t, err)
	}

	assert.Len(t, s.GetHistory(2), 2)
	assert.Len(t, s.GetHistory(0), 3)
}

func TestScheduler_EnableDisable(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&stubJob{name: "sweep"}, NewIntervalSchedule(time.Hour)))

	require.NoError(t, s.DisableJob("sweep"))
	info, err := s.GetJobInfo("sweep")
	require.NoError(t, err)
	assert.False(t, info.Enabled)

	require.NoError(t, s.EnableJob("sweep"))
	info, err = s.GetJobInfo("sweep")
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	assert.False(t, info.NextRun.IsZero())

	assert.True(t, errors.Is(s.DisableJob("phantom"), ErrJobNotFound))
	assert.True(t, errors.Is(s.EnableJob("phantom"), ErrJobNotFound))
}

func TestScheduler_Unregister(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&stubJob{name: "sweep"}, NewIntervalSchedule(time.Hour)))

	require.NoError(t, s.Unregister("sweep"))
	_, err := s.GetJobInfo("sweep")
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.True(t, errors.Is(s.Unregister("sweep"), ErrJobNotFound))
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&stubJob{name: "sweep"}, NewIntervalSchedule(time.Hour)))

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.True(t, errors.Is(s.Start(context.Background()), ErrSchedulerAlreadyRunning))

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.True(t, errors.Is(s.Stop(), ErrSchedulerNotRunning))
}

func TestScheduler_ListJobs(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&stubJob{name: "a-sweep"}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(&stubJob{name: "b-sweep"}, MustParseCronSchedule("0 6 * * *")))

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	names := map[string]string{}
	for _, j := range jobs {
		names[j.Name] = j.Schedule
	}
	assert.Equal(t, "@every 1h0m0s", names["a-sweep"])
	assert.Equal(t, "0 6 * * *", names["b-sweep"])
}
