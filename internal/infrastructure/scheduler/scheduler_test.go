package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func TestParseCronExpression(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/15 * * * *", false},
		{"0 8 * * *", false},
		{"0 7 * * 1-5", false},
		{"0,30 6-18/2 1 1,6 *", false},
		{"* * *", true},
		{"60 * * * *", true},
		{"*/0 * * * *", true},
		{"5-1 * * * *", true},
		{"a * * * *", true},
		{"0 24 * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseCronExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCronExpression_Next(t *testing.T) {
	base := time.Date(2025, 12, 26, 8, 7, 30, 0, time.UTC) // Friday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2025, 12, 26, 8, 15, 0, 0, time.UTC)},
		{"0 8 * * *", time.Date(2025, 12, 27, 8, 0, 0, 0, time.UTC)},
		{"0 7 * * 1-5", time.Date(2025, 12, 29, 7, 0, 0, 0, time.UTC)},
		{"30 9 1 * *", time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce := MustParseCron(tt.expr)
			assert.Equal(t, tt.want, ce.Next(base))
			assert.Equal(t, tt.expr, ce.String())
		})
	}
}

func TestCronExpression_NextIsStrictlyAfter(t *testing.T) {
	at := time.Date(2025, 12, 26, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, at.Add(24*time.Hour), MustParseCron("0 8 * * *").Next(at))
}

func TestIntervalSchedule(t *testing.T) {
	s := Every(15 * time.Minute)
	at := time.Date(2025, 12, 26, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, at.Add(15*time.Minute), s.Next(at))
	assert.Equal(t, "@every 15m0s", s.String())
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("15m")
	require.NoError(t, err)
	assert.Equal(t, "@every 15m0s", s.String())

	s, err = ParseSchedule("@every 1h")
	require.NoError(t, err)
	assert.IsType(t, &IntervalSchedule{}, s)

	s, err = ParseSchedule("0 8 * * *")
	require.NoError(t, err)
	assert.Equal(t, "0 8 * * *", s.String())

	_, err = ParseSchedule("-5m")
	assert.Error(t, err)
	_, err = ParseSchedule("soon")
	assert.Error(t, err)
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})

	require.NoError(t, s.Register(&countingJob{name: "a"}, Every(time.Minute)))
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, Every(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, Every(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "b"}, nil), ErrNilSchedule)

	require.NoError(t, s.Register(&countingJob{name: "0-first"}, Every(time.Hour)))
	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "0-first", jobs[0].Name)
	assert.Equal(t, "@every 1h0m0s", jobs[0].Schedule)
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	require.NoError(t, s.Register(failing, Every(time.Hour)))

	res, err := s.RunNow(context.Background(), "failing")
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)
	assert.Equal(t, int32(1), failing.runs.Load())

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history := s.GetHistory(10)
	require.Len(t, history, 1)
	assert.Equal(t, "failing", history[0].JobName)
	assert.Equal(t, int64(1), s.ListJobs()[0].FailCount)
}

func TestScheduler_DueJobsRunWithoutOverlap(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})

	var mu sync.Mutex
	now := time.Date(2025, 12, 26, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, Every(time.Minute)))

	s.checkAndRunJobs()
	assert.Equal(t, int32(0), job.runs.Load())

	advance(time.Minute)
	s.checkAndRunJobs()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	advance(time.Minute)
	s.checkAndRunJobs()
	assert.Equal(t, int32(1), job.runs.Load())

	close(job.block)
	s.wg.Wait()

	s.checkAndRunJobs()
	s.wg.Wait()
	assert.Equal(t, int32(2), job.runs.Load())
	assert.Equal(t, int64(2), s.ListJobs()[0].RunCount)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 10 * time.Millisecond})
	job := &countingJob{name: "blocked", block: make(chan struct{})}
	require.NoError(t, s.Register(job, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	last := s.ListJobs()[0].LastResult
	require.NotNil(t, last)
	assert.ErrorIs(t, last.Error, context.Canceled)
}
