package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfigs() map[Lane]LaneConfig {
	return map[Lane]LaneConfig{
		LaneSynthesis: {
			Priority:    10,
			MaxAttempts: 3,
			BackoffBase: 5 * time.Millisecond,
			Concurrency: 2,
			BufferSize:  16,
		},
		LaneAggregation: {
			Priority:    8,
			MaxAttempts: 2,
			BackoffBase: 5 * time.Millisecond,
			Concurrency: 1,
			BufferSize:  16,
		},
	}
}

func newTestManager(t *testing.T, configs map[Lane]LaneConfig) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m := NewManager(configs, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	return m
}

func TestDefaultLaneConfigs(t *testing.T) {
	configs := DefaultLaneConfigs()

	require.Len(t, configs, 5)
	assert.Equal(t, 10, configs[LaneSynthesis].Priority)
	assert.Equal(t, 10, configs[LaneRecognition].Priority)
	assert.Equal(t, 5, configs[LaneAudio].Priority)
	assert.Equal(t, 3, configs[LaneBatchTranscription].Priority)
	assert.Equal(t, 8, configs[LaneAggregation].Priority)

	assert.Equal(t, 3, configs[LaneSynthesis].MaxAttempts)
	assert.Equal(t, 2, configs[LaneAudio].MaxAttempts)
	assert.Equal(t, 2, configs[LaneBatchTranscription].MaxAttempts)
	assert.NotZero(t, configs[LaneBatchTranscription].InitialDelay)
}

func TestJobCompletes(t *testing.T) {
	m := newTestManager(t, testConfigs())

	var executed atomic.Int64
	require.NoError(t, m.RegisterHandler(LaneSynthesis, func(ctx context.Context, job *Job) error {
		executed.Add(1)
		return nil
	}))
	require.NoError(t, m.Start())

	job, err := m.Submit(LaneSynthesis, "payload")
	require.NoError(t, err)
	assert.Equal(t, 10, job.Priority)
	assert.Equal(t, 3, job.MaxAttempts)

	require.Eventually(t, func() bool {
		counts, _ := m.Counts(LaneSynthesis)
		return counts.Completed == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), executed.Load())
	counts, _ := m.Counts(LaneSynthesis)
	assert.Equal(t, int64(0), counts.Failed)
}

func TestJobRetriesThenSucceeds(t *testing.T) {
	m := newTestManager(t, testConfigs())

	var attempts atomic.Int64
	require.NoError(t, m.RegisterHandler(LaneSynthesis, func(ctx context.Context, job *Job) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient failure")
		}
		return nil
	}))
	require.NoError(t, m.Start())

	_, err := m.Submit(LaneSynthesis, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		counts, _ := m.Counts(LaneSynthesis)
		return counts.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	counts, _ := m.Counts(LaneSynthesis)
	assert.Equal(t, int64(2), counts.Retried)
	assert.Equal(t, int64(0), counts.Failed)
	assert.Equal(t, int64(3), attempts.Load())
}

func TestJobFailsOnceAfterAttemptBudget(t *testing.T) {
	m := newTestManager(t, testConfigs())

	var attempts atomic.Int64
	var failedJobs atomic.Int64
	require.NoError(t, m.RegisterHandler(LaneAggregation, func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return errors.New("persistent failure")
	}))
	require.NoError(t, m.SetObserver(LaneAggregation, Observer{
		OnFailed: func(job *Job, err error) {
			failedJobs.Add(1)
		},
	}))
	require.NoError(t, m.Start())

	_, err := m.Submit(LaneAggregation, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		counts, _ := m.Counts(LaneAggregation)
		return counts.Failed == 1
	}, 2*time.Second, 10*time.Millisecond)

	// settle to catch any extra attempt or double count
	time.Sleep(50 * time.Millisecond)

	counts, _ := m.Counts(LaneAggregation)
	assert.Equal(t, int64(1), counts.Failed, "a job exhausting its budget fails exactly once")
	assert.Equal(t, int64(2), attempts.Load())
	assert.Equal(t, int64(1), counts.Retried)
	assert.Equal(t, int64(1), failedJobs.Load())
	assert.Equal(t, int64(0), counts.Completed)
}

func TestDelayedJobIntoFullLaneCountsFailed(t *testing.T) {
	configs := testConfigs()
	lane := configs[LaneSynthesis]
	lane.BufferSize = 1
	configs[LaneSynthesis] = lane

	m := newTestManager(t, configs)

	var failedJobs atomic.Int64
	require.NoError(t, m.SetObserver(LaneSynthesis, Observer{
		OnFailed: func(job *Job, err error) { failedJobs.Add(1) },
	}))

	// workers never start, so the single buffer slot stays occupied
	_, err := m.Submit(LaneSynthesis, nil)
	require.NoError(t, err)

	_, err = m.SubmitWithDelay(LaneSynthesis, nil, 5*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		counts, _ := m.Counts(LaneSynthesis)
		return counts.Failed == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), failedJobs.Load())
	counts, _ := m.Counts(LaneSynthesis)
	assert.Equal(t, int64(0), counts.Completed)
}

func TestSubmitUnknownLane(t *testing.T) {
	m := newTestManager(t, testConfigs())

	_, err := m.Submit(Lane("unknown"), nil)
	assert.Error(t, err)
}

func TestSubmitAfterStop(t *testing.T) {
	m := newTestManager(t, testConfigs())
	require.NoError(t, m.RegisterHandler(LaneSynthesis, func(ctx context.Context, job *Job) error {
		return nil
	}))
	require.NoError(t, m.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	_, err := m.Submit(LaneSynthesis, nil)
	assert.True(t, errors.IsErrorType(err, errors.ErrQueueClosed))
}

func TestInitialDelayPostponesFirstAttempt(t *testing.T) {
	configs := testConfigs()
	lane := configs[LaneSynthesis]
	lane.InitialDelay = 80 * time.Millisecond
	configs[LaneSynthesis] = lane

	m := newTestManager(t, configs)

	var executedAt atomic.Value
	require.NoError(t, m.RegisterHandler(LaneSynthesis, func(ctx context.Context, job *Job) error {
		executedAt.Store(time.Now())
		return nil
	}))
	require.NoError(t, m.Start())

	submitted := time.Now()
	_, err := m.Submit(LaneSynthesis, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return executedAt.Load() != nil
	}, time.Second, 10*time.Millisecond)

	elapsed := executedAt.Load().(time.Time).Sub(submitted)
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
}

func TestObserverOnCompleted(t *testing.T) {
	m := newTestManager(t, testConfigs())

	var completed atomic.Int64
	require.NoError(t, m.RegisterHandler(LaneSynthesis, func(ctx context.Context, job *Job) error {
		return nil
	}))
	require.NoError(t, m.SetObserver(LaneSynthesis, Observer{
		OnCompleted: func(job *Job) { completed.Add(1) },
	}))
	require.NoError(t, m.Start())

	_, err := m.Submit(LaneSynthesis, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return completed.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAllCounts(t *testing.T) {
	m := newTestManager(t, testConfigs())
	counts := m.AllCounts()
	require.Len(t, counts, 2)
	assert.Contains(t, counts, LaneSynthesis)
	assert.Contains(t, counts, LaneAggregation)
}
