package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Lane is an independently configured queue partition with its own
// concurrency, priority and retry policy.
type Lane string

const (
	LaneSynthesis          Lane = "synthesis_persist"
	LaneRecognition        Lane = "recognition_persist"
	LaneAudio              Lane = "audio_persist"
	LaneBatchTranscription Lane = "batch_transcription"
	LaneAggregation        Lane = "call_aggregation"
)

// LaneConfig holds one lane's dispatch policy
type LaneConfig struct {
	// Priority of jobs in this lane, higher runs sooner when lanes compete
	Priority int

	// MaxAttempts bounds executions per job, including the first
	MaxAttempts int

	// BackoffBase seeds the exponential backoff between attempts
	BackoffBase time.Duration

	// Concurrency bounds simultaneously executing jobs
	Concurrency int

	// InitialDelay postpones the first attempt (recording settle time)
	InitialDelay time.Duration

	// BufferSize is the lane's waiting-job capacity
	BufferSize int
}

// DefaultLaneConfigs returns the standard five-lane policy set
func DefaultLaneConfigs() map[Lane]LaneConfig {
	return map[Lane]LaneConfig{
		LaneSynthesis: {
			Priority:    10,
			MaxAttempts: 3,
			BackoffBase: 1 * time.Second,
			Concurrency: 2,
			BufferSize:  256,
		},
		LaneRecognition: {
			Priority:    10,
			MaxAttempts: 3,
			BackoffBase: 1 * time.Second,
			Concurrency: 2,
			BufferSize:  256,
		},
		LaneAudio: {
			Priority:    5,
			MaxAttempts: 2,
			BackoffBase: 2 * time.Second,
			Concurrency: 2,
			BufferSize:  256,
		},
		LaneBatchTranscription: {
			Priority:     3,
			MaxAttempts:  2,
			BackoffBase:  10 * time.Second,
			Concurrency:  1,
			InitialDelay: 5 * time.Second,
			BufferSize:   64,
		},
		LaneAggregation: {
			Priority:    8,
			MaxAttempts: 3,
			BackoffBase: 1 * time.Second,
			Concurrency: 2,
			BufferSize:  128,
		},
	}
}

// Job is one unit of asynchronous work
type Job struct {
	ID          string        `json:"id"`
	Lane        Lane          `json:"lane"`
	Payload     interface{}   `json:"payload"`
	Priority    int           `json:"priority"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	LastError   string        `json:"last_error,omitempty"`

	retry *backoff.ExponentialBackOff
}

// Handler executes a job's work. A nil return completes the job; an error
// schedules a retry until the attempt budget is exhausted.
type Handler func(ctx context.Context, job *Job) error

// Observer receives lane-level job outcome notifications
type Observer struct {
	OnCompleted func(job *Job)
	OnFailed    func(job *Job, err error)
	OnStalled   func(job *Job)
}

// Counts is a point-in-time view of one lane
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}

// lane is the runtime state of one queue partition
type lane struct {
	name     Lane
	config   LaneConfig
	jobs     chan *Job
	handler  Handler
	observer Observer

	waiting   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

// Manager dispatches jobs across the configured lanes with bounded per-lane
// concurrency. Jobs in one lane may complete out of submission order; callers
// must not assume otherwise.
type Manager struct {
	logger *logrus.Logger
	lanes  map[Lane]*lane

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	timers sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool

	// stallWarning bounds how long a job may execute before the stalled
	// observer fires
	stallWarning time.Duration
}

// NewManager creates a queue manager with the given lane policies
func NewManager(configs map[Lane]LaneConfig, logger *logrus.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:       logger,
		lanes:        make(map[Lane]*lane, len(configs)),
		ctx:          ctx,
		cancel:       cancel,
		stallWarning: 30 * time.Second,
	}

	for name, config := range configs {
		if config.Concurrency <= 0 {
			config.Concurrency = 1
		}
		if config.MaxAttempts <= 0 {
			config.MaxAttempts = 1
		}
		if config.BufferSize <= 0 {
			config.BufferSize = 64
		}
		m.lanes[name] = &lane{
			name:   name,
			config: config,
			jobs:   make(chan *Job, config.BufferSize),
		}
	}

	return m
}

// RegisterHandler installs the executor for a lane. Must be called before
// Start.
func (m *Manager) RegisterHandler(name Lane, handler Handler) error {
	ln, exists := m.lanes[name]
	if !exists {
		return errors.New("unknown queue lane").WithField("lane", string(name))
	}
	ln.handler = handler
	return nil
}

// SetObserver installs lane-level outcome callbacks
func (m *Manager) SetObserver(name Lane, observer Observer) error {
	ln, exists := m.lanes[name]
	if !exists {
		return errors.New("unknown queue lane").WithField("lane", string(name))
	}
	ln.observer = observer
	return nil
}

// Start launches the per-lane worker pools
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("queue manager already started")
	}

	for _, ln := range m.lanes {
		for i := 0; i < ln.config.Concurrency; i++ {
			m.wg.Add(1)
			go m.runWorker(ln, i)
		}
	}

	m.started = true
	m.logger.WithField("lanes", len(m.lanes)).Info("Processing queue started")
	return nil
}

// Submit enqueues a payload on a lane using the lane's policy. The lane's
// initial delay, when configured, postpones the first attempt.
func (m *Manager) Submit(name Lane, payload interface{}) (*Job, error) {
	return m.SubmitWithDelay(name, payload, 0)
}

// SubmitWithDelay enqueues a payload with an explicit extra delay before the
// first attempt, added to the lane's own initial delay.
func (m *Manager) SubmitWithDelay(name Lane, payload interface{}, delay time.Duration) (*Job, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.ErrQueueClosed
	}
	m.mu.Unlock()

	ln, exists := m.lanes[name]
	if !exists {
		return nil, errors.New("unknown queue lane").WithField("lane", string(name))
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = ln.config.BackoffBase
	retry.MaxElapsedTime = 0
	retry.Reset()

	job := &Job{
		ID:          uuid.New().String(),
		Lane:        name,
		Payload:     payload,
		Priority:    ln.config.Priority,
		MaxAttempts: ln.config.MaxAttempts,
		Delay:       ln.config.InitialDelay + delay,
		SubmittedAt: time.Now(),
		retry:       retry,
	}

	if metrics.IsMetricsEnabled() {
		metrics.QueueJobsSubmitted.WithLabelValues(string(name)).Inc()
	}

	if job.Delay > 0 {
		m.enqueueAfter(ln, job, job.Delay)
		return job, nil
	}

	if err := m.enqueue(ln, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Counts returns the point-in-time counters for a lane
func (m *Manager) Counts(name Lane) (Counts, error) {
	ln, exists := m.lanes[name]
	if !exists {
		return Counts{}, errors.New("unknown queue lane").WithField("lane", string(name))
	}

	return Counts{
		Waiting:   ln.waiting.Load(),
		Active:    ln.active.Load(),
		Completed: ln.completed.Load(),
		Failed:    ln.failed.Load(),
		Retried:   ln.retried.Load(),
	}, nil
}

// AllCounts returns counters for every lane
func (m *Manager) AllCounts() map[Lane]Counts {
	counts := make(map[Lane]Counts, len(m.lanes))
	for name := range m.lanes {
		c, _ := m.Counts(name)
		counts[name] = c
	}
	return counts
}

// Stop drains the queue: intake closes immediately, in-flight jobs finish,
// and pending retry timers are abandoned. Stop returns when all workers have
// exited or the context expires.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("Stopping processing queue")
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.timers.Wait()
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Processing queue stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "queue shutdown timed out")
	}
}

func (m *Manager) enqueue(ln *lane, job *Job) error {
	select {
	case ln.jobs <- job:
		ln.waiting.Add(1)
		if metrics.IsMetricsEnabled() {
			metrics.QueueJobsWaiting.WithLabelValues(string(ln.name)).Set(float64(ln.waiting.Load()))
		}
		return nil
	default:
		return errors.New("queue lane is full").WithFields(map[string]interface{}{
			"lane":   string(ln.name),
			"job_id": job.ID,
		})
	}
}

// enqueueAfter schedules a delayed enqueue; shutdown abandons the timer. A
// delayed job that finds its lane buffer full is counted failed so its
// outcome is never silently lost.
func (m *Manager) enqueueAfter(ln *lane, job *Job, delay time.Duration) {
	m.timers.Add(1)
	go func() {
		defer m.timers.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if err := m.enqueue(ln, job); err != nil {
				ln.failed.Add(1)
				if metrics.IsMetricsEnabled() {
					metrics.QueueJobsFailed.WithLabelValues(string(ln.name)).Inc()
				}
				if ln.observer.OnFailed != nil {
					ln.observer.OnFailed(job, err)
				}
				m.logger.WithError(err).WithFields(logrus.Fields{
					"lane":   string(ln.name),
					"job_id": job.ID,
				}).Error("Dropping delayed job, lane buffer full")
			}
		case <-m.ctx.Done():
		}
	}()
}

func (m *Manager) runWorker(ln *lane, workerID int) {
	defer m.wg.Done()

	log := m.logger.WithFields(logrus.Fields{
		"lane":      string(ln.name),
		"worker_id": workerID,
	})
	log.Debug("Queue worker started")

	for {
		select {
		case <-m.ctx.Done():
			log.Debug("Queue worker stopping")
			return
		case job := <-ln.jobs:
			ln.waiting.Add(-1)
			m.execute(ln, job, log)
		}
	}
}

func (m *Manager) execute(ln *lane, job *Job, log *logrus.Entry) {
	ln.active.Add(1)
	if metrics.IsMetricsEnabled() {
		metrics.QueueJobsActive.WithLabelValues(string(ln.name)).Set(float64(ln.active.Load()))
		metrics.QueueJobsWaiting.WithLabelValues(string(ln.name)).Set(float64(ln.waiting.Load()))
	}
	defer func() {
		ln.active.Add(-1)
		if metrics.IsMetricsEnabled() {
			metrics.QueueJobsActive.WithLabelValues(string(ln.name)).Set(float64(ln.active.Load()))
		}
	}()

	job.Attempt++

	stall := time.AfterFunc(m.stallWarning, func() {
		log.WithField("job_id", job.ID).Warn("Queue job running longer than stall threshold")
		if ln.observer.OnStalled != nil {
			ln.observer.OnStalled(job)
		}
	})
	err := ln.handler(m.ctx, job)
	stall.Stop()

	if err == nil {
		ln.completed.Add(1)
		if metrics.IsMetricsEnabled() {
			metrics.QueueJobsCompleted.WithLabelValues(string(ln.name)).Inc()
		}
		if ln.observer.OnCompleted != nil {
			ln.observer.OnCompleted(job)
		}
		log.WithFields(logrus.Fields{
			"job_id":  job.ID,
			"attempt": job.Attempt,
		}).Debug("Queue job completed")
		return
	}

	job.LastError = err.Error()

	if job.Attempt >= job.MaxAttempts {
		ln.failed.Add(1)
		if metrics.IsMetricsEnabled() {
			metrics.QueueJobsFailed.WithLabelValues(string(ln.name)).Inc()
		}
		if ln.observer.OnFailed != nil {
			ln.observer.OnFailed(job, err)
		}
		log.WithError(err).WithFields(logrus.Fields{
			"job_id":   job.ID,
			"attempts": job.Attempt,
		}).Error("Queue job failed permanently, attempt budget exhausted")
		return
	}

	delay := job.retry.NextBackOff()
	ln.retried.Add(1)
	if metrics.IsMetricsEnabled() {
		metrics.QueueJobsRetried.WithLabelValues(string(ln.name)).Inc()
	}
	log.WithError(err).WithFields(logrus.Fields{
		"job_id":      job.ID,
		"attempt":     job.Attempt,
		"retry_delay": delay,
	}).Warn("Queue job failed, scheduling retry")

	m.enqueueAfter(ln, job, delay)
}
