package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/broadcast"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/config"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/database"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/eventsocket"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/queue"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/session"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/stt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStore records persisted entities for assertions
type captureStore struct {
	*database.DryRunStore

	mu          sync.Mutex
	calls       []database.CallRecord
	segments    []database.SegmentRecord
	batches     [][]database.SegmentRecord
	audioEvents []database.AudioEventRecord
}

func newCaptureStore(logger *logrus.Logger) *captureStore {
	return &captureStore{DryRunStore: database.NewDryRunStore(logger)}
}

func (s *captureStore) InsertCallRecord(ctx context.Context, record *database.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, *record)
	return nil
}

func (s *captureStore) InsertSegment(ctx context.Context, record *database.SegmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, *record)
	return nil
}

func (s *captureStore) InsertSegments(ctx context.Context, records []database.SegmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]database.SegmentRecord, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureStore) InsertAudioEvent(ctx context.Context, record *database.AudioEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioEvents = append(s.audioEvents, *record)
	return nil
}

func (s *captureStore) callRecords() []database.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.CallRecord, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *captureStore) segmentRecords() []database.SegmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.SegmentRecord, len(s.segments))
	copy(out, s.segments)
	return out
}

func (s *captureStore) batchRecords() [][]database.SegmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]database.SegmentRecord, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *captureStore) audioRecords() []database.AudioEventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.AudioEventRecord, len(s.audioEvents))
	copy(out, s.audioEvents)
	return out
}

// keyedStore enforces the durable table contract: one row per segment id,
// rewrites update the row in place
type keyedStore struct {
	*database.DryRunStore

	mu            sync.Mutex
	calls         map[string]database.CallRecord
	rows          map[string]database.SegmentRecord
	segmentWrites int
}

func newKeyedStore(logger *logrus.Logger) *keyedStore {
	return &keyedStore{
		DryRunStore: database.NewDryRunStore(logger),
		calls:       make(map[string]database.CallRecord),
		rows:        make(map[string]database.SegmentRecord),
	}
}

func (s *keyedStore) InsertCallRecord(ctx context.Context, record *database.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	s.calls[record.CallID] = *record
	return nil
}

func (s *keyedStore) InsertSegment(ctx context.Context, record *database.SegmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	s.rows[record.ID] = *record
	s.segmentWrites++
	return nil
}

func (s *keyedStore) InsertSegments(ctx context.Context, records []database.SegmentRecord) error {
	for i := range records {
		if err := s.InsertSegment(ctx, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *keyedStore) segmentRows() []database.SegmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.SegmentRecord, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	return out
}

func (s *keyedStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segmentWrites
}

type testPipeline struct {
	listener *Listener
	tracker  *session.Tracker
	store    *captureStore
	provider *stt.MockProvider
	queues   *queue.Manager
	hub      *broadcast.Hub
}

func buildPipeline(t *testing.T, cfg *config.Config, store database.Store, registry *stt.Registry) (*Listener, *session.Tracker, *queue.Manager, *broadcast.Hub) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	laneConfigs := make(map[queue.Lane]queue.LaneConfig)
	for lane, laneConfig := range queue.DefaultLaneConfigs() {
		laneConfig.BackoffBase = 5 * time.Millisecond
		laneConfig.InitialDelay = 0
		laneConfig.BufferSize = 32
		laneConfigs[lane] = laneConfig
	}
	queueManager := queue.NewManager(laneConfigs, logger)
	tracker := session.NewTracker(logger)

	hub := broadcast.NewHub(logger)
	hubCtx, cancelHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	listener, err := NewListener(logger, cfg, tracker, queueManager, store, registry, nil, hub)
	require.NoError(t, err)
	require.NoError(t, queueManager.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queueManager.Stop(ctx)
		cancelHub()
		<-hubDone
	})

	return listener, tracker, queueManager, hub
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		STT: config.STTConfig{
			Provider:        "mock",
			DefaultLanguage: "bn-BD",
		},
	}

	store := newCaptureStore(logger)
	provider := stt.NewMockProvider(logger)
	registry := stt.NewRegistry(logger, "mock")
	require.NoError(t, registry.Register(provider))

	listener, tracker, queues, hub := buildPipeline(t, cfg, store, registry)

	return &testPipeline{
		listener: listener,
		tracker:  tracker,
		store:    store,
		provider: provider,
		queues:   queues,
		hub:      hub,
	}
}

func switchEvent(name, callID string, headers map[string]string) eventsocket.Event {
	merged := map[string]string{eventsocket.HeaderUniqueID: callID}
	for key, value := range headers {
		merged[key] = value
	}
	return eventsocket.Event{
		Name:      name,
		Headers:   merged,
		Timestamp: time.Now(),
	}
}

func startCall(l *Listener, callID string) {
	l.HandleEvent(switchEvent(eventsocket.EventCallCreate, callID, map[string]string{
		eventsocket.HeaderCallerNumber: "01710000000",
		eventsocket.HeaderDestination:  "01800000000",
	}))
	l.HandleEvent(switchEvent(eventsocket.EventCallAnswer, callID, nil))
}

func nextBroadcast(t *testing.T, subscriber *broadcast.Subscriber) *broadcast.Message {
	t.Helper()

	select {
	case data := <-subscriber.Receive():
		var message broadcast.Message
		require.NoError(t, json.Unmarshal(data, &message))
		return &message
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast message")
		return nil
	}
}

func TestCallTranscriptEndToEnd(t *testing.T) {
	p := newTestPipeline(t)
	startCall(p.listener, "C1")

	p.listener.HandleEvent(switchEvent(eventsocket.EventExecute, "C1", map[string]string{
		eventsocket.HeaderApplication: "speak",
		eventsocket.HeaderAppData:     "হ্যালো",
	}))
	p.listener.HandleEvent(switchEvent(eventsocket.EventExecuteComplete, "C1", map[string]string{
		eventsocket.HeaderApplication: "speak",
	}))
	p.listener.HandleEvent(switchEvent(eventsocket.EventDetectedSpeech, "C1", map[string]string{
		eventsocket.HeaderSpeechText: "হ্যাঁ বলুন",
		eventsocket.HeaderConfidence: "0.85",
	}))
	p.listener.HandleEvent(switchEvent(eventsocket.EventCallHangup, "C1", map[string]string{
		eventsocket.HeaderHangupCause: "NORMAL_CLEARING",
	}))

	require.Eventually(t, func() bool {
		return len(p.store.callRecords()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	call := p.store.callRecords()[0]
	assert.Equal(t, "C1", call.CallID)
	assert.Equal(t, "01710000000", call.CallerNumber)
	assert.Equal(t, "01800000000", call.Destination)
	assert.Equal(t, "NORMAL_CLEARING", call.HangupCause)
	assert.Equal(t, 2, call.TotalSegments)
	assert.Equal(t, "bn-BD", call.Languages)
	assert.Equal(t, "completed", call.Status)

	batches := p.store.batchRecords()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "agent", batches[0][0].Speaker)
	assert.Equal(t, "হ্যালো", batches[0][0].Text)
	assert.Equal(t, "caller", batches[0][1].Speaker)
	assert.Equal(t, "হ্যাঁ বলুন", batches[0][1].Text)
	assert.Equal(t, 0.85, batches[0][1].Confidence)

	// live persistence lanes wrote the synthesis and recognition segments too
	require.Eventually(t, func() bool {
		return len(p.store.segmentRecords()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, p.tracker.ActiveCount())
}

func TestSynthesisCompletionWithoutOpenSegment(t *testing.T) {
	p := newTestPipeline(t)
	startCall(p.listener, "C1")

	p.listener.HandleEvent(switchEvent(eventsocket.EventExecuteComplete, "C1", map[string]string{
		eventsocket.HeaderApplication: "speak",
	}))

	active, found := p.tracker.GetActive("C1")
	require.True(t, found)
	assert.Empty(t, active.Segments)
}

func TestEventsAfterHangupAreDiscarded(t *testing.T) {
	p := newTestPipeline(t)
	startCall(p.listener, "C1")
	p.listener.HandleEvent(switchEvent(eventsocket.EventCallHangup, "C1", map[string]string{
		eventsocket.HeaderHangupCause: "NORMAL_CLEARING",
	}))

	p.listener.HandleEvent(switchEvent(eventsocket.EventDetectedSpeech, "C1", map[string]string{
		eventsocket.HeaderSpeechText: "late speech",
	}))

	require.Eventually(t, func() bool {
		return len(p.store.callRecords()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, p.store.callRecords()[0].TotalSegments)
}

func TestRecordingStopStartsBatchTranscription(t *testing.T) {
	p := newTestPipeline(t)
	startCall(p.listener, "C1")

	p.provider.SetResult("/recordings/C1.wav", &stt.Result{
		Provider: "mock",
		Language: "bn-BD",
		Segments: []stt.ResultSegment{
			{Text: "ধন্যবাদ", Confidence: 0.9, Start: 0, End: 1.5},
		},
	})

	p.listener.HandleEvent(switchEvent(eventsocket.EventRecordStop, "C1", map[string]string{
		eventsocket.HeaderFilePath:    "/recordings/C1.wav",
		eventsocket.HeaderFileSeconds: "1.5",
	}))

	require.Eventually(t, func() bool {
		return len(p.store.batchRecords()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	batch := p.store.batchRecords()[0]
	require.Len(t, batch, 1)
	assert.Equal(t, "batch_recognition", batch[0].Kind)
	assert.Equal(t, "ধন্যবাদ", batch[0].Text)
	assert.Equal(t, "bn-BD", batch[0].Language)
	assert.Equal(t, "mock", batch[0].Vendor)

	require.Eventually(t, func() bool {
		return len(p.store.audioRecords()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "recording_stop", p.store.audioRecords()[0].Kind)

	requests := p.provider.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "C1", requests[0].CallID)
	assert.Equal(t, "bn-BD", requests[0].Language)
}

func TestHandleRecordingCompleteValidation(t *testing.T) {
	p := newTestPipeline(t)

	err := p.listener.HandleRecordingComplete(RecordingNotification{CallID: "C1"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrInvalidNotification))

	err = p.listener.HandleRecordingComplete(RecordingNotification{FilePath: "/recordings/C1.wav"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrInvalidNotification))
}

func TestAggregationRewritesLivePersistedSegments(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		STT: config.STTConfig{Provider: "mock", DefaultLanguage: "bn-BD"},
	}
	store := newKeyedStore(logger)
	registry := stt.NewRegistry(logger, "mock")
	require.NoError(t, registry.Register(stt.NewMockProvider(logger)))

	listener, _, queues, _ := buildPipeline(t, cfg, store, registry)
	startCall(listener, "C1")

	listener.HandleEvent(switchEvent(eventsocket.EventExecute, "C1", map[string]string{
		eventsocket.HeaderApplication: "speak",
		eventsocket.HeaderAppData:     "হ্যালো",
	}))
	listener.HandleEvent(switchEvent(eventsocket.EventExecuteComplete, "C1", map[string]string{
		eventsocket.HeaderApplication: "speak",
	}))
	listener.HandleEvent(switchEvent(eventsocket.EventDetectedSpeech, "C1", map[string]string{
		eventsocket.HeaderSpeechText: "হ্যাঁ বলুন",
		eventsocket.HeaderConfidence: "0.85",
	}))
	listener.HandleEvent(switchEvent(eventsocket.EventCallHangup, "C1", map[string]string{
		eventsocket.HeaderHangupCause: "NORMAL_CLEARING",
	}))

	// both live lane writes plus the aggregation batch rewriting the same ids
	require.Eventually(t, func() bool {
		counts, _ := queues.Counts(queue.LaneAggregation)
		return counts.Completed == 1 && store.writes() >= 4
	}, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, store.segmentRows(), 2)

	for _, lane := range []queue.Lane{queue.LaneSynthesis, queue.LaneRecognition, queue.LaneAggregation} {
		counts, err := queues.Counts(lane)
		require.NoError(t, err)
		assert.Equal(t, int64(0), counts.Failed, string(lane))
		assert.Equal(t, int64(0), counts.Retried, string(lane))
	}
}

func TestHangupBeforeSynthesisCompleteKeepsEndTimeOpen(t *testing.T) {
	p := newTestPipeline(t)
	startCall(p.listener, "C1")

	p.listener.HandleEvent(switchEvent(eventsocket.EventExecute, "C1", map[string]string{
		eventsocket.HeaderApplication: "speak",
		eventsocket.HeaderAppData:     "হ্যালো",
	}))
	p.listener.HandleEvent(switchEvent(eventsocket.EventCallHangup, "C1", map[string]string{
		eventsocket.HeaderHangupCause: "NORMAL_CLEARING",
	}))

	require.Eventually(t, func() bool {
		return len(p.store.callRecords()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, p.store.callRecords()[0].TotalSegments)

	batches := p.store.batchRecords()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "synthesis", batches[0][0].Kind)
	assert.Nil(t, batches[0][0].EndTime)
}

func TestLifecycleTransitionsAreBroadcast(t *testing.T) {
	p := newTestPipeline(t)
	subscriber := p.hub.Subscribe("", 16)

	startCall(p.listener, "C1")
	p.listener.HandleEvent(switchEvent(eventsocket.EventCallHangup, "C1", map[string]string{
		eventsocket.HeaderHangupCause: "NORMAL_CLEARING",
	}))

	for _, want := range []string{
		broadcast.MessageCallStarted,
		broadcast.MessageCallAnswered,
		broadcast.MessageCallCompleted,
	} {
		message := nextBroadcast(t, subscriber)
		assert.Equal(t, want, message.Type)
		assert.Equal(t, "C1", message.CallID)
	}

	// an answer for an unknown call announces nothing
	p.listener.HandleEvent(switchEvent(eventsocket.EventCallAnswer, "C9", nil))
	select {
	case data := <-subscriber.Receive():
		t.Fatalf("unexpected broadcast: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBatchTranscriptionSkipsWithoutCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		STT: config.STTConfig{Provider: "openai", DefaultLanguage: "bn-BD"},
	}
	store := newCaptureStore(logger)
	registry := stt.NewRegistry(logger, "openai")
	require.NoError(t, registry.Register(stt.NewOpenAIProvider(logger, "")))

	listener, _, queues, _ := buildPipeline(t, cfg, store, registry)

	require.NoError(t, listener.HandleRecordingComplete(RecordingNotification{
		CallID:   "C1",
		FilePath: "/recordings/C1.wav",
	}))

	require.Eventually(t, func() bool {
		counts, _ := queues.Counts(queue.LaneBatchTranscription)
		return counts.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	counts, err := queues.Counts(queue.LaneBatchTranscription)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Failed)
	assert.Equal(t, int64(0), counts.Retried)
	assert.Empty(t, store.segmentRecords())
	assert.Empty(t, store.batchRecords())
}

func TestHandleRecordingCompleteQueuesTranscription(t *testing.T) {
	p := newTestPipeline(t)

	require.NoError(t, p.listener.HandleRecordingComplete(RecordingNotification{
		CallID:   "C9",
		FilePath: "/recordings/C9.wav",
	}))

	require.Eventually(t, func() bool {
		return len(p.provider.Requests()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "bn-BD", p.provider.Requests()[0].Language)
}
