package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/broadcast"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/config"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/database"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/eventsocket"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/pipeline"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/queue"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/session"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/stt"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *session.Tracker) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		HTTP: config.HTTPConfig{Port: 0},
		STT:  config.STTConfig{Provider: "mock", DefaultLanguage: "bn-BD"},
	}

	queueManager := queue.NewManager(queue.DefaultLaneConfigs(), logger)
	store := database.NewDryRunStore(logger)
	tracker := session.NewTracker(logger)
	hub := broadcast.NewHub(logger)

	registry := stt.NewRegistry(logger, "mock")
	require.NoError(t, registry.Register(stt.NewMockProvider(logger)))

	listener, err := pipeline.NewListener(logger, cfg, tracker, queueManager, store, registry, nil, hub)
	require.NoError(t, err)
	require.NoError(t, queueManager.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queueManager.Stop(ctx)
	})

	manager := eventsocket.NewManager(eventsocket.NewMockClient(), eventsocket.ManagerConfig{
		Host: "127.0.0.1",
		Port: 8021,
	}, logger)

	server := NewServer(logger, cfg.HTTP, listener, tracker, queueManager, hub, manager, store)
	return server, tracker
}

func TestLivenessEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "alive")
}

func TestReadinessBeforeConnect(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "not_ready")
}

func TestHealthReport(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)

	var report healthResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	assert.True(t, report.StoreHealthy)
	assert.Equal(t, "DISCONNECTED", report.Connection)
	assert.Len(t, report.Queues, 5)
}

func TestActiveCallsEndpoint(t *testing.T) {
	server, tracker := newTestServer(t)

	tracker.OnCallCreate(eventsocket.Event{
		Name: eventsocket.EventCallCreate,
		Headers: map[string]string{
			eventsocket.HeaderUniqueID:     "C1",
			eventsocket.HeaderCallerNumber: "01710000000",
		},
		Timestamp: time.Now(),
	})

	recorder := httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/calls", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"count":1`)

	recorder = httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/calls?call_id=C1", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "01710000000")

	recorder = httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/calls?call_id=missing", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestQueueStatsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/queue", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)

	var counts map[queue.Lane]queue.Counts
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &counts))
	assert.Contains(t, counts, queue.LaneAggregation)
}

func TestRecordingCompleteEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"call_id":"C1","file_path":"/recordings/C1.wav"}`
	recorder := httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/recordings/complete", strings.NewReader(body)))

	assert.Equal(t, http.StatusAccepted, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "accepted")
}

func TestRecordingCompleteRejectsInvalidPayload(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/recordings/complete", strings.NewReader(`{"call_id":"C1"}`)))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/recordings/complete", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/recordings/complete", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}
