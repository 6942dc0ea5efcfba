package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/database"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/eventsocket"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/pipeline"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/queue"
)

// healthResponse is the full health report
type healthResponse struct {
	Status       string                      `json:"status"`
	Uptime       string                      `json:"uptime"`
	Connection   string                      `json:"connection"`
	ActiveCalls  int                         `json:"active_calls"`
	Subscribers  int                         `json:"subscribers"`
	StoreHealthy bool                        `json:"store_healthy"`
	Queues       map[queue.Lane]queue.Counts `json:"queues"`
	Timestamp    time.Time                   `json:"timestamp"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	storeHealthy := s.store.Health() == nil
	state := s.manager.State()

	status := "ok"
	if !storeHealthy || state == eventsocket.StateFailed {
		status = "degraded"
	}

	response := healthResponse{
		Status:       status,
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		Connection:   state.String(),
		ActiveCalls:  s.tracker.ActiveCount(),
		Subscribers:  s.hub.SubscriberCount(),
		StoreHealthy: storeHealthy,
		Queues:       s.queue.AllCounts(),
		Timestamp:    time.Now(),
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// readinessHandler reports ready once the switch connection is established
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	state := s.manager.State()
	if state == eventsocket.StateConnected {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":     "not_ready",
		"connection": state.String(),
	})
}

func (s *Server) activeCallsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if callID := r.URL.Query().Get("call_id"); callID != "" {
		call, exists := s.tracker.GetActive(callID)
		if !exists {
			s.writeError(w, http.StatusNotFound, "call not found")
			return
		}
		s.writeJSON(w, http.StatusOK, call)
		return
	}

	calls := s.tracker.ActiveCalls()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(calls),
		"calls": calls,
	})
}

// callHistoryHandler lists persisted calls; segments are included when a
// call_id filter is present
func (s *Server) callHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if callID := r.URL.Query().Get("call_id"); callID != "" {
		record, err := s.store.GetCallRecord(ctx, callID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to load call record")
			return
		}
		if record == nil {
			s.writeError(w, http.StatusNotFound, "call not found")
			return
		}

		segments, err := s.store.ListSegments(ctx, callID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to load segments")
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"call":     record,
			"segments": segments,
		})
		return
	}

	query := database.CallQuery{
		CallerNumber: r.URL.Query().Get("caller_number"),
		Destination:  r.URL.Query().Get("destination"),
		Status:       r.URL.Query().Get("status"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			query.Limit = limit
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			query.Offset = offset
		}
	}

	records, err := s.store.ListCallRecords(ctx, query)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list call records")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(records),
		"calls": records,
	})
}

func (s *Server) queueStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.queue.AllCounts())
}

// recordingCompleteHandler accepts post-recording notifications from the
// switch and feeds them into the batch transcription lane
func (s *Server) recordingCompleteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var notification pipeline.RecordingNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.listener.HandleRecordingComplete(notification); err != nil {
		if errors.IsErrorType(err, errors.ErrInvalidNotification) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.WithError(err).Error("Failed to process recording notification")
		s.writeError(w, http.StatusInternalServerError, "failed to process notification")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"call_id": notification.CallID,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode HTTP response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
