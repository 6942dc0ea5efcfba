package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/eventsocket"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/metrics"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/transcript"

	"github.com/sirupsen/logrus"
)

// CallSession is the in-memory record of one in-progress call. It is owned
// exclusively by the Tracker; callers outside the tracker only ever see
// value snapshots.
type CallSession struct {
	CallID       string               `json:"call_id"`
	CallerNumber string               `json:"caller_number"`
	Destination  string               `json:"destination_number"`
	CreatedAt    time.Time            `json:"created_at"`
	AnsweredAt   *time.Time           `json:"answered_at,omitempty"`
	EndedAt      *time.Time           `json:"ended_at,omitempty"`
	HangupCause  string               `json:"hangup_cause,omitempty"`
	Events       []eventsocket.Event  `json:"events"`
	Segments     []transcript.Segment `json:"segments"`
}

// snapshot returns a deep value copy safe to hand to the aggregator
func (s *CallSession) snapshot() CallSession {
	copied := *s
	copied.Events = append([]eventsocket.Event(nil), s.Events...)
	copied.Segments = append([]transcript.Segment(nil), s.Segments...)
	if s.AnsweredAt != nil {
		t := *s.AnsweredAt
		copied.AnsweredAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		copied.EndedAt = &t
	}
	return copied
}

// CompletionHandler receives the value snapshot of a hung-up call before the
// tracker deletes its live entry. A non-nil return means the snapshot was not
// handed off; the tracker dumps it to the log so the transcript is recoverable.
type CompletionHandler func(session CallSession) error

// Tracker is the table of calls in progress, keyed by call id. The single
// ingestion goroutine writes it; readers take the same lock, so a lookup can
// never observe a half-deleted entry.
type Tracker struct {
	logger     *logrus.Logger
	mu         sync.RWMutex
	active     map[string]*CallSession
	onComplete CompletionHandler
}

// NewTracker creates an empty call session tracker
func NewTracker(logger *logrus.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		active: make(map[string]*CallSession),
	}
}

// SetCompletionHandler installs the hangup hand-off target
func (t *Tracker) SetCompletionHandler(handler CompletionHandler) {
	t.onComplete = handler
}

// ExtractCallID resolves the call identifier from an event's header bag:
// correlation header first, then the switch's unique channel id, then the
// core UUID. First non-empty wins.
func ExtractCallID(event eventsocket.Event) string {
	if id := event.Header(eventsocket.HeaderCorrelationID); id != "" {
		return id
	}
	if id := event.Header(eventsocket.HeaderUniqueID); id != "" {
		return id
	}
	return event.Header(eventsocket.HeaderCoreUUID)
}

// OnCallCreate inserts a new session for a call-create event. Duplicate
// creates for an already-tracked id are ignored.
func (t *Tracker) OnCallCreate(event eventsocket.Event) {
	callID := ExtractCallID(event)
	if callID == "" {
		t.logger.Warn("Call create event without call identifier, discarding")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[callID]; exists {
		t.logger.WithField("call_id", callID).Debug("Duplicate call create ignored")
		return
	}

	t.active[callID] = &CallSession{
		CallID:       callID,
		CallerNumber: event.Header(eventsocket.HeaderCallerNumber),
		Destination:  event.Header(eventsocket.HeaderDestination),
		CreatedAt:    event.Timestamp,
		Events:       []eventsocket.Event{event},
	}

	if metrics.IsMetricsEnabled() {
		metrics.ActiveCalls.Set(float64(len(t.active)))
	}

	t.logger.WithFields(logrus.Fields{
		"call_id":     callID,
		"caller":      event.Header(eventsocket.HeaderCallerNumber),
		"destination": event.Header(eventsocket.HeaderDestination),
	}).Info("Call session created")
}

// OnCallAnswer marks the answer time on an active session, reporting whether
// the call was tracked
func (t *Tracker) OnCallAnswer(event eventsocket.Event) bool {
	callID := ExtractCallID(event)

	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.active[callID]
	if !exists {
		t.discardLocked(callID, event)
		return false
	}

	answered := event.Timestamp
	session.AnsweredAt = &answered
	session.Events = append(session.Events, event)

	t.logger.WithField("call_id", callID).Info("Call answered")
	return true
}

// OnCallHangup finalizes a session: records the end time and hangup cause,
// hands a value snapshot to the completion handler, and only then removes
// the live entry. A late duplicate hangup for the same id is a no-op. A
// failed hand-off is logged at error level with the full snapshot attached
// before the entry is cleared.
func (t *Tracker) OnCallHangup(event eventsocket.Event) {
	callID := ExtractCallID(event)

	t.mu.Lock()
	session, exists := t.active[callID]
	if !exists {
		t.discardLocked(callID, event)
		t.mu.Unlock()
		return
	}
	if session.EndedAt != nil {
		t.logger.WithField("call_id", callID).Debug("Duplicate hangup ignored")
		t.mu.Unlock()
		return
	}

	ended := event.Timestamp
	session.EndedAt = &ended
	session.HangupCause = event.Header(eventsocket.HeaderHangupCause)
	session.Events = append(session.Events, event)

	snapshot := session.snapshot()
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"call_id":      callID,
		"hangup_cause": snapshot.HangupCause,
		"segments":     len(snapshot.Segments),
	}).Info("Call hung up, handing session to aggregator")

	if t.onComplete != nil {
		if err := t.onComplete(snapshot); err != nil {
			payload, _ := json.Marshal(snapshot)
			t.logger.WithError(err).WithFields(logrus.Fields{
				"call_id": callID,
				"session": string(payload),
			}).Error("Completed call hand-off failed, dumping session")
		}
	}

	t.mu.Lock()
	delete(t.active, callID)
	if metrics.IsMetricsEnabled() {
		metrics.ActiveCalls.Set(float64(len(t.active)))
	}
	t.mu.Unlock()
}

// RecordEvent appends an event to an active session's history
func (t *Tracker) RecordEvent(callID string, event eventsocket.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.active[callID]
	if !exists {
		t.discardLocked(callID, event)
		return errors.NewCallNotFound(callID)
	}

	session.Events = append(session.Events, event)
	return nil
}

// AppendSegment caches a classified segment on its owning session for the
// end-of-call aggregation.
func (t *Tracker) AppendSegment(callID string, segment transcript.Segment) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.active[callID]
	if !exists {
		return errors.NewCallNotFound(callID)
	}

	session.Segments = append(session.Segments, segment)
	return nil
}

// CloseSynthesis sets the end time on the most recent open synthesis segment
// for the call and application, returning the closed segment. Returns false
// when no open synthesis segment matches.
func (t *Tracker) CloseSynthesis(callID, application string, end time.Time) (transcript.Segment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.active[callID]
	if !exists {
		return transcript.Segment{}, false
	}

	for i := len(session.Segments) - 1; i >= 0; i-- {
		seg := &session.Segments[i]
		if seg.Kind != transcript.KindSynthesis || seg.EndTime != nil {
			continue
		}
		if application != "" && seg.SourceType != application {
			continue
		}
		closed := end
		seg.EndTime = &closed
		return *seg, true
	}

	return transcript.Segment{}, false
}

// GetActive returns a value snapshot of an active session
func (t *Tracker) GetActive(callID string) (CallSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	session, exists := t.active[callID]
	if !exists {
		return CallSession{}, false
	}
	return session.snapshot(), true
}

// ActiveCount returns the number of calls currently tracked
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// ActiveCalls lists snapshots of every tracked call
func (t *Tracker) ActiveCalls() []CallSession {
	t.mu.RLock()
	defer t.mu.RUnlock()

	calls := make([]CallSession, 0, len(t.active))
	for _, session := range t.active {
		calls = append(calls, session.snapshot())
	}
	return calls
}

// discardLocked logs a late event for an unknown or already-aggregated call.
// Such events are dropped, never retried.
func (t *Tracker) discardLocked(callID string, event eventsocket.Event) {
	metrics.RecordDiscardedEvent(event.Name)
	t.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"event":   event.Name,
	}).Debug("Event for unknown call discarded")
}
