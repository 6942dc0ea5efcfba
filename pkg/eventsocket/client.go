package eventsocket

import (
	"context"
	"time"
)

// Event is one named event received from the switch, carrying a flat header
// bag and an optional body (used by speech-detection events).
type Event struct {
	Name      string            `json:"name"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Header returns a header value, or the empty string when absent
func (e Event) Header(name string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[name]
}

// Client is the switch event-socket transport. The wire protocol is owned by
// the implementation; the pipeline only sees connect, subscribe, a stream of
// events, and disconnect.
//
// Events returns the channel the current connection delivers on. The channel
// is closed when the connection drops, which is the disconnect signal the
// Manager reconnect loop watches for. Disconnect must be idempotent.
type Client interface {
	Connect(ctx context.Context, host string, port int, password string) error
	Subscribe(eventNames []string) error
	Events() <-chan Event
	Disconnect() error
}

// Call-lifecycle and speech event names subscribed on every connection
const (
	EventCallCreate      = "CHANNEL_CREATE"
	EventCallAnswer      = "CHANNEL_ANSWER"
	EventCallHangup      = "CHANNEL_HANGUP"
	EventExecute         = "CHANNEL_EXECUTE"
	EventExecuteComplete = "CHANNEL_EXECUTE_COMPLETE"
	EventDetectedSpeech  = "DETECTED_SPEECH"
	EventPlaybackStart   = "PLAYBACK_START"
	EventPlaybackStop    = "PLAYBACK_STOP"
	EventRecordStart     = "RECORD_START"
	EventRecordStop      = "RECORD_STOP"
)

// SubscribedEvents is the fixed set of event names requested after connect
var SubscribedEvents = []string{
	EventCallCreate,
	EventCallAnswer,
	EventCallHangup,
	EventExecute,
	EventExecuteComplete,
	EventDetectedSpeech,
	EventPlaybackStart,
	EventPlaybackStop,
	EventRecordStart,
	EventRecordStop,
}

// Well-known header names carried by switch events
const (
	HeaderCorrelationID = "Channel-Call-UUID"
	HeaderUniqueID      = "Unique-ID"
	HeaderCoreUUID      = "Core-UUID"
	HeaderCallerNumber  = "Caller-Caller-ID-Number"
	HeaderDestination   = "Caller-Destination-Number"
	HeaderHangupCause   = "Hangup-Cause"
	HeaderApplication   = "Application"
	HeaderAppData       = "Application-Data"
	HeaderSpeechText    = "Speech-Text"
	HeaderSpeechVendor  = "Speech-Vendor"
	HeaderConfidence    = "Speech-Confidence"
	HeaderFilePath      = "File-Path"
	HeaderFileSeconds   = "File-Seconds"
)
