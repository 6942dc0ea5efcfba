package transcript

import (
	"time"
)

// SegmentKind classifies the origin of a transcript segment
type SegmentKind string

const (
	KindSynthesis        SegmentKind = "synthesis"
	KindRecognition      SegmentKind = "recognition"
	KindBatchRecognition SegmentKind = "batch_recognition"
	KindAudio            SegmentKind = "audio"
	KindSystem           SegmentKind = "system"
)

// Speaker identifies who produced a segment
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
	SpeakerSystem Speaker = "system"
)

// Segment represents one utterance or audio artifact attached to a call.
// Segments are append-only; the only post-creation mutation is the end time
// of a synthesis segment being closed by its matching completion event.
type Segment struct {
	ID         string                 `json:"id"`
	CallID     string                 `json:"call_id"`
	Kind       SegmentKind            `json:"kind"`
	Text       string                 `json:"text,omitempty"`
	Speaker    Speaker                `json:"speaker"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    *time.Time             `json:"end_time,omitempty"`
	Confidence float64                `json:"confidence"`
	Language   string                 `json:"language,omitempty"`
	Vendor     string                 `json:"vendor,omitempty"`
	SourceType string                 `json:"source_type,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// AudioEventKind marks a playback or recording lifecycle transition
type AudioEventKind string

const (
	AudioPlaybackStart  AudioEventKind = "playback_start"
	AudioPlaybackStop   AudioEventKind = "playback_stop"
	AudioRecordingStart AudioEventKind = "recording_start"
	AudioRecordingStop  AudioEventKind = "recording_stop"
)

// AudioEvent is a playback/recording lifecycle marker for a call
type AudioEvent struct {
	CallID    string                 `json:"call_id"`
	Kind      AudioEventKind         `json:"kind"`
	FilePath  string                 `json:"file_path,omitempty"`
	FileName  string                 `json:"file_name,omitempty"`
	Duration  *float64               `json:"duration_seconds,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// CallTranscript is the durable end-of-call record combining a session's
// cached segments into one logical batch
type CallTranscript struct {
	CallID        string     `json:"call_id"`
	CallerNumber  string     `json:"caller_number"`
	Destination   string     `json:"destination_number"`
	StartTime     time.Time  `json:"start_time"`
	AnswerTime    *time.Time `json:"answer_time,omitempty"`
	EndTime       time.Time  `json:"end_time"`
	Duration      float64    `json:"duration_seconds"`
	HangupCause   string     `json:"hangup_cause"`
	Languages     []string   `json:"languages"`
	TotalSegments int        `json:"total_segments"`
	Status        string     `json:"status"`
	Segments      []Segment  `json:"segments"`
}

// ClampConfidence bounds a vendor-reported confidence to [0, 1]
func ClampConfidence(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
