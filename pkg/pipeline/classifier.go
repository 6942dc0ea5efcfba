package pipeline

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/eventsocket"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/transcript"

	"github.com/google/uuid"
)

// DefaultRecognitionConfidence applies when the switch omits or mangles the
// confidence header
const DefaultRecognitionConfidence = 0.8

// synthesisApplications are the dialplan applications that produce spoken
// prompts. An execute event for one of these opens a synthesis segment; the
// matching execute-complete closes it.
var synthesisApplications = map[string]bool{
	"speak":   true,
	"say":     true,
	"tts":     true,
	"espeak":  true,
	"unimrcp": true,
	"tts_bn":  true,
}

// IsSynthesisApplication reports whether an application name produces
// synthesized speech
func IsSynthesisApplication(application string) bool {
	return synthesisApplications[strings.ToLower(application)]
}

// BuildSynthesisSegment opens a synthesis segment from an execute event. The
// prompt text rides in the application data; its language is inferred from
// script when possible.
func BuildSynthesisSegment(callID string, event eventsocket.Event) transcript.Segment {
	text := event.Header(eventsocket.HeaderAppData)
	return transcript.Segment{
		ID:         uuid.New().String(),
		CallID:     callID,
		Kind:       transcript.KindSynthesis,
		Text:       text,
		Speaker:    transcript.SpeakerAgent,
		StartTime:  event.Timestamp,
		Confidence: 1.0,
		Language:   transcript.DetectLanguage(text),
		SourceType: event.Header(eventsocket.HeaderApplication),
		CreatedAt:  time.Now(),
	}
}

// BuildRecognitionSegment maps a detected-speech event onto a caller
// segment. A missing or unparsable confidence falls back to the default;
// out-of-range values are clamped.
func BuildRecognitionSegment(callID string, event eventsocket.Event) transcript.Segment {
	text := event.Header(eventsocket.HeaderSpeechText)
	if text == "" {
		text = event.Body
	}

	confidence := DefaultRecognitionConfidence
	if raw := event.Header(eventsocket.HeaderConfidence); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			confidence = transcript.ClampConfidence(parsed)
		}
	}

	return transcript.Segment{
		ID:         uuid.New().String(),
		CallID:     callID,
		Kind:       transcript.KindRecognition,
		Text:       text,
		Speaker:    transcript.SpeakerCaller,
		StartTime:  event.Timestamp,
		Confidence: confidence,
		Language:   transcript.DetectLanguage(text),
		Vendor:     event.Header(eventsocket.HeaderSpeechVendor),
		SourceType: "detected_speech",
		CreatedAt:  time.Now(),
	}
}

// BuildAudioEvent maps a playback or recording lifecycle event. Stop events
// carry the file duration when the switch reports one.
func BuildAudioEvent(callID string, kind transcript.AudioEventKind, event eventsocket.Event) transcript.AudioEvent {
	filePath := event.Header(eventsocket.HeaderFilePath)

	audio := transcript.AudioEvent{
		CallID:    callID,
		Kind:      kind,
		FilePath:  filePath,
		FileName:  filepath.Base(filePath),
		Timestamp: event.Timestamp,
	}
	if filePath == "" {
		audio.FileName = ""
	}

	if kind == transcript.AudioPlaybackStop || kind == transcript.AudioRecordingStop {
		if raw := event.Header(eventsocket.HeaderFileSeconds); raw != "" {
			if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
				audio.Duration = &seconds
			}
		}
	}

	return audio
}

// audioEventKind maps event names onto audio lifecycle kinds
func audioEventKind(eventName string) (transcript.AudioEventKind, bool) {
	switch eventName {
	case eventsocket.EventPlaybackStart:
		return transcript.AudioPlaybackStart, true
	case eventsocket.EventPlaybackStop:
		return transcript.AudioPlaybackStop, true
	case eventsocket.EventRecordStart:
		return transcript.AudioRecordingStart, true
	case eventsocket.EventRecordStop:
		return transcript.AudioRecordingStop, true
	}
	return "", false
}
