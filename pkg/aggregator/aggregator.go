package aggregator

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/broadcast"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/database"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/messaging"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/metrics"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/session"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/transcript"

	"github.com/sirupsen/logrus"
)

// StatusCompleted marks a call whose transcript batch was assembled
const StatusCompleted = "completed"

// Aggregator turns a finished call session into one durable transcript
// batch: a call record plus its segments written together, a delivery to
// the message broker, and a completion broadcast.
type Aggregator struct {
	logger    *logrus.Logger
	store     database.Store
	publisher messaging.Publisher
	hub       *broadcast.Hub
}

// New creates an aggregator
func New(logger *logrus.Logger, store database.Store, publisher messaging.Publisher, hub *broadcast.Hub) *Aggregator {
	return &Aggregator{
		logger:    logger,
		store:     store,
		publisher: publisher,
		hub:       hub,
	}
}

// BuildTranscript assembles the end-of-call transcript from a session
// snapshot. The language set is the deduplicated union across segments.
func BuildTranscript(snapshot session.CallSession) *transcript.CallTranscript {
	endTime := time.Now()
	if snapshot.EndedAt != nil {
		endTime = *snapshot.EndedAt
	}

	record := &transcript.CallTranscript{
		CallID:        snapshot.CallID,
		CallerNumber:  snapshot.CallerNumber,
		Destination:   snapshot.Destination,
		StartTime:     snapshot.CreatedAt,
		AnswerTime:    snapshot.AnsweredAt,
		EndTime:       endTime,
		Duration:      endTime.Sub(snapshot.CreatedAt).Seconds(),
		HangupCause:   snapshot.HangupCause,
		TotalSegments: len(snapshot.Segments),
		Status:        StatusCompleted,
		Segments:      snapshot.Segments,
	}
	if record.Duration < 0 {
		record.Duration = 0
	}

	seen := make(map[string]bool)
	for _, segment := range snapshot.Segments {
		if segment.Language != "" && !seen[segment.Language] {
			seen[segment.Language] = true
			record.Languages = append(record.Languages, segment.Language)
		}
	}
	sort.Strings(record.Languages)

	return record
}

// ProcessCompletedCall persists the transcript batch, hands it to the
// broker and announces completion. Suitable as a queue lane handler body;
// a returned error triggers the lane's retry policy.
func (a *Aggregator) ProcessCompletedCall(ctx context.Context, snapshot session.CallSession) error {
	record := BuildTranscript(snapshot)

	log := a.logger.WithFields(logrus.Fields{
		"call_id":        record.CallID,
		"total_segments": record.TotalSegments,
		"duration":       record.Duration,
	})

	callRecord := ToCallRecord(record)
	if err := a.store.InsertCallRecord(ctx, callRecord); err != nil {
		return errors.Wrap(err, "failed to persist call record").WithField("call_id", record.CallID)
	}

	segmentRecords := ToSegmentRecords(record)
	if err := a.store.InsertSegments(ctx, segmentRecords); err != nil {
		return errors.Wrap(err, "failed to persist transcript segments").WithField("call_id", record.CallID)
	}

	if a.publisher != nil {
		if err := a.publisher.PublishTranscript(ctx, record); err != nil {
			// delivery is best effort once the batch is durable
			log.WithError(err).Warn("Failed to deliver transcript to broker")
		}
	}

	if a.hub != nil {
		a.hub.Publish(&broadcast.Message{
			Type:    broadcast.MessageCallCompleted,
			CallID:  record.CallID,
			Payload: record,
		})
	}

	if metrics.IsMetricsEnabled() {
		metrics.CallsCompleted.Inc()
	}
	log.Info("Call transcript aggregated")

	return nil
}

// ToCallRecord maps a transcript onto its persisted form
func ToCallRecord(record *transcript.CallTranscript) *database.CallRecord {
	endTime := record.EndTime
	return &database.CallRecord{
		CallID:        record.CallID,
		CallerNumber:  record.CallerNumber,
		Destination:   record.Destination,
		StartTime:     record.StartTime,
		AnswerTime:    record.AnswerTime,
		EndTime:       &endTime,
		Duration:      record.Duration,
		HangupCause:   record.HangupCause,
		Languages:     joinLanguages(record.Languages),
		TotalSegments: record.TotalSegments,
		Status:        record.Status,
	}
}

// ToSegmentRecords maps the transcript's segments onto their persisted form
func ToSegmentRecords(record *transcript.CallTranscript) []database.SegmentRecord {
	records := make([]database.SegmentRecord, 0, len(record.Segments))
	for _, segment := range record.Segments {
		records = append(records, ToSegmentRecord(&segment))
	}
	return records
}

// ToSegmentRecord maps one segment onto its persisted form
func ToSegmentRecord(segment *transcript.Segment) database.SegmentRecord {
	persisted := database.SegmentRecord{
		ID:         segment.ID,
		CallID:     segment.CallID,
		Kind:       string(segment.Kind),
		Text:       segment.Text,
		Speaker:    string(segment.Speaker),
		StartTime:  segment.StartTime,
		EndTime:    segment.EndTime,
		Confidence: segment.Confidence,
		Language:   segment.Language,
		Vendor:     segment.Vendor,
		SourceType: segment.SourceType,
		CreatedAt:  segment.CreatedAt,
	}
	if len(segment.Metadata) > 0 {
		if data, err := json.Marshal(segment.Metadata); err == nil {
			persisted.Metadata = string(data)
		}
	}
	return persisted
}

// ToAudioEventRecord maps an audio event onto its persisted form
func ToAudioEventRecord(event *transcript.AudioEvent) *database.AudioEventRecord {
	persisted := &database.AudioEventRecord{
		CallID:    event.CallID,
		Kind:      string(event.Kind),
		FilePath:  event.FilePath,
		FileName:  event.FileName,
		Duration:  event.Duration,
		Timestamp: event.Timestamp,
	}
	if len(event.Metadata) > 0 {
		if data, err := json.Marshal(event.Metadata); err == nil {
			persisted.Metadata = string(data)
		}
	}
	return persisted
}

func joinLanguages(languages []string) string {
	return strings.Join(languages, ",")
}
