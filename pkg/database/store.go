package database

import (
	"context"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store persists call transcripts, segments and audio events. Call and
// segment writes are idempotent by id: the live persistence lanes and the
// end-of-call aggregation batch may write the same segment ids, and the
// later write updates the row instead of failing.
type Store interface {
	InsertCallRecord(ctx context.Context, record *CallRecord) error
	InsertSegment(ctx context.Context, record *SegmentRecord) error
	InsertSegments(ctx context.Context, records []SegmentRecord) error
	InsertAudioEvent(ctx context.Context, record *AudioEventRecord) error

	GetCallRecord(ctx context.Context, callID string) (*CallRecord, error)
	ListCallRecords(ctx context.Context, query CallQuery) ([]CallRecord, error)
	ListSegments(ctx context.Context, callID string) ([]SegmentRecord, error)

	Health() error
	Close() error
}

// DryRunStore logs writes without touching a database. It backs deployments
// where persistence is disabled and every write must still be observable.
type DryRunStore struct {
	logger *logrus.Logger
}

// NewDryRunStore creates a log-only store
func NewDryRunStore(logger *logrus.Logger) *DryRunStore {
	return &DryRunStore{logger: logger}
}

// InsertCallRecord logs the call record instead of persisting it
func (s *DryRunStore) InsertCallRecord(ctx context.Context, record *CallRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	s.logger.WithFields(logrus.Fields{
		"call_id":        record.CallID,
		"caller_number":  record.CallerNumber,
		"destination":    record.Destination,
		"duration":       record.Duration,
		"hangup_cause":   record.HangupCause,
		"languages":      record.Languages,
		"total_segments": record.TotalSegments,
		"status":         record.Status,
	}).Info("Dry run: call record write")
	metrics.RecordStoreWrite("call", "dry_run")
	return nil
}

// InsertSegment logs the segment instead of persisting it
func (s *DryRunStore) InsertSegment(ctx context.Context, record *SegmentRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	s.logger.WithFields(logrus.Fields{
		"call_id":    record.CallID,
		"kind":       record.Kind,
		"speaker":    record.Speaker,
		"language":   record.Language,
		"confidence": record.Confidence,
		"text_len":   len(record.Text),
	}).Info("Dry run: segment write")
	metrics.RecordStoreWrite("segment", "dry_run")
	return nil
}

// InsertSegments logs each segment instead of persisting the batch
func (s *DryRunStore) InsertSegments(ctx context.Context, records []SegmentRecord) error {
	for i := range records {
		if err := s.InsertSegment(ctx, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

// InsertAudioEvent logs the audio event instead of persisting it
func (s *DryRunStore) InsertAudioEvent(ctx context.Context, record *AudioEventRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	s.logger.WithFields(logrus.Fields{
		"call_id":   record.CallID,
		"kind":      record.Kind,
		"file_name": record.FileName,
	}).Info("Dry run: audio event write")
	metrics.RecordStoreWrite("audio_event", "dry_run")
	return nil
}

// GetCallRecord always reports not found; nothing is retained
func (s *DryRunStore) GetCallRecord(ctx context.Context, callID string) (*CallRecord, error) {
	return nil, nil
}

// ListCallRecords returns an empty result; nothing is retained
func (s *DryRunStore) ListCallRecords(ctx context.Context, query CallQuery) ([]CallRecord, error) {
	return []CallRecord{}, nil
}

// ListSegments returns an empty result; nothing is retained
func (s *DryRunStore) ListSegments(ctx context.Context, callID string) ([]SegmentRecord, error) {
	return []SegmentRecord{}, nil
}

// Health always succeeds for a dry-run store
func (s *DryRunStore) Health() error {
	return nil
}

// Close is a no-op for a dry-run store
func (s *DryRunStore) Close() error {
	return nil
}

var _ Store = (*DryRunStore)(nil)

// timestampOrNow fills zero timestamps before a write
func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
