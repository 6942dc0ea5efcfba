package pipeline

import (
	"context"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/aggregator"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/broadcast"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/config"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/database"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/eventsocket"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/messaging"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/metrics"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/queue"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/session"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/stt"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/transcript"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RecordingNotification is an out-of-band notice that a recording file is
// ready for batch transcription
type RecordingNotification struct {
	CallID   string `json:"call_id"`
	FilePath string `json:"file_path"`
	Language string `json:"language,omitempty"`
}

// Listener wires switch events through classification, session tracking,
// asynchronous persistence and real-time fan-out.
type Listener struct {
	logger    *logrus.Logger
	config    *config.Config
	tracker   *session.Tracker
	queue     *queue.Manager
	store     database.Store
	providers *stt.Registry
	publisher messaging.Publisher
	hub       *broadcast.Hub
	agg       *aggregator.Aggregator
}

// NewListener creates the pipeline and registers its queue lane handlers
func NewListener(
	logger *logrus.Logger,
	cfg *config.Config,
	tracker *session.Tracker,
	queueManager *queue.Manager,
	store database.Store,
	providers *stt.Registry,
	publisher messaging.Publisher,
	hub *broadcast.Hub,
) (*Listener, error) {
	l := &Listener{
		logger:    logger,
		config:    cfg,
		tracker:   tracker,
		queue:     queueManager,
		store:     store,
		providers: providers,
		publisher: publisher,
		hub:       hub,
		agg:       aggregator.New(logger, store, publisher, hub),
	}

	tracker.SetCompletionHandler(l.onCallComplete)

	handlers := map[queue.Lane]queue.Handler{
		queue.LaneSynthesis:          l.persistSegmentJob,
		queue.LaneRecognition:        l.persistSegmentJob,
		queue.LaneAudio:              l.persistAudioJob,
		queue.LaneBatchTranscription: l.batchTranscriptionJob,
		queue.LaneAggregation:        l.aggregationJob,
	}
	for lane, handler := range handlers {
		if err := queueManager.RegisterHandler(lane, handler); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// HandleEvent is the switch event entry point, invoked by the connection
// manager's consume loop.
func (l *Listener) HandleEvent(event eventsocket.Event) {
	switch event.Name {
	case eventsocket.EventCallCreate:
		l.onCallCreate(event)
	case eventsocket.EventCallAnswer:
		l.onCallAnswer(event)
	case eventsocket.EventCallHangup:
		l.tracker.OnCallHangup(event)
	case eventsocket.EventExecute:
		l.onExecute(event)
	case eventsocket.EventExecuteComplete:
		l.onExecuteComplete(event)
	case eventsocket.EventDetectedSpeech:
		l.onDetectedSpeech(event)
	case eventsocket.EventPlaybackStart, eventsocket.EventPlaybackStop,
		eventsocket.EventRecordStart, eventsocket.EventRecordStop:
		l.onAudioEvent(event)
	default:
		l.logger.WithField("event", event.Name).Debug("Ignoring unhandled event")
	}
}

func (l *Listener) onCallCreate(event eventsocket.Event) {
	callID := session.ExtractCallID(event)
	if callID == "" {
		return
	}

	l.tracker.OnCallCreate(event)

	l.hub.Publish(&broadcast.Message{
		Type:   broadcast.MessageCallStarted,
		CallID: callID,
		Payload: map[string]interface{}{
			"caller_number":      event.Header(eventsocket.HeaderCallerNumber),
			"destination_number": event.Header(eventsocket.HeaderDestination),
		},
	})
}

// onCallAnswer marks the answer on the session and announces the transition.
// An answer for an untracked call is discarded without a broadcast.
func (l *Listener) onCallAnswer(event eventsocket.Event) {
	callID := session.ExtractCallID(event)
	if callID == "" {
		return
	}

	if !l.tracker.OnCallAnswer(event) {
		return
	}

	l.hub.Publish(&broadcast.Message{
		Type:   broadcast.MessageCallAnswered,
		CallID: callID,
		Payload: map[string]interface{}{
			"answered_at": event.Timestamp,
		},
	})
}

// onExecute opens a synthesis segment when a speech application starts.
// Non-speech applications are only recorded on the session timeline.
func (l *Listener) onExecute(event eventsocket.Event) {
	callID := session.ExtractCallID(event)
	if callID == "" {
		return
	}

	application := event.Header(eventsocket.HeaderApplication)
	if !IsSynthesisApplication(application) {
		if err := l.tracker.RecordEvent(callID, event); err != nil {
			metrics.RecordDiscardedEvent(event.Name)
		}
		return
	}

	segment := BuildSynthesisSegment(callID, event)
	if err := l.tracker.AppendSegment(callID, segment); err != nil {
		metrics.RecordDiscardedEvent(event.Name)
		l.logger.WithField("call_id", callID).Debug("Discarding synthesis for unknown call")
		return
	}

	metrics.RecordSegment(string(segment.Kind))
	l.publishSegment(&segment)
}

// onExecuteComplete closes the most recent open synthesis segment for the
// same application and hands the closed segment to the persistence lane. A
// completion with no matching open segment is dropped.
func (l *Listener) onExecuteComplete(event eventsocket.Event) {
	callID := session.ExtractCallID(event)
	if callID == "" {
		return
	}

	application := event.Header(eventsocket.HeaderApplication)
	if !IsSynthesisApplication(application) {
		return
	}

	closed, ok := l.tracker.CloseSynthesis(callID, application, event.Timestamp)
	if !ok {
		metrics.RecordDiscardedEvent(event.Name)
		l.logger.WithFields(logrus.Fields{
			"call_id":     callID,
			"application": application,
		}).Debug("Synthesis completion without open segment")
		return
	}

	if _, err := l.queue.Submit(queue.LaneSynthesis, closed); err != nil {
		l.logger.WithError(err).WithField("call_id", callID).Error("Failed to queue synthesis segment")
	}
	l.publishSegment(&closed)
}

func (l *Listener) onDetectedSpeech(event eventsocket.Event) {
	callID := session.ExtractCallID(event)
	if callID == "" {
		return
	}

	segment := BuildRecognitionSegment(callID, event)
	if segment.Text == "" {
		return
	}

	if err := l.tracker.AppendSegment(callID, segment); err != nil {
		metrics.RecordDiscardedEvent(event.Name)
		l.logger.WithField("call_id", callID).Debug("Discarding speech for unknown call")
		return
	}

	metrics.RecordSegment(string(segment.Kind))

	if _, err := l.queue.Submit(queue.LaneRecognition, segment); err != nil {
		l.logger.WithError(err).WithField("call_id", callID).Error("Failed to queue recognition segment")
	}
	l.publishSegment(&segment)
}

func (l *Listener) onAudioEvent(event eventsocket.Event) {
	callID := session.ExtractCallID(event)
	if callID == "" {
		return
	}

	kind, ok := audioEventKind(event.Name)
	if !ok {
		return
	}

	if err := l.tracker.RecordEvent(callID, event); err != nil {
		metrics.RecordDiscardedEvent(event.Name)
		return
	}

	audio := BuildAudioEvent(callID, kind, event)

	if _, err := l.queue.Submit(queue.LaneAudio, audio); err != nil {
		l.logger.WithError(err).WithField("call_id", callID).Error("Failed to queue audio event")
	}

	l.hub.Publish(&broadcast.Message{
		Type:    broadcast.MessageAudioEvent,
		CallID:  callID,
		Payload: audio,
	})

	// a finished recording starts the batch transcription path after the
	// settle delay baked into the lane
	if kind == transcript.AudioRecordingStop && audio.FilePath != "" {
		l.submitBatchTranscription(stt.Request{
			CallID:   callID,
			FilePath: audio.FilePath,
			Language: l.config.STT.DefaultLanguage,
		}, 0)
	}
}

// HandleRecordingComplete ingests an out-of-band recording notification,
// typically posted by the switch's post-recording hook.
func (l *Listener) HandleRecordingComplete(notification RecordingNotification) error {
	if notification.FilePath == "" {
		return errors.NewInvalidNotification("recording location is required")
	}
	if notification.CallID == "" {
		return errors.NewInvalidNotification("call id is required")
	}

	language := notification.Language
	if language == "" {
		language = l.config.STT.DefaultLanguage
	}

	l.submitBatchTranscription(stt.Request{
		CallID:   notification.CallID,
		FilePath: notification.FilePath,
		Language: language,
	}, 0)

	return nil
}

func (l *Listener) submitBatchTranscription(req stt.Request, extraDelay time.Duration) {
	if _, err := l.queue.SubmitWithDelay(queue.LaneBatchTranscription, req, extraDelay); err != nil {
		l.logger.WithError(err).WithField("call_id", req.CallID).Error("Failed to queue batch transcription")
	}
}

// onCallComplete receives the session snapshot at hangup and schedules the
// one aggregation job for the call. A submit failure propagates so the
// tracker can dump the snapshot before clearing the entry.
func (l *Listener) onCallComplete(snapshot session.CallSession) error {
	_, err := l.queue.Submit(queue.LaneAggregation, snapshot)
	return err
}

func (l *Listener) publishSegment(segment *transcript.Segment) {
	l.hub.Publish(&broadcast.Message{
		Type:    broadcast.MessageSegment,
		CallID:  segment.CallID,
		Payload: segment,
	})

	if l.publisher != nil && l.publisher.IsConnected() {
		if err := l.publisher.PublishSegment(context.Background(), segment); err != nil {
			l.logger.WithError(err).WithField("call_id", segment.CallID).Debug("Failed to publish live segment")
		}
	}
}

// Queue lane handlers

func (l *Listener) persistSegmentJob(ctx context.Context, job *queue.Job) error {
	segment, ok := job.Payload.(transcript.Segment)
	if !ok {
		return errors.New("unexpected payload type for segment lane").WithField("job_id", job.ID)
	}

	record := aggregator.ToSegmentRecord(&segment)
	return l.store.InsertSegment(ctx, &record)
}

func (l *Listener) persistAudioJob(ctx context.Context, job *queue.Job) error {
	audio, ok := job.Payload.(transcript.AudioEvent)
	if !ok {
		return errors.New("unexpected payload type for audio lane").WithField("job_id", job.ID)
	}

	return l.store.InsertAudioEvent(ctx, aggregator.ToAudioEventRecord(&audio))
}

// batchTranscriptionJob runs the recording through the configured provider.
// An unavailable provider skips the job rather than failing it; retrying
// cannot conjure credentials.
func (l *Listener) batchTranscriptionJob(ctx context.Context, job *queue.Job) error {
	req, ok := job.Payload.(stt.Request)
	if !ok {
		return errors.New("unexpected payload type for transcription lane").WithField("job_id", job.ID)
	}

	provider, err := l.providers.Get(l.config.STT.Provider)
	if err != nil {
		return err
	}
	if !provider.Available() {
		l.logger.WithFields(logrus.Fields{
			"call_id":  req.CallID,
			"provider": provider.Name(),
		}).Warn("Skipping batch transcription, provider has no credentials")
		return nil
	}

	result, err := provider.TranscribeFile(ctx, req)
	if err != nil {
		if errors.IsErrorType(err, errors.ErrProviderUnavailable) {
			l.logger.WithField("call_id", req.CallID).Warn("Skipping batch transcription, provider unavailable")
			return nil
		}
		return err
	}

	segments := l.mapBatchResult(req.CallID, result)
	if len(segments) == 0 {
		return nil
	}

	for i := range segments {
		metrics.RecordSegment(string(segments[i].Kind))
		// a call still live when its recording finishes transcribing gets
		// the segments on its timeline too
		if err := l.tracker.AppendSegment(req.CallID, segments[i]); err == nil {
			l.publishSegment(&segments[i])
		}
	}

	return l.store.InsertSegments(ctx, toSegmentRecords(segments))
}

func (l *Listener) aggregationJob(ctx context.Context, job *queue.Job) error {
	snapshot, ok := job.Payload.(session.CallSession)
	if !ok {
		return errors.New("unexpected payload type for aggregation lane").WithField("job_id", job.ID)
	}

	return l.agg.ProcessCompletedCall(ctx, snapshot)
}

// mapBatchResult converts provider output into batch recognition segments
// anchored at the recording's position in wall time
func (l *Listener) mapBatchResult(callID string, result *stt.Result) []transcript.Segment {
	segments := make([]transcript.Segment, 0, len(result.Segments))
	base := time.Now()

	for _, seg := range result.Segments {
		if seg.Text == "" {
			continue
		}

		start := base.Add(time.Duration(seg.Start * float64(time.Second)))
		end := base.Add(time.Duration(seg.End * float64(time.Second)))

		language := seg.Language
		if detected := transcript.DetectLanguage(seg.Text); detected != "" {
			language = detected
		}

		segments = append(segments, transcript.Segment{
			ID:         uuid.New().String(),
			CallID:     callID,
			Kind:       transcript.KindBatchRecognition,
			Text:       seg.Text,
			Speaker:    transcript.SpeakerCaller,
			StartTime:  start,
			EndTime:    &end,
			Confidence: transcript.ClampConfidence(seg.Confidence),
			Language:   language,
			Vendor:     result.Provider,
			SourceType: "batch_transcription",
			CreatedAt:  time.Now(),
		})
	}

	return segments
}

func toSegmentRecords(segments []transcript.Segment) []database.SegmentRecord {
	records := make([]database.SegmentRecord, 0, len(segments))
	for i := range segments {
		records = append(records, aggregator.ToSegmentRecord(&segments[i]))
	}
	return records
}
