package stt

import (
	"context"
	"os"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GoogleConfig holds Google Speech-to-Text settings
type GoogleConfig struct {
	CredentialsFile string
	DefaultLanguage string
	SampleRate      int
}

// GoogleProvider transcribes recordings with Google Cloud Speech-to-Text
type GoogleProvider struct {
	logger *logrus.Logger
	config GoogleConfig
	client *speech.Client
}

// NewGoogleProvider creates a Google Speech-to-Text provider
func NewGoogleProvider(logger *logrus.Logger, config GoogleConfig) *GoogleProvider {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "bn-BD"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 8000
	}
	return &GoogleProvider{
		logger: logger,
		config: config,
	}
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// Initialize creates the Speech client when credentials are present
func (p *GoogleProvider) Initialize() error {
	credentials := p.config.CredentialsFile
	if credentials == "" {
		credentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if credentials == "" {
		return errors.ErrProviderUnavailable
	}

	client, err := speech.NewClient(context.Background(), option.WithCredentialsFile(credentials))
	if err != nil {
		return errors.Wrap(err, "failed to create Google Speech client")
	}

	p.client = client
	p.logger.Info("Google Speech provider initialized successfully")
	return nil
}

// Available reports whether the Speech client was created
func (p *GoogleProvider) Available() bool {
	return p.client != nil
}

// TranscribeFile submits the recording for synchronous recognition
func (p *GoogleProvider) TranscribeFile(ctx context.Context, req Request) (*Result, error) {
	if !p.Available() {
		return nil, errors.ErrProviderUnavailable
	}

	audio, err := os.ReadFile(req.FilePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read recording file").WithField("file_path", req.FilePath)
	}

	language := req.Language
	if language == "" {
		language = p.config.DefaultLanguage
	}

	recognitionReq := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(p.config.SampleRate),
			LanguageCode:               language,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	resp, err := p.client.Recognize(ctx, recognitionReq)
	if err != nil {
		return nil, errors.Wrap(err, "recognition request failed").WithField("call_id", req.CallID)
	}

	result := &Result{
		Provider:  p.Name(),
		Language:  language,
		CreatedAt: time.Now(),
	}

	for _, recognized := range resp.Results {
		if len(recognized.Alternatives) == 0 {
			continue
		}
		best := recognized.Alternatives[0]

		segment := ResultSegment{
			Text:       best.Transcript,
			Confidence: float64(best.Confidence),
			Language:   language,
		}
		for _, word := range best.Words {
			w := Word{
				Text:       word.Word,
				Start:      word.StartTime.AsDuration().Seconds(),
				End:        word.EndTime.AsDuration().Seconds(),
				Confidence: float64(best.Confidence),
			}
			segment.Words = append(segment.Words, w)
		}
		if len(segment.Words) > 0 {
			segment.Start = segment.Words[0].Start
			segment.End = segment.Words[len(segment.Words)-1].End
		}

		result.Segments = append(result.Segments, segment)
	}
	if len(result.Segments) > 0 {
		result.Duration = result.Segments[len(result.Segments)-1].End
	}

	p.logger.WithFields(logrus.Fields{
		"call_id":  req.CallID,
		"segments": len(result.Segments),
		"language": language,
	}).Info("Recording transcribed")

	return result, nil
}

// Close releases the Speech client
func (p *GoogleProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

var _ Provider = (*GoogleProvider)(nil)
