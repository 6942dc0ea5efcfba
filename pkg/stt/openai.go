package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"

	"github.com/sirupsen/logrus"
)

const openAITranscriptionURL = "https://api.openai.com/v1/audio/transcriptions"

// OpenAIProvider transcribes recordings with the OpenAI Whisper API
type OpenAIProvider struct {
	logger *logrus.Logger
	apiKey string
	apiURL string
	model  string
	client *http.Client
}

// NewOpenAIProvider creates an OpenAI Whisper provider
func NewOpenAIProvider(logger *logrus.Logger, model string) *OpenAIProvider {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIProvider{
		logger: logger,
		apiURL: openAITranscriptionURL,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Initialize reads the API key from the environment
func (p *OpenAIProvider) Initialize() error {
	p.apiKey = os.Getenv("OPENAI_API_KEY")
	if p.apiKey == "" {
		return errors.ErrProviderUnavailable
	}
	p.logger.Info("OpenAI provider initialized successfully")
	return nil
}

// Available reports whether an API key is configured
func (p *OpenAIProvider) Available() bool {
	return p.apiKey != ""
}

// openAIVerboseResponse is the verbose_json transcription payload
type openAIVerboseResponse struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		AvgLogProb float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// TranscribeFile uploads the recording to the Whisper API and maps the
// verbose response into result segments
func (p *OpenAIProvider) TranscribeFile(ctx context.Context, req Request) (*Result, error) {
	if !p.Available() {
		return nil, errors.ErrProviderUnavailable
	}

	file, err := os.Open(req.FilePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open recording file").WithField("file_path", req.FilePath)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(req.FilePath))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build upload form")
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, errors.Wrap(err, "failed to read recording file")
	}

	writer.WriteField("model", p.model)
	writer.WriteField("response_format", "verbose_json")
	if req.Language != "" {
		writer.WriteField("language", bcp47Primary(req.Language))
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finalize upload form")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, &body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transcription request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "transcription request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.New("transcription request rejected").WithFields(map[string]interface{}{
			"status":   resp.StatusCode,
			"response": string(payload),
		})
	}

	var verbose openAIVerboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&verbose); err != nil {
		return nil, errors.Wrap(err, "failed to decode transcription response")
	}

	result := &Result{
		Provider:  p.Name(),
		Language:  verbose.Language,
		Duration:  verbose.Duration,
		CreatedAt: time.Now(),
	}
	for _, seg := range verbose.Segments {
		result.Segments = append(result.Segments, ResultSegment{
			Text:       seg.Text,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: logProbToConfidence(seg.AvgLogProb),
			Language:   verbose.Language,
		})
	}

	p.logger.WithFields(logrus.Fields{
		"call_id":  req.CallID,
		"segments": len(result.Segments),
		"duration": result.Duration,
		"language": result.Language,
	}).Info("Recording transcribed")

	return result, nil
}

// logProbToConfidence maps Whisper's average log probability into a 0..1
// confidence. exp(avg_logprob) is the per-token probability estimate.
func logProbToConfidence(avgLogProb float64) float64 {
	if avgLogProb >= 0 {
		return 1.0
	}
	confidence := math.Exp(avgLogProb)
	if confidence > 1 {
		return 1
	}
	return confidence
}

// bcp47Primary reduces a language tag like bn-BD to its primary subtag
func bcp47Primary(tag string) string {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '-' {
			return tag[:i]
		}
	}
	return tag
}

var _ Provider = (*OpenAIProvider)(nil)
