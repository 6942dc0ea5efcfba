package stt

import (
	"context"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"

	"github.com/sirupsen/logrus"
)

// Word is a single recognized word with its offsets inside the recording
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// ResultSegment is one recognized utterance from a recording
type ResultSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	Words      []Word  `json:"words,omitempty"`
}

// Result is the outcome of transcribing one recording file
type Result struct {
	Provider  string          `json:"provider"`
	Language  string          `json:"language"`
	Duration  float64         `json:"duration"`
	Segments  []ResultSegment `json:"segments"`
	CreatedAt time.Time       `json:"created_at"`
}

// Request identifies a recording to transcribe
type Request struct {
	CallID   string `json:"call_id"`
	FilePath string `json:"file_path"`
	Language string `json:"language,omitempty"`
}

// Provider transcribes a finished recording file
type Provider interface {
	// Initialize prepares the provider. An errors.ErrProviderUnavailable
	// return means credentials are absent and the provider must be
	// treated as unavailable rather than broken.
	Initialize() error

	// Name returns the provider name
	Name() string

	// Available reports whether the provider can accept work
	Available() bool

	// TranscribeFile transcribes one recording file
	TranscribeFile(ctx context.Context, req Request) (*Result, error)
}

// Registry holds the configured providers and the default selection
type Registry struct {
	logger          *logrus.Logger
	providers       map[string]Provider
	defaultProvider string
}

// NewRegistry creates an empty provider registry
func NewRegistry(logger *logrus.Logger, defaultProvider string) *Registry {
	return &Registry{
		logger:          logger,
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// Register initializes and stores a provider. A provider without
// credentials is registered as unavailable, not rejected.
func (r *Registry) Register(provider Provider) error {
	if err := provider.Initialize(); err != nil {
		if errors.IsErrorType(err, errors.ErrProviderUnavailable) {
			r.logger.WithField("provider", provider.Name()).Warn("Speech provider registered without credentials")
			r.providers[provider.Name()] = provider
			return nil
		}
		r.logger.WithError(err).WithField("provider", provider.Name()).Error("Failed to initialize speech provider")
		return err
	}

	r.providers[provider.Name()] = provider
	r.logger.WithField("provider", provider.Name()).Info("Speech provider registered")
	return nil
}

// Get returns a provider by name, or the default when name is empty
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultProvider
	}
	provider, exists := r.providers[name]
	if !exists {
		return nil, errors.New("unknown speech provider").WithField("provider", name)
	}
	return provider, nil
}

// Default returns the default provider
func (r *Registry) Default() (Provider, error) {
	return r.Get("")
}

// Names lists the registered provider names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
