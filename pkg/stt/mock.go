package stt

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MockProvider returns canned results for tests and local development
type MockProvider struct {
	logger *logrus.Logger

	mu       sync.Mutex
	results  map[string]*Result
	fallback *Result
	err      error
	requests []Request
}

// NewMockProvider creates a mock provider
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{
		logger:  logger,
		results: make(map[string]*Result),
	}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize always succeeds
func (p *MockProvider) Initialize() error {
	return nil
}

// Available always reports true
func (p *MockProvider) Available() bool {
	return true
}

// SetResult sets the canned result for a file path
func (p *MockProvider) SetResult(filePath string, result *Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[filePath] = result
}

// SetFallback sets the result returned for unmatched file paths
func (p *MockProvider) SetFallback(result *Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = result
}

// SetError makes every transcription fail with err
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Requests returns the transcription requests seen so far
func (p *MockProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// TranscribeFile returns the canned result for the request's file path
func (p *MockProvider) TranscribeFile(ctx context.Context, req Request) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)

	if p.err != nil {
		return nil, p.err
	}
	if result, exists := p.results[req.FilePath]; exists {
		return result, nil
	}
	if p.fallback != nil {
		return p.fallback, nil
	}

	return &Result{
		Provider:  p.Name(),
		Language:  req.Language,
		CreatedAt: time.Now(),
		Segments: []ResultSegment{
			{Text: "mock transcription", Confidence: 0.9, Language: req.Language},
		},
	}, nil
}

var _ Provider = (*MockProvider)(nil)
