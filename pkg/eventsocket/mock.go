package eventsocket

import (
	"context"
	"sync"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"
)

// MockClient is an in-memory event-socket client for tests and local runs.
// Events are injected by the test and delivered on the connection channel;
// dropping the connection closes the channel exactly like a transport loss.
type MockClient struct {
	mu          sync.Mutex
	connected   bool
	events      chan Event
	subscribed  []string
	failures    int
	connectSeen int
}

// NewMockClient creates a mock event-socket client
func NewMockClient() *MockClient {
	return &MockClient{}
}

// FailConnections makes the next n connect attempts fail
func (c *MockClient) FailConnections(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
}

// ConnectAttempts returns how many connect attempts were made
func (c *MockClient) ConnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectSeen
}

// Subscriptions returns the event names of the most recent subscription
func (c *MockClient) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

// Connect implements Client
func (c *MockClient) Connect(ctx context.Context, host string, port int, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connectSeen++
	if c.failures > 0 {
		c.failures--
		return errors.ErrConnectionLost
	}

	c.connected = true
	c.events = make(chan Event, 64)
	return nil
}

// Subscribe implements Client
func (c *MockClient) Subscribe(eventNames []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return errors.ErrUnavailable
	}
	c.subscribed = append([]string(nil), eventNames...)
	return nil
}

// Events implements Client
func (c *MockClient) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Disconnect implements Client. Idempotent.
func (c *MockClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	close(c.events)
	return nil
}

// Inject delivers an event on the active connection
func (c *MockClient) Inject(event Event) {
	c.mu.Lock()
	events := c.events
	connected := c.connected
	c.mu.Unlock()

	if !connected || events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	events <- event
}

// DropConnection simulates a transport loss
func (c *MockClient) DropConnection() {
	_ = c.Disconnect()
}
