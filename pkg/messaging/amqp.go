package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/transcript"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Publisher delivers completed transcripts and live segments to downstream
// consumers
type Publisher interface {
	Connect() error
	PublishTranscript(ctx context.Context, record *transcript.CallTranscript) error
	PublishSegment(ctx context.Context, segment *transcript.Segment) error
	IsConnected() bool
	Disconnect()
}

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL            string
	TranscriptName string
	RealtimeName   string
	Durable        bool
}

// AMQPPublisher publishes to RabbitMQ. Completed transcripts and live
// segments use separate queues so consumers can subscribe independently.
type AMQPPublisher struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPPublisher creates an AMQP publisher
func NewAMQPPublisher(logger *logrus.Logger, config AMQPConfig) *AMQPPublisher {
	if config.TranscriptName == "" {
		config.TranscriptName = "voiceerp-transcripts"
	}
	if config.RealtimeName == "" {
		config.RealtimeName = "voiceerp-segments"
	}
	config.Durable = true

	return &AMQPPublisher{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the connection and declares both queues
func (c *AMQPPublisher) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}
	if c.config.URL == "" {
		return fmt.Errorf("AMQP URL not configured")
	}

	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	for _, name := range []string{c.config.TranscriptName, c.config.RealtimeName} {
		if _, err := channel.QueueDeclare(
			name,
			c.config.Durable,
			false, // auto delete
			false, // exclusive
			false, // no wait
			nil,
		); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	c.stopChan = make(chan struct{})

	c.logger.WithFields(logrus.Fields{
		"transcript_queue": c.config.TranscriptName,
		"realtime_queue":   c.config.RealtimeName,
	}).Info("Connected to AMQP server")

	go c.monitorConnection()

	return nil
}

// monitorConnection watches for server-side closes and reconnects
func (c *AMQPPublisher) monitorConnection() {
	closeChan := make(chan *amqp.Error, 1)
	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	select {
	case <-c.stopChan:
		return
	case amqpErr := <-closeChan:
		if amqpErr == nil {
			return
		}
		c.logger.WithError(amqpErr).Warn("AMQP connection lost, reconnecting")

		c.connMutex.Lock()
		c.connected = false
		c.connMutex.Unlock()

		for {
			select {
			case <-c.stopChan:
				return
			case <-time.After(5 * time.Second):
			}
			if err := c.Connect(); err == nil {
				return
			}
		}
	}
}

// PublishTranscript delivers a completed call transcript
func (c *AMQPPublisher) PublishTranscript(ctx context.Context, record *transcript.CallTranscript) error {
	return c.publish(ctx, c.config.TranscriptName, record, map[string]interface{}{
		"call_id": record.CallID,
	})
}

// PublishSegment delivers one live transcript segment
func (c *AMQPPublisher) PublishSegment(ctx context.Context, segment *transcript.Segment) error {
	return c.publish(ctx, c.config.RealtimeName, segment, map[string]interface{}{
		"call_id": segment.CallID,
		"kind":    string(segment.Kind),
	})
}

func (c *AMQPPublisher) publish(ctx context.Context, queue string, payload interface{}, logFields map[string]interface{}) error {
	c.connMutex.RLock()
	connected := c.connected
	channel := c.channel
	c.connMutex.RUnlock()

	if !connected {
		return fmt.Errorf("not connected to AMQP server")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal AMQP payload: %w", err)
	}

	err = channel.Publish(
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields(logFields)).Error("Failed to publish AMQP message")
		return fmt.Errorf("failed to publish to queue %s: %w", queue, err)
	}

	c.logger.WithFields(logrus.Fields(logFields)).WithField("queue", queue).Debug("AMQP message published")
	return nil
}

// IsConnected returns the connection status
func (c *AMQPPublisher) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// Disconnect closes the AMQP connection
func (c *AMQPPublisher) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	c.logger.Info("Disconnected from AMQP server")
}

var _ Publisher = (*AMQPPublisher)(nil)

// NoopPublisher is used when messaging is not configured
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that discards everything
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Connect is a no-op
func (p *NoopPublisher) Connect() error { return nil }

// PublishTranscript discards the transcript
func (p *NoopPublisher) PublishTranscript(ctx context.Context, record *transcript.CallTranscript) error {
	return nil
}

// PublishSegment discards the segment
func (p *NoopPublisher) PublishSegment(ctx context.Context, segment *transcript.Segment) error {
	return nil
}

// IsConnected always reports false
func (p *NoopPublisher) IsConnected() bool { return false }

// Disconnect is a no-op
func (p *NoopPublisher) Disconnect() {}

var _ Publisher = (*NoopPublisher)(nil)
