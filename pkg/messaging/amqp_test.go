package messaging

import (
	"context"
	"testing"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/transcript"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestAMQPPublisherDefaults(t *testing.T) {
	publisher := NewAMQPPublisher(logrus.New(), AMQPConfig{URL: "amqp://localhost"})

	assert.Equal(t, "voiceerp-transcripts", publisher.config.TranscriptName)
	assert.Equal(t, "voiceerp-segments", publisher.config.RealtimeName)
	assert.True(t, publisher.config.Durable)
	assert.False(t, publisher.IsConnected())
}

func TestAMQPPublisherRequiresURL(t *testing.T) {
	publisher := NewAMQPPublisher(logrus.New(), AMQPConfig{})
	assert.Error(t, publisher.Connect())
}

func TestAMQPPublishWhileDisconnected(t *testing.T) {
	publisher := NewAMQPPublisher(logrus.New(), AMQPConfig{URL: "amqp://localhost"})

	err := publisher.PublishSegment(context.Background(), &transcript.Segment{CallID: "C1"})
	assert.Error(t, err)

	err = publisher.PublishTranscript(context.Background(), &transcript.CallTranscript{CallID: "C1"})
	assert.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	publisher := NewNoopPublisher()

	assert.NoError(t, publisher.Connect())
	assert.NoError(t, publisher.PublishSegment(context.Background(), &transcript.Segment{}))
	assert.NoError(t, publisher.PublishTranscript(context.Background(), &transcript.CallTranscript{}))
	assert.False(t, publisher.IsConnected())
	publisher.Disconnect()
}
