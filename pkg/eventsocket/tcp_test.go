package eventsocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	raw := "Event-Name: CHANNEL_CREATE\n" +
		"Unique-ID: abc-123\n" +
		"Caller-Caller-ID-Number: 01710000000\n" +
		"Caller-Destination-Number: 01800000000\n"

	event, ok := parseEvent(raw)
	require.True(t, ok)
	assert.Equal(t, "CHANNEL_CREATE", event.Name)
	assert.Equal(t, "abc-123", event.Header(HeaderUniqueID))
	assert.Equal(t, "01710000000", event.Header(HeaderCallerNumber))
	assert.Equal(t, "01800000000", event.Header(HeaderDestination))
	assert.False(t, event.Timestamp.IsZero())
}

func TestParseEventDecodesURLEncodedValues(t *testing.T) {
	raw := "Event-Name: DETECTED_SPEECH\n" +
		"Unique-ID: abc-123\n" +
		"Speech-Text: %E0%A6%B9%E0%A7%8D%E0%A6%AF%E0%A6%BE%E0%A6%B2%E0%A7%8B\n"

	event, ok := parseEvent(raw)
	require.True(t, ok)
	assert.Equal(t, "হ্যালো", event.Header(HeaderSpeechText))
}

func TestParseEventWithBody(t *testing.T) {
	raw := "Event-Name: DETECTED_SPEECH\n" +
		"Unique-ID: abc-123\n" +
		"\n" +
		"result text here\n"

	event, ok := parseEvent(raw)
	require.True(t, ok)
	assert.Equal(t, "result text here", event.Body)
}

func TestParseEventUsesSwitchTimestamp(t *testing.T) {
	raw := "Event-Name: CHANNEL_ANSWER\n" +
		"Unique-ID: abc-123\n" +
		"Event-Date-Timestamp: 1787486400000000\n"

	event, ok := parseEvent(raw)
	require.True(t, ok)
	assert.Equal(t, int64(1787486400000000), event.Timestamp.UnixMicro())
}

func TestParseEventWithoutNameRejected(t *testing.T) {
	_, ok := parseEvent("Unique-ID: abc-123\n")
	assert.False(t, ok)
}

func TestEventHeaderLookup(t *testing.T) {
	event := Event{Headers: map[string]string{"A": "1"}}
	assert.Equal(t, "1", event.Header("A"))
	assert.Equal(t, "", event.Header("B"))

	empty := Event{}
	assert.Equal(t, "", empty.Header("A"))
}
