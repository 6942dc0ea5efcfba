package eventsocket

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"

	"github.com/sirupsen/logrus"
)

const eventBufferSize = 1024

// TCPClient speaks the switch's inbound event-socket protocol: authenticate
// with the shared secret, subscribe to plain-text events, then stream parsed
// events until the peer goes away.
type TCPClient struct {
	logger *logrus.Logger

	mu        sync.Mutex
	conn      net.Conn
	reader    *textproto.Reader
	events    chan Event
	connected bool
	closed    bool
}

// NewTCPClient creates a switch event-socket client
func NewTCPClient(logger *logrus.Logger) *TCPClient {
	return &TCPClient{logger: logger}
}

// Connect dials the switch and completes the auth handshake. The context
// bounds the whole handshake, not just the dial.
func (c *TCPClient) Connect(ctx context.Context, host string, port int, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, "failed to dial switch").WithField("address", addr)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	reader := textproto.NewReader(bufio.NewReader(conn))

	// the switch greets with an auth request before accepting commands
	greeting, err := readFrame(reader)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to read switch greeting")
	}
	if greeting.Headers["Content-Type"] != "auth/request" {
		conn.Close()
		return errors.New("unexpected switch greeting").WithField("content_type", greeting.Headers["Content-Type"])
	}

	if _, err := fmt.Fprintf(conn, "auth %s\r\n\r\n", password); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to send auth command")
	}

	reply, err := readFrame(reader)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to read auth reply")
	}
	if !strings.HasPrefix(reply.Headers["Reply-Text"], "+OK") {
		conn.Close()
		return errors.New("switch rejected credentials").WithField("reply", reply.Headers["Reply-Text"])
	}

	conn.SetDeadline(time.Time{})

	c.conn = conn
	c.reader = reader
	c.events = make(chan Event, eventBufferSize)
	c.connected = true
	c.closed = false

	go c.readLoop()

	c.logger.WithField("address", addr).Info("Connected to switch event socket")
	return nil
}

// Subscribe requests plain-text delivery of the named events
func (c *TCPClient) Subscribe(events []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return errors.ErrConnectionLost
	}

	command := "event plain " + strings.Join(events, " ")
	if _, err := fmt.Fprintf(c.conn, "%s\r\n\r\n", command); err != nil {
		return errors.Wrap(err, "failed to send event subscription")
	}

	c.logger.WithField("events", len(events)).Info("Subscribed to switch events")
	return nil
}

// Events returns the inbound event stream. The channel closes when the
// connection drops.
func (c *TCPClient) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Disconnect closes the connection; safe to call repeatedly
func (c *TCPClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.connected {
		c.closed = true
		return nil
	}

	c.closed = true
	c.connected = false
	err := c.conn.Close()

	c.logger.Info("Disconnected from switch event socket")
	return err
}

// readLoop parses frames off the socket until it dies, forwarding events
// and closing the stream on exit
func (c *TCPClient) readLoop() {
	c.mu.Lock()
	reader := c.reader
	events := c.events
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		close(events)
	}()

	for {
		frame, err := readFrame(reader)
		if err != nil {
			if err != io.EOF && !c.isClosed() {
				c.logger.WithError(err).Warn("Switch event stream read failed")
			}
			return
		}

		if frame.Headers["Content-Type"] != "text/event-plain" {
			continue
		}

		event, ok := parseEvent(frame.Body)
		if !ok {
			continue
		}

		select {
		case events <- event:
		default:
			c.logger.WithField("event", event.Name).Warn("Event buffer full, dropping event")
		}
	}
}

func (c *TCPClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// frame is one protocol message: MIME-style headers plus an optional body
type frame struct {
	Headers map[string]string
	Body    string
}

// readFrame reads one header block and its Content-Length body
func readFrame(reader *textproto.Reader) (*frame, error) {
	mimeHeaders, err := reader.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}

	parsed := &frame{Headers: make(map[string]string, len(mimeHeaders))}
	for key, values := range mimeHeaders {
		if len(values) > 0 {
			parsed.Headers[key] = values[0]
		}
	}

	if raw := parsed.Headers["Content-Length"]; raw != "" {
		length, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed content length %q: %w", raw, err)
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader.R, body); err != nil {
			return nil, err
		}
		parsed.Body = string(body)
	}

	return parsed, nil
}

// parseEvent decodes a plain-text event body into header and body parts.
// Header values arrive URL-encoded; the optional event body follows after a
// blank line when Content-Length is present in the event itself.
func parseEvent(raw string) (Event, bool) {
	event := Event{
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}

	headerPart := raw
	if idx := strings.Index(raw, "\n\n"); idx >= 0 {
		headerPart = raw[:idx]
		event.Body = strings.TrimRight(raw[idx+2:], "\n")
	}

	for _, line := range strings.Split(headerPart, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		key := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		event.Headers[key] = value
	}

	event.Name = event.Headers["Event-Name"]
	if event.Name == "" {
		return Event{}, false
	}

	if raw := event.Headers["Event-Date-Timestamp"]; raw != "" {
		if micros, err := strconv.ParseInt(raw, 10, 64); err == nil && micros > 0 {
			event.Timestamp = time.UnixMicro(micros)
		}
	}

	return event, true
}

var _ Client = (*TCPClient)(nil)
