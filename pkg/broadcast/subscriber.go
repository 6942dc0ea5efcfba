package broadcast

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1024
	sendBufferSize = 256
)

// Subscriber is one consumer of broadcast messages
type Subscriber struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *logrus.Logger

	// callID filters delivery to one call; empty receives everything
	callID string
}

// controlMessage is the subscriber-to-hub control frame
type controlMessage struct {
	Action string `json:"action"`
	CallID string `json:"call_id,omitempty"`
}

// Upgrader configures WebSocket upgrades for subscriber connections
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscribe attaches an in-process subscriber to the hub. Tests and
// internal consumers read raw JSON frames from Receive.
func (h *Hub) Subscribe(callID string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = sendBufferSize
	}
	subscriber := &Subscriber{
		hub:    h,
		send:   make(chan []byte, buffer),
		logger: h.logger,
		callID: callID,
	}
	h.register <- subscriber
	return subscriber
}

// Receive returns the subscriber's delivery channel. The channel closes
// when the subscriber is dropped or the hub shuts down.
func (s *Subscriber) Receive() <-chan []byte {
	return s.send
}

// Close detaches the subscriber from the hub
func (s *Subscriber) Close() {
	s.hub.unregister <- s
}

// ServeWs upgrades an HTTP request into a hub subscription. The optional
// call_id query parameter binds the subscriber to one call.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	subscriber := &Subscriber{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: h.logger,
		callID: r.URL.Query().Get("call_id"),
	}

	h.register <- subscriber

	go subscriber.writePump()
	go subscriber.readPump()
}

// readPump drains control frames from the connection. Subscribe and
// unsubscribe frames rebind the call filter.
func (s *Subscriber) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).Debug("Subscriber connection closed unexpectedly")
			}
			return
		}

		var control controlMessage
		if err := json.Unmarshal(data, &control); err != nil {
			s.logger.WithError(err).Debug("Ignoring malformed control frame")
			continue
		}

		switch control.Action {
		case "subscribe":
			s.hub.Rebind(s, control.CallID)
		case "unsubscribe":
			s.hub.Rebind(s, "")
		}
	}
}

// writePump pushes hub messages and keepalive pings to the connection
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
