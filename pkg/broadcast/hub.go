package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// Message types pushed to subscribers
const (
	MessageSegment       = "segment"
	MessageAudioEvent    = "audio_event"
	MessageCallStarted   = "call_started"
	MessageCallAnswered  = "call_answered"
	MessageCallCompleted = "call_completed"
)

// Message is one real-time update pushed to subscribers
type Message struct {
	Type      string      `json:"type"`
	CallID    string      `json:"call_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Hub fans out transcript updates to connected subscribers. A subscriber
// bound to a call receives only that call's messages; unbound subscribers
// receive everything. Slow subscribers lose messages rather than stall
// delivery.
type Hub struct {
	logger          *logrus.Logger
	subscribers     map[*Subscriber]bool
	callSubscribers map[string]map[*Subscriber]bool
	broadcast       chan *Message
	register        chan *Subscriber
	unregister      chan *Subscriber
	mutex           sync.RWMutex
}

// NewHub creates a broadcast hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:          logger,
		subscribers:     make(map[*Subscriber]bool),
		callSubscribers: make(map[string]map[*Subscriber]bool),
		broadcast:       make(chan *Message, 64),
		register:        make(chan *Subscriber),
		unregister:      make(chan *Subscriber),
	}
}

// Run processes hub events until the context is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting broadcast hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down broadcast hub")
			h.closeAll()
			return

		case subscriber := <-h.register:
			h.addSubscriber(subscriber)

		case subscriber := <-h.unregister:
			h.removeSubscriber(subscriber)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Publish queues a message for fan-out. Publishing never blocks the caller;
// the message is dropped when the hub itself is saturated.
func (h *Hub) Publish(message *Message) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	select {
	case h.broadcast <- message:
	default:
		if metrics.IsMetricsEnabled() {
			metrics.BroadcastDropped.Inc()
		}
		h.logger.WithFields(logrus.Fields{
			"type":    message.Type,
			"call_id": message.CallID,
		}).Warn("Broadcast hub saturated, message dropped")
	}
}

// SubscriberCount returns the number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) addSubscriber(subscriber *Subscriber) {
	h.mutex.Lock()
	h.subscribers[subscriber] = true
	if subscriber.callID != "" {
		if _, exists := h.callSubscribers[subscriber.callID]; !exists {
			h.callSubscribers[subscriber.callID] = make(map[*Subscriber]bool)
		}
		h.callSubscribers[subscriber.callID][subscriber] = true
	}
	count := len(h.subscribers)
	h.mutex.Unlock()

	h.setSubscriberGauge(count)
	h.logger.WithField("call_id", subscriber.callID).Info("Subscriber connected")
}

func (h *Hub) removeSubscriber(subscriber *Subscriber) {
	h.mutex.Lock()
	if _, ok := h.subscribers[subscriber]; ok {
		delete(h.subscribers, subscriber)
		close(subscriber.send)
		h.detachLocked(subscriber)
		h.logger.WithField("call_id", subscriber.callID).Info("Subscriber disconnected")
	}
	count := len(h.subscribers)
	h.mutex.Unlock()

	h.setSubscriberGauge(count)
}

func (h *Hub) setSubscriberGauge(count int) {
	if metrics.IsMetricsEnabled() {
		metrics.SubscribersConnected.Set(float64(count))
	}
}

// Rebind moves a subscriber's call filter; an empty callID clears it
func (h *Hub) Rebind(subscriber *Subscriber, callID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.subscribers[subscriber]; !ok {
		return
	}

	h.detachLocked(subscriber)
	subscriber.callID = callID
	if callID != "" {
		if _, exists := h.callSubscribers[callID]; !exists {
			h.callSubscribers[callID] = make(map[*Subscriber]bool)
		}
		h.callSubscribers[callID][subscriber] = true
	}
}

// detachLocked removes the subscriber from its call filter map
func (h *Hub) detachLocked(subscriber *Subscriber) {
	if subscriber.callID == "" {
		return
	}
	if filtered, exists := h.callSubscribers[subscriber.callID]; exists {
		delete(filtered, subscriber)
		if len(filtered) == 0 {
			delete(h.callSubscribers, subscriber.callID)
		}
	}
}

func (h *Hub) deliver(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if filtered, exists := h.callSubscribers[message.CallID]; exists {
		for subscriber := range filtered {
			h.sendLocked(subscriber, data)
		}
	}

	for subscriber := range h.subscribers {
		if subscriber.callID != "" {
			continue
		}
		h.sendLocked(subscriber, data)
	}
}

// sendLocked drops the subscriber when its buffer is full
func (h *Hub) sendLocked(subscriber *Subscriber, data []byte) {
	select {
	case subscriber.send <- data:
	default:
		if metrics.IsMetricsEnabled() {
			metrics.BroadcastDropped.Inc()
		}
		close(subscriber.send)
		delete(h.subscribers, subscriber)
		h.detachLocked(subscriber)
		h.logger.WithField("call_id", subscriber.callID).Warn("Slow subscriber dropped")
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for subscriber := range h.subscribers {
		close(subscriber.send)
		delete(h.subscribers, subscriber)
	}
	h.callSubscribers = make(map[string]map[*Subscriber]bool)
	h.setSubscriberGauge(0)
}
