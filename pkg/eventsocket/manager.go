package eventsocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// State is the connection manager state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// EventHandler receives every switch event in arrival order on a single
// goroutine; it must not block on downstream work.
type EventHandler func(Event)

// ManagerConfig holds connection manager configuration
type ManagerConfig struct {
	Host           string
	Port           int
	Password       string
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	MaxReconnects  int
}

// Manager owns the switch event-socket connection: it connects, subscribes
// to the event set, feeds the single-threaded ingestion handler, and retries
// dropped connections at a fixed delay until the attempt ceiling.
type Manager struct {
	client   Client
	config   ManagerConfig
	logger   *logrus.Logger
	handler  EventHandler
	state    atomic.Int32
	stopChan chan struct{}
	stopOnce sync.Once
	fatal    chan error
	wg       sync.WaitGroup
}

// NewManager creates a connection manager around an event-socket client
func NewManager(client Client, config ManagerConfig, logger *logrus.Logger) *Manager {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}

	m := &Manager{
		client:   client,
		config:   config,
		logger:   logger,
		stopChan: make(chan struct{}),
		fatal:    make(chan error, 1),
	}
	m.setState(StateDisconnected)
	return m
}

// SetHandler installs the ingestion handler. Must be called before Start.
func (m *Manager) SetHandler(handler EventHandler) {
	m.handler = handler
}

// State returns the current connection state
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Fatal delivers the terminal error once the reconnect ceiling is exceeded
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Start launches the connect/consume/reconnect loop
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop shuts the manager down and disconnects from the switch. Idempotent:
// stopping an already-stopped manager is a no-op.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		if err := m.client.Disconnect(); err != nil {
			m.logger.WithError(err).Warn("Error disconnecting from switch")
		}
	})
	m.wg.Wait()
}

func (m *Manager) run() {
	defer m.wg.Done()

	attempts := 0
	for {
		select {
		case <-m.stopChan:
			m.setState(StateDisconnected)
			return
		default:
		}

		m.setState(StateConnecting)
		m.logger.WithFields(logrus.Fields{
			"host":    m.config.Host,
			"port":    m.config.Port,
			"attempt": attempts + 1,
		}).Info("Connecting to switch event socket")

		err := m.connect()
		if err != nil {
			attempts++
			m.logger.WithError(err).WithFields(logrus.Fields{
				"attempt":        attempts,
				"max_reconnects": m.config.MaxReconnects,
			}).Warn("Switch connection attempt failed")

			if attempts > m.config.MaxReconnects {
				m.fail(err)
				return
			}

			if !m.waitReconnect() {
				m.setState(StateDisconnected)
				return
			}
			continue
		}

		attempts = 0
		m.setState(StateConnected)

		if err := m.client.Subscribe(SubscribedEvents); err != nil {
			m.logger.WithError(err).Error("Failed to subscribe to switch events")
		} else {
			m.logger.WithField("events", len(SubscribedEvents)).Info("Subscribed to switch events")
		}

		dropped := m.consume()
		if !dropped {
			// Stop was requested while consuming
			m.setState(StateDisconnected)
			return
		}

		attempts++
		if metrics.IsMetricsEnabled() {
			metrics.SwitchReconnects.Inc()
		}
		m.logger.WithFields(logrus.Fields{
			"attempt":        attempts,
			"max_reconnects": m.config.MaxReconnects,
		}).Warn("Switch connection dropped")

		if attempts > m.config.MaxReconnects {
			m.fail(errors.ErrConnectionLost)
			return
		}

		if !m.waitReconnect() {
			m.setState(StateDisconnected)
			return
		}
	}
}

// connect races a single connect attempt against the configured timeout
func (m *Manager) connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.client.Connect(ctx, m.config.Host, m.config.Port, m.config.Password)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, "switch connect timed out")
	case <-m.stopChan:
		return errors.ErrCanceled
	}
}

// consume delivers events to the handler until the connection drops or a
// stop is requested. Returns true when the connection dropped.
func (m *Manager) consume() bool {
	events := m.client.Events()
	for {
		select {
		case <-m.stopChan:
			return false
		case event, ok := <-events:
			if !ok {
				return true
			}
			metrics.RecordSwitchEvent(event.Name)
			if m.handler != nil {
				m.handler(event)
			}
		}
	}
}

// waitReconnect sleeps the fixed reconnect delay; the sleep is cancellable
// only by shutdown. Returns false when shutdown was requested.
func (m *Manager) waitReconnect() bool {
	m.setState(StateReconnecting)

	timer := time.NewTimer(m.config.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-m.stopChan:
		return false
	}
}

func (m *Manager) fail(cause error) {
	m.setState(StateFailed)
	m.logger.WithError(cause).WithField("max_reconnects", m.config.MaxReconnects).
		Error("Switch connection failed permanently, reconnect ceiling exceeded")

	select {
	case m.fatal <- errors.Wrap(cause, "switch connection failed permanently"):
	default:
	}
}

func (m *Manager) setState(state State) {
	old := State(m.state.Swap(int32(state)))
	if old != state {
		m.logger.WithFields(logrus.Fields{
			"from": old.String(),
			"to":   state.String(),
		}).Debug("Switch connection state changed")
	}
	if metrics.IsMetricsEnabled() {
		metrics.SwitchConnectionState.Set(float64(state))
	}
}
