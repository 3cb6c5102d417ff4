// Package feed owns the push connection that carries live positions: its
// lifecycle, its status and the raw topic messages it delivers.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/metrics"
)

var (
	ErrNotConnected = errors.New("feed not connected")
	ErrClosed       = errors.New("feed connection closed")
	ErrSendFull     = errors.New("feed send buffer full")

	// ErrSubscribeRefused ends a connection whose broker rejected a
	// subscription.
	ErrSubscribeRefused = errors.New("feed subscription refused")
)

// Message is a raw payload received on a topic
type Message struct {
	Topic string
	Body  []byte
}

// EventKind separates status transitions from inbound messages
type EventKind int

const (
	EventStatus EventKind = iota
	EventMessage
)

type Event struct {
	Kind    EventKind
	Status  domain.ConnectionStatus
	Err     error
	Message Message
}

// Conn is an established transport connection. Subscribe and Unsubscribe
// must not block on network I/O.
type Conn interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	// Messages is closed when the connection ends.
	Messages() <-chan Message
	// Err explains why Messages was closed.
	Err() error
	Close() error
}

type Transport interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
}

// Manager drives a single transport connection through
// Disconnected -> Connecting -> Connected, with Connecting -> Error on a
// failed dial. It never retries on its own.
type Manager struct {
	transport Transport
	logger    *slog.Logger
	events    chan Event

	mu     sync.Mutex
	status domain.ConnectionStatus
	conn   Conn
	topics map[string]struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(transport Transport, logger *slog.Logger) *Manager {
	return &Manager{
		transport: transport,
		logger:    logger.With("component", "feed_manager", "transport", transport.Name()),
		events:    make(chan Event, 64),
		topics:    make(map[string]struct{}),
	}
}

// Events delivers asynchronous status transitions and topic messages.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) Status() domain.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect starts a dial unless one is in progress or already succeeded.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == domain.StatusConnecting || m.status == domain.StatusConnected {
		return
	}

	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.status = domain.StatusConnecting

	m.wg.Add(1)
	go m.run(ctx)
}

// Disconnect releases the subscriptions and the transport, then waits for
// the connection goroutine to exit. Safe to call in any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	topics := m.topics
	m.cancel = nil
	m.conn = nil
	m.topics = make(map[string]struct{})
	wasDisconnected := m.status == domain.StatusDisconnected
	m.status = domain.StatusDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		for topic := range topics {
			if err := conn.Unsubscribe(topic); err != nil {
				m.logger.Debug("unsubscribe on disconnect failed", "topic", topic, "error", err)
			}
		}
		if err := conn.Close(); err != nil {
			m.logger.Debug("closing feed connection", "error", err)
		}
	}
	m.wg.Wait()

	if !wasDisconnected {
		m.logger.Info("feed disconnected")
	}
}

func (m *Manager) Subscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != domain.StatusConnected || m.conn == nil {
		return ErrNotConnected
	}
	if err := m.conn.Subscribe(topic); err != nil {
		return err
	}
	m.topics[topic] = struct{}{}
	return nil
}

func (m *Manager) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.topics[topic]; !ok {
		return nil
	}
	delete(m.topics, topic)
	if m.conn == nil {
		return nil
	}
	return m.conn.Unsubscribe(topic)
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	transport := m.transport.Name()
	conn, err := m.transport.Dial(ctx)
	if err != nil {
		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		m.status = domain.StatusError
		m.mu.Unlock()

		metrics.FeedConnects.WithLabelValues(transport, "error").Inc()
		m.logger.Warn("feed connection failed", "error", err)
		m.emit(ctx, Event{Kind: EventStatus, Status: domain.StatusError, Err: err})
		return
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.status = domain.StatusConnected
	m.mu.Unlock()

	metrics.FeedConnects.WithLabelValues(transport, "connected").Inc()
	m.logger.Info("feed connected")
	m.emit(ctx, Event{Kind: EventStatus, Status: domain.StatusConnected})

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-conn.Messages():
			if !ok {
				m.remoteClosed(ctx, conn)
				return
			}
			m.emit(ctx, Event{Kind: EventMessage, Message: msg})
		}
	}
}

func (m *Manager) remoteClosed(ctx context.Context, conn Conn) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.topics = make(map[string]struct{})
	m.status = domain.StatusDisconnected
	m.mu.Unlock()

	conn.Close()
	err := conn.Err()
	m.logger.Warn("feed closed by remote", "error", err)
	m.emit(ctx, Event{Kind: EventStatus, Status: domain.StatusDisconnected, Err: err})
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}
