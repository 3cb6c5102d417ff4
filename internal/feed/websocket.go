package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Frame is the JSON envelope spoken on the feed socket. Clients send
// subscribe/unsubscribe/ping; the relay sends message/pong.
type Frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type TopicPayload struct {
	Topic string `json:"topic"`
}

const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameMessage     = "message"
	FramePing        = "ping"
	FramePong        = "pong"
)

type WebSocketTransport struct {
	url          string
	dialTimeout  time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

func NewWebSocketTransport(url string, dialTimeout time.Duration, logger *slog.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		url:          url,
		dialTimeout:  dialTimeout,
		pingInterval: 30 * time.Second,
		logger:       logger.With("component", "feed_ws"),
	}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	c, _, err := websocket.Dial(dialCtx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing feed %s: %w", t.url, err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	wc := &wsConn{
		conn:     c,
		send:     make(chan []byte, 32),
		messages: make(chan Message, 64),
		ctx:      connCtx,
		cancel:   connCancel,
		logger:   t.logger,
	}

	go wc.readLoop()
	go wc.writeLoop(t.pingInterval)

	return wc, nil
}

type wsConn struct {
	conn     *websocket.Conn
	send     chan []byte
	messages chan Message
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
}

func (c *wsConn) Messages() <-chan Message { return c.messages }

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *wsConn) Subscribe(topic string) error {
	return c.enqueue(FrameSubscribe, topic)
}

func (c *wsConn) Unsubscribe(topic string) error {
	return c.enqueue(FrameUnsubscribe, topic)
}

func (c *wsConn) enqueue(frameType, topic string) error {
	payload, err := json.Marshal(TopicPayload{Topic: topic})
	if err != nil {
		return err
	}
	data, err := json.Marshal(Frame{Type: frameType, Payload: payload})
	if err != nil {
		return err
	}

	if c.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendFull
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "")
		c.cancel()
	})
	return err
}

func (c *wsConn) readLoop() {
	defer close(c.messages)
	defer c.cancel()

	for {
		msgType, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.setErr(err)
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Debug("invalid feed frame", "error", err)
			continue
		}
		if frame.Type != FrameMessage {
			continue
		}

		select {
		case c.messages <- Message{Topic: frame.Topic, Body: frame.Payload}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *wsConn) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.setErr(err)
				c.cancel()
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.setErr(err)
				c.cancel()
				return
			}
		}
	}
}
