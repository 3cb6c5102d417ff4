package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"fieldtrack/internal/feed"
	"fieldtrack/internal/relay"
)

// FeedHandler serves the relay's push socket. Clients subscribe to topics
// and receive every location published on them.
type FeedHandler struct {
	hub    *relay.Hub
	logger *slog.Logger
}

func NewFeedHandler(h *relay.Hub, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{hub: h, logger: logger.With("component", "feed_ws")}
}

func (h *FeedHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// The server's read and write timeouts would cut a long-lived socket.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := relay.NewClient(uuid.New().String(), 256)
	h.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Pongs go through the write side; the hub may close client.Send at
	// any time.
	pongs := make(chan struct{}, 1)
	go h.writeLoop(ctx, conn, client, pongs)

	h.readLoop(ctx, conn, client, pongs)
}

func (h *FeedHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *relay.Client, pongs chan<- struct{}) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var frame feed.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug("invalid frame", "client_id", client.ID, "error", err)
			continue
		}

		switch frame.Type {
		case feed.FrameSubscribe, feed.FrameUnsubscribe:
			topic := frame.Topic
			if topic == "" {
				var payload feed.TopicPayload
				if err := json.Unmarshal(frame.Payload, &payload); err != nil {
					continue
				}
				topic = payload.Topic
			}
			if topic == "" {
				continue
			}
			if frame.Type == feed.FrameSubscribe {
				h.hub.Subscribe(client, topic)
			} else {
				h.hub.Unsubscribe(client, topic)
			}
			h.logger.Debug("subscription changed", "client_id", client.ID, "type", frame.Type, "topic", topic)

		case feed.FramePing:
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

func (h *FeedHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *relay.Client, pongs <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "relay stopping")
				return
			}
			if err := h.write(ctx, conn, msg); err != nil {
				return
			}

		case <-pongs:
			if err := h.write(ctx, conn, pong); err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *FeedHandler) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, msg)
}

var pong, _ = json.Marshal(feed.Frame{Type: feed.FramePong})
