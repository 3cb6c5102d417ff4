package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/session"
)

// Session is the part of a tracking session the dashboard socket drives.
type Session interface {
	ID() string
	Changes() <-chan struct{}
	Run(ctx context.Context) error
	SelectEntity(ctx context.Context, id string) error
	StartLive(ctx context.Context) error
	StopLive(ctx context.Context) error
	FetchHistorical(ctx context.Context, rng domain.HistoricalRange) error
	Snapshot(ctx context.Context) (session.View, error)
	TakeNotices(ctx context.Context) ([]domain.Notice, error)
}

// SessionFactory builds a fresh session for each dashboard connection.
type SessionFactory func() Session

type WSHandler struct {
	newSession SessionFactory
	logger     *slog.Logger
}

func NewWSHandler(newSession SessionFactory, logger *slog.Logger) *WSHandler {
	return &WSHandler{newSession: newSession, logger: logger.With("component", "session_ws")}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SelectPayload struct {
	EntityID string `json:"entityId"`
}

type FetchHistoricalPayload struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type outMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

const (
	msgSelect          = "select"
	msgStartLive       = "startLive"
	msgStopLive        = "stopLive"
	msgFetchHistorical = "fetchHistorical"
	msgPing            = "ping"

	msgState  = "state"
	msgNotice = "notice"
	msgError  = "error"
	msgPong   = "pong"

	intentTimeout = 5 * time.Second
)

// ServeWS runs one session for the lifetime of the socket.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
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

	sess := h.newSession()
	logger := h.logger.With("session_id", sess.ID())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := sess.Run(ctx); err != nil {
			logger.Error("session run failed", "error", err)
		}
	}()

	// replies carries pong and error frames from the read side.
	replies := make(chan outMessage, 16)
	go h.writeLoop(ctx, conn, sess, replies, logger)

	h.readLoop(ctx, conn, sess, replies, logger)
	cancel()
	<-runDone
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess Session, replies chan<- outMessage, logger *slog.Logger) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Debug("websocket read error", "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("invalid message format", "error", err)
			reply(replies, errorMessage("invalid message format"))
			continue
		}

		if msg.Type == msgPing {
			reply(replies, outMessage{Type: msgPong})
			continue
		}

		if err := h.dispatch(ctx, sess, msg); err != nil {
			if errors.Is(err, session.ErrClosed) || ctx.Err() != nil {
				return
			}
			logger.Debug("intent rejected", "type", msg.Type, "error", err)
			reply(replies, errorMessage(err.Error()))
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, sess Session, msg WSMessage) error {
	ctx, cancel := context.WithTimeout(ctx, intentTimeout)
	defer cancel()

	switch msg.Type {
	case msgSelect:
		var payload SelectPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return errors.New("invalid select payload")
		}
		return sess.SelectEntity(ctx, payload.EntityID)

	case msgStartLive:
		return sess.StartLive(ctx)

	case msgStopLive:
		return sess.StopLive(ctx)

	case msgFetchHistorical:
		rng, err := parseRange(msg.Payload)
		if err != nil {
			return err
		}
		return sess.FetchHistorical(ctx, rng)

	default:
		return errors.New("unknown message type " + msg.Type)
	}
}

func parseRange(raw json.RawMessage) (domain.HistoricalRange, error) {
	var payload FetchHistoricalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.HistoricalRange{}, errors.New("invalid fetchHistorical payload")
	}
	start, err := domain.ParseTimestamp(payload.Start)
	if err != nil {
		return domain.HistoricalRange{}, err
	}
	end, err := domain.ParseTimestamp(payload.End)
	if err != nil {
		return domain.HistoricalRange{}, err
	}
	return domain.HistoricalRange{Start: start, End: end}, nil
}

// writeLoop pushes notices and a fresh state after every session change.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess Session, replies <-chan outMessage, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	if !h.pushState(ctx, conn, sess) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-sess.Changes():
			if !h.pushState(ctx, conn, sess) {
				return
			}

		case msg := <-replies:
			if err := write(ctx, conn, msg); err != nil {
				logger.Debug("websocket write failed", "error", err)
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

func (h *WSHandler) pushState(ctx context.Context, conn *websocket.Conn, sess Session) bool {
	notices, err := sess.TakeNotices(ctx)
	if err != nil {
		return false
	}
	for _, n := range notices {
		if err := write(ctx, conn, outMessage{Type: msgNotice, Payload: n}); err != nil {
			return false
		}
	}

	view, err := sess.Snapshot(ctx)
	if err != nil {
		return false
	}
	return write(ctx, conn, outMessage{Type: msgState, Payload: view}) == nil
}

func write(ctx context.Context, conn *websocket.Conn, msg outMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func errorMessage(text string) outMessage {
	return outMessage{Type: msgError, Payload: errorResponse{Error: text}}
}

func reply(replies chan<- outMessage, msg outMessage) {
	select {
	case replies <- msg:
	default:
	}
}
