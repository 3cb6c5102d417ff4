// Package subscription binds a tracked entity to its location topic and
// turns inbound feed messages into positions.
package subscription

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/feed"
	"fieldtrack/internal/metrics"
)

var ErrNotConnected = feed.ErrNotConnected

// Topic returns the push topic of an entity
func Topic(entityID string) string {
	return "location." + entityID
}

// Feed is the part of the connection manager the router needs
type Feed interface {
	Status() domain.ConnectionStatus
	Subscribe(topic string) error
	Unsubscribe(topic string) error
}

// Handle identifies one active subscription
type Handle struct {
	ID       string
	EntityID string
	Topic    string
}

// Router keeps at most one subscription open.
type Router struct {
	feed   Feed
	active *Handle
	logger *slog.Logger
}

func NewRouter(f Feed, logger *slog.Logger) *Router {
	return &Router{
		feed:   f,
		logger: logger.With("component", "subscription_router"),
	}
}

// Subscribe opens the topic of entityID, closing any previous handle first.
func (r *Router) Subscribe(entityID string) (*Handle, error) {
	if r.feed.Status() != domain.StatusConnected {
		return nil, ErrNotConnected
	}

	if r.active != nil {
		r.Unsubscribe(r.active)
	}

	h := &Handle{
		ID:       uuid.NewString(),
		EntityID: entityID,
		Topic:    Topic(entityID),
	}
	if err := r.feed.Subscribe(h.Topic); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", h.Topic, err)
	}

	r.active = h
	r.logger.Info("subscribed", "entity_id", entityID, "topic", h.Topic, "handle", h.ID)
	return h, nil
}

// Unsubscribe closes h. Stale or nil handles are ignored.
func (r *Router) Unsubscribe(h *Handle) {
	if h == nil || r.active == nil || r.active.ID != h.ID {
		return
	}
	r.active = nil

	if err := r.feed.Unsubscribe(h.Topic); err != nil {
		r.logger.Debug("unsubscribe failed", "topic", h.Topic, "error", err)
	}
	r.logger.Info("unsubscribed", "entity_id", h.EntityID, "topic", h.Topic, "handle", h.ID)
}

// Active returns the open handle, if any.
func (r *Router) Active() *Handle {
	return r.active
}

// Decode turns a message on the active topic into a live position.
// Messages for other topics and malformed payloads are dropped.
func (r *Router) Decode(msg feed.Message) (domain.Position, bool) {
	if r.active == nil || msg.Topic != r.active.Topic {
		r.logger.Debug("dropping message for inactive topic", "topic", msg.Topic)
		return domain.Position{}, false
	}

	pos, err := DecodePayload(msg.Body)
	if err != nil {
		metrics.DecodeFailures.Inc()
		r.logger.Warn("dropping malformed location message", "topic", msg.Topic, "error", err)
		return domain.Position{}, false
	}
	return pos, true
}

type locationPayload struct {
	Latitude   *json.Number `json:"latitude"`
	Longitude  *json.Number `json:"longitude"`
	Timestamp  string       `json:"timestamp"`
	SurveyorID string       `json:"surveyorId"`
}

// DecodePayload parses {latitude, longitude, timestamp, surveyorId}.
func DecodePayload(body []byte) (domain.Position, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var p locationPayload
	if err := dec.Decode(&p); err != nil {
		return domain.Position{}, fmt.Errorf("decoding payload: %w", err)
	}

	lat, err := coordinate("latitude", p.Latitude)
	if err != nil {
		return domain.Position{}, err
	}
	lng, err := coordinate("longitude", p.Longitude)
	if err != nil {
		return domain.Position{}, err
	}

	ts, err := domain.ParseTimestamp(p.Timestamp)
	if err != nil {
		return domain.Position{}, err
	}

	return domain.Position{
		Lat:       lat,
		Lng:       lng,
		Timestamp: ts,
		EntityID:  p.SurveyorID,
		Source:    domain.SourceLive,
	}, nil
}

func coordinate(name string, n *json.Number) (float64, error) {
	if n == nil {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, n.String(), err)
	}
	return v, nil
}
