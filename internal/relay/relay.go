// Package relay is a small push relay and sample store for development. It
// accepts location samples over HTTP, keeps them for history queries and
// fans them out to feed subscribers by topic.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"fieldtrack/internal/clock"
	"fieldtrack/internal/domain"
	"fieldtrack/internal/feed"
	"fieldtrack/internal/subscription"
)

type Config struct {
	StaleAfter time.Duration
	Retention  time.Duration
}

// Location is an ingested sample, also the payload published on the topic.
type Location struct {
	SurveyorID string   `json:"surveyorId" validate:"required"`
	Latitude   *float64 `json:"latitude" validate:"required,latitude"`
	Longitude  *float64 `json:"longitude" validate:"required,longitude"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

type Relay struct {
	hub       *Hub
	store     *Store
	clock     clock.Clock
	retention time.Duration
	validate  *validator.Validate
	logger    *slog.Logger

	ready atomic.Bool
}

func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Relay {
	logger = logger.With("component", "relay")
	return &Relay{
		hub:       NewHub(logger),
		store:     NewStore(cfg.StaleAfter, clk),
		clock:     clk,
		retention: cfg.Retention,
		validate:  validator.New(),
		logger:    logger,
	}
}

func (r *Relay) Hub() *Hub     { return r.hub }
func (r *Relay) Store() *Store { return r.store }

func (r *Relay) IsReady() bool {
	return r.ready.Load()
}

// Run serves the hub and prunes samples past the retention window until
// ctx is done.
func (r *Relay) Run(ctx context.Context) {
	go r.hub.Run(ctx)
	defer r.ready.Store(false)

	if r.retention <= 0 {
		r.ready.Store(true)
		<-ctx.Done()
		return
	}

	ticker := r.clock.NewTicker(r.retention / 4)
	defer ticker.Stop()
	r.ready.Store(true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if n := r.store.Prune(r.clock.Now().Add(-r.retention)); n > 0 {
				r.logger.Info("pruned old samples", "count", n, "remaining", r.store.Count())
			}
		}
	}
}

// Ingest validates loc, stores it and publishes it on the entity's topic.
// A missing timestamp means now.
func (r *Relay) Ingest(loc Location) (domain.Sample, error) {
	loc.SurveyorID = strings.TrimSpace(loc.SurveyorID)
	if err := r.validate.Struct(loc); err != nil {
		return domain.Sample{}, fmt.Errorf("invalid location: %w", err)
	}

	ts := r.clock.Now().UTC()
	if loc.Timestamp != "" {
		parsed, err := domain.ParseTimestamp(loc.Timestamp)
		if err != nil {
			return domain.Sample{}, fmt.Errorf("invalid location: %w", err)
		}
		ts = parsed
	}

	sample := domain.Sample{Lat: *loc.Latitude, Lng: *loc.Longitude, Timestamp: ts}
	r.store.Add(loc.SurveyorID, sample)

	loc.Timestamp = ts.Format(time.RFC3339Nano)
	body, err := json.Marshal(loc)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("encoding location: %w", err)
	}
	r.hub.Publish(feed.Message{Topic: subscription.Topic(loc.SurveyorID), Body: body})

	r.logger.Debug("location ingested", "entity_id", loc.SurveyorID, "lat", sample.Lat, "lng", sample.Lng)
	return sample, nil
}
