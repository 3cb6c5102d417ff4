// Package simulator produces a synthetic position stream for demo and
// offline use when no live feed is reachable.
package simulator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"fieldtrack/internal/clock"
	"fieldtrack/internal/domain"
)

const (
	// DefaultInterval is the cadence of simulated positions
	DefaultInterval = 5 * time.Second

	seedJitter = 0.001
	stepJitter = 0.0001
)

// DefaultOrigin is used when no last known position is available
var DefaultOrigin = domain.LatLng{Lat: 17.4010007, Lng: 78.5643879}

type Config struct {
	Interval time.Duration
	Origin   domain.LatLng
}

// Simulator walks a position randomly from a seed, one step per tick.
type Simulator struct {
	cfg    Config
	clock  clock.Clock
	rng    *rand.Rand
	out    chan domain.Position
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, clk clock.Clock, rng *rand.Rand, logger *slog.Logger) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Origin == (domain.LatLng{}) {
		cfg.Origin = DefaultOrigin
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulator{
		cfg:    cfg,
		clock:  clk,
		rng:    rng,
		out:    make(chan domain.Position),
		logger: logger.With("component", "simulator"),
	}
}

// Positions is shared by every run of the simulator. It is unbuffered, so
// once Stop returns nothing from the stopped run is left to read.
func (s *Simulator) Positions() <-chan domain.Position {
	return s.out
}

func (s *Simulator) Running() bool {
	return s.cancel != nil
}

// Start begins a walk for entityID from origin, or from the configured
// origin slightly jittered when origin is nil. A running walk is replaced.
// The first position is emitted right away.
func (s *Simulator) Start(entityID string, origin *domain.LatLng) {
	s.Stop()

	var seed domain.LatLng
	if origin != nil {
		seed = *origin
	} else {
		seed = domain.LatLng{
			Lat: s.cfg.Origin.Lat + s.jitter(seedJitter),
			Lng: s.cfg.Origin.Lng + s.jitter(seedJitter),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	ticker := s.clock.NewTicker(s.cfg.Interval)

	s.wg.Add(1)
	go s.run(ctx, ticker, entityID, seed)

	s.logger.Info("simulation started", "entity_id", entityID, "lat", seed.Lat, "lng", seed.Lng, "interval", s.cfg.Interval)
}

// Stop cancels the walk and waits for it to finish. No-op when idle.
func (s *Simulator) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()
	s.logger.Info("simulation stopped")
}

func (s *Simulator) run(ctx context.Context, ticker clock.Ticker, entityID string, pos domain.LatLng) {
	defer s.wg.Done()
	defer ticker.Stop()

	// rng is only touched here once Start has returned.
	if !s.emit(ctx, entityID, pos) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			pos.Lat += s.jitter(stepJitter)
			pos.Lng += s.jitter(stepJitter)
			if !s.emit(ctx, entityID, pos) {
				return
			}
		}
	}
}

func (s *Simulator) emit(ctx context.Context, entityID string, pos domain.LatLng) bool {
	p := domain.Position{
		Lat:       pos.Lat,
		Lng:       pos.Lng,
		Timestamp: s.clock.Now(),
		EntityID:  entityID,
		Source:    domain.SourceSimulated,
	}
	select {
	case s.out <- p:
		return true
	case <-ctx.Done():
		return false
	}
}

// jitter returns a uniform value in [-span/2, span/2).
func (s *Simulator) jitter(span float64) float64 {
	return (s.rng.Float64() - 0.5) * span
}
