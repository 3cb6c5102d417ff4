package relay

import (
	"sort"
	"sync"
	"time"

	"fieldtrack/internal/clock"
	"fieldtrack/internal/domain"
)

const (
	StatusOnline  = "Online"
	StatusOffline = "Offline"
)

// Store keeps ingested samples per entity, ordered by timestamp, and when
// each entity was last heard from.
type Store struct {
	mu       sync.RWMutex
	samples  map[string][]domain.Sample
	lastSeen map[string]time.Time

	staleAfter time.Duration
	clock      clock.Clock
}

func NewStore(staleAfter time.Duration, clk clock.Clock) *Store {
	return &Store{
		samples:    make(map[string][]domain.Sample),
		lastSeen:   make(map[string]time.Time),
		staleAfter: staleAfter,
		clock:      clk,
	}
}

func (s *Store) Add(entityID string, sample domain.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.samples[entityID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp.After(sample.Timestamp)
	})
	list = append(list, domain.Sample{})
	copy(list[i+1:], list[i:])
	list[i] = sample

	s.samples[entityID] = list
	s.lastSeen[entityID] = s.clock.Now()
}

// Track returns the samples of entityID with start <= timestamp <= end,
// oldest first.
func (s *Store) Track(entityID string, start, end time.Time) []domain.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Sample{}
	if start.After(end) {
		return result
	}
	list := s.samples[entityID]
	from := sort.Search(len(list), func(i int) bool {
		return !list[i].Timestamp.Before(start)
	})
	for _, sample := range list[from:] {
		if sample.Timestamp.After(end) {
			break
		}
		result = append(result, sample)
	}
	return result
}

// Status reports every known entity as Online when it was heard from within
// the stale window, Offline otherwise.
func (s *Store) Status() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.clock.Now().Add(-s.staleAfter)
	status := make(map[string]string, len(s.lastSeen))
	for id, seen := range s.lastSeen {
		if seen.Before(cutoff) {
			status[id] = StatusOffline
		} else {
			status[id] = StatusOnline
		}
	}
	return status
}

// Prune drops samples older than before and returns how many went.
// Entities stay known to Status.
func (s *Store) Prune(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, list := range s.samples {
		keep := sort.Search(len(list), func(i int) bool {
			return !list[i].Timestamp.Before(before)
		})
		if keep == 0 {
			continue
		}
		removed += keep
		if keep == len(list) {
			delete(s.samples, id)
			continue
		}
		s.samples[id] = append([]domain.Sample(nil), list[keep:]...)
	}
	return removed
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.samples {
		n += len(list)
	}
	return n
}
