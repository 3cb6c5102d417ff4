// Package trail holds the bounded recent-position buffer of a tracking session.
package trail

import "fieldtrack/internal/domain"

// DefaultCapacity is the number of positions kept when no capacity is given.
const DefaultCapacity = 50

// Buffer is an ordered FIFO of positions. It is not safe for concurrent use;
// the owning session serializes access.
type Buffer struct {
	capacity  int
	positions []domain.Position
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity:  capacity,
		positions: make([]domain.Position, 0, capacity),
	}
}

// Append adds p at the end, dropping the oldest entries beyond capacity.
// Identical consecutive positions are kept.
func (b *Buffer) Append(p domain.Position) {
	b.positions = append(b.positions, p)
	if over := len(b.positions) - b.capacity; over > 0 {
		n := copy(b.positions, b.positions[over:])
		b.positions = b.positions[:n]
	}
}

func (b *Buffer) Clear() {
	b.positions = b.positions[:0]
}

// Snapshot returns a copy of the buffer, oldest first.
func (b *Buffer) Snapshot() []domain.Position {
	out := make([]domain.Position, len(b.positions))
	copy(out, b.positions)
	return out
}

func (b *Buffer) Len() int {
	return len(b.positions)
}

func (b *Buffer) Capacity() int {
	return b.capacity
}

// Last returns the most recently appended position.
func (b *Buffer) Last() (domain.Position, bool) {
	if len(b.positions) == 0 {
		return domain.Position{}, false
	}
	return b.positions[len(b.positions)-1], true
}
