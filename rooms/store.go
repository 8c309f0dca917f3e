package rooms

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// BOOKING STORE
// =============================================================================

// Store persists bookings for the grid.
type Store interface {
	Save(ctx context.Context, b Booking) (string, error)
	ByRoom(ctx context.Context, roomID string) ([]Booking, error)
	List(ctx context.Context) ([]Booking, error)
}

// Memory is an in-memory Store for tests and dev runs.
type Memory struct {
	mu       sync.RWMutex
	bookings []Booking
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Save(_ context.Context, b Booking) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings = append(m.bookings, b)
	return b.ID, nil
}

func (m *Memory) ByRoom(_ context.Context, roomID string) ([]Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.RoomID == roomID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) List(_ context.Context) ([]Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Booking, len(m.bookings))
	copy(out, m.bookings)
	return out, nil
}
