// Package invalidation carries change descriptors from the appointment
// mutation client to the read models that must refetch after a write.
package invalidation

import (
	"sync"

	"github.com/google/uuid"
)

// Kind is the type of change that happened.
type Kind string

const (
	AppointmentCreated Kind = "appointment.created"
	AppointmentUpdated Kind = "appointment.updated"
	AppointmentDeleted Kind = "appointment.deleted"
)

// Change describes one successful mutation.
type Change struct {
	Kind          Kind   `json:"kind"`
	AppointmentID int64  `json:"appointment_id"`
	Day           string `json:"day,omitempty"`
}

// Bus fans changes out to subscribers. Each subscriber has its own buffered
// channel; a subscriber that falls behind misses signals rather than
// blocking publishers. Missing a signal is harmless since every signal
// means "refetch".
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Change
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Change)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	ch := make(chan Change, buffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers c to every subscriber without blocking.
func (b *Bus) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
