package store

import (
	"sync"
	"time"

	"github.com/junctive/contexd/entity"
	"github.com/junctive/contexd/logger"
)

// ChangeType classifies a committed mutation.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent describes one committed entity mutation. Events are
// emitted only after commit and carry the post-mutation state, so a
// consumer never observes a half-applied merge. For deletes the
// Entity field is nil and the event acts as a tombstone.
type ChangeEvent struct {
	Type         ChangeType
	EntityID     string
	EntityType   string
	ChangedAttrs []string
	Entity       *entity.Entity
	Timestamp    time.Time
}

// eventBus fans committed change events out to subscribers. Sends are
// non-blocking: a subscriber that falls behind loses events rather
// than stalling the write path.
type eventBus struct {
	mu          sync.RWMutex
	subscribers []chan ChangeEvent
}

func (b *eventBus) subscribe(buffer int) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, buffer)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

func (b *eventBus) publish(events []ChangeEvent) {
	now := time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ev := range events {
		ev.Timestamp = now
		for _, ch := range b.subscribers {
			select {
			case ch <- ev:
			default:
				logger.Warnw("Change event dropped, subscriber buffer full",
					"entity_id", ev.EntityID,
					"change", ev.Type,
				)
			}
		}
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
