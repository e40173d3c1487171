package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel depth. When a consumer falls
// this far behind, the oldest undelivered message is dropped so the ingestion
// path never blocks on a slow stream client.
const subscriberBuffer = 64

// Subscription is one registered consumer. Messages arrive on C until
// Unsubscribe; C is closed on unsubscribe.
type Subscription struct {
	ID    string
	types map[string]bool
	C     chan Message
}

func (s *Subscription) wants(msgType string) bool {
	return s.types[TypeWildcard] || s.types[msgType]
}

// Bus is the process-wide pub/sub topology. The subscriber list is
// read-mostly; a single RWMutex protects it.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscribe registers a consumer for the given message types (TypeWildcard
// for all). The caller must Unsubscribe on every exit path.
func (b *Bus) Subscribe(types ...string) *Subscription {
	sub := &Subscription{
		ID:    uuid.New().String(),
		types: make(map[string]bool, len(types)),
		C:     make(chan Message, subscriberBuffer),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a consumer and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.ID]; !ok {
		return
	}
	delete(b.subs, sub.ID)
	close(sub.C)
}

// Publish delivers a message to every matching subscriber. Delivery is
// synchronous with respect to the caller but never blocks: a full subscriber
// channel has its oldest message dropped to make room (drop-oldest policy).
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(msg.Type) {
			continue
		}
		select {
		case sub.C <- msg:
		default:
			select {
			case <-sub.C:
				slog.Warn("Bus: slow subscriber, dropped oldest message",
					"subscriber", sub.ID, "type", msg.Type)
			default:
			}
			select {
			case sub.C <- msg:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Reset drops every subscriber and closes their channels. Test hook.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.C)
		delete(b.subs, id)
	}
}
