// Package bus provides an in-process pub/sub bus carrying committed lineage
// events to post-commit consumers such as the publish exporter.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/agentlegible/orchestrator/pkg/types"
)

// Notification is one committed lifecycle event plus the context a consumer
// needs to act on it. Artifact is the head as of the commit; Manifest is set
// only for transition events.
type Notification struct {
	Event    types.LineageEvent
	Artifact *types.Artifact
	Manifest *types.Manifest
}

// Notifier fans committed events out to subscribers.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a notifier whose subscriber channels buffer
// bufferSize notifications.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{bufferSize: bufferSize}
}

// Publish sends a committed event to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the notification is
// dropped for that subscriber. Consumers are best-effort by contract; the
// durable record is the lineage ledger, not the bus.
func (n *Notifier) Publish(event types.LineageEvent, artifact *types.Artifact, manifest *types.Manifest) {
	notif := Notification{Event: event, Artifact: artifact, Manifest: manifest}
	n.subscribers.Range(func(key, value interface{}) bool {
		sub := value.(*Subscriber)
		if matchesFilter(sub, event.EventType) {
			select {
			case sub.Ch <- notif:
			default:
				// Channel full - drop, never block the commit path
			}
		}
		return true
	})
}

// Subscribe adds a subscriber with a custom ID. Filters are event type
// prefixes ("artifact.transitioned", or "artifact." for everything); an
// empty filter list receives all events.
func (n *Notifier) Subscribe(id string, filters []string) *Subscriber {
	sub := &Subscriber{
		ID:      id,
		Filters: filters,
		Ch:      make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// SubscribeAutoID adds a subscriber with a generated ID and returns its
// channel.
func (n *Notifier) SubscribeAutoID(filters ...string) chan Notification {
	sub := n.Subscribe(generateSubscriberID(), filters)
	return sub.Ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(subID string) {
	if value, ok := n.subscribers.LoadAndDelete(subID); ok {
		close(value.(*Subscriber).Ch)
	}
}

func matchesFilter(sub *Subscriber, eventType types.EventType) bool {
	if len(sub.Filters) == 0 {
		return true
	}
	et := string(eventType)
	for _, filter := range sub.Filters {
		if len(filter) == 0 {
			return true
		}
		if len(et) >= len(filter) && et[:len(filter)] == filter {
			return true
		}
	}
	return false
}

// Subscriber is one registered consumer.
type Subscriber struct {
	ID      string
	Filters []string
	Ch      chan Notification
}

// Subscriber IDs must be unique per call; a timestamp-derived ID collides
// for subscriptions within the same instant and the sync.Map store would
// silently replace the earlier subscriber.
func generateSubscriberID() string {
	return "sub_" + uuid.NewString()
}
