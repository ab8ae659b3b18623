// Package notifier provides in-process fan-out of structured lifecycle events
// to subscribers, typically WebSocket clients attached by the API layer.
package notifier

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event kinds broadcast over the notifier.
const (
	EventIncidentCreated = "incident.created"
	EventIncidentUpdated = "incident.updated"
	EventScanCompleted   = "scan.completed"
	EventDiscoveryUpdate = "discovery.update"
)

// Message is the wire envelope delivered to every subscriber.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscriber receives serialized event messages. A Send error marks the
// subscriber dead; it is removed after the broadcast completes.
type Subscriber interface {
	Send(payload []byte) error
}

// Notifier fans events out to the current subscriber set. Add/remove happen
// under a single mutex; Broadcast iterates a snapshot so a slow or failing
// subscriber never blocks registration.
type Notifier struct {
	mu          sync.Mutex
	subscribers []Subscriber
	logger      *slog.Logger
}

// New constructs a Notifier.
func New(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Subscribe registers a subscriber for future broadcasts.
func (n *Notifier) Subscribe(sub Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.subscribers = append(n.subscribers, sub)

	n.logger.Info("Subscriber connected", slog.Int("total", len(n.subscribers)))
}

// Unsubscribe removes a subscriber. Safe to call for a subscriber that was
// already removed by a failed broadcast.
func (n *Notifier) Unsubscribe(sub Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.remove(sub)

	n.logger.Info("Subscriber disconnected", slog.Int("remaining", len(n.subscribers)))
}

// remove deletes a subscriber from the list. Caller must hold the mutex.
func (n *Notifier) remove(sub Subscriber) {
	for i, s := range n.subscribers {
		if s == sub {
			n.subscribers = append(n.subscribers[:i], n.subscribers[i+1:]...)

			return
		}
	}
}

// Count returns the current number of subscribers.
func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.subscribers)
}

// Broadcast serializes {event, data} and delivers it to every subscriber.
// Delivery is best-effort: subscribers whose Send fails are dropped after the
// fan-out, and a marshal failure is logged and swallowed so callers never
// fail an incident commit because of a notification.
func (n *Notifier) Broadcast(event string, data any) {
	payload, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		n.logger.Error("Failed to marshal event", slog.String("event", event), slog.String("error", err.Error()))

		return
	}

	n.mu.Lock()
	snapshot := make([]Subscriber, len(n.subscribers))
	copy(snapshot, n.subscribers)
	n.mu.Unlock()

	var failed []Subscriber

	for _, sub := range snapshot {
		if err := sub.Send(payload); err != nil {
			failed = append(failed, sub)
		}
	}

	if len(failed) == 0 {
		return
	}

	n.mu.Lock()
	for _, sub := range failed {
		n.remove(sub)
	}
	n.mu.Unlock()

	n.logger.Warn("Dropped unreachable subscribers",
		slog.String("event", event),
		slog.Int("dropped", len(failed)),
	)
}
