package notifier

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errors.New("connection closed")
	}

	f.payloads = append(f.payloads, payload)

	return nil
}

func (f *fakeSubscriber) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.payloads)
}

func testNotifier() *Notifier {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	n := testNotifier()
	a, b := &fakeSubscriber{}, &fakeSubscriber{}

	n.Subscribe(a)
	n.Subscribe(b)

	n.Broadcast(EventScanCompleted, map[string]int{"tables_scanned": 3, "anomalies_found": 1})

	require.Equal(t, 1, a.received())
	require.Equal(t, 1, b.received())

	var msg Message

	require.NoError(t, json.Unmarshal(a.payloads[0], &msg))
	assert.Equal(t, EventScanCompleted, msg.Event)
}

func TestBroadcastDropsFailedSubscribers(t *testing.T) {
	n := testNotifier()
	healthy, dead := &fakeSubscriber{}, &fakeSubscriber{fail: true}

	n.Subscribe(healthy)
	n.Subscribe(dead)
	require.Equal(t, 2, n.Count())

	n.Broadcast(EventIncidentCreated, map[string]string{"incident_id": "abc", "severity": "critical"})

	assert.Equal(t, 1, n.Count())
	assert.Equal(t, 1, healthy.received())

	// A second broadcast only reaches the survivor.
	n.Broadcast(EventIncidentUpdated, nil)
	assert.Equal(t, 2, healthy.received())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	n := testNotifier()
	sub := &fakeSubscriber{}

	n.Subscribe(sub)
	n.Unsubscribe(sub)
	n.Unsubscribe(sub)

	assert.Equal(t, 0, n.Count())
}

func TestConcurrentSubscribeAndBroadcast(t *testing.T) {
	n := testNotifier()

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			n.Subscribe(&fakeSubscriber{})
		}()

		go func() {
			defer wg.Done()
			n.Broadcast(EventScanCompleted, nil)
		}()
	}

	wg.Wait()
	assert.Equal(t, 10, n.Count())
}
