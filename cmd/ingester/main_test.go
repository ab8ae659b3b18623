package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/aegisdq/aegis/internal/aliasing"
	"github.com/aegisdq/aegis/internal/storage"
)

// fakeEdgeStore is an in-memory storage.LineageEdgeStore.
type fakeEdgeStore struct {
	mu    sync.Mutex
	edges []*storage.LineageEdge
}

func (f *fakeEdgeStore) Upsert(_ context.Context, edge *storage.LineageEdge) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.edges {
		if e.SourceFQN == edge.SourceFQN && e.TargetFQN == edge.TargetFQN {
			if edge.Confidence > e.Confidence {
				e.Confidence = edge.Confidence
			}

			e.QueryHash = edge.QueryHash

			return false, nil
		}
	}

	f.edges = append(f.edges, edge)

	return true, nil
}

func (f *fakeEdgeStore) ListActive(context.Context, int) ([]*storage.LineageEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.edges, nil
}

func (f *fakeEdgeStore) ListActiveForConnection(context.Context, int, []string) ([]*storage.LineageEdge, error) {
	return nil, nil
}

func (f *fakeEdgeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.edges)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIngestMessageParsesEdges(t *testing.T) {
	store := &fakeEdgeStore{}
	resolver := aliasing.NewResolver(nil)

	payload := []byte(`{"sql": "INSERT INTO analytics.combined SELECT o.id, c.name FROM orders o JOIN customers c ON o.cust_id = c.id", "dialect": "postgres"}`)

	count := ingestMessage(context.Background(), payload, store, resolver, discardLogger())

	assert.Equal(t, 2, count)
	require.Equal(t, 2, store.count())

	sources := map[string]bool{}
	for _, e := range store.edges {
		assert.Equal(t, "analytics.combined", e.TargetFQN)
		assert.InDelta(t, 1.0, e.Confidence, 0.001)

		sources[e.SourceFQN] = true
	}

	assert.True(t, sources["orders"])
	assert.True(t, sources["customers"])
}

func TestIngestMessageAppliesAliasPatterns(t *testing.T) {
	store := &fakeEdgeStore{}
	resolver := aliasing.NewResolver(&aliasing.Config{
		TablePatterns: []aliasing.TablePattern{
			{Pattern: "analytics_tmp.{name}", Canonical: "analytics.{name}"},
		},
	})

	payload := []byte(`{"sql": "INSERT INTO analytics_tmp.orders SELECT * FROM raw.orders"}`)

	count := ingestMessage(context.Background(), payload, store, resolver, discardLogger())

	require.Equal(t, 1, count)
	assert.Equal(t, "analytics.orders", store.edges[0].TargetFQN)
}

func TestIngestMessageSkipsGarbage(t *testing.T) {
	store := &fakeEdgeStore{}
	resolver := aliasing.NewResolver(nil)

	assert.Zero(t, ingestMessage(context.Background(), []byte("not json"), store, resolver, discardLogger()))
	assert.Zero(t, ingestMessage(context.Background(), []byte(`{"sql": ""}`), store, resolver, discardLogger()))
	assert.Zero(t, ingestMessage(context.Background(), []byte(`{"sql": "SELECT 1"}`), store, resolver, discardLogger()))
	assert.Zero(t, store.count())
}

func TestConsumeFromKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(ctx) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	const topic = "warehouse.query-log"

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.LeastBytes{},
	}

	// Topic auto-creation can race the first write; retry briefly.
	payload := []byte(`{"sql": "INSERT INTO staging.orders SELECT * FROM raw.orders", "dialect": "postgres"}`)

	require.Eventually(t, func() bool {
		return writer.WriteMessages(ctx, kafka.Message{Value: payload}) == nil
	}, 30*time.Second, time.Second)

	require.NoError(t, writer.Close())

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "aegis-ingester-test",
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})

	t.Cleanup(func() { _ = reader.Close() })

	store := &fakeEdgeStore{}

	consumeCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = consume(consumeCtx, reader, store, aliasing.NewResolver(nil), discardLogger())
	}()

	require.Eventually(t, func() bool { return store.count() == 1 }, 60*time.Second, 500*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}

	assert.Equal(t, "raw.orders", store.edges[0].SourceFQN)
	assert.Equal(t, "staging.orders", store.edges[0].TargetFQN)
}
