// Package main provides the Aegis query-log ingester.
//
// It consumes warehouse query-log entries from a Kafka topic, parses each
// statement for source→target lineage edges, and upserts them into the same
// lineage relation the connector-pull refresher maintains. Deployments whose
// warehouses can't expose query logs through a connector stream them here
// instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/aegisdq/aegis/internal/aliasing"
	"github.com/aegisdq/aegis/internal/canonicalization"
	"github.com/aegisdq/aegis/internal/config"
	"github.com/aegisdq/aegis/internal/sqlparse"
	"github.com/aegisdq/aegis/internal/storage"
)

// Version information.
const (
	version = "0.1.0"
	name    = "aegis-ingester"
)

// queryLogMessage is the expected shape of one Kafka message.
type queryLogMessage struct {
	SQL        string    `json:"sql"`
	Dialect    string    `json:"dialect,omitempty"`
	ExecutedAt time.Time `json:"executed_at,omitempty"` //nolint: tagliatelle
}

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Error("Invalid storage configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	db, err := storage.NewDB(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() { _ = db.Close() }()

	edges := storage.NewPostgresLineageEdgeStore(db)

	aliasConfig, _ := aliasing.LoadConfigFromEnv()
	resolver := aliasing.NewResolver(aliasConfig)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "localhost:9092")),
		Topic:       config.GetEnvStr("KAFKA_QUERY_LOG_TOPIC", "warehouse.query-log"),
		GroupID:     config.GetEnvStr("KAFKA_GROUP_ID", "aegis-ingester"),
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})

	defer func() { _ = reader.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Ingester started",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("topic", reader.Config().Topic),
	)

	if err := consume(ctx, reader, edges, resolver, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Ingester stopped")
}

// consume reads messages until the context is cancelled. Malformed messages
// and per-edge upsert failures are logged and skipped; the consumer only
// stops on fetch or commit errors.
func consume(
	ctx context.Context,
	reader *kafka.Reader,
	edges storage.LineageEdgeStore,
	resolver *aliasing.Resolver,
	logger *slog.Logger,
) error {
	for {
		message, err := reader.FetchMessage(ctx)
		if err != nil {
			return fmt.Errorf("fetch message: %w", err)
		}

		upserts := ingestMessage(ctx, message.Value, edges, resolver, logger)
		if upserts > 0 {
			logger.Info("Ingested query-log entry",
				slog.Int("edges_upserted", upserts),
				slog.Int64("offset", message.Offset),
			)
		}

		if err := reader.CommitMessages(ctx, message); err != nil {
			return fmt.Errorf("commit offset: %w", err)
		}
	}
}

// ingestMessage parses one query-log message and upserts its edges. Returns
// the number of edges written.
func ingestMessage(
	ctx context.Context,
	payload []byte,
	edges storage.LineageEdgeStore,
	resolver *aliasing.Resolver,
	logger *slog.Logger,
) int {
	var entry queryLogMessage

	if err := json.Unmarshal(payload, &entry); err != nil {
		logger.Warn("Skipping malformed query-log message", slog.String("error", err.Error()))

		return 0
	}

	if entry.SQL == "" {
		return 0
	}

	count := 0

	for _, edge := range sqlparse.ExtractEdges(entry.SQL, entry.Dialect) {
		record := &storage.LineageEdge{
			ID:           uuid.NewString(),
			SourceFQN:    resolver.Resolve(edge.Source),
			TargetFQN:    resolver.Resolve(edge.Target),
			Relationship: "direct",
			Confidence:   edge.Confidence,
			QueryHash:    canonicalization.QueryHash(entry.SQL),
		}

		if _, err := edges.Upsert(ctx, record); err != nil {
			logger.Error("Failed to upsert lineage edge",
				slog.String("source", record.SourceFQN),
				slog.String("target", record.TargetFQN),
				slog.String("error", err.Error()),
			)

			continue
		}

		count++
	}

	return count
}
