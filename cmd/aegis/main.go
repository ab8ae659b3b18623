// Package main provides the Aegis data-quality observability service.
//
// It wires the persistence layer, the scan scheduler, the incident pipeline
// (sentinels, correlation engine, architect, executor, report generator), and
// the REST/WebSocket API into one process.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/aegisdq/aegis/internal/aliasing"
	"github.com/aegisdq/aegis/internal/api"
	"github.com/aegisdq/aegis/internal/api/middleware"
	"github.com/aegisdq/aegis/internal/architect"
	"github.com/aegisdq/aegis/internal/config"
	"github.com/aegisdq/aegis/internal/connector"
	"github.com/aegisdq/aegis/internal/correlation"
	"github.com/aegisdq/aegis/internal/executor"
	"github.com/aegisdq/aegis/internal/lineage"
	"github.com/aegisdq/aegis/internal/notifier"
	"github.com/aegisdq/aegis/internal/report"
	"github.com/aegisdq/aegis/internal/scanner"
	"github.com/aegisdq/aegis/internal/secure"
	"github.com/aegisdq/aegis/internal/sentinel"
	"github.com/aegisdq/aegis/internal/storage"
)

// Version information.
const (
	version = "0.1.0"
	name    = "aegis"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting Aegis service",
		slog.String("service", name),
		slog.String("version", version),
	)

	// Configuration errors are fatal at startup.
	box, err := secure.NewBox(config.GetEnvStr("ENCRYPTION_KEY", ""))
	if err != nil {
		logger.Error("ENCRYPTION_KEY is missing or invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}

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

	stores := api.Stores{
		Connections: storage.NewPostgresConnectionStore(db),
		Tables:      storage.NewPostgresMonitoredTableStore(db),
		Snapshots:   storage.NewPostgresSchemaSnapshotStore(db),
		Anomalies:   storage.NewPostgresAnomalyStore(db),
		Incidents:   storage.NewPostgresIncidentStore(db),
		Stats:       storage.NewPostgresStatsStore(db),
	}

	edges := storage.NewPostgresLineageEdgeStore(db)

	if keyStore, err := storage.NewPersistentKeyStore(db); err == nil {
		stores.APIKeys = keyStore
	}

	// FQN aliasing patterns are optional; a missing config file yields a
	// passthrough resolver.
	aliasConfig, _ := aliasing.LoadConfigFromEnv()
	resolver := aliasing.NewResolver(aliasConfig)

	graph := lineage.NewGraph(edges, lineage.DefaultStaleDays)
	refresher := lineage.NewRefresher(edges, resolver, logger)

	events := notifier.New(logger)

	// The model path is optional: without a key the architect always takes
	// the rule-based fallback.
	var llm architect.LLMClient

	if apiKey := config.GetEnvStr("ANTHROPIC_API_KEY", ""); apiKey != "" {
		client, err := architect.NewAnthropicClient(apiKey, logger)
		if err != nil {
			logger.Error("Failed to construct model client", slog.String("error", err.Error()))
			os.Exit(1)
		}

		llm = client

		logger.Info("Model diagnosis path enabled")
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set - diagnoses use the rule-based fallback")
	}

	diagnoser := architect.New(llm, graph, stores.Tables, stores.Anomalies, logger)
	engine := correlation.NewEngine(
		stores.Incidents, stores.Tables,
		diagnoser, executor.New(), report.NewGenerator(), events, logger,
	)

	connectors := func(_ context.Context, conn *storage.Connection) (connector.WarehouseConnector, error) {
		uri, err := box.Decrypt(conn.URIEncrypted)
		if err != nil {
			return nil, err
		}

		return connector.Open(conn.Dialect, uri)
	}

	driver := scanner.New(
		stores.Connections, stores.Tables,
		sentinel.NewSchemaSentinel(stores.Snapshots, stores.Anomalies, logger),
		sentinel.NewFreshnessSentinel(stores.Anomalies, logger),
		engine, refresher, connectors, events, logger,
		scanner.Config{
			ScanInterval:    time.Duration(config.GetEnvInt("SCAN_INTERVAL_SECONDS", 300)) * time.Second,
			LineageInterval: time.Duration(config.GetEnvInt("LINEAGE_REFRESH_SECONDS", 3600)) * time.Second,
		},
	)

	scanCtx, stopScanner := context.WithCancel(context.Background())
	defer stopScanner()

	go driver.Run(scanCtx)

	server := api.NewServer(&serverConfig, api.Dependencies{
		Stores:     stores,
		Lineage:    graph,
		Engine:     engine,
		Scanner:    driver,
		Notifier:   events,
		Box:        box,
		Connectors: connectors,
		RateLimit:  middleware.NewInMemoryRateLimiter(middleware.LoadConfig()),
	})

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	stopScanner()
	logger.Info("Aegis service stopped")
}
