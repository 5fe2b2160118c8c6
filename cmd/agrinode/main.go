// Package main is the SmartAgriNode bridge entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/KushalM23/SmartAgriNode/internal/api"
	"github.com/KushalM23/SmartAgriNode/internal/audit"
	"github.com/KushalM23/SmartAgriNode/internal/auth"
	"github.com/KushalM23/SmartAgriNode/internal/bridge"
	"github.com/KushalM23/SmartAgriNode/internal/config"
	"github.com/KushalM23/SmartAgriNode/internal/events"
	"github.com/KushalM23/SmartAgriNode/internal/history"
	"github.com/KushalM23/SmartAgriNode/internal/inference"
	"github.com/KushalM23/SmartAgriNode/internal/logging"
	"github.com/KushalM23/SmartAgriNode/internal/metrics"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: $AGRINODE_CONFIG or ./config.yaml)")
	hashKey := flag.String("hash-device-key", "", "print the bcrypt hash of a device key for device_auth.keys and exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := auth.HashDeviceKey(*hashKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash device key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("agrinode exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Step 1: Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Step 2: Initialize logging
	logger, logCloser := logging.New(cfg.Logging)
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)
	logger.Info("starting SmartAgriNode bridge", "version", Version)

	// Step 3: Initialize audit logger
	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			logger.Error("error closing audit logger", "error", err)
		}
	}()
	logger.Info("audit logger initialized", "path", auditLogger.FilePath())

	// Step 4: Initialize client and device authentication
	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}
	deviceKeys, err := auth.NewDeviceKeys(cfg.DeviceAuth)
	if err != nil {
		return fmt.Errorf("failed to load device keys: %w", err)
	}
	if !deviceKeys.Enabled() {
		logger.Warn("device routes are unauthenticated; set device_auth.enabled to require device keys")
	}

	// Step 5: Initialize inference
	pool := inference.NewPool(cfg.Inference.Workers, cfg.Inference.QueueSize, logger)
	defer pool.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry, pool.QueueDepth)

	observer := inference.WithBreakerObserver(func(model, state string) {
		logger.Warn("inference circuit breaker changed state", "model", model, "state", state)
		m.SetBreakerState(model, state)
	})
	weedClient := inference.NewWeedClient(cfg.Inference, observer)
	cropClient := inference.NewCropClient(cfg.Inference, observer)
	weed := inference.NewPooledWeedDetector(pool, weedClient)
	logger.Info("inference clients initialized",
		"weedModelLoaded", weed.Loaded(),
		"cropModelLoaded", cropClient.Loaded(),
		"workers", cfg.Inference.Workers)

	// Step 6: Initialize event publishers
	stream := events.NewStream(cfg.Events.StreamBuffer, cfg.Events.HeartbeatInterval, logger)
	publisher := events.Multi{stream}
	if cfg.Events.MQTTBroker != "" {
		mqttPublisher, err := events.NewMQTTPublisher(cfg.Events, logger)
		if err != nil {
			logger.Warn("MQTT broker unreachable, MQTT events disabled", "broker", cfg.Events.MQTTBroker, "error", err)
		} else {
			publisher = append(publisher, mqttPublisher)
			logger.Info("MQTT events enabled", "broker", cfg.Events.MQTTBroker, "prefix", cfg.Events.TopicPrefix)
		}
	}
	defer publisher.Close()

	// Step 7: Initialize history store
	var store history.Store = history.Noop{}
	if cfg.History.InfluxURL != "" {
		influx, err := history.NewInfluxStore(cfg.History, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize history store: %w", err)
		}
		store = influx
		logger.Info("history store initialized", "url", cfg.History.InfluxURL, "bucket", cfg.History.InfluxBucket)
	} else {
		logger.Warn("history disabled; set history.influx_url to persist results")
	}
	defer store.Close()

	// Step 8: Create the device bridge
	b := bridge.NewBridge(cfg.Bridge, cfg.Fallback, weed, logger)
	b.SetAuditLogger(auditLogger)
	b.SetEventPublisher(publisher)
	b.SetMetrics(m)
	defer b.Close()
	logger.Info("device bridge initialized",
		"defaultDevice", cfg.Bridge.DefaultDevice,
		"fallback", cfg.Fallback.Enabled,
		"scanCapacity", cfg.Bridge.ScanCapacity)

	// Step 9: Create API server
	server, err := api.NewServer(cfg, api.Deps{
		Bridge:     b,
		Crop:       cropClient,
		Weed:       weed,
		History:    store,
		Auth:       auth.NewMiddleware(verifier),
		DeviceKeys: deviceKeys,
		Metrics:    m,
		Stream:     stream,
		Audit:      auditLogger,
		Logger:     logger,
		AccessLog:  os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	// Step 10: Serve until a signal arrives or the server fails
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// Open event streams would otherwise hold Shutdown until its timeout.
		stream.Close()
		return server.Stop(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("SmartAgriNode bridge shutdown complete")
	return nil
}
