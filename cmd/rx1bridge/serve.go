package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/rx1-bridge/internal/api"
	"github.com/nerrad567/rx1-bridge/internal/audit"
	"github.com/nerrad567/rx1-bridge/internal/host"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/database"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/rx1-bridge/internal/rx1"
	"github.com/nerrad567/rx1-bridge/internal/rx1/command"
	"github.com/nerrad567/rx1-bridge/internal/rx1/engine"
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
	"github.com/nerrad567/rx1-bridge/migrations"

	bridge "github.com/nerrad567/rx1-bridge/internal/bridges/rx1"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), resolveConfigPath(*configPath))
		},
	}
}

// loadConfig loads configuration and builds the configured logger.
func loadConfig(configPath string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// runServe is the service lifecycle, separated from the command for
// testability. It returns nil on a clean shutdown.
func runServe(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting rx1bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", configPath)

	// Audit trail
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log.Component("audit"))

	// Telemetry (optional)
	var telemetry engine.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Core: device client, snapshot, registry, engine, dispatcher
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client := rx1.NewClient(cfg.Device)
	writer := snapshot.New()
	view := writer.View()

	registry := host.NewRegistry(view)
	registry.SetLogger(log.Component("host"))
	if loadErr := registry.LoadFeedbacks(cfg.Feedbacks); loadErr != nil {
		return fmt.Errorf("loading feedbacks: %w", loadErr)
	}

	eng, err := engine.New(engine.Options{
		Client:    client,
		Host:      registry,
		Snapshot:  writer,
		Layout:    fields.LayoutFromConfig(cfg.Device.Layout),
		Settings:  engine.SettingsFromConfig(cfg.Device),
		Metrics:   engine.NewMetrics(promRegistry),
		Telemetry: telemetry,
		Logger:    log.Component("engine"),
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	dispatcher := command.NewDispatcher(client, eng, view, log.Component("command"))

	// MQTT surface (optional)
	var mqttClient *mqtt.Client
	var mqttBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttBridge, err = bridge.NewBridge(bridge.Options{
			BridgeID:       cfg.Bridge.ID,
			Version:        version,
			HealthInterval: cfg.Bridge.HealthIntervalDuration(),
			MQTTClient:     mqttClient,
			Executor:       dispatcher,
			Host:           registry,
			Reader:         view,
			Audit:          recorder,
			Logger:         log.Component("bridge"),
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		registry.AddListener(mqttBridge)
		if startErr := mqttBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log.Component("api"),
			Registry:  registry,
			Reader:    view,
			Engine:    eng,
			Executor:  dispatcher,
			AuditRepo: auditRepo,
			Auditor:   recorder,
			DB:        db,
			Gatherer:  promRegistry,
			Version:   version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
			deps.Bridge = mqttBridge
		}
		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	} else {
		log.Info("HTTP API disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		recorder.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if startErr := eng.Start(gctx); startErr != nil {
			return fmt.Errorf("starting engine: %w", startErr)
		}
		<-gctx.Done()
		eng.Stop()
		return nil
	})

	if apiServer != nil {
		g.Go(func() error {
			if startErr := apiServer.Start(gctx); startErr != nil {
				return fmt.Errorf("starting API server: %w", startErr)
			}
			<-gctx.Done()
			return apiServer.Close()
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"device", cfg.Device.Host,
		"polling", cfg.Device.Polling,
	)

	if waitErr := g.Wait(); waitErr != nil {
		return waitErr
	}
	<-recorder.Done()

	log.Info("rx1bridge stopped")
	return nil
}
