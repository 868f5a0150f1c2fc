package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/nerrad567/playsem-core/migrations"

	"github.com/nerrad567/playsem-core/internal/activity"
	"github.com/nerrad567/playsem-core/internal/api"
	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/dispatch"
	"github.com/nerrad567/playsem-core/internal/engine"
	"github.com/nerrad567/playsem-core/internal/infrastructure/config"
	"github.com/nerrad567/playsem-core/internal/infrastructure/database"
	"github.com/nerrad567/playsem-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/playsem-core/internal/infrastructure/logging"
	"github.com/nerrad567/playsem-core/internal/infrastructure/metrics"
	"github.com/nerrad567/playsem-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/playsem-core/internal/ingress"
	"github.com/nerrad567/playsem-core/internal/timeline"
	"github.com/nerrad567/playsem-core/internal/transport"
)

// run is the daemon, separated from the command for testability. It
// returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting PlaySEM Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// MQTT is optional: without it the mqtt and bluetooth transports and
	// MQTT ingress are unavailable.
	var mqttClient *mqtt.Client
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
		mqttClient.SetLogger(log)
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
	} else {
		log.Info("MQTT disabled")
	}

	history := device.NewSQLiteStateHistoryRepository(db.DB)
	recorder := device.NewHistoryRecorder(history, cfg.GetHistoryRetention())
	recorder.SetLogger(log)
	historyCtx, stopHistory := context.WithCancel(context.Background())
	historyDone := make(chan struct{})
	go func() {
		recorder.Run(historyCtx)
		close(historyDone)
	}()
	// Registered before the registry's close so the final transitions
	// are still written.
	defer func() {
		stopHistory()
		<-historyDone
	}()

	registry := newRegistry(cfg, db, mqttClient)
	registry.SetLogger(log)
	registry.OnStateChange(recorder.Observe)
	defer func() {
		log.Info("closing device registry")
		if closeErr := registry.Close(); closeErr != nil {
			log.Error("error closing device registry", "error", closeErr)
		}
	}()
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}

	activityLog := activity.NewLog(activity.DefaultCapacity)
	eng, err := engine.New(engineOptions(cfg, registry, activityLog))
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	eng.SetLogger(log)
	defer func() {
		log.Info("stopping engine")
		eng.Close()
	}()

	if seedErr := engine.Seed(ctx, registry,
		engine.DevicesFromConfig(cfg.Devices.Seed),
		engine.GroupsFromConfig(cfg.Groups),
		log,
	); seedErr != nil {
		return fmt.Errorf("seeding devices: %w", seedErr)
	}
	log.Info("device registry initialised", "devices", registry.DeviceCount())

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.ObserveEngine(eng.Stats)
		activityLog.AddSink(m)
		eng.OnTransition(m.Transition)
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		activityLog.AddSink(influxClient)
		eng.OnTransition(influxClient.WriteTransition)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if mqttClient != nil {
		adapter, adapterErr := startMQTTIngress(mqttClient, eng, ingestObserver(m, influxClient), log)
		if adapterErr != nil {
			return fmt.Errorf("starting MQTT ingress: %w", adapterErr)
		}
		defer func() {
			log.Info("stopping MQTT ingress")
			adapter.Stop()
		}()
	}

	checks := healthChecks(db, mqttClient, influxClient)
	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	srv, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Engine:      eng,
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
		OnIngest:    ingestObserver(nil, influxClient),
		History:     history,
		Checks:      checks,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(runCtx)
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-runErr:
		if err != nil {
			return fmt.Errorf("timeline stopped: %w", err)
		}
	}

	// Deferred calls run in reverse order: the API stops taking effects,
	// ingress unsubscribes, the engine drains, then the registry and
	// storage close.
	log.Info("PlaySEM Core stopped")
	return nil
}

func newRegistry(cfg *config.Config, db *database.DB, mqttClient *mqtt.Client) *device.Registry {
	topts := transport.Options{}
	if mqttClient != nil {
		topts.MQTT = mqttClient
	}

	rc := cfg.Devices.Reconnect
	return device.NewRegistry(device.Options{
		Repository: device.NewSQLiteRepository(db.DB),
		Groups:     device.NewSQLiteGroupRepository(db.DB),
		Factory:    transport.NewFactory(topts),
		Reconnect: device.ReconnectPolicy{
			Budget:          rc.Budget,
			InitialInterval: rc.Backoff.InitialInterval(),
			MaxInterval:     rc.Backoff.MaxInterval(),
			Multiplier:      rc.Backoff.Multiplier,
			Jitter:          rc.Backoff.Jitter,
		},
	})
}

func engineOptions(cfg *config.Config, registry *device.Registry, act *activity.Log) engine.Options {
	return engine.Options{
		Registry: registry,
		Activity: act,
		Timeline: timeline.Options{
			TickInterval:    cfg.GetTickInterval(),
			IngressCapacity: cfg.Timeline.IngressCapacity,
			CatchUpOnSeek:   cfg.Timeline.CatchUpOnSeek,
		},
		Dispatch: dispatch.Options{
			Workers:        cfg.Dispatch.Workers,
			QueueSize:      cfg.Dispatch.QueueSize,
			AttemptTimeout: cfg.GetAttemptTimeout(),
			Retry: dispatch.RetryPolicy{
				MaxRetries:      cfg.Dispatch.MaxRetries,
				InitialInterval: cfg.Dispatch.Backoff.InitialInterval(),
				MaxInterval:     cfg.Dispatch.Backoff.MaxInterval(),
				Multiplier:      cfg.Dispatch.Backoff.Multiplier,
				Jitter:          cfg.Dispatch.Backoff.Jitter,
			},
		},
	}
}

func startMQTTIngress(client *mqtt.Client, eng *engine.Engine, onIngest func(string, error), log *logging.Logger) (*ingress.MQTTAdapter, error) {
	adapter, err := ingress.NewMQTTAdapter(ingress.MQTTOptions{
		Client:     client,
		Ingester:   eng,
		Controller: eng,
		Logger:     log,
		OnIngest:   onIngest,
	})
	if err != nil {
		return nil, err
	}
	if err := adapter.Start(); err != nil {
		return nil, err
	}
	return adapter, nil
}

// ingestObserver fans ingest results out to whichever of m and influx is
// set. It returns nil when neither is.
func ingestObserver(m *metrics.Metrics, influx *influxdb.Client) func(protocol string, err error) {
	if m == nil && influx == nil {
		return nil
	}
	return func(protocol string, err error) {
		if m != nil {
			m.Ingested(protocol, err)
		}
		if influx != nil {
			reason := ""
			if err != nil {
				reason = ingress.ReasonOf(err)
			}
			influx.WriteIngest(protocol, reason)
		}
	}
}

// healthChecks lists the probes reported by /api/v1/health. Disabled
// dependencies are left out.
func healthChecks(db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) []api.HealthCheck {
	checks := []api.HealthCheck{{Name: "database", Check: db.HealthCheck}}
	if mqttClient != nil {
		checks = append(checks, api.HealthCheck{Name: "mqtt", Check: mqttClient.HealthCheck})
	}
	if influxClient != nil {
		checks = append(checks, api.HealthCheck{Name: "influxdb", Check: influxClient.HealthCheck})
	}
	return checks
}

// healthCheckTimeout bounds the startup probe of every dependency.
const healthCheckTimeout = 5 * time.Second

// healthCheck runs every probe once and joins the failures.
func healthCheck(ctx context.Context, checks []api.HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var errs []error
	for _, c := range checks {
		if err := c.Check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}
