package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/broadcast"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/config"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/database"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/eventsocket"
	httpserver "github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/http"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/messaging"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/metrics"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/pipeline"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/queue"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/session"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/stt"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/util"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	config.ConfigureLogger(logger, cfg.Logging)
	metrics.Init(logger)

	logger.Info("Starting call transcript listener")

	// persistence: dry-run store unless the database is enabled
	var store database.Store
	if cfg.Database.Enabled {
		mysqlStore, err := database.NewMySQLStore(database.MySQLConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			Database:        cfg.Database.Name,
			Username:        cfg.Database.Username,
			Password:        cfg.Database.Password,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		store = mysqlStore
	} else {
		logger.Info("Persistence disabled, store writes will be logged only")
		store = database.NewDryRunStore(logger)
	}

	providers := stt.NewRegistry(logger, cfg.STT.Provider)
	registerProviders(logger, cfg, providers)

	var publisher messaging.Publisher
	if cfg.Messaging.URL != "" {
		amqpPublisher := messaging.NewAMQPPublisher(logger, messaging.AMQPConfig{
			URL:            cfg.Messaging.URL,
			TranscriptName: cfg.Messaging.QueueName,
			RealtimeName:   cfg.Messaging.RealtimeName,
		})
		if err := amqpPublisher.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP connect failed, continuing without broker delivery")
		}
		publisher = amqpPublisher
	} else {
		logger.Info("AMQP URL not configured, broker delivery disabled")
		publisher = messaging.NewNoopPublisher()
	}

	hub := broadcast.NewHub(logger)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	laneConfigs := queue.DefaultLaneConfigs()
	applyQueueConfig(laneConfigs, cfg)
	queueManager := queue.NewManager(laneConfigs, logger)

	tracker := session.NewTracker(logger)

	listener, err := pipeline.NewListener(logger, cfg, tracker, queueManager, store, providers, publisher, hub)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build event pipeline")
	}

	if err := queueManager.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start processing queue")
	}

	client := eventsocket.NewTCPClient(logger)
	manager := eventsocket.NewManager(client, eventsocket.ManagerConfig{
		Host:           cfg.Switch.Host,
		Port:           cfg.Switch.Port,
		Password:       cfg.Switch.Password,
		ConnectTimeout: cfg.Switch.ConnectTimeout,
		ReconnectDelay: cfg.Switch.ReconnectDelay,
		MaxReconnects:  cfg.Switch.MaxReconnects,
	}, logger)
	manager.SetHandler(listener.HandleEvent)
	manager.Start()

	var server *httpserver.Server
	if cfg.HTTP.Enabled {
		server = httpserver.NewServer(logger, cfg.HTTP, listener, tracker, queueManager, hub, manager, store)
		server.Start()
	}

	shutdown := util.NewGracefulShutdown(logger, cfg.Shutdown.Timeout)
	shutdown.Register(util.ShutdownResource{
		Name:     "switch-connection",
		Priority: 10,
		Shutdown: func(ctx context.Context) error {
			manager.Stop()
			return nil
		},
	})
	if server != nil {
		shutdown.Register(util.ShutdownResource{
			Name:     "http-server",
			Priority: 20,
			Shutdown: server.Shutdown,
		})
	}
	shutdown.Register(util.ShutdownResource{
		Name:     "processing-queue",
		Priority: 30,
		Shutdown: queueManager.Stop,
	})
	shutdown.Register(util.ShutdownResource{
		Name:     "broadcast-hub",
		Priority: 40,
		Shutdown: func(ctx context.Context) error {
			hubCancel()
			return nil
		},
	})
	shutdown.Register(util.ShutdownResource{
		Name:     "message-broker",
		Priority: 50,
		Shutdown: func(ctx context.Context) error {
			publisher.Disconnect()
			return nil
		},
	})
	shutdown.Register(util.ShutdownResource{
		Name:     "store",
		Priority: 60,
		Shutdown: func(ctx context.Context) error {
			return store.Close()
		},
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-manager.Fatal():
		logger.WithError(err).Error("Switch connection failed permanently, shutting down")
	}

	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}

	logger.Info("Call transcript listener stopped")
}

// registerProviders wires the configured transcription providers. A provider
// without credentials registers as unavailable and batch jobs skip it.
func registerProviders(logger *logrus.Logger, cfg *config.Config, providers *stt.Registry) {
	switch cfg.STT.Provider {
	case "google":
		if err := providers.Register(stt.NewGoogleProvider(logger, stt.GoogleConfig{
			DefaultLanguage: cfg.STT.DefaultLanguage,
		})); err != nil {
			logger.WithError(err).Warn("Google provider registration failed")
		}
	case "mock":
		_ = providers.Register(stt.NewMockProvider(logger))
	default:
		if err := providers.Register(stt.NewOpenAIProvider(logger, cfg.STT.Model)); err != nil {
			logger.WithError(err).Warn("OpenAI provider registration failed")
		}
	}
}

// applyQueueConfig overlays environment-driven worker counts and the
// recording settle delay onto the default lane policies
func applyQueueConfig(lanes map[queue.Lane]queue.LaneConfig, cfg *config.Config) {
	overlay := func(lane queue.Lane, mutate func(*queue.LaneConfig)) {
		laneConfig := lanes[lane]
		mutate(&laneConfig)
		lanes[lane] = laneConfig
	}

	overlay(queue.LaneSynthesis, func(c *queue.LaneConfig) {
		c.Concurrency = cfg.Queue.SegmentWorkers
		c.BufferSize = cfg.Queue.BufferSize
	})
	overlay(queue.LaneRecognition, func(c *queue.LaneConfig) {
		c.Concurrency = cfg.Queue.SegmentWorkers
		c.BufferSize = cfg.Queue.BufferSize
	})
	overlay(queue.LaneAudio, func(c *queue.LaneConfig) {
		c.Concurrency = cfg.Queue.AudioWorkers
		c.BufferSize = cfg.Queue.BufferSize
	})
	overlay(queue.LaneBatchTranscription, func(c *queue.LaneConfig) {
		c.Concurrency = cfg.Queue.BatchWorkers
		c.InitialDelay = cfg.Queue.RecordingSettleDelay
	})
	overlay(queue.LaneAggregation, func(c *queue.LaneConfig) {
		c.Concurrency = cfg.Queue.AggregationWorkers
	})
}
