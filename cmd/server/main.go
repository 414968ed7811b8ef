package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/argusops/argus/internal/alerts"
	"github.com/argusops/argus/internal/api"
	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/heartbeat"
	"github.com/argusops/argus/internal/history"
	"github.com/argusops/argus/internal/kube"
	"github.com/argusops/argus/internal/leader"
	"github.com/argusops/argus/internal/metrics"
	"github.com/argusops/argus/internal/noc"
	"github.com/argusops/argus/internal/sources"
	"github.com/argusops/argus/internal/timer"
	"github.com/argusops/argus/internal/watchdog"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting argus",
		zap.String("version", "0.1.0"),
		zap.String("pod_name", cfg.PodName),
		zap.Bool("noc_enabled", cfg.Noc.Enabled),
		zap.String("lease", cfg.LeaderElection.LeaseName),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	clientset, err := kube.NewClient(cfg.Kubernetes)
	if err != nil {
		logger.Fatal("Failed to create kubernetes client", zap.Error(err))
	}

	// Core engine
	centralTimer := timer.New(cfg.Coordinator.SnapshotIntervalSeconds, cfg.Coordinator.StartupGracePeriodMultiplier, logger)
	liveness := timer.NewLivenessVector()

	suppression := alerts.NewSuppressionCache(centralTimer, suppressionDefaults(cfg, logger), logger)

	alertTtl, err := alerts.ParseWindow(cfg.AlertsVector.AlertTtl)
	if err != nil {
		logger.Fatal("Invalid alerts_vector.alert_ttl", zap.Error(err))
	}
	vector := alerts.NewVector(centralTimer, suppression, alertTtl, logger)

	nocHealth := noc.NewHealth(cfg.Noc.CircuitBreaker.FailureThreshold, logger)
	nocClient := noc.NewClient(cfg.Noc.HTTPClient, logger)
	queue := noc.NewQueue()

	var historyStore *history.Store
	if cfg.History.Enabled {
		historyStore, err = history.New(cfg.History.Path)
		if err != nil {
			logger.Fatal("Failed to open history store", zap.Error(err))
		}
		defer historyStore.Close()
		logger.Info("History store opened", zap.String("path", cfg.History.Path))
	}

	elector := leader.New(clientset, cfg.LeaderElection, cfg.PodName, liveness, logger)
	elector.Subscribe(func(isLeader bool) {
		logger.Info("Leadership changed", zap.Bool("is_leader", isLeader))
	})

	var recorder noc.Recorder
	if historyStore != nil {
		recorder = historyStore
	}
	dispatcher := noc.NewDispatcher(queue, vector, suppression, nocHealth, nocClient, elector, cfg.Noc, recorder, logger)

	snapshotter := noc.NewSnapshotter(vector, suppression, queue, liveness, int64(cfg.Coordinator.SnapshotIntervalSeconds), logger)
	wd := watchdog.New(centralTimer, vector, liveness, cfg.Watchdog, logger)
	k8sLayer := sources.NewK8sLayer(clientset, vector, liveness, cfg.K8sLayer, cfg.DefaultNoc, logger)
	statusFs := sources.NewStatusFileSystem(cfg.Heartbeat.File.DestinationPath, vector, liveness, cfg.StatusFileSystem, cfg.DefaultNoc, logger)
	heartbeatSvc := heartbeat.NewService(liveness, elector, nocHealth, dispatcher, cfg.Heartbeat, cfg.Noc.Enabled, logger)
	ingestor := sources.NewIngestor(vector, wd, cfg.Watchdog, cfg.DefaultNoc, logger)

	registerCallbacks(centralTimer, cfg, elector, k8sLayer, statusFs, wd, snapshotter, heartbeatSvc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go centralTimer.Run(ctx)
	go dispatcher.Run(ctx)

	// Setup HTTP server
	handler := api.NewHandler(centralTimer, liveness, vector, wd, elector, nocHealth, ingestor, k8sLayer, historyStore, logger)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("Server listening", zap.String("address", addr))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := router.Run(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Shutting down...")

	cancel()
	elector.Resign()

	logger.Info("Server stopped")
}

func registerCallbacks(centralTimer *timer.Timer, cfg *config.Config, elector *leader.Elector, k8sLayer *sources.K8sLayer, statusFs *sources.StatusFileSystem, wd *watchdog.Watchdog, snapshotter *noc.Snapshotter, heartbeatSvc *heartbeat.Service, logger *zap.Logger) {
	callbacks := []timer.Callback{
		{
			Name:          "leader-election",
			IntervalTicks: int64(cfg.LeaderElection.RenewIntervalSeconds),
			GraceAware:    false,
			Fn:            elector.Tick,
		},
		{
			Name:          sources.K8sLayerCallbackName,
			IntervalTicks: int64(cfg.K8sLayer.PollingIntervalSeconds),
			GraceAware:    false,
			Fn:            k8sLayer.Tick,
		},
		{
			Name:          sources.StatusFileSystemCallbackName,
			IntervalTicks: int64(cfg.StatusFileSystem.PollingIntervalSeconds),
			GraceAware:    false,
			Fn:            statusFs.Tick,
		},
		{
			Name:          watchdog.CallbackName,
			IntervalTicks: wd.TimeoutTicks(),
			GraceAware:    true,
			Fn:            wd.Tick,
		},
		{
			Name:          noc.SnapshotCallbackName,
			IntervalTicks: int64(cfg.Coordinator.SnapshotIntervalSeconds),
			GraceAware:    true,
			Fn:            snapshotter.Tick,
		},
		{
			Name:          heartbeat.CallbackName,
			IntervalTicks: int64(cfg.Heartbeat.IntervalSeconds),
			GraceAware:    false,
			Fn:            heartbeatSvc.Tick,
		},
	}

	for _, cb := range callbacks {
		if err := centralTimer.Register(cb); err != nil {
			logger.Fatal("Failed to register callback",
				zap.String("callback", cb.Name),
				zap.Error(err))
		}
	}
}

func suppressionDefaults(cfg *config.Config, logger *zap.Logger) alerts.SuppressionDefaults {
	createWindow, err := alerts.ParseWindow(cfg.DefaultNoc.CreateNocBehavior.SuppressWindow)
	if err != nil {
		logger.Warn("Invalid default create suppress_window, using none", zap.Error(err))
	}
	cancelWindow, err := alerts.ParseWindow(cfg.DefaultNoc.CancelNocBehavior.SuppressWindow)
	if err != nil {
		logger.Warn("Invalid default cancel suppress_window, using none", zap.Error(err))
	}
	return alerts.SuppressionDefaults{
		CreateWindow: createWindow,
		CancelWindow: cancelWindow,
	}
}
