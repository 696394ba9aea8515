package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/exposure-controller/internal/acquisition"
	"github.com/emperorhan/exposure-controller/internal/acquisition/autotune"
	"github.com/emperorhan/exposure-controller/internal/admin"
	"github.com/emperorhan/exposure-controller/internal/alert"
	"github.com/emperorhan/exposure-controller/internal/checkpoint"
	"github.com/emperorhan/exposure-controller/internal/config"
	"github.com/emperorhan/exposure-controller/internal/lattice"
	"github.com/emperorhan/exposure-controller/internal/overflow"
	"github.com/emperorhan/exposure-controller/internal/photodetector"
	"github.com/emperorhan/exposure-controller/internal/photodetector/sim"
	"github.com/emperorhan/exposure-controller/internal/photodetector/tsl2591"
	"github.com/emperorhan/exposure-controller/internal/telemetry"
	"github.com/emperorhan/exposure-controller/internal/tracing"
)

const serviceName = "exposured"

// detectorBackend bundles an opened photodetector with its illuminator and
// the sensors found on the bus.
type detectorBackend struct {
	detector    photodetector.Photodetector
	illuminator photodetector.Illuminator
	sensors     []photodetector.SensorID
	close       func() error
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLattice(e config.ExposureConfig) (*lattice.Lattice, *overflow.Predictor, error) {
	l, err := lattice.New(e.GainLevels(), e.IntegrationLevels(), e.ProductTable())
	if err != nil {
		return nil, nil, fmt.Errorf("build lattice: %w", err)
	}
	p, err := overflow.New(e.OverflowCeilings)
	if err != nil {
		return nil, nil, fmt.Errorf("build overflow predictor: %w", err)
	}
	return l, p, nil
}

func configuredSensors(cfg config.DetectorConfig) []photodetector.SensorID {
	out := make([]photodetector.SensorID, 0, len(cfg.SensorIDs))
	for _, id := range cfg.SensorIDs {
		out = append(out, photodetector.SensorID(id))
	}
	return out
}

func configuredConditions(cfg config.DetectorConfig) []photodetector.Condition {
	out := make([]photodetector.Condition, 0, len(cfg.Conditions))
	for _, c := range cfg.Conditions {
		out = append(out, photodetector.Condition(c))
	}
	return out
}

func openDetector(ctx context.Context, cfg *config.Config, l *lattice.Lattice, p *overflow.Predictor, logger *slog.Logger) (*detectorBackend, error) {
	candidates := configuredSensors(cfg.Detector)

	switch cfg.Detector.Backend {
	case config.DetectorBackendSim:
		d, err := sim.New(l, p, candidates, cfg.Detector.SimLightLevel)
		if err != nil {
			return nil, fmt.Errorf("create simulated detector: %w", err)
		}
		logger.Info("simulated detector enabled", "sensors", len(candidates), "light", cfg.Detector.SimLightLevel)
		return &detectorBackend{detector: d, illuminator: d, sensors: candidates, close: func() error { return nil }}, nil

	case config.DetectorBackendTSL2591:
		if l.GainLevels() != tsl2591.GainLevels || l.IntegrationLevels() != tsl2591.IntegrationLevels {
			return nil, fmt.Errorf("tsl2591 supports a %dx%d lattice, configured %dx%d",
				tsl2591.GainLevels, tsl2591.IntegrationLevels, l.GainLevels(), l.IntegrationLevels())
		}
		bus, err := tsl2591.Open(cfg.Detector.I2CBus)
		if err != nil {
			return nil, err
		}
		arr := tsl2591.New(bus, tsl2591.WithAddr(cfg.Detector.SensorAddr), tsl2591.WithMuxAddr(cfg.Detector.MuxAddr))
		found, err := arr.Scan(ctx, candidates)
		if err != nil || len(found) == 0 {
			_ = bus.Close()
			if err == nil {
				err = errors.New("no TSL2591 sensors found behind the mux")
			}
			return nil, fmt.Errorf("scan sensors: %w", err)
		}
		logger.Info("tsl2591 array opened", "bus", cfg.Detector.I2CBus, "configured", len(candidates), "found", len(found))
		return &detectorBackend{
			detector:    arr,
			illuminator: photodetector.NoopIlluminator{Logger: logger},
			sensors:     found,
			close: func() error {
				return errors.Join(arr.Close(), bus.Close())
			},
		}, nil
	}
	return nil, fmt.Errorf("unsupported detector backend %q", cfg.Detector.Backend)
}

func controllerConfig(cfg *config.Config, l *lattice.Lattice, p *overflow.Predictor, sensors []photodetector.SensorID) acquisition.Config {
	at := autotune.DefaultConfig()
	at.GuardBand = cfg.Exposure.GuardBand
	return acquisition.Config{
		Sensors:            sensors,
		Conditions:         configuredConditions(cfg.Detector),
		Lattice:            l,
		Predictor:          p,
		AutoTune:           at,
		IntegrationMillis:  cfg.Exposure.IntegrationMillis,
		WaitPaddingPercent: cfg.Exposure.WaitPaddingPercent,
		HistoryCapacity:    cfg.Exposure.HistoryCapacity,
		DefaultIndex:       cfg.Exposure.DefaultIndex,
		StaleThreshold:     cfg.Runner.StaleThreshold,
	}
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var alerters []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		alerters = append(alerters, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(alerters) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, alerters...)
}

func newHTTPHandler(adminHandler http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	if adminHandler != nil {
		mux.Handle("/admin/", adminHandler)
	}
	return mux
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	logger.Info("starting exposure controller",
		"backend", cfg.Detector.Backend,
		"sensors", len(cfg.Detector.SensorIDs),
		"conditions", len(cfg.Detector.Conditions),
		"round_interval", cfg.Runner.RoundInterval,
		"lattice", fmt.Sprintf("%dx%d", cfg.Exposure.GainLevels(), cfg.Exposure.IntegrationLevels()),
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), serviceName, tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	l, p, err := buildLattice(cfg.Exposure)
	if err != nil {
		logger.Error("invalid exposure lattice", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := openDetector(ctx, cfg, l, p, logger)
	if err != nil {
		logger.Error("failed to open detector", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := backend.close(); err != nil {
			logger.Warn("detector close error", "error", err)
		}
	}()

	controller, err := acquisition.New(controllerConfig(cfg, l, p, backend.sensors), backend.detector, logger)
	if err != nil {
		logger.Error("failed to create controller", "error", err)
		os.Exit(1)
	}

	observers := []acquisition.RoundObserver{
		acquisition.NewAlertObserver(buildAlerter(cfg.Alert, logger), logger),
	}

	var checkpointObserver *checkpoint.Observer
	if cfg.Checkpoint.Path != "" {
		store, err := checkpoint.Open(cfg.Checkpoint.Path)
		if err != nil {
			logger.Error("failed to open checkpoint", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		seed, err := store.Load()
		if err != nil {
			logger.Warn("ignoring unreadable checkpoint", "path", cfg.Checkpoint.Path, "error", err)
		} else {
			controller.WithSeed(seed)
		}
		checkpointObserver = checkpoint.NewObserver(store, controller, logger)
		observers = append(observers, checkpointObserver)
	}

	var mqttClient mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = telemetry.Dial(cfg.MQTT.Broker, cfg.MQTT.ClientID, logger)
		if err != nil {
			logger.Error("failed to connect telemetry broker", "error", err)
			os.Exit(1)
		}
		defer mqttClient.Disconnect(250)
		publisher, err := telemetry.NewPublisher(mqttClient, controller, cfg.MQTT.TopicPrefix, cfg.MQTT.PayloadFormat, logger)
		if err != nil {
			logger.Error("failed to create telemetry publisher", "error", err)
			os.Exit(1)
		}
		observers = append(observers, publisher.WithQoS(byte(cfg.MQTT.QoS)))
	}

	runner := acquisition.NewRunner(controller, backend.illuminator, cfg.Runner.RoundInterval, logger).
		WithObservers(observers...)

	rateLimiter := admin.NewRateLimiter(logger)
	defer rateLimiter.Stop()
	adminServer := admin.NewServer(controller, logger, admin.WithLatticeProvider(controller))
	handler := newHTTPHandler(rateLimiter.Middleware(adminServer.Handler()), logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.HealthPort, handler, logger)
	})

	g.Go(func() error {
		return runner.Run(gCtx)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	err = g.Wait()
	if checkpointObserver != nil {
		if flushErr := checkpointObserver.Flush(); flushErr != nil {
			logger.Warn("final checkpoint failed", "error", flushErr)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exposure controller exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("exposure controller shut down gracefully")
}
