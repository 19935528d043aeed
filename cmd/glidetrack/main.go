package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"glidetrack/internal/api"
	"glidetrack/pkg/config"
	"glidetrack/pkg/core"
	"glidetrack/pkg/db"
	"glidetrack/pkg/db/maintenance"
	"glidetrack/pkg/logging"
	"glidetrack/pkg/metrics"
	"glidetrack/pkg/probe"
	"glidetrack/pkg/registration"
	"glidetrack/pkg/request"
	"glidetrack/pkg/sensor"
	"glidetrack/pkg/sensor/mqtt"
	"glidetrack/pkg/sensor/nmea"
	"glidetrack/pkg/sensor/replay"
	"glidetrack/pkg/store"
	"glidetrack/pkg/tracker"
	"glidetrack/pkg/version"
	"glidetrack/pkg/xfer"
)

const defaultConfigPath = "configs/glidetrack.yaml"

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	autoStart  = flag.Bool("start", false, "Start recording immediately")
	skipReg    = flag.Bool("skip-registration", false, "Do not check the device registration at start-up")
	drainWait  = flag.Duration("drain", 30*time.Second, "How long to wait for the final transfer on shutdown")
)

func main() {
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("GlideTrack Started", "version", version.Version, "sensor", appCfg.Sensor.Provider)

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := maintenance.Run(ctx, st, dbConn, appCfg.DB.TrackRetention.D()); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	settings := config.NewSettings(appCfg, st)
	apiBase := func() string { return settings.APIURL(ctx) }
	tr := tracker.New()
	reqClient := request.New(tr)

	if err := probe.Report(probe.Run(ctx, probe.DefaultTimeout, startupChecks(appCfg, st, apiBase))); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	if _, err := registration.EnsureDeviceID(ctx, settings, time.Now()); err != nil {
		return err
	}
	if !*skipReg {
		if err := register(ctx, appCfg, settings, reqClient, apiBase); err != nil {
			return err
		}
	}

	provider, err := newProvider(&appCfg.Sensor)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	coll, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	hub := api.NewHub()
	mgr := core.NewManager(core.Params{
		Config:   core.ConfigFrom(appCfg),
		Sensor:   provider,
		Settings: settings,
		Uploader: xfer.NewHTTPUploader(reqClient, apiBase),
		Archive:  st,
		Metrics:  coll,
		OnChange: hub.Broadcast,
	})

	mgrDone := make(chan error, 1)
	go func() { mgrDone <- mgr.Run(ctx) }()

	if *autoStart {
		if err := mgr.Start(ctx); err != nil {
			slog.Error("Failed to start recording", "error", err)
		}
	}

	srv := api.NewServer(appCfg.Server.Address,
		api.NewControlHandler(mgr),
		api.NewSettingsHandler(settings, mgr),
		api.NewTrackHandler(st),
		api.NewStatsHandler(tr, hub),
		hub,
		coll.Handler(),
	)
	srv.Handler = loggingMiddleware(srv.Handler)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	serverErr := runServerLifecycle(ctx, srv, quit)

	finish(ctx, mgr, *drainWait)
	cancel()
	if err := <-mgrDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Pipeline stopped with error", "error", err)
	}
	return serverErr
}

func initDB(appCfg *config.Config) (*db.DB, *store.SQLiteStore, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

// register runs the registration check until it succeeds or is given up.
// A cancelled registration is logged; recording still works unregistered.
func register(ctx context.Context, cfg *config.Config, settings *config.Settings, c *request.Client, base func() string) error {
	client := registration.NewClient(c, base, cfg.API.RegistrationTimeout.D())
	r := registration.NewRegistrar(client, settings)
	backoff := request.NewHostBackoff(cfg.API.RegistrationRetry.D(), 10*time.Minute)

	res, err := registration.Run(ctx, backoff, r.Attempt)
	switch {
	case res == registration.Success:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	default:
		slog.Warn("Device not registered", "result", res, "error", err, "device", settings.DeviceID(ctx))
		return nil
	}
}

func newProvider(cfg *config.SensorConfig) (sensor.Provider, error) {
	switch cfg.Provider {
	case "nmea":
		return nmea.New(cfg.NMEA), nil
	case "replay":
		if cfg.Replay.File == "" {
			return nil, errors.New("sensor.replay.file is required")
		}
		return replay.New(cfg.Replay), nil
	case "mqtt":
		return mqtt.New(cfg.MQTT), nil
	default:
		return nil, fmt.Errorf("unknown sensor provider %q", cfg.Provider)
	}
}

// finish stops recording and waits for the final transfer.
func finish(ctx context.Context, mgr *core.Manager, wait time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wait)
	defer cancel()
	if mgr.IsRunning(ctx) {
		if err := mgr.Stop(ctx); err != nil {
			slog.Error("Failed to stop recording", "error", err)
			return
		}
	}
	if err := mgr.Drain(ctx); err != nil {
		slog.Warn("Final transfer incomplete", "error", err)
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	var serveErr error
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		serveErr = fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Requests().Info("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
