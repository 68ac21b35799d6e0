package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chartwork/mapsync/internal/broadcast"
	"github.com/chartwork/mapsync/internal/config"
	"github.com/chartwork/mapsync/internal/database"
	"github.com/chartwork/mapsync/internal/elevation"
	"github.com/chartwork/mapsync/internal/geocode"
	"github.com/chartwork/mapsync/internal/history"
	"github.com/chartwork/mapsync/internal/influx"
	"github.com/chartwork/mapsync/internal/logging"
	"github.com/chartwork/mapsync/internal/monitor"
	intOtel "github.com/chartwork/mapsync/internal/otel"
	"github.com/chartwork/mapsync/internal/routing"
	"github.com/chartwork/mapsync/internal/server"
	"github.com/chartwork/mapsync/internal/session"
	"github.com/chartwork/mapsync/internal/store"
	"github.com/chartwork/mapsync/internal/store/gormstore"
	"github.com/chartwork/mapsync/internal/store/memory"
	"github.com/chartwork/mapsync/internal/track"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	ServiceName string = "mapsync"
)

var startTime time.Time = time.Now()

func main() {
	configDir := flag.String("config", ".", "directory containing mapsync.cfg.json")
	flag.Parse()

	// Bootstrap logging to stdout until the log file is open.
	logManager := logging.NewSlogManager()
	logManager.Setup(logging.Options{Level: "info"})
	logger := logManager.Logger()

	logger.Info("Starting", "service", ServiceName, "version", Version, "buildDate", BuildDate)

	if err := config.Load(*configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		logger.Info("Loaded config")
	}

	logsDir := config.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.Mkdir(logsDir, 0755)
	}

	logFilePath := logging.LogFilePath(logsDir, ServiceName, startTime)
	if _, err := os.Stat(logFilePath); err == nil {
		os.Rename(logFilePath, logFilePath+".old")
	}
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logger.Error("Failed to create/open log file!", "error", err, "path", logFilePath)
		logFile = nil
	}

	// A failed open leaves the console sink in place.
	var fileSink io.Writer
	if logFile != nil {
		fileSink = logFile
	}

	// OTel provider, after the log file exists so records can land there.
	var otelProvider *intOtel.Provider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    fileSink,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
		} else if otelCfg.Endpoint != "" {
			logger.Info("OTel provider initialized", "file", logFilePath, "endpoint", otelCfg.Endpoint)
		} else {
			logger.Info("OTel provider initialized", "file", logFilePath)
		}
	}

	var graylog io.Writer
	if config.GetBool("graylog.enabled") {
		gw, err := gelf.NewWriter(config.GetString("graylog.address"))
		if err != nil {
			logger.Warn("Graylog unavailable, sink disabled", "error", err)
		} else {
			graylog = gw
		}
	}

	// Re-setup logging with file output and the optional sinks.
	var otelLogProvider *sdklog.LoggerProvider
	if otelProvider != nil {
		otelLogProvider = otelProvider.LoggerProvider()
	}
	logManager.Setup(logging.Options{
		Level:        config.GetString("logLevel"),
		File:         fileSink,
		Graylog:      graylog,
		OTelProvider: otelLogProvider,
	})
	logger = logManager.Logger()
	logger.Info("Logging to file", "path", logFilePath)

	zerologSink := fileSink
	if zerologSink == nil {
		zerologSink = os.Stdout
	}
	zlog := zerolog.New(zerologSink).With().Timestamp().Logger()

	// Storage backend. "memory" keeps everything in-process, anything
	// else goes through gorm with a sqlite fallback.
	dbCfg := config.GetDBConfig()
	var st store.Store
	var dbManager *database.Manager
	if dbCfg.Type == "memory" {
		st = memory.New()
		logger.Info("Using in-memory store")
	} else {
		dbManager = database.NewManager(zlog)
		if err := dbManager.Connect(dbCfg); err != nil {
			logger.Error("Failed to connect to any database", "error", err)
			os.Exit(1)
		}
		gs := gormstore.New(dbManager.DB, zlog)
		if err := gs.Init(); err != nil {
			logger.Error("Failed to migrate database", "error", err)
			os.Exit(1)
		}
		st = gs
		logger.Info("Using SQL store", "sqlite", dbManager.UsingSQLite)
	}

	var influxManager *influx.Manager
	if config.GetBool("influx.enabled") {
		influxManager = influx.NewManager(zlog, filepath.Join(logsDir, "influx_backup.gz"))
		if err := influxManager.Connect(); err != nil {
			logger.Warn("InfluxDB unavailable, metrics disabled", "error", err)
			influxManager = nil
		}
	}

	hist := history.New(st, history.DefaultRetention)
	bcast, err := broadcast.New(st, logger)
	if err != nil {
		logger.Error("Failed to start broadcaster", "error", err)
		os.Exit(1)
	}

	routingCfg := config.GetRoutingConfig()
	throttle := routing.NewThrottle(routingCfg.ThrottleLimit)
	simple := routing.NewOSRMProvider(routingCfg.OSRMURL)
	var detailed routing.Provider
	if routingCfg.ORSURL != "" {
		detailed = routing.NewORSProvider(routingCfg.ORSURL, routingCfg.ORSAPIKey)
	}
	var elev routing.ElevationSource
	if url := config.GetString("elevation.url"); url != "" {
		elev = elevation.New(url)
	}
	trackOpts := track.Options{UnitsPerPixel: config.GetFloat64("track.unitsPerPixel")}
	router := routing.NewRouter(simple, detailed, throttle, elev, logger, trackOpts)

	geoCfg := config.GetGeocoderConfig()
	geocoder := geocode.New(geoCfg.URL, geoCfg.UserAgent)

	deps := session.Deps{
		Store:        st,
		History:      hist,
		Broadcast:    bcast,
		Router:       router,
		Geocoder:     geocoder,
		TrackOptions: trackOpts,
		Logger:       logger,
	}
	srv := server.New(config.GetString("server.addr"), deps, logger)
	if influxManager != nil {
		srv.SetMetrics(influxManager)
	}

	// Stamp every record with the live session count from here on.
	logger = slog.New(logging.NewContextHandler(logger.Handler(), func() []slog.Attr {
		return []slog.Attr{slog.Int64("sessions", srv.SessionCount())}
	}))

	monitorService := monitor.NewService(monitor.Dependencies{
		Influx:       influxManager,
		LogManager:   logManager,
		SessionCount: srv.SessionCount,
	})
	if err := monitorService.Start(); err != nil {
		logger.Warn("Failed to start monitor", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("Server stopped", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
	}
	monitorService.Stop()

	if err := logManager.Flush(ctx); err != nil {
		logger.Warn("Log flush failed", "error", err)
	}
	if otelProvider != nil {
		if err := otelProvider.Shutdown(ctx); err != nil {
			logger.Warn("OTel shutdown failed", "error", err)
		}
	}
	if dbManager != nil {
		dbManager.Close()
	}
	if logFile != nil {
		logFile.Close()
	}
}
