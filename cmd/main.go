// Package main provides the entry point for the go-egauge collector.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/greenstem/go-egauge/internal/api"
	"github.com/greenstem/go-egauge/internal/config"
	"github.com/greenstem/go-egauge/internal/domain"
	"github.com/greenstem/go-egauge/internal/egauge"
	"github.com/greenstem/go-egauge/internal/export"
	"github.com/greenstem/go-egauge/internal/pubsub"
	"github.com/greenstem/go-egauge/internal/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

func main() {
	code := run() // run() returns an int
	os.Exit(code) // os.Exit is called after deferred functions in run() execute
}

func run() int {
	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("go-egauge collector %s\n", Version)
		return 0
	}

	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize logger with the configured log level
	initLogger(cfg.LogLevel)

	log.Info().Str("version", Version).Msg("Starting go-egauge collector")
	cfg.Print()

	// Create the device handle
	device, err := egauge.NewDevice(
		cfg.Device.ID,
		cfg.Device.Username,
		cfg.Device.Password,
		cfg.Multipliers,
		cfg.Collector.RoundDecimals,
		egauge.WithRenewalBuffer(time.Duration(cfg.Device.TokenRenewalSeconds)*time.Second),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create device handle")
		return 1
	}

	// Initialize MQTT publisher
	var publisher domain.MessagePublisher
	if cfg.MQTT.Enabled {
		mqttPublisher := pubsub.NewMQTTPublisher(cfg)
		if err := mqttPublisher.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, using noop publisher")
			publisher = pubsub.NewNoopPublisher()
		} else {
			publisher = mqttPublisher
			log.Info().Msg("MQTT publisher connected successfully")
		}
	} else {
		log.Info().Msg("MQTT disabled, using noop publisher")
		publisher = pubsub.NewNoopPublisher()
	}
	defer func() {
		_ = publisher.Close()
	}()

	// Initialize CSV writer
	var writer domain.ReadingWriter
	if cfg.CSV.Enabled {
		csvWriter, err := export.NewCSVWriter(cfg.CSV.Directory)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize CSV writer")
			return 1
		}
		writer = csvWriter
	} else {
		log.Info().Msg("CSV export disabled")
		writer = export.NewNoopWriter()
	}
	defer func() {
		_ = writer.Close()
	}()

	// Create and start the polling collector
	collector := service.NewCollector(cfg, device, publisher, writer)
	if err := collector.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start collector")
		return 1
	}

	// Start HTTP API server if enabled
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, device)
		if err := apiServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start API server")
			return 1
		}
	}

	log.Info().
		Str("device", cfg.Device.ID).
		Int("interval_seconds", cfg.Collector.IntervalSeconds).
		Msg("Collector started successfully")

	// Handle graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-signalChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	// Create context with timeout for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop the collector and API server
	if err := collector.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping collector")
		return 1
	}
	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping API server")
			return 1
		}
	}

	log.Info().Msg("Collector stopped")
	return 0
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	// Set up pretty console logging for development
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	// Parse the log level
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	// Configure global logger
	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}
