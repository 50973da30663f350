// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Command plant-feed keeps sensor feeds from the plant dashboard API up to
// date and serves them, with metrics and health checks, over local HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/soothill/plant-feed/app"
	"github.com/soothill/plant-feed/config"
	"github.com/soothill/plant-feed/feed"
	"github.com/soothill/plant-feed/pkg/logger"
)

const healthCheckTimeout = 5 * time.Second

// cliOptions holds the parsed command line
type cliOptions struct {
	configPath     string
	listen         string
	healthCheck    bool
	validateConfig bool
	sensor         string
	mode           string
}

func parseFlags(args []string) (*cliOptions, error) {
	opts := &cliOptions{}
	fs := flag.NewFlagSet("plant-feed", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.listen, "listen", "", "Address for the feed API, metrics and health endpoints (overrides server.listen)")
	fs.BoolVar(&opts.healthCheck, "health-check", false, "Query the running instance's health endpoint and exit")
	fs.BoolVar(&opts.validateConfig, "validate-config", false, "Validate configuration file and exit")
	fs.StringVar(&opts.sensor, "sensor", "", "Open only this sensor instead of the configured ones")
	fs.StringVar(&opts.mode, "mode", "live", `Mode for -sensor: "live", minutes, a duration, or start..end`)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// sensorOverride turns -sensor/-mode into the sensor list handed to the app
func sensorOverride(sensor, mode string) ([]config.SensorConfig, error) {
	if sensor == "" {
		return nil, nil
	}
	if _, err := feed.ParseMode(mode); err != nil {
		return nil, err
	}
	return []config.SensorConfig{{ID: sensor, Mode: mode}}, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if opts.healthCheck {
		os.Exit(performHealthCheck(opts.configPath, opts.listen))
	}

	if opts.validateConfig {
		os.Exit(performConfigValidation(opts.configPath, os.Stdout))
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Initialize("error", "console")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level, cfg.Logging.Format)

	sensors, err := sensorOverride(opts.sensor, opts.mode)
	if err != nil {
		logger.Fatal().Err(err).Str("sensor_id", opts.sensor).Str("mode", opts.mode).Msg("Invalid -sensor/-mode")
	}

	logger.Info().Msg("Starting Plant Sensor Feed Client")
	logger.Info().
		Int("sensors", len(cfg.Sensors)).
		Int("buffer_size", cfg.Feed.BufferSize).
		Str("history_source", cfg.History.Source).
		Msg("Configuration loaded")

	application, err := app.New(context.Background(), cfg, app.Options{
		ConfigPath: opts.configPath,
		Listen:     opts.listen,
		Sensors:    sensors,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)

	if err := application.Run(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Application failed")
	}
}

// healthURL builds the health endpoint URL for a listen address. Wildcard
// hosts are queried on loopback.
func healthURL(listen string) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health", nil
}

// performHealthCheck queries a running instance and returns the exit code
func performHealthCheck(configPath, listen string) int {
	if listen == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
			return 1
		}
		listen = cfg.Server.Listen
	}

	target, err := healthURL(listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: %s returned %s\n", target, resp.Status)
		return 1
	}

	fmt.Println("Health check passed")
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string, out io.Writer) int {
	logger.Initialize("info", "console")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Fprintln(out, "\n✅ Configuration validation PASSED")
	fmt.Fprintln(out, "\nConfiguration summary:")
	if cfg.API.BaseURL != "" {
		fmt.Fprintf(out, "  API Base URL: %s\n", cfg.API.BaseURL)
	} else {
		fmt.Fprintf(out, "  API Discovery: %s in %s\n", cfg.API.Discovery.ServiceType, cfg.API.Discovery.Domain)
	}
	if cfg.API.LiveBaseURL != "" {
		fmt.Fprintf(out, "  Live Base URL: %s\n", cfg.API.LiveBaseURL)
	}
	fmt.Fprintf(out, "  History Source: %s\n", cfg.History.Source)
	if cfg.History.Source == config.HistorySourceInfluxDB {
		fmt.Fprintf(out, "  InfluxDB URL: %s\n", cfg.InfluxDB.URL)
		fmt.Fprintf(out, "  InfluxDB Bucket: %s\n", cfg.InfluxDB.Bucket)
	}
	fmt.Fprintf(out, "  Buffer Size: %d\n", cfg.Feed.BufferSize)
	fmt.Fprintf(out, "  Reconnect Policy: %s (initial %s)\n", cfg.Feed.Reconnect.Policy, cfg.Feed.Reconnect.InitialDelay)
	fmt.Fprintf(out, "  Sensors: %d\n", len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		fmt.Fprintf(out, "    - %s (%s)\n", s.ID, s.Mode)
	}
	fmt.Fprintf(out, "  Listen: %s\n", cfg.Server.Listen)
	fmt.Fprintf(out, "  Log Level: %s\n", cfg.Logging.Level)

	if cfg.Notifications.SlackWebhookURL != "" {
		fmt.Fprintln(out, "  Slack Notifications: Enabled")
	} else {
		fmt.Fprintln(out, "  Slack Notifications: Disabled")
	}

	fmt.Fprintln(out, "\nAll validation checks passed. Configuration is ready for use.")
	return 0
}
