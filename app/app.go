// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires the plant feed client together: it resolves the API,
// authenticates, opens the configured sensor feeds, serves the local HTTP
// surface and applies configuration reloads.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/soothill/plant-feed/config"
	"github.com/soothill/plant-feed/discovery"
	"github.com/soothill/plant-feed/feed"
	"github.com/soothill/plant-feed/pkg/interfaces"
	"github.com/soothill/plant-feed/pkg/logger"
	"github.com/soothill/plant-feed/pkg/notifications"
	"github.com/soothill/plant-feed/pkg/slacknotifier"
	"github.com/soothill/plant-feed/plantapi"
	"github.com/soothill/plant-feed/session"
	"github.com/soothill/plant-feed/storage"
)

const (
	signalChannelSize   = 1
	alertContextTimeout = 5 * time.Second
	shutdownTimeout     = 5 * time.Second
	limiterPruneEvery   = time.Minute
	limiterIdleAfter    = 10 * time.Minute
)

// Options carries the command line settings that sit beside the config file.
type Options struct {
	// ConfigPath enables hot reload when set.
	ConfigPath string
	// Listen overrides server.listen.
	Listen string
	// Sensors replaces the configured sensors. Reloads leave them alone.
	Sensors []config.SensorConfig
}

// App represents the main application
type App struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	opts     Options
	server   *http.Server
	api      *plantapi.Client
	tokens   *session.Store
	store    interfaces.HistoryStore
	feeds    interfaces.FeedManager
	slack    *slacknotifier.Notifier
	alerts   *notifications.FeedAlerts
	limiter  *ipLimiter
	watcher  *config.Watcher
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New builds every component. ctx bounds discovery and login only.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{
		cfg:  cfg,
		opts: opts,
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.slack = slacknotifier.New(cfg.Notifications.SlackWebhookURL)
	a.alerts = notifications.NewFeedAlerts(a.slack)
	if a.slack.IsEnabled() {
		logger.Info().Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack notifications disabled (no webhook URL configured)")
	}

	if err := a.initializeAPI(ctx); err != nil {
		a.cancel()
		return nil, err
	}

	history, err := a.initializeHistory()
	if err != nil {
		a.cancel()
		return nil, err
	}

	feedOpts := cfg.FeedOptions()
	feedOpts.Notifier = a.alerts
	a.feeds = feed.NewClient(history, a.api, feedOpts)

	a.limiter = newIPLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)

	listen := cfg.Server.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}
	a.server = &http.Server{
		Addr:              listen,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if opts.ConfigPath != "" {
		a.watcher, err = config.NewWatcher(opts.ConfigPath)
		if err != nil {
			a.closeComponents()
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
	}

	return a, nil
}

// initializeAPI resolves the API location, builds the REST client and logs
// in when credentials are configured.
func (a *App) initializeAPI(ctx context.Context) error {
	apiCfg := a.cfg.API

	endpoint := interfaces.Endpoint{BaseURL: apiCfg.BaseURL, LiveBaseURL: apiCfg.LiveBaseURL}
	if endpoint.BaseURL == "" && apiCfg.Discovery.Enabled {
		scanner := discovery.NewScanner(apiCfg.Discovery.ServiceType, apiCfg.Discovery.Domain)
		resolved, err := a.resolve(ctx, scanner)
		if err != nil {
			return err
		}
		endpoint.BaseURL = resolved.BaseURL
		if endpoint.LiveBaseURL == "" {
			endpoint.LiveBaseURL = resolved.LiveBaseURL
		}
	}

	a.tokens = session.NewStore(apiCfg.Token)
	if exp, ok := a.tokens.ExpiresAt(); ok && a.tokens.Expired(time.Now()) {
		logger.Warn().Time("expired_at", exp).Msg("Configured API token has expired; requests may be rejected")
	}

	var breaker *plantapi.BreakerSettings
	if apiCfg.CircuitBreaker.Enabled {
		breaker = &plantapi.BreakerSettings{
			FailureThreshold: apiCfg.CircuitBreaker.FailureThreshold,
			OpenTimeout:      apiCfg.CircuitBreaker.OpenTimeout,
		}
	}

	api, err := plantapi.New(plantapi.Options{
		BaseURL:     endpoint.BaseURL,
		LiveBaseURL: endpoint.LiveBaseURL,
		Timeout:     apiCfg.Timeout,
		Tokens:      a.tokens,
		Breaker:     breaker,
	})
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}
	a.api = api
	logger.Info().
		Str("base_url", api.BaseURL()).
		Str("live_base_url", api.LiveBaseURL()).
		Bool("circuit_breaker", breaker != nil).
		Msg("Plant API client ready")

	if apiCfg.Email == "" {
		return nil
	}
	user, err := api.Login(ctx, plantapi.Credentials{Email: apiCfg.Email, Password: apiCfg.Password})
	if err != nil {
		a.alert(func(ctx context.Context) error { return a.alerts.SendLoginFailure(ctx, apiCfg.Email, err) })
		return fmt.Errorf("login failed: %w", err)
	}
	logger.Info().Str("user", user.Name).Str("role", user.Role).Msg("Logged in to plant API")
	return nil
}

func (a *App) resolve(ctx context.Context, resolver interfaces.EndpointResolver) (*interfaces.Endpoint, error) {
	timeout := a.cfg.API.Discovery.Timeout
	logger.Info().Dur("timeout", timeout).Msg("Discovering plant API via mDNS")

	endpoint, err := resolver.Resolve(ctx, timeout)
	if err != nil {
		logger.Error().Err(err).Msg("API discovery failed")
		a.alert(func(ctx context.Context) error { return a.alerts.SendDiscoveryFailure(ctx, err) })
		return nil, fmt.Errorf("failed to discover plant API: %w", err)
	}
	return endpoint, nil
}

// initializeHistory picks the source that answers historical queries
func (a *App) initializeHistory() (feed.HistorySource, error) {
	if a.cfg.History.Source != config.HistorySourceInfluxDB {
		return a.api, nil
	}

	influx := a.cfg.InfluxDB
	store, err := storage.NewInfluxHistory(influx.URL, influx.Token, influx.Organization, influx.Bucket, a.cfg.History.Measurement)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize InfluxDB history: %w", err)
	}
	a.store = store
	return store, nil
}

// alert sends a notification with its own deadline when Slack is enabled
func (a *App) alert(send func(ctx context.Context) error) {
	if !a.alerts.IsEnabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), alertContextTimeout)
	defer cancel()
	if err := send(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to send alert")
	}
}

// Config returns the configuration currently in effect
func (a *App) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// sensors returns the feeds the app is expected to keep open
func (a *App) sensors() []config.SensorConfig {
	if len(a.opts.Sensors) > 0 {
		return a.opts.Sensors
	}
	return a.Config().Sensors
}

// Run starts the application and blocks until ctx is cancelled, Stop is
// called or a shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		a.Stop()
		a.closeComponents()
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			a.Stop()
		case <-a.ctx.Done():
		}
	}()

	a.startServer(listener)
	a.setupSignalHandler()
	a.startConfigWatcher()
	a.startLimiterPruner()
	a.openSensors(a.sensors())

	<-a.ctx.Done()
	logger.Info().Msg("Shutting down")
	a.performCleanup()
	return nil
}

// startServer serves the local HTTP surface on listener
func (a *App) startServer(listener net.Listener) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", listener.Addr().String()).Msg("Starting feed API, metrics and health check server")
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
			a.Stop()
		}
	}()
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			a.Stop()
		case <-a.ctx.Done():
		}
	}()
}

// startLimiterPruner drops per-client limiters nobody has used recently
func (a *App) startLimiterPruner() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(limiterPruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case now := <-ticker.C:
				a.limiter.prune(now.Add(-limiterIdleAfter))
			}
		}
	}()
}

// Stop begins a graceful shutdown. It is safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		logger.Info().Msg("Initiating graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		} else {
			logger.Info().Msg("HTTP server stopped")
		}

		a.cancel()
	})
}

// performCleanup closes the feeds and waits for goroutines to finish
func (a *App) performCleanup() {
	a.closeComponents()

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	logger.Info().Msg("All goroutines finished, exiting")
}

func (a *App) closeComponents() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.feeds != nil {
		a.feeds.Shutdown()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// openSensors opens a feed per sensor. A bad sensor is logged and skipped.
func (a *App) openSensors(sensors []config.SensorConfig) {
	for _, s := range sensors {
		a.openSensor(s)
	}
}

func (a *App) openSensor(s config.SensorConfig) {
	mode, err := s.ParsedMode()
	if err != nil {
		logger.Error().Err(err).Str("sensor_id", s.ID).Str("mode", s.Mode).Msg("Skipping sensor with invalid mode")
		return
	}
	if _, err := a.feeds.Open(a.ctx, s.ID, mode); err != nil {
		logger.Error().Err(err).Str("sensor_id", s.ID).Str("mode", mode.String()).Msg("Failed to open sensor feed")
		return
	}
	logger.Info().Str("sensor_id", s.ID).Str("mode", mode.String()).Msg("Sensor feed opened")
}

// startConfigWatcher applies reloaded configuration until shutdown
func (a *App) startConfigWatcher() {
	if a.watcher == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case reloaded := <-a.watcher.Reloaded:
				if reloaded.Error != nil {
					logger.Error().Err(reloaded.Error).Msg("Error reloading configuration")
					continue
				}
				a.applyConfig(reloaded.Config)
			}
		}
	}()
}

// applyConfig swaps in cfg and reconciles what can change at runtime:
// the sensor set, the log level and the Slack webhook.
func (a *App) applyConfig(cfg *config.Config) {
	a.cfgMu.Lock()
	previous := a.cfg
	a.cfg = cfg
	a.cfgMu.Unlock()

	logger.SetLevel(cfg.Logging.Level)
	if cfg.Notifications.SlackWebhookURL != previous.Notifications.SlackWebhookURL {
		a.slack.UpdateWebhookURL(cfg.Notifications.SlackWebhookURL)
		logger.Info().Bool("enabled", a.slack.IsEnabled()).Msg("Slack webhook updated")
	}
	if changed := restartOnlyChanges(previous, cfg); len(changed) > 0 {
		logger.Warn().Strs("sections", changed).Msg("Configuration sections changed that only apply on restart")
	}

	if len(a.opts.Sensors) > 0 {
		logger.Info().Msg("Sensors set on the command line; ignoring configured sensors")
	} else {
		a.reconcile(previous.Sensors, cfg.Sensors)
	}
	logger.Info().Msg("Application configuration updated")
}

// restartOnlyChanges names the changed sections that are read once at
// startup and so need a restart to take effect.
func restartOnlyChanges(previous, next *config.Config) []string {
	var changed []string
	if previous.API != next.API {
		changed = append(changed, "api")
	}
	if previous.Feed != next.Feed {
		changed = append(changed, "feed")
	}
	if previous.History != next.History {
		changed = append(changed, "history")
	}
	if previous.InfluxDB != next.InfluxDB {
		changed = append(changed, "influxdb")
	}
	if previous.Server != next.Server {
		changed = append(changed, "server")
	}
	if previous.Logging.Format != next.Logging.Format {
		changed = append(changed, "logging.format")
	}
	return changed
}

// reconcile closes removed sensors, opens added ones and re-opens sensors
// whose mode changed.
func (a *App) reconcile(previous, next []config.SensorConfig) {
	old := make(map[string]feed.Mode, len(previous))
	for _, s := range previous {
		if mode, err := s.ParsedMode(); err == nil {
			old[s.ID] = mode
		}
	}

	wanted := make(map[string]bool, len(next))
	for _, s := range next {
		wanted[s.ID] = true
		mode, err := s.ParsedMode()
		if err != nil {
			logger.Error().Err(err).Str("sensor_id", s.ID).Msg("Skipping sensor with invalid mode")
			continue
		}
		if current, ok := old[s.ID]; ok && current.Equal(mode) {
			if _, open := a.feeds.State(s.ID); open {
				continue
			}
		}
		a.openSensor(s)
	}

	for _, id := range a.feeds.Sensors() {
		if _, configured := old[id]; configured && !wanted[id] {
			a.feeds.Close(id)
			logger.Info().Str("sensor_id", id).Msg("Sensor removed from configuration, feed closed")
		}
	}
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	states := a.feeds.States()
	logger.Info().
		Int("open_feeds", len(states)).
		Int("configured_sensors", len(a.sensors())).
		Str("base_url", a.api.BaseURL()).
		Msg("Feed state")

	for _, st := range states {
		logger.Info().
			Str("sensor_id", st.SensorID).
			Str("mode", st.Mode.String()).
			Str("status", st.Status.String()).
			Str("view", string(st.View())).
			Int("samples", len(st.Series)).
			Uint64("generation", st.Generation).
			Str("last_error", st.LastError).
			Time("updated_at", st.UpdatedAt).
			Msg("Sensor feed")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024) // 1MB buffer
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}
