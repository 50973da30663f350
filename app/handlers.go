// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/soothill/plant-feed/feed"
	apperrors "github.com/soothill/plant-feed/pkg/errors"
	"github.com/soothill/plant-feed/pkg/logger"
	"github.com/soothill/plant-feed/plantapi"
)

const (
	readinessCheckTimeout = 2 * time.Second
	maxRequestBody        = 1 << 20
	proxyTimeout          = 10 * time.Second
	keepaliveInterval     = 15 * time.Second
)

// feedResponse is a feed state as served over HTTP
type feedResponse struct {
	feed.State
	View  feed.View  `json:"view"`
	Stats feed.Stats `json:"stats"`
}

func newFeedResponse(st feed.State) feedResponse {
	return feedResponse{State: st, View: st.View(), Stats: st.Stats()}
}

// Handler returns the local HTTP surface: metrics, health, the feed
// control endpoints and read-only API proxies.
func (a *App) Handler() http.Handler {
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("GET /ready", rateLimitMiddleware(readyLimiter, a.readinessCheckHandler))

	mux.HandleFunc("GET /feeds", perClientRateLimit(a.limiter, a.listFeeds))
	mux.HandleFunc("GET /feeds/{sensor}", perClientRateLimit(a.limiter, a.getFeed))
	mux.HandleFunc("PUT /feeds/{sensor}", perClientRateLimit(a.limiter, a.openFeed))
	mux.HandleFunc("POST /feeds/{sensor}/refresh", perClientRateLimit(a.limiter, a.refreshFeed))
	mux.HandleFunc("DELETE /feeds/{sensor}", perClientRateLimit(a.limiter, a.closeFeed))
	mux.HandleFunc("GET /feeds/{sensor}/events", perClientRateLimit(a.limiter, a.streamFeed))

	mux.HandleFunc("GET /catalog", perClientRateLimit(a.limiter, a.catalog))
	mux.HandleFunc("GET /profile", perClientRateLimit(a.limiter, a.profile))
	mux.HandleFunc("GET /projects", perClientRateLimit(a.limiter, a.projects))
	mux.HandleFunc("GET /projects/{project}/assets", perClientRateLimit(a.limiter, a.assets))
	mux.HandleFunc("GET /projects/{project}/assets/{asset}", perClientRateLimit(a.limiter, a.asset))
	mux.HandleFunc("GET /projects/{project}/assets/{asset}/sensors", perClientRateLimit(a.limiter, a.assetSensors))
	mux.HandleFunc("GET /incidents", perClientRateLimit(a.limiter, a.incidents))
	mux.HandleFunc("POST /incidents", perClientRateLimit(a.limiter, a.createIncident))
	mux.HandleFunc("PATCH /incidents/{id}", perClientRateLimit(a.limiter, a.updateIncident))
	return mux
}

// healthCheckHandler handles health check requests
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler reports not ready while a configured sensor has
// failed with nothing to show, or the history store is unreachable.
func (a *App) readinessCheckHandler(w http.ResponseWriter, r *http.Request) {
	var problems []string
	for _, s := range a.sensors() {
		st, ok := a.feeds.State(s.ID)
		if ok && st.View() == feed.ViewUnavailable {
			problems = append(problems, fmt.Sprintf("sensor %s unavailable: %s", s.ID, st.LastError))
		}
	}

	if a.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessCheckTimeout)
		defer cancel()
		if err := a.store.Health(ctx); err != nil {
			problems = append(problems, "history store unhealthy")
		}
	}

	if len(problems) > 0 {
		logger.Warn().Strs("problems", problems).Msg("Readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte("NOT READY: " + strings.Join(problems, "; "))); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}

func (a *App) listFeeds(w http.ResponseWriter, _ *http.Request) {
	states := a.feeds.States()
	out := make([]feedResponse, 0, len(states))
	for _, st := range states {
		out = append(out, newFeedResponse(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) getFeed(w http.ResponseWriter, r *http.Request) {
	st, ok := a.feeds.State(r.PathValue("sensor"))
	if !ok {
		writeError(w, apperrors.ErrSensorNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newFeedResponse(st))
}

// openFeed opens or re-targets a feed. The mode query parameter defaults
// to live.
func (a *App) openFeed(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("sensor")
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		raw = "live"
	}
	mode, err := feed.ParseMode(raw)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := a.feeds.Open(a.ctx, sensorID, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info().Str("sensor_id", sensorID).Str("mode", mode.String()).Str("remote_addr", r.RemoteAddr).Msg("Feed opened over HTTP")
	writeJSON(w, http.StatusOK, newFeedResponse(sub.State()))
}

func (a *App) refreshFeed(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("sensor")
	if err := a.feeds.Refresh(a.ctx, sensorID); err != nil {
		writeError(w, err)
		return
	}
	st, _ := a.feeds.State(sensorID)
	writeJSON(w, http.StatusOK, newFeedResponse(st))
}

func (a *App) closeFeed(w http.ResponseWriter, r *http.Request) {
	a.feeds.Close(r.PathValue("sensor"))
	w.WriteHeader(http.StatusNoContent)
}

// streamFeed re-broadcasts state updates for one sensor as server-sent
// events until the client leaves or the feed closes.
func (a *App) streamFeed(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("sensor")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	states, cancel, err := a.feeds.Watch(sensorID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	watcherID := uuid.NewString()
	log := logger.With().Str("sensor_id", sensorID).Str("watcher_id", watcherID).Logger()
	log.Info().Str("remote_addr", r.RemoteAddr).Msg("State stream attached")
	defer log.Info().Msg("State stream detached")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Watcher-Id", watcherID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	var seq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-a.ctx.Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case st, ok := <-states:
			if !ok {
				_, _ = fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(newFeedResponse(st))
			if err != nil {
				log.Error().Err(err).Msg("Failed to encode feed state")
				return
			}
			seq++
			if _, err := fmt.Fprintf(w, "event: state\nid: %d\ndata: %s\n\n", seq, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// catalog proxies the project asset tree from the plant API
func (a *App) catalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), proxyTimeout)
	defer cancel()

	project, err := a.api.ProjectAssets(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// proxy runs one upstream call under proxyTimeout and serves its result
func proxy[T any](w http.ResponseWriter, r *http.Request, status int, call func(ctx context.Context) (T, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), proxyTimeout)
	defer cancel()

	out, err := call(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, out)
}

func (a *App) profile(w http.ResponseWriter, r *http.Request) {
	proxy(w, r, http.StatusOK, a.api.Profile)
}

func (a *App) projects(w http.ResponseWriter, r *http.Request) {
	proxy(w, r, http.StatusOK, func(ctx context.Context) ([]plantapi.Project, error) {
		list, err := a.api.Projects(ctx)
		if list == nil && err == nil {
			list = []plantapi.Project{}
		}
		return list, err
	})
}

func (a *App) assets(w http.ResponseWriter, r *http.Request) {
	proxy(w, r, http.StatusOK, func(ctx context.Context) ([]plantapi.Asset, error) {
		list, err := a.api.Assets(ctx, r.PathValue("project"))
		if list == nil && err == nil {
			list = []plantapi.Asset{}
		}
		return list, err
	})
}

func (a *App) asset(w http.ResponseWriter, r *http.Request) {
	proxy(w, r, http.StatusOK, func(ctx context.Context) (*plantapi.Asset, error) {
		return a.api.Asset(ctx, r.PathValue("project"), r.PathValue("asset"))
	})
}

func (a *App) assetSensors(w http.ResponseWriter, r *http.Request) {
	proxy(w, r, http.StatusOK, func(ctx context.Context) ([]plantapi.Sensor, error) {
		list, err := a.api.Sensors(ctx, r.PathValue("project"), r.PathValue("asset"))
		if list == nil && err == nil {
			list = []plantapi.Sensor{}
		}
		return list, err
	})
}

// decodeBody reads a JSON request body of at most maxRequestBody bytes
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v); err != nil {
		return apperrors.NewInvalidArgumentError("body", "", "invalid JSON: "+err.Error())
	}
	return nil
}

func (a *App) createIncident(w http.ResponseWriter, r *http.Request) {
	var incident plantapi.Incident
	if err := decodeBody(w, r, &incident); err != nil {
		writeError(w, err)
		return
	}
	proxy(w, r, http.StatusCreated, func(ctx context.Context) (*plantapi.Incident, error) {
		return a.api.CreateIncident(ctx, incident)
	})
}

func (a *App) updateIncident(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := decodeBody(w, r, &updates); err != nil {
		writeError(w, err)
		return
	}
	proxy(w, r, http.StatusOK, func(ctx context.Context) (*plantapi.Incident, error) {
		return a.api.UpdateIncident(ctx, r.PathValue("id"), updates)
	})
}

// incidents proxies the incident list, passing filter parameters through
func (a *App) incidents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), proxyTimeout)
	defer cancel()

	q := r.URL.Query()
	list, err := a.api.Incidents(ctx, plantapi.IncidentFilter{
		System:    q.Get("system"),
		Equipment: q.Get("equipment"),
		Priority:  q.Get("priority"),
		Severity:  q.Get("severity"),
		Owner:     q.Get("owner"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []plantapi.Incident{}
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// errorStatus maps an error to the HTTP status served for it
func errorStatus(err error) int {
	switch {
	case apperrors.IsInvalidArgumentError(err):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrSensorNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrClientClosed), errors.Is(err, apperrors.ErrCircuitBreakerOpen):
		return http.StatusServiceUnavailable
	}
	if code := apperrors.StatusCode(err); code >= 400 && code < 500 {
		return code
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"error": apperrors.Message(err)})
}
