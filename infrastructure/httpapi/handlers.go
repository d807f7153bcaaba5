// Package httpapi exposes perplexity scoring over HTTP: the scoring
// endpoint itself plus the operational surface (health, readiness,
// version, metrics).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/lexera/go-perplex/internal/ports"
)

// Version identifies the service build in the /version payload.
const Version = "0.1.0"

// ScorerSource yields the scorer on demand. The first call may block
// while the model loads; concurrent calls share that load.
type ScorerSource func(ctx context.Context) (ports.Scorer, error)

// API holds the handlers for the scoring service.
type API struct {
	scorer  ScorerSource
	ready   func() bool
	metrics ports.MetricsCollector

	startTime time.Time
}

// NewAPI builds the handler set. ready reports whether the model is
// loaded, for the readiness probe; metrics may be nil.
func NewAPI(scorer ScorerSource, ready func() bool, metrics ports.MetricsCollector) (*API, error) {
	if scorer == nil {
		return nil, errors.New("api requires a scorer source")
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	return &API{
		scorer:    scorer,
		ready:     ready,
		metrics:   metrics,
		startTime: time.Now(),
	}, nil
}

// Routes registers all handlers on a fresh mux.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/calculate-perplexity", a.handleCalculatePerplexity)
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/version", a.handleVersion)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// scoreRequest uses a pointer so an absent text field is
// distinguishable from an explicit empty string; only the former is an
// error.
type scoreRequest struct {
	Text *string `json:"text"`
}

type scoreResponse struct {
	Perplexity float64 `json:"perplexity"`
	Text       string  `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) handleCalculatePerplexity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	start := time.Now()

	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		a.observe("calculate_perplexity", start, "bad_request")
		return
	}
	if req.Text == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Text is required"})
		a.observe("calculate_perplexity", start, "bad_request")
		return
	}

	scorer, err := a.scorer(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("scorer unavailable")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		a.observe("calculate_perplexity", start, "error")
		return
	}

	score, err := scorer.Score(r.Context(), *req.Text)
	if err != nil {
		log.Error().Err(err).Int("text_length", len(*req.Text)).Msg("scoring failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		a.observe("calculate_perplexity", start, "error")
		return
	}

	writeJSON(w, http.StatusOK, scoreResponse{Perplexity: score, Text: *req.Text})
	a.observe("calculate_perplexity", start, "ok")
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

func (a *API) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if a.ready() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready\n"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("Model not loaded\n"))
}

type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

func (a *API) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(a.startTime).Round(time.Second).String(),
	})
}

func (a *API) observe(operation string, start time.Time, status string) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordLatency(operation, time.Since(start), nil)
	a.metrics.RecordCounter(operation, 1, map[string]string{"status": status})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}
