// Package http exposes the scan pipeline over a small read-mostly API:
// scans on demand, detection history, health, and Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/regimescan/internal/mdl"
	"github.com/sawpanic/regimescan/internal/persistence"
	"github.com/sawpanic/regimescan/internal/synthetic"
)

// Server hosts the regimescan HTTP API.
type Server struct {
	router  *mux.Router
	server  *http.Server
	metrics *MetricsRegistry
	repo    persistence.ShiftRepo // optional
	params  mdl.Params
}

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates the API server. repo may be nil when persistence is
// disabled; history endpoints then report 404.
func NewServer(config Config, params mdl.Params, metrics *MetricsRegistry, repo persistence.ShiftRepo) *Server {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8090"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		router:  mux.NewRouter(),
		metrics: metrics,
		repo:    repo,
		params:  params,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	s.router.HandleFunc("/scans/{symbol}/latest", s.handleLatest).Methods(http.MethodGet)
	s.router.HandleFunc("/scans/{symbol}/history", s.handleHistory).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics/summary", s.handleMetricsSummary).Methods(http.MethodGet)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe runs the server until the context is cancelled, then
// shuts down gracefully within the given budget.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("regimescan API listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// scanRequest is the POST /scan body. Either observations or synthetic
// must be set, not both.
type scanRequest struct {
	Observations []int          `json:"observations,omitempty"`
	Labels       []string       `json:"labels,omitempty"`
	Synthetic    *syntheticSpec `json:"synthetic,omitempty"`
	Stride       *int           `json:"stride,omitempty"`
	Smoothing    *float64       `json:"smoothing,omitempty"`
}

type syntheticSpec struct {
	P1         float64 `json:"p1"`
	P2         float64 `json:"p2"`
	Breakpoint int     `json:"breakpoint"`
	Length     int     `json:"length"`
	Seed       int64   `json:"seed"`
}

// scanResponse mirrors mdl.Result with JSON-friendly keys. ChangePoint
// is null when no regime change was found; that is the normal "nothing
// detected" outcome, not an error.
type scanResponse struct {
	ScanID      string            `json:"scan_id"`
	Series      []scanSeriesPoint `json:"series"`
	ChangePoint *string           `json:"change_point"`
	Detected    bool              `json:"detected"`
}

type scanSeriesPoint struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	params := s.params
	if req.Stride != nil {
		params.Stride = *req.Stride
	}
	if req.Smoothing != nil {
		params.Smoothing = *req.Smoothing
	}

	obs := req.Observations
	labels := req.Labels
	source := "request"
	if req.Synthetic != nil {
		if len(obs) > 0 {
			writeError(w, http.StatusBadRequest, "provide either observations or synthetic, not both")
			return
		}
		source = "synthetic"
		var err error
		obs, err = synthetic.Generate(
			[2]float64{req.Synthetic.P1, req.Synthetic.P2},
			req.Synthetic.Breakpoint, req.Synthetic.Length, req.Synthetic.Seed)
		if err != nil {
			writeScanError(w, err)
			return
		}
	}

	start := time.Now()
	result, err := mdl.ScanLabeled(obs, labels, params)
	if err != nil {
		writeScanError(w, err)
		return
	}
	s.metrics.RecordScan(source, time.Since(start).Seconds(), result.ChangePoint != nil)

	resp := scanResponse{
		ScanID:   uuid.NewString(),
		Series:   make([]scanSeriesPoint, 0, len(result.Series)),
		Detected: result.ChangePoint != nil,
	}
	for _, pt := range result.Series {
		resp.Series = append(resp.Series, scanSeriesPoint{Key: pt.Key.String(), Value: pt.Value})
	}
	if result.ChangePoint != nil {
		cp := result.ChangePoint.String()
		resp.ChangePoint = &cp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusNotFound, "persistence is not configured")
		return
	}
	symbol := mux.Vars(r)["symbol"]
	record, err := s.repo.Latest(r.Context(), symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("latest scan lookup failed")
		writeError(w, http.StatusInternalServerError, "scan lookup failed")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "symbol has never been scanned")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusNotFound, "persistence is not configured")
		return
	}
	symbol := mux.Vars(r)["symbol"]
	records, err := s.repo.History(r.Context(), symbol, 20)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("scan history lookup failed")
		writeError(w, http.StatusInternalServerError, "scan lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	summary := make(map[string]map[string]float64)
	for _, source := range []string{"request", "synthetic", "alphavantage", "feed"} {
		detected, total := s.metrics.ScanCounts(source)
		if total == 0 {
			continue
		}
		summary[source] = map[string]float64{
			"scans":      total,
			"detections": detected,
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeScanError(w http.ResponseWriter, err error) {
	if errors.Is(err, mdl.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
