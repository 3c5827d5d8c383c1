// Package server exposes the fleet over HTTP: frame ingest, per-asset
// state, Prometheus metrics and a websocket feed of enriched frames.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ftahirops/gentop/collector"
	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/model"
)

const maxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	Fleet        *engine.Fleet
	Metrics      *engine.MetricsStore  // nil disables /metrics
	Events       *engine.EventDetector // nil disables /events
	Hub          *Hub                  // nil disables /ws
	APIKeys      []string              // empty disables the key check
	DefaultAsset string
	Logger       *slog.Logger

	// Scorer backs POST /analyze; nil uses the rule tables.
	Scorer engine.Scorer
	// Simulator feeds GET /simulate for assets with no data yet; nil seeds
	// a safe-profile simulator from the clock.
	Simulator *collector.Simulator
}

// Server holds the HTTP handlers.
type Server struct {
	opts   Options
	logger *slog.Logger
	router chi.Router
}

// New builds the server and its router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Scorer == nil {
		opts.Scorer = engine.RuleScorer{}
	}
	if opts.Simulator == nil {
		opts.Simulator = collector.NewSimulator(opts.DefaultAsset, collector.ProfileSafe, uint64(time.Now().UnixNano()))
	}
	s := &Server{opts: opts, logger: opts.Logger.With("component", "http")}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/simulate", s.handleSimulate)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}
	if s.opts.Hub != nil {
		r.Get("/ws", s.handleWebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/telemetry", s.handleTelemetry)
		r.Post("/assets/{asset}/frames", s.handleFrame)
	})

	r.Get("/assets", s.handleAssets)
	r.Get("/assets/{asset}/state", s.handleState)
	if s.opts.Events != nil {
		r.Get("/events", s.handleEvents)
	}
	return r
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"dur", time.Since(start),
			"req_id", middleware.GetReqID(r.Context()))
	})
}

// authenticate checks X-API-Key (or a bearer token) against the configured
// keys.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.opts.APIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if !s.validKey(key) {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validKey(key string) bool {
	if key == "" {
		return false
	}
	ok := false
	for _, k := range s.opts.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "assets": len(s.opts.Fleet.IDs())}
	if s.opts.Hub != nil {
		resp["ws_clients"] = s.opts.Hub.Clients()
		resp["ws_dropped"] = s.opts.Hub.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	s.ingest(w, r, chi.URLParam(r, "asset"))
}

// handleTelemetry accepts any frame shape; the asset comes from the body,
// the ?asset= query, or the default.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	s.ingest(w, r, r.URL.Query().Get("asset"))
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request, asset string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	sample, err := collector.DecodeSample(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case asset != "":
	case sample.Asset != "":
		asset = sample.Asset
	default:
		asset = s.opts.DefaultAsset
	}
	if asset == "" {
		writeError(w, http.StatusBadRequest, "no asset")
		return
	}

	as := s.opts.Fleet.Asset(asset)
	var res engine.Result
	if sample.Time.IsZero() {
		res = as.Analyze(sample.Frame())
	} else {
		res = as.AnalyzeAt(sample.Frame(), sample.Time)
	}
	writeJSON(w, http.StatusOK, res.Frame)
}

// ReadingScore is the body of POST /analyze.
type ReadingScore struct {
	Risk        model.Severity `json:"risk"`
	Probability float64        `json:"probability"`
}

// handleAnalyze scores a single reading with no frame context. A reading the
// scorer cannot handle gets the safe default, not an error.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var in model.Reading
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := engine.ScoreOrDefault(s.opts.Scorer, in, model.AnalyzerState{})
	if err != nil {
		s.logger.Debug("analyze fault", "sensor", in.ID, "err", err)
	}
	writeJSON(w, http.StatusOK, ReadingScore{Risk: out.Severity, Probability: out.RiskProbability})
}

// handleSimulate returns the asset's latest enriched frame, or a fresh
// simulated frame analyzed without touching fleet state.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = s.opts.DefaultAsset
	}
	if as, ok := s.opts.Fleet.Lookup(asset); ok {
		if f := as.Latest(); f != nil {
			writeJSON(w, http.StatusOK, f)
			return
		}
	}
	out, _ := engine.NewAnalyzer(s.opts.Scorer).Process(model.NewFrame(s.opts.Simulator.Step()), model.AnalyzerState{})
	out.Asset = asset
	out.Timestamp = time.Now()
	writeJSON(w, http.StatusOK, out)
}

// AssetSummary is one row of GET /assets.
type AssetSummary struct {
	Asset           string         `json:"asset"`
	Seq             uint64         `json:"seq"`
	Updated         time.Time      `json:"updated,omitempty"`
	Worst           model.Severity `json:"worst"`
	EmergencyActive bool           `json:"emergency_active"`
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	ids := s.opts.Fleet.IDs()
	out := make([]AssetSummary, 0, len(ids))
	for _, id := range ids {
		as, ok := s.opts.Fleet.Lookup(id)
		if !ok {
			continue
		}
		sum := AssetSummary{Asset: id, Worst: model.SeverityNormal, EmergencyActive: as.EmergencyActive()}
		if f := as.Latest(); f != nil {
			sum.Seq = f.Sequence
			sum.Updated = f.Timestamp
			sum.Worst = f.Worst()
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

// AssetState is the body of GET /assets/{asset}/state.
type AssetState struct {
	Asset  string                `json:"asset"`
	State  model.AnalyzerState   `json:"state"`
	Latest *model.EnrichedFrame  `json:"latest,omitempty"`
	Event  *model.EmergencyEvent `json:"active_event,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "asset")
	as, ok := s.opts.Fleet.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown asset %q", id))
		return
	}
	st := AssetState{Asset: id, State: as.State(), Latest: as.Latest()}
	if s.opts.Events != nil {
		st.Event = s.opts.Events.ActiveEvent(id)
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	active, completed := s.opts.Events.AllEvents()
	asset := r.URL.Query().Get("asset")
	filter := func(in []model.EmergencyEvent) []model.EmergencyEvent {
		out := make([]model.EmergencyEvent, 0, len(in))
		for _, e := range in {
			if asset == "" || e.Asset == asset {
				out = append(out, e)
			}
		}
		return out
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    filter(active),
		"completed": filter(completed),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var frames []model.EnrichedFrame
	for _, id := range s.opts.Fleet.IDs() {
		if as, ok := s.opts.Fleet.Lookup(id); ok {
			if f := as.Latest(); f != nil {
				frames = append(frames, *f)
			}
		}
	}
	var initial []byte
	if len(frames) > 0 {
		initial, _ = json.Marshal(Message{Type: "snapshot", Payload: frames})
	}
	s.opts.Hub.serve(w, r, initial)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	logger.Info("http listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
