// Package server exposes the recommendation engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/elonfeng/openchain/internal/metrics"
	"github.com/elonfeng/openchain/pkg/explain"
	"github.com/elonfeng/openchain/pkg/recommend"
	"github.com/elonfeng/openchain/pkg/source"
)

// Engine is what the API serves.
type Engine interface {
	Recommend(ctx context.Context, req recommend.Request) (*recommend.Graph, error)
	Scale(ctx context.Context, kind source.Kind, id string) (*recommend.ScaleResult, error)
	Relate(ctx context.Context, req recommend.RelationshipRequest) (*recommend.Relationship, error)
	Analyze(ctx context.Context, req recommend.AnalyzeRequest) (*recommend.Analysis, error)
}

// Explainer turns a relationship into prose.
type Explainer interface {
	Enabled() bool
	Relationship(ctx context.Context, rel *recommend.Relationship) (string, error)
}

// CredentialStats reports how many GitHub tokens exist and how many are usable.
type CredentialStats interface {
	Len() int
	Available() int
}

// Sizer reports an entry count.
type Sizer interface {
	Len() int
}

// Health reports backing resources for /health. Both fields may be nil.
type Health struct {
	Credentials CredentialStats
	Cache       Sizer
}

// Options configures a Server.
type Options struct {
	Port      int
	Explainer Explainer
	Health    Health
	Logger    *slog.Logger
}

// Server provides the HTTP API.
type Server struct {
	engine    Engine
	explainer Explainer
	health    Health
	port      int
	log       *slog.Logger
}

// New creates a new HTTP server.
func New(engine Engine, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		explainer: opts.Explainer,
		health:    opts.Health,
		port:      opts.Port,
		log:       opts.Logger,
	}
}

// Handler returns the routed API with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/recommend", s.handleRecommend)
	mux.HandleFunc("/api/scale", s.handleScale)
	mux.HandleFunc("/api/explain", s.handleExplain)
	mux.HandleFunc("/api/relationship", s.handleRelationship)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.Handle("/metrics", metrics.Handler())
	return s.withRequestLog(withCORS(mux))
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("openchain server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if c := s.health.Credentials; c != nil {
		resp["credentials"] = map[string]int{"total": c.Len(), "available": c.Available()}
		if c.Available() == 0 {
			resp["status"] = "degraded"
		}
	}
	if c := s.health.Cache; c != nil {
		resp["cache_entries"] = c.Len()
	}
	resp["llm"] = s.explainer != nil && s.explainer.Enabled()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q := r.URL.Query()
	req := recommend.Request{Type: q.Get("type"), Name: q.Get("name"), Find: q.Get("find")}
	if c := q.Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "count must be an integer"})
			return
		}
		req.Count = n
	}

	graph, err := s.engine.Recommend(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q := r.URL.Query()
	kind, err := source.ParseKind(q.Get("type"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", recommend.ErrInvalidRequest, err))
		return
	}

	res, err := s.engine.Scale(r.Context(), kind, q.Get("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q := r.URL.Query()
	if q.Get("topic") == "" {
		writeJSON(w, http.StatusOK, map[string]any{"topics": explain.Topics()})
		return
	}
	text, err := explain.Algorithm(q.Get("topic"), q.Get("mode"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": text})
}

func (s *Server) handleRelationship(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.explainer == nil || !s.explainer.Enabled() {
		s.writeError(w, r, explain.ErrDisabled)
		return
	}
	q := r.URL.Query()
	req := recommend.RelationshipRequest{
		Type:   q.Get("type"),
		Name:   q.Get("name"),
		Find:   q.Get("find"),
		Target: q.Get("target"),
	}

	rel, err := s.engine.Relate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	text, err := s.explainer.Relationship(r.Context(), rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"explanation":   text,
		"similarity":    rel.Similarity,
		"subject_scale": rel.SubjectScale,
		"target_scale":  rel.TargetScale,
	})
}

// handleAnalyze takes query parameters on GET or a JSON body on POST.
// find_count is accepted as an alias of count.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req recommend.AnalyzeRequest
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Type, req.Name = q.Get("type"), q.Get("name")
		c := q.Get("count")
		if c == "" {
			c = q.Get("find_count")
		}
		if c != "" {
			n, err := strconv.Atoi(c)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "count must be an integer"})
				return
			}
			req.Count = n
		}

	case http.MethodPost:
		var body struct {
			recommend.AnalyzeRequest
			FindCount int `json:"find_count"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
			return
		}
		req = body.AnalyzeRequest
		if req.Count == 0 {
			req.Count = body.FindCount
		}

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	res, err := s.engine.Analyze(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HTTPStatus maps an engine error to a response code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, recommend.ErrInvalidRequest), errors.Is(err, explain.ErrUnknownTopic):
		return http.StatusBadRequest
	case errors.Is(err, recommend.ErrSubjectNotFound), errors.Is(err, recommend.ErrInsufficientData):
		return http.StatusNotFound
	case errors.Is(err, explain.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, source.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "request_id", w.Header().Get("X-Request-ID"), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
