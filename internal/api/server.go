package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"lottery-engine/internal/lottery"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

// ApiResponse is the envelope of every JSON response.
type ApiResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Server exposes an AppState over HTTP.
type Server struct {
	state    *AppState
	gatherer prometheus.Gatherer
	router   *mux.Router
	server   *http.Server
}

// NewServer wires the routes. gatherer backs /metrics; nil serves the
// default registry.
func NewServer(state *AppState, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{state: state, gatherer: gatherer}

	r := mux.NewRouter()
	r.Use(s.requestMiddleware)
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/ws/events", state.hub.ServeWS).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/predict", s.handlePredict).Methods("POST")
	api.HandleFunc("/train", s.handleTrain).Methods("POST")
	api.HandleFunc("/collect", s.handleCollect).Methods("POST")
	api.HandleFunc("/{variant}/algorithms", s.handleAlgorithms).Methods("GET")
	api.HandleFunc("/{variant}/algorithms/{name}", s.handleMetadata).Methods("GET")
	api.HandleFunc("/{variant}/trained", s.handleTrained).Methods("GET")
	api.HandleFunc("/{variant}/rankings", s.handleRankings).Methods("GET")
	api.HandleFunc("/{variant}/recommend", s.handleRecommend).Methods("GET")
	api.HandleFunc("/{variant}/drawings", s.handleDrawings).Methods("GET")
	api.HandleFunc("/{variant}/compare", s.handleCompare).Methods("GET")
	api.HandleFunc("/{variant}/drift", s.handleDrift).Methods("GET")
	api.HandleFunc("/{variant}/predictions", s.handlePredictions).Methods("GET")
	api.HandleFunc("/{variant}/runs", s.handleRuns).Methods("GET")
	api.HandleFunc("/{variant}/models/{name}/versions", s.handleVersions).Methods("GET")
	api.HandleFunc("/{variant}/models/{name}/rollback", s.handleRollback).Methods("POST")

	s.router = r
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	settings := s.state.Settings()
	s.server = &http.Server{
		Addr:              settings.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       settings.ReadTimeout,
		WriteTimeout:      settings.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", s.server.Addr).Msg("Starting API server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown API server: %w", err)
	}
	log.Info().Msg("API server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		// The event stream needs the raw writer for the upgrade.
		if route == "/ws/events" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		s.state.metrics.RequestObserve(route, rec.status, elapsed.Seconds())

		log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("Handled request")
	})
}

func writeJSON(w http.ResponseWriter, code int, resp ApiResponse) {
	resp.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data})
}

// statusFor maps engine error kinds to HTTP status codes.
func statusFor(err error) int {
	switch lottery.KindOf(err) {
	case lottery.KindInvalidParameter:
		return http.StatusBadRequest
	case lottery.KindAlgorithm:
		return http.StatusUnprocessableEntity
	case lottery.KindNotFound:
		return http.StatusNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	writeJSON(w, code, ApiResponse{Success: false, Message: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return lottery.InvalidParameter("invalid request body: %v", err)
	}
	return nil
}

func pathVariant(r *http.Request) (lottery.Variant, error) {
	return lottery.ParseVariant(mux.Vars(r)["variant"])
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, lottery.InvalidParameter("%s must be an integer, got %q", key, raw)
	}
	return n, nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, lottery.InvalidParameter("%s must be a number, got %q", key, raw)
	}
	return f, nil
}

// variantHandler resolves {variant} and calls fn, wrapping its result.
func (s *Server) variantHandler(w http.ResponseWriter, r *http.Request, fn func(lottery.Variant) (any, error)) {
	v, err := pathVariant(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := fn(v)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]any{
		"status":        "healthy",
		"lottery_types": s.state.Variants(),
		"ws_clients":    s.state.hub.ClientCount(),
		"error_rate":    s.state.metrics.ErrorRate(),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := lottery.ParseVariant(string(req.Variant))
	if err != nil {
		writeError(w, err)
		return
	}
	req.Variant = v
	out, err := s.state.Predict(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, out)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req TrainingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := lottery.ParseVariant(string(req.Variant))
	if err != nil {
		writeError(w, err)
		return
	}
	req.Variant = v
	results, err := s.state.Train(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: results, Message: "training completed"})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req DataCollectionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	names := make([]string, len(req.Variants))
	for i, v := range req.Variants {
		names[i] = string(v)
	}
	variants, err := lottery.ParseVariants(names)
	if err != nil {
		writeError(w, err)
		return
	}
	req.Variants = variants
	results, err := s.state.CollectData(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, results)
}

func (s *Server) handleAlgorithms(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) { return s.state.ListAvailable(v) })
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) {
		if _, err := s.state.variant(v); err != nil {
			return nil, err
		}
		return s.state.Metadata(mux.Vars(r)["name"])
	})
}

func (s *Server) handleTrained(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) { return s.state.ListTrained(v) })
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) { return s.state.Rankings(v) })
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) {
		size, err := queryInt(r, "data_size")
		if err != nil {
			return nil, err
		}
		target, err := queryFloat(r, "target_accuracy")
		if err != nil {
			return nil, err
		}
		return s.state.Recommend(v, size, target)
	})
}

func (s *Server) handleDrawings(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) {
		count, err := queryInt(r, "count")
		if err != nil {
			return nil, err
		}
		return s.state.RecentDrawings(v, count)
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) { return s.state.Compare(r.Context(), v) })
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) { return s.state.Drift(v) })
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) {
		count, err := queryInt(r, "count")
		if err != nil {
			return nil, err
		}
		return s.state.Predictions(v, count)
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) { return s.state.TrainingRuns(v) })
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) {
		return s.state.Versions(v, mux.Vars(r)["name"])
	})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	s.variantHandler(w, r, func(v lottery.Variant) (any, error) {
		return s.state.Rollback(v, mux.Vars(r)["name"])
	})
}
