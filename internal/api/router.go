package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/graph"
	"github.com/wonny/hedgefund/internal/hedgefund"
	"github.com/wonny/hedgefund/internal/router"
	"github.com/wonny/hedgefund/internal/snapshot"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Runner executes an analysis run
type Runner interface {
	Run(ctx context.Context, req hedgefund.Request, sink graph.ProgressSink) (*hedgefund.Result, error)
}

// StatusSource reports provider health
type StatusSource interface {
	ProviderStatus(ctx context.Context, refresh bool) []router.ProviderStatus
}

// SnapshotIndex lists mirrored snapshots
type SnapshotIndex interface {
	Index(ctx context.Context) ([]snapshot.IndexEntry, error)
}

// Deps are the collaborators behind the endpoints. Snapshots, Gatherer
// and Hub are optional.
type Deps struct {
	Runner    Runner
	Providers StatusSource
	Snapshots SnapshotIndex
	Analysts  []string
	Gatherer  prometheus.Gatherer
	Hub       *Hub
}

type handler struct {
	deps   Deps
	logger *logger.Logger
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: routes are declared only in this function
func NewRouter(deps Deps, log *logger.Logger) http.Handler {
	h := &handler{deps: deps, logger: log}
	r := mux.NewRouter()

	r.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if deps.Hub != nil {
		r.HandleFunc("/ws/runs", deps.Hub.ServeWS)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/runs", h.createRun).Methods(http.MethodPost)
	v1.HandleFunc("/providers", h.providers).Methods(http.MethodGet)
	v1.HandleFunc("/snapshots", h.snapshots).Methods(http.MethodGet)
	v1.HandleFunc("/analysts", h.analysts).Methods(http.MethodGet)

	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "hedgefund-api",
	})
}

// runRequest is the JSON body of POST /api/v1/runs
type runRequest struct {
	Tickers           []string `json:"tickers"`
	StartDate         string   `json:"start_date"`
	EndDate           string   `json:"end_date"`
	InitialCash       float64  `json:"initial_cash"`
	MarginRequirement float64  `json:"margin_requirement"`
	SelectedAnalysts  []string `json:"selected_analysts"`
	ModelName         string   `json:"model_name"`
	ShowReasoning     bool     `json:"show_reasoning"`
	Apply             bool     `json:"apply"`
}

func (rr runRequest) toRequest(now time.Time) hedgefund.Request {
	start, end := hedgefund.DefaultDates(now)
	if rr.StartDate != "" {
		start = rr.StartDate
	}
	if rr.EndDate != "" {
		end = rr.EndDate
	}
	return hedgefund.Request{
		Tickers:          rr.Tickers,
		StartDate:        start,
		EndDate:          end,
		Portfolio:        contracts.NewPortfolio(rr.InitialCash, rr.MarginRequirement, rr.Tickers),
		SelectedAnalysts: rr.SelectedAnalysts,
		ModelName:        rr.ModelName,
		ShowReasoning:    rr.ShowReasoning,
		Apply:            rr.Apply,
	}
}

func (h *handler) createRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	var sink graph.ProgressSink
	if h.deps.Hub != nil {
		sink = h.deps.Hub
	}
	res, err := h.deps.Runner.Run(r.Context(), body.toRequest(time.Now()), sink)
	if err != nil {
		status := statusFor(err)
		h.logger.WithFields(map[string]interface{}{
			"tickers": body.Tickers,
			"status":  status,
			"error":   err.Error(),
		}).Warn("Run request failed")
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, contracts.ErrPrecondition), errors.Is(err, contracts.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) providers(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.deps.Providers.ProviderStatus(r.Context(), refresh),
	})
}

func (h *handler) snapshots(w http.ResponseWriter, r *http.Request) {
	if h.deps.Snapshots == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false, "entries": []snapshot.IndexEntry{}})
		return
	}

	entries, err := h.deps.Snapshots.Index(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ticker := r.URL.Query().Get("ticker"); ticker != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Ticker == ticker {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": true, "entries": entries})
}

func (h *handler) analysts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"analysts": h.deps.Analysts})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")
					writeError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
