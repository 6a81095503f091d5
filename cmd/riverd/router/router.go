// Package router configures HTTP routes for the riverd API.
//
// Routes configured:
//   - GET /meander_migration/params/ - Post-processed centerline rows for a
//     target quarter (historical lookup at or before the epoch, forecast after)
//   - GET /meander_migration/params/explain_migration/ - Attribution tensor
//     for one step of an already-computed forecast run
//   - GET /flood/predict - Flood-risk payload for a calendar date
//   - GET /erosion/predict - Riverbank width forecast for a quarter
//   - GET /erosion/sensitivity - Width sensitivity to input nudges
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Prometheus metrics endpoint
//
// Domain errors map onto status codes uniformly: invalid input is 400, a
// missing record or not-yet-computed attribution is 404, a failed pipeline
// run is 500, and an untrained flood model is 503.
package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riverinsight/riverd/pkg/erosion"
	"github.com/riverinsight/riverd/pkg/flood"
	"github.com/riverinsight/riverd/pkg/httpx"
	"github.com/riverinsight/riverd/pkg/meander"
	"github.com/riverinsight/riverd/pkg/timeindex"
)

const requestTimeout = 30 * time.Second

// Options carries the router's collaborators and defaults.
type Options struct {
	Meander   *meander.Service
	Flood     *flood.Forecaster
	Erosion   *erosion.Predictor
	DeltaMode meander.DeltaMode
	Origins   []string
	Logger    *slog.Logger
}

// SetupRoutes configures the riverd HTTP endpoints.
func SetupRoutes(opts Options) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(httpx.RecoveryMiddleware(logger))
	r.Use(httpx.LoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.Origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", httpx.HealthHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/meander_migration/params/", handleMigrationParams(opts.Meander, opts.DeltaMode, logger))
	r.Get("/meander_migration/params/explain_migration/", handleExplainMigration(opts.Meander, logger))
	r.Get("/flood/predict", handleFloodPredict(opts.Flood, logger))
	r.Get("/erosion/predict", handleErosionPredict(opts.Erosion, logger))
	r.Get("/erosion/sensitivity", handleErosionSensitivity(opts.Erosion, logger))

	return r
}

// queryTimeIndex parses the year and quart query parameters.
func queryTimeIndex(r *http.Request) (timeindex.TimeIndex, bool, string) {
	yearStr := r.URL.Query().Get("year")
	quartStr := r.URL.Query().Get("quart")
	if yearStr == "" || quartStr == "" {
		return timeindex.TimeIndex{}, false, "year and quart parameters required"
	}

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return timeindex.TimeIndex{}, false, "year must be an integer"
	}
	quart, err := strconv.Atoi(quartStr)
	if err != nil {
		return timeindex.TimeIndex{}, false, "quart must be an integer"
	}

	idx, err := timeindex.New(year, quart)
	if err != nil {
		return timeindex.TimeIndex{}, false, err.Error()
	}
	return idx, true, ""
}

// queryFloat parses a required float query parameter.
func queryFloat(r *http.Request, name string) (float64, bool, string) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, false, name + " parameter required"
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, name + " must be a number"
	}
	return v, true, ""
}

// writeDomainError translates pipeline errors into HTTP responses.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var compErr *meander.ComputationError

	switch {
	case errors.Is(err, meander.ErrInvalidInput) || errors.Is(err, flood.ErrInvalidDate):
		httpx.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, meander.ErrNotComputed) || errors.Is(err, meander.ErrNoHistory) || errors.Is(err, meander.ErrRunNotFound):
		httpx.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, flood.ErrUntrained):
		httpx.WriteError(w, http.StatusServiceUnavailable, err)
	case errors.As(err, &compErr):
		logger.Error("forecast computation failed", "step", compErr.Step, "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "forecast computation failed")
	default:
		logger.Error("request failed", "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleMigrationParams returns a handler for
// GET /meander_migration/params/?year=<y>&quart=<q>[&mode=<delta mode>].
func handleMigrationParams(svc *meander.Service, defaultMode meander.DeltaMode, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, ok, msg := queryTimeIndex(r)
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, msg)
			return
		}

		mode := defaultMode
		if s := r.URL.Query().Get("mode"); s != "" {
			parsed, err := meander.ParseDeltaMode(s)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err)
				return
			}
			mode = parsed
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		rows, err := svc.Rows(ctx, idx, mode)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		resp := map[string]any{
			"year":    idx.Year,
			"quarter": idx.Quarter,
			"mode":    string(mode),
			"rows":    rows,
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleExplainMigration returns a handler for
// GET /meander_migration/params/explain_migration/?year=<y>&quart=<q>&idx=<step>.
func handleExplainMigration(svc *meander.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, ok, msg := queryTimeIndex(r)
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, msg)
			return
		}

		idxStr := r.URL.Query().Get("idx")
		if idxStr == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "idx parameter required")
			return
		}
		stepIndex, err := strconv.Atoi(idxStr)
		if err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "idx must be an integer")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		attribution, err := svc.Attribution(ctx, target, stepIndex)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		resp := map[string]any{
			"year":        target.Year,
			"quarter":     target.Quarter,
			"step_index":  stepIndex,
			"attribution": attribution,
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleFloodPredict returns a handler for GET /flood/predict?date=YYYY-MM-DD.
func handleFloodPredict(f *flood.Forecaster, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dateStr := r.URL.Query().Get("date")
		if dateStr == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "date parameter required")
			return
		}

		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
			return
		}

		if f == nil {
			writeDomainError(w, logger, flood.ErrUntrained)
			return
		}

		pred, err := f.Predict(date)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, pred); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleErosionPredict returns a handler for
// GET /erosion/predict?year=<y>&quart=<q>&rainfall=<mm>&temperature=<degC>.
func handleErosionPredict(p *erosion.Predictor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, ok, msg := queryTimeIndex(r)
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, msg)
			return
		}
		rainfall, ok, msg := queryFloat(r, "rainfall")
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, msg)
			return
		}
		temperature, ok, msg := queryFloat(r, "temperature")
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, msg)
			return
		}

		pred, err := p.Predict(idx, rainfall, temperature)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, pred); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleErosionSensitivity returns a handler for
// GET /erosion/sensitivity?year=<y>&quart=<q>&rainfall=<mm>&temperature=<degC>.
func handleErosionSensitivity(p *erosion.Predictor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, ok, msg := queryTimeIndex(r)
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, msg)
			return
		}
		rainfall, ok, msg := queryFloat(r, "rainfall")
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, msg)
			return
		}
		temperature, ok, msg := queryFloat(r, "temperature")
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, msg)
			return
		}

		sens, err := p.Sensitivity(idx, rainfall, temperature, erosion.DefaultDeltas())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, sens); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
