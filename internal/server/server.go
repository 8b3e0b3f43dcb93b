// Package server exposes the pipeline over HTTP. This is the caller
// boundary of the core; chat-platform integrations sit in front of it.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/voltbird/octoflux/internal/chart"
	"github.com/voltbird/octoflux/internal/credstore"
	"github.com/voltbird/octoflux/internal/metrics"
	"github.com/voltbird/octoflux/internal/models"
	"github.com/voltbird/octoflux/internal/pipeline"
)

// Server routes analysis requests into the pipeline.
type Server struct {
	pipeline *pipeline.Pipeline
	creds    credstore.Store
	logger   *logrus.Logger
	metrics  *metrics.Collector
}

// New creates a server. creds may be nil, in which case every request must
// carry its credential inline.
func New(p *pipeline.Pipeline, creds credstore.Store, logger *logrus.Logger, m *metrics.Collector) *Server {
	return &Server{pipeline: p, creds: creds, logger: logger, metrics: m}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/healthz", s.handleHealth)
	if reg := s.metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return mux
}

type analyzeRequest struct {
	// Either a stored user's ID or an inline credential.
	UserID        string `json:"user_id,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`

	Fuel       string `json:"fuel"`
	PeriodDays int    `json:"period_days"`
}

type fuelResponse struct {
	Summary            string     `json:"summary"`
	TotalCost          float64    `json:"total_cost"`
	Currency           string     `json:"currency"`
	DataQualityWarning bool       `json:"data_quality_warning,omitempty"`
	Attempts           int        `json:"attempts"`
	Chart              chart.Spec `json:"chart"`
}

type failureResponse struct {
	Fuel  string `json:"fuel"`
	Error string `json:"error"`
}

type analyzeResponse struct {
	RequestID string                  `json:"request_id"`
	Fuels     map[string]fuelResponse `json:"fuels"`
	Combined  *chart.Spec             `json:"combined_chart,omitempty"`
	Failures  []failureResponse       `json:"failures,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cred, err := s.resolveCredential(r, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	analysis, err := s.pipeline.FetchAndAnalyze(r.Context(), models.ConsumptionRequest{
		Credential:    cred,
		Fuel:          models.FuelType(req.Fuel),
		PeriodDays:    req.PeriodDays,
		ReferenceTime: time.Now(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := analyzeResponse{
		RequestID: analysis.RequestID,
		Fuels:     make(map[string]fuelResponse, len(analysis.Fuels)),
		Combined:  analysis.Combined,
	}
	for fuel, result := range analysis.Fuels {
		resp.Fuels[string(fuel)] = fuelResponse{
			Summary:            result.Summary,
			TotalCost:          result.Cost.TotalCost,
			Currency:           result.Cost.Currency,
			DataQualityWarning: result.Series.DataQualityWarning,
			Attempts:           result.Attempts,
			Chart:              result.Chart,
		}
	}
	for _, f := range analysis.Failures {
		resp.Failures = append(resp.Failures, failureResponse{Fuel: string(f.Fuel), Error: f.Err.Error()})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Full detail goes
// to the logs; end users see actionable or generic messages only.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		authErr *models.AuthError
		rlErr   *models.RateLimitedError
		trErr   *models.TransportError
	)

	switch {
	case errors.As(err, &authErr):
		http.Error(w, "invalid or expired API key: re-run setup with a fresh key", http.StatusUnauthorized)
	case errors.As(err, &rlErr):
		w.Header().Set("Retry-After", fmt.Sprint(int(rlErr.RetryAfter.Seconds())+1))
		http.Error(w, "too many requests: try again shortly", http.StatusTooManyRequests)
	case errors.As(err, &trErr):
		s.logger.WithFields(logrus.Fields{
			"kind":     trErr.Kind,
			"attempts": trErr.Attempts,
			"status":   trErr.StatusCode,
		}).Error("transport failure")
		http.Error(w, "energy data service is unavailable, please try again later", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (s *Server) resolveCredential(r *http.Request, req analyzeRequest) (models.Credential, error) {
	if req.APIKey != "" && req.AccountNumber != "" {
		return models.Credential{APIKey: req.APIKey, AccountNumber: req.AccountNumber}, nil
	}
	if req.UserID == "" {
		return models.Credential{}, errors.New("either user_id or api_key+account_number is required")
	}
	if s.creds == nil {
		return models.Credential{}, errors.New("credential store is not configured")
	}

	cred, err := s.creds.Get(r.Context(), req.UserID)
	if errors.Is(err, credstore.ErrNotFound) {
		return models.Credential{}, errors.New("no account on file for this user: run setup first")
	}
	if err != nil {
		return models.Credential{}, err
	}
	return cred, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}
