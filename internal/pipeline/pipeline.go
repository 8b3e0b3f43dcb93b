// Package pipeline wires the retrieval and transformation stages into the
// single public entry point of the core: FetchAndAnalyze.
//
// Within one invocation the stages run strictly in sequence:
// cache -> rate gate -> transport -> normalize -> cost -> chart. Shared
// mutable state lives only in the rate gate and the result cache, both of
// which are injected and concurrency-safe, so any number of invocations
// may run in parallel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/voltbird/octoflux/internal/chart"
	"github.com/voltbird/octoflux/internal/cost"
	"github.com/voltbird/octoflux/internal/metrics"
	"github.com/voltbird/octoflux/internal/models"
	"github.com/voltbird/octoflux/internal/octopus"
	"github.com/voltbird/octoflux/internal/series"
)

// FuelResult is the complete analysis for one fuel type.
type FuelResult struct {
	Series  models.NormalizedSeries
	Cost    models.CostSummary
	Chart   chart.Spec
	Summary string
	// Attempts the transport needed for the consumption fetch; 0 when the
	// result came from cache.
	Attempts int
}

// Analysis is the outcome of one FetchAndAnalyze invocation. A dual-fuel
// request with one failing fuel still returns the surviving fuel's result,
// with the failure listed in Failures.
type Analysis struct {
	RequestID string
	Fuels     map[models.FuelType]*FuelResult
	// Combined is set for dual-fuel requests when both fuels produced a
	// series.
	Combined *chart.Spec
	Failures []*models.PartialFailure
}

// Pipeline composes the API client with the normalization, costing and
// chart-assembly stages.
type Pipeline struct {
	client           *octopus.Client
	logger           *logrus.Logger
	metrics          *metrics.Collector
	location         *time.Location
	missingThreshold float64
}

// New builds a pipeline presenting timestamps in loc. missingThreshold is
// the gap share above which series carry a data-quality warning; zero
// selects the default.
func New(client *octopus.Client, loc *time.Location, missingThreshold float64, logger *logrus.Logger, m *metrics.Collector) *Pipeline {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		client:           client,
		logger:           logger,
		metrics:          m,
		location:         loc,
		missingThreshold: missingThreshold,
	}
}

// FetchAndAnalyze retrieves consumption and tariff data for the request,
// normalizes it, prices it and assembles chart specs. A NotFoundError from
// the remote service yields an empty Analysis, not an error.
func (p *Pipeline) FetchAndAnalyze(ctx context.Context, req models.ConsumptionRequest) (*Analysis, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.ReferenceTime.IsZero() {
		req.ReferenceTime = time.Now()
	}

	analysis := &Analysis{
		RequestID: uuid.NewString(),
		Fuels:     make(map[models.FuelType]*FuelResult),
	}

	log := p.logger.WithFields(logrus.Fields{
		"request_id": analysis.RequestID,
		"account":    req.Credential.AccountNumber,
		"fuel":       req.Fuel,
		"days":       req.PeriodDays,
	})
	log.Info("starting analysis")

	data, failures, err := p.client.FetchConsumption(ctx, req)
	analysis.Failures = failures
	if err != nil {
		var rl *models.RateLimitedError
		if errors.As(err, &rl) {
			p.metrics.RecordRateLimited()
		}
		if models.IsNotFound(err) {
			log.Warn("no data for request window")
			return analysis, nil
		}
		return nil, err
	}

	from, to := req.Window()
	for fuel, fd := range data {
		result, err := p.analyzeFuel(ctx, req, fuel, fd, from, to)
		if err != nil {
			if len(data) == 1 && len(analysis.Failures) == 0 {
				return nil, err
			}
			analysis.Failures = append(analysis.Failures, &models.PartialFailure{Fuel: fuel, Err: err})
			continue
		}
		analysis.Fuels[fuel] = result
	}

	if len(analysis.Fuels) == 0 && len(analysis.Failures) > 0 {
		return nil, analysis.Failures[0].Err
	}

	p.combine(analysis, req)

	for _, f := range analysis.Failures {
		log.WithField("failed_fuel", f.Fuel).Warn("partial failure")
	}
	log.WithField("fuels", len(analysis.Fuels)).Info("analysis complete")

	return analysis, nil
}

// analyzeFuel runs the synchronous stages for one fuel: normalize, price,
// assemble.
func (p *Pipeline) analyzeFuel(ctx context.Context, req models.ConsumptionRequest, fuel models.FuelType, fd octopus.FuelData, from, to time.Time) (*FuelResult, error) {
	rates, _, err := p.client.TariffRates(ctx, req.Credential, fd.Meter, from, to)
	if err != nil {
		return nil, fmt.Errorf("tariff fetch for %s: %w", fuel, err)
	}

	normalized := series.Normalize(fd.Readings, fuel, p.location, p.missingThreshold)
	summary := cost.Compute(normalized, rates)

	if normalized.DataQualityWarning {
		p.logger.WithFields(logrus.Fields{
			"fuel":     fuel,
			"missing":  normalized.MissingCount,
			"expected": normalized.ExpectedCount,
		}).Warn("data quality warning")
	}

	return &FuelResult{
		Series:   normalized,
		Cost:     summary,
		Chart:    chart.Assemble(normalized, summary, req.PeriodDays),
		Summary:  cost.Summarize(normalized, summary),
		Attempts: fd.Attempts,
	}, nil
}

// combine attaches the dual-fuel chart when both fuels produced a series.
func (p *Pipeline) combine(analysis *Analysis, req models.ConsumptionRequest) {
	elec, okE := analysis.Fuels[models.FuelElectricity]
	gas, okG := analysis.Fuels[models.FuelGas]
	if !okE || !okG {
		return
	}

	combined := chart.AssembleCombined(
		elec.Series, gas.Series,
		elec.Cost.TotalCost+gas.Cost.TotalCost,
		req.PeriodDays,
	)
	analysis.Combined = &combined
}

func validate(req models.ConsumptionRequest) error {
	if req.Credential.APIKey == "" || req.Credential.AccountNumber == "" {
		return errors.New("credential is required")
	}
	if !req.Fuel.Valid() {
		return fmt.Errorf("invalid fuel type: %q", req.Fuel)
	}
	if !models.ValidPeriod(req.PeriodDays) {
		return fmt.Errorf("invalid period: %d days (want 7, 30 or 90)", req.PeriodDays)
	}
	return nil
}
