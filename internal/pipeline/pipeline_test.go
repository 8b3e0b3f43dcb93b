package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltbird/octoflux/internal/cache"
	"github.com/voltbird/octoflux/internal/models"
	"github.com/voltbird/octoflux/internal/octopus"
	"github.com/voltbird/octoflux/internal/ratelimit"
)

type fixture struct {
	srv       *httptest.Server
	pipeline  *Pipeline
	httpCalls int64
	gasStatus int
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{gasStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/A-123/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
          "number": "A-123",
          "properties": [{
            "electricity_meter_points": [{
              "mpan": "1200023305670",
              "meters": [{"serial_number": "21E1111111"}],
              "agreements": [{"tariff_code": "E-1R-VAR-22-11-01-A", "valid_from": "2023-01-01T00:00:00Z"}]
            }],
            "gas_meter_points": [{
              "mprn": "3088512906",
              "meters": [{"serial_number": "G4G11111111"}],
              "agreements": [{"tariff_code": "G-1R-VAR-22-11-01-A", "valid_from": "2023-01-01T00:00:00Z"}]
            }]
          }]
        }`)
	})
	mux.HandleFunc("/electricity-meter-points/1200023305670/meters/21E1111111/consumption/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.httpCalls, 1)
		fmt.Fprint(w, `{
          "count": 2, "next": null,
          "results": [
            {"consumption": 0.2, "interval_start": "2025-03-09T00:00:00Z", "interval_end": "2025-03-09T00:30:00Z"},
            {"consumption": 0.3, "interval_start": "2025-03-09T00:30:00Z", "interval_end": "2025-03-09T01:00:00Z"}
          ]
        }`)
	})
	mux.HandleFunc("/gas-meter-points/3088512906/meters/G4G11111111/consumption/", func(w http.ResponseWriter, r *http.Request) {
		if f.gasStatus != http.StatusOK {
			w.WriteHeader(f.gasStatus)
			return
		}
		fmt.Fprint(w, `{
          "count": 2, "next": null,
          "results": [
            {"consumption": 1.0, "interval_start": "2025-03-09T00:00:00Z", "interval_end": "2025-03-09T00:30:00Z"},
            {"consumption": 1.5, "interval_start": "2025-03-09T00:30:00Z", "interval_end": "2025-03-09T01:00:00Z"}
          ]
        }`)
	})
	tariff := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
          "count": 1, "next": null,
          "results": [{"value_inc_vat": 28.62, "valid_from": "2024-01-01T00:00:00Z", "valid_to": null}]
        }`)
	}
	mux.HandleFunc("/products/VAR-22-11-01/electricity-tariffs/E-1R-VAR-22-11-01-A/standard-unit-rates/", tariff)
	mux.HandleFunc("/products/VAR-22-11-01/electricity-tariffs/E-1R-VAR-22-11-01-A/standing-charges/", tariff)
	mux.HandleFunc("/products/VAR-22-11-01/gas-tariffs/G-1R-VAR-22-11-01-A/standard-unit-rates/", tariff)
	mux.HandleFunc("/products/VAR-22-11-01/gas-tariffs/G-1R-VAR-22-11-01-A/standing-charges/", tariff)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	c, err := cache.New(100)
	require.NoError(t, err)

	gate := ratelimit.NewGate(ratelimit.Config{
		GlobalRPS:    1000,
		GlobalBurst:  1000,
		Cooldown:     time.Millisecond,
		AccountBurst: 1000,
	})
	transport := octopus.NewTransport(nil, gate, octopus.TransportConfig{
		MaxAttempts: 1,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
		MaxElapsed:  time.Second,
	}, logger, nil)
	client := octopus.NewClient(f.srv.URL, transport, c, time.Hour, logger, nil)

	f.pipeline = New(client, time.UTC, 0, logger, nil)
	return f
}

func request(fuel models.FuelType) models.ConsumptionRequest {
	return models.ConsumptionRequest{
		Credential:    models.Credential{APIKey: "sk_test", AccountNumber: "A-123"},
		Fuel:          fuel,
		PeriodDays:    models.PeriodWeek,
		ReferenceTime: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request(models.FuelElectricity)
	req.Credential.APIKey = ""
	_, err := f.pipeline.FetchAndAnalyze(ctx, req)
	assert.ErrorContains(t, err, "credential")

	req = request("water")
	_, err = f.pipeline.FetchAndAnalyze(ctx, req)
	assert.ErrorContains(t, err, "invalid fuel")

	req = request(models.FuelElectricity)
	req.PeriodDays = 14
	_, err = f.pipeline.FetchAndAnalyze(ctx, req)
	assert.ErrorContains(t, err, "invalid period")

	assert.Zero(t, atomic.LoadInt64(&f.httpCalls), "invalid requests never reach the transport")
}

func TestSingleFuelAnalysis(t *testing.T) {
	f := newFixture(t)

	analysis, err := f.pipeline.FetchAndAnalyze(context.Background(), request(models.FuelElectricity))
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.NotEmpty(t, analysis.RequestID)
	assert.Nil(t, analysis.Combined)
	assert.Empty(t, analysis.Failures)

	result := analysis.Fuels[models.FuelElectricity]
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Attempts)

	require.Len(t, result.Series.Points, 2)
	assert.Equal(t, "kWh", result.Series.Unit)

	// 0.5 kWh at 28.62p plus one day of standing charge.
	assert.InDelta(t, 0.5*0.2862+0.2862, result.Cost.TotalCost, 1e-9)
	assert.Contains(t, result.Summary, "Total electricity consumption: 0.50 kWh")
	assert.Equal(t, 7, result.Chart.PeriodDays)
	require.Len(t, result.Chart.Series, 1)
}

func TestRepeatRequestServedFromCache(t *testing.T) {
	f := newFixture(t)
	req := request(models.FuelElectricity)

	first, err := f.pipeline.FetchAndAnalyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Fuels[models.FuelElectricity].Attempts)
	calls := atomic.LoadInt64(&f.httpCalls)

	second, err := f.pipeline.FetchAndAnalyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, calls, atomic.LoadInt64(&f.httpCalls), "second identical request must not fetch again")
	assert.Equal(t, 0, second.Fuels[models.FuelElectricity].Attempts)
	assert.Equal(t, first.Fuels[models.FuelElectricity].Cost, second.Fuels[models.FuelElectricity].Cost)
}

func TestDualFuelProducesCombinedChart(t *testing.T) {
	f := newFixture(t)

	analysis, err := f.pipeline.FetchAndAnalyze(context.Background(), request(models.FuelBoth))
	require.NoError(t, err)

	assert.Len(t, analysis.Fuels, 2)
	require.NotNil(t, analysis.Combined)
	assert.Len(t, analysis.Combined.Series, 2)
	assert.Equal(t, 7, analysis.Combined.PeriodDays)

	elec := analysis.Fuels[models.FuelElectricity]
	gas := analysis.Fuels[models.FuelGas]
	expected := elec.Cost.TotalCost + gas.Cost.TotalCost
	assert.Contains(t, analysis.Combined.CostLabel, fmt.Sprintf("%.2f", expected))

	// Gas readings arrive in cubic metres and must come out in kWh.
	assert.InDelta(t, 1.0*39.5*1.02264/3.6, gas.Series.Points[0].Value, 1e-6)
}

func TestDualFuelPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.gasStatus = http.StatusInternalServerError

	analysis, err := f.pipeline.FetchAndAnalyze(context.Background(), request(models.FuelBoth))
	require.NoError(t, err, "surviving fuel must be returned")

	assert.Contains(t, analysis.Fuels, models.FuelElectricity)
	assert.NotContains(t, analysis.Fuels, models.FuelGas)
	assert.Nil(t, analysis.Combined, "no combined chart without both fuels")

	require.Len(t, analysis.Failures, 1)
	assert.Equal(t, models.FuelGas, analysis.Failures[0].Fuel)
}

func TestSingleFuelFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	f.gasStatus = http.StatusInternalServerError

	_, err := f.pipeline.FetchAndAnalyze(context.Background(), request(models.FuelGas))
	require.Error(t, err)

	var te *models.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestUnknownAccountYieldsEmptyAnalysis(t *testing.T) {
	f := newFixture(t)

	req := request(models.FuelElectricity)
	req.Credential.AccountNumber = "A-999"

	analysis, err := f.pipeline.FetchAndAnalyze(context.Background(), req)
	require.NoError(t, err, "a missing resource is an empty result, not a failure")
	require.NotNil(t, analysis)
	assert.Empty(t, analysis.Fuels)
}
