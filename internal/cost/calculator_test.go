package cost

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltbird/octoflux/internal/models"
)

func seriesOf(from time.Time, cadence time.Duration, values ...float64) models.NormalizedSeries {
	s := models.NormalizedSeries{Fuel: models.FuelElectricity, Unit: "kWh", Cadence: cadence}
	for i, v := range values {
		s.Points = append(s.Points, models.SeriesPoint{
			LocalTime: from.Add(time.Duration(i) * cadence),
			Value:     v,
		})
	}
	s.ExpectedCount = len(values)
	return s
}

func openRate(unit, standing float64) models.TariffRate {
	return models.TariffRate{UnitRate: unit, StandingCharge: standing}
}

func TestComputeSingleRate(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := seriesOf(from, 30*time.Minute, 1.0, 2.0, 3.0)

	summary := Compute(s, []models.TariffRate{openRate(0.30, 0.50)})

	assert.Equal(t, "GBP", summary.Currency)
	assert.Empty(t, summary.UnpricedIntervals)
	require.Len(t, summary.PerInterval, 3)
	assert.InDelta(t, 0.30, summary.PerInterval[0], 1e-9)
	assert.InDelta(t, 0.90, summary.PerInterval[2], 1e-9)

	// One calendar day, so one standing charge.
	assert.InDelta(t, 0.50, summary.StandingChargeTotal, 1e-9)
	assert.InDelta(t, 1.80+0.50, summary.TotalCost, 1e-9)
}

func TestComputeTotalsReconcile(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	values := make([]float64, 48*3)
	for i := range values {
		values[i] = 0.123 + float64(i%7)*0.05
	}
	s := seriesOf(from, 30*time.Minute, values...)

	summary := Compute(s, []models.TariffRate{openRate(0.2862, 0.4785)})

	var perIntervalSum float64
	for _, c := range summary.PerInterval {
		perIntervalSum += c
	}
	assert.InDelta(t, summary.TotalCost, perIntervalSum+summary.StandingChargeTotal, 1e-6)
}

func TestComputeTariffChangeMidPeriod(t *testing.T) {
	from := time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)
	s := seriesOf(from, 30*time.Minute, 1.0, 1.0, 1.0, 1.0)

	cut := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	rates := []models.TariffRate{
		{UnitRate: 0.10, StandingCharge: 0.40, ValidTo: &cut},
		{UnitRate: 0.20, StandingCharge: 0.60, ValidFrom: &cut},
	}

	summary := Compute(s, rates)

	// 23:00 and 23:30 at the old rate, 00:00 and 00:30 at the new one.
	assert.InDelta(t, 0.10, summary.PerInterval[0], 1e-9)
	assert.InDelta(t, 0.10, summary.PerInterval[1], 1e-9)
	assert.InDelta(t, 0.20, summary.PerInterval[2], 1e-9)
	assert.InDelta(t, 0.20, summary.PerInterval[3], 1e-9)

	// Two calendar days, each charged at the rate of its first interval.
	assert.InDelta(t, 0.40+0.60, summary.StandingChargeTotal, 1e-9)
}

func TestComputeRateBoundaryIsHalfOpen(t *testing.T) {
	cut := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	rates := []models.TariffRate{
		{UnitRate: 0.10, ValidTo: &cut},
		{UnitRate: 0.20, ValidFrom: &cut},
	}

	s := seriesOf(cut, 30*time.Minute, 1.0)
	summary := Compute(s, rates)

	// A point exactly at the boundary belongs to the new rate.
	assert.InDelta(t, 0.20, summary.PerInterval[0], 1e-9)
}

func TestComputeUnpricedIntervalsFlagged(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := seriesOf(from, 30*time.Minute, 1.0, 1.0, 1.0)

	// Rates only begin after the second interval.
	start := from.Add(time.Hour)
	rates := []models.TariffRate{{UnitRate: 0.30, StandingCharge: 0.50, ValidFrom: &start}}

	summary := Compute(s, rates)

	assert.Equal(t, []int{0, 1}, summary.UnpricedIntervals)
	assert.Zero(t, summary.PerInterval[0])
	assert.Zero(t, summary.PerInterval[1])
	assert.InDelta(t, 0.30, summary.PerInterval[2], 1e-9)
	assert.InDelta(t, 0.30+0.50, summary.TotalCost, 1e-9)
}

func TestComputeNoRates(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := seriesOf(from, 30*time.Minute, 1.0, 2.0)

	summary := Compute(s, nil)
	assert.Equal(t, []int{0, 1}, summary.UnpricedIntervals)
	assert.Zero(t, summary.TotalCost)
	assert.Zero(t, summary.StandingChargeTotal)
}

func TestComputeStandingChargePerDay(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	values := make([]float64, 48*3) // three full days, half-hourly
	for i := range values {
		values[i] = 0.1
	}
	s := seriesOf(from, 30*time.Minute, values...)

	summary := Compute(s, []models.TariffRate{openRate(0.30, 0.4785)})
	assert.InDelta(t, 3*0.4785, summary.StandingChargeTotal, 1e-9)
}

func TestSummarize(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := seriesOf(from, 30*time.Minute, 1.0, 2.0)

	summary := Compute(s, []models.TariffRate{openRate(0.30, 0.50)})
	text := Summarize(s, summary)

	assert.Contains(t, text, "Total electricity consumption: 3.00 kWh")
	assert.Contains(t, text, "Total electricity unit cost: £0.90")
	assert.Contains(t, text, "Total standing charge: £0.50")
	assert.Contains(t, text, "Total electricity cost: £1.40")
	assert.NotContains(t, text, "missing")
}

func TestSummarizeFlagsMissingData(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := seriesOf(from, 30*time.Minute, 1.0, 0, 1.0)
	s.Points[1].Estimated = true
	s.MissingCount = 1
	s.ExpectedCount = 3
	s.DataQualityWarning = true

	text := Summarize(s, Compute(s, []models.TariffRate{openRate(0.30, 0.50)}))
	assert.True(t, strings.Contains(text, "1 of 3 expected intervals missing"))
}
