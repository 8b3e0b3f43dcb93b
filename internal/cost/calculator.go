// Package cost prices a normalized consumption series against tariff data.
package cost

import (
	"fmt"
	"strings"
	"time"

	"github.com/voltbird/octoflux/internal/models"
)

// Compute prices each interval of the series with the tariff rate active at
// its timestamp. Intervals no rate covers cost zero and are flagged in
// UnpricedIntervals rather than dropped. The standing charge is apportioned
// once per local calendar day covered by the series, using the rate in
// force at that day's first interval. Accumulation runs in ascending
// timestamp order, so repeated runs produce bit-identical totals.
func Compute(series models.NormalizedSeries, rates []models.TariffRate) models.CostSummary {
	summary := models.CostSummary{
		Currency:    "GBP",
		PerInterval: make([]float64, len(series.Points)),
	}

	var unitTotal float64
	var currentDay string

	for i, p := range series.Points {
		rate, ok := rateFor(p.LocalTime, rates)
		if !ok {
			summary.UnpricedIntervals = append(summary.UnpricedIntervals, i)
			continue
		}

		c := p.Value * rate.UnitRate
		summary.PerInterval[i] = c
		unitTotal += c

		day := p.LocalTime.Format("2006-01-02")
		if day != currentDay {
			currentDay = day
			summary.StandingChargeTotal += rate.StandingCharge
		}
	}

	summary.TotalCost = unitTotal + summary.StandingChargeTotal
	return summary
}

// rateFor returns the rate whose [ValidFrom, ValidTo) window contains t.
// Nil bounds are open-ended.
func rateFor(t time.Time, rates []models.TariffRate) (models.TariffRate, bool) {
	for _, r := range rates {
		if r.Covers(t) {
			return r, true
		}
	}
	return models.TariffRate{}, false
}

// Summarize renders the human-readable cost breakdown for one fuel, in the
// shape the bot sends back to users.
func Summarize(series models.NormalizedSeries, summary models.CostSummary) string {
	var total float64
	for _, p := range series.Points {
		total += p.Value
	}

	fuel := string(series.Fuel)
	var b strings.Builder
	fmt.Fprintf(&b, "Total %s consumption: %.2f kWh\n", fuel, total)
	fmt.Fprintf(&b, "Total %s unit cost: £%.2f\n", fuel, summary.TotalCost-summary.StandingChargeTotal)
	fmt.Fprintf(&b, "Total standing charge: £%.2f\n", summary.StandingChargeTotal)
	fmt.Fprintf(&b, "Total %s cost: £%.2f", fuel, summary.TotalCost)
	if series.DataQualityWarning {
		fmt.Fprintf(&b, "\n(%d of %d expected intervals missing)", series.MissingCount, series.ExpectedCount)
	}
	return b.String()
}
