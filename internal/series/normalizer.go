// Package series aligns raw meter readings onto a uniform, timezone-correct
// time axis. All interval arithmetic happens in UTC; only the presentation
// timestamps are converted to the account's local timezone, which keeps
// daylight-saving transitions out of the gap math.
package series

import (
	"sort"
	"time"

	"github.com/voltbird/octoflux/internal/models"
)

// DefaultMissingThreshold is the missing-interval share above which a
// series carries a data-quality warning.
const DefaultMissingThreshold = 0.10

// Gas meters report cubic metres; billing is per kWh. Standard industry
// conversion: calorific value 39.5 MJ/m3, volume correction 1.02264,
// 3.6 MJ per kWh.
const (
	calorificValue   = 39.5
	volumeCorrection = 1.02264
	megajoulePerKWh  = 3.6
)

// GasToKWh converts a gas volume reading in cubic metres to kWh.
func GasToKWh(cubicMetres float64) float64 {
	return cubicMetres * calorificValue * volumeCorrection / megajoulePerKWh
}

// Normalize converts raw UTC readings into an ordered, duplicate-free,
// gap-explicit series in loc. Duplicate interval timestamps are resolved by
// keeping the most recently fetched value: a later element of raw wins over
// an earlier one. Missing intervals, detected against the cadence of the
// two earliest readings, are inserted with value 0 and Estimated set.
// Normalize is a pure function; the same input always yields the same
// series.
func Normalize(raw []models.RawReading, fuel models.FuelType, loc *time.Location, missingThreshold float64) models.NormalizedSeries {
	if loc == nil {
		loc = time.UTC
	}
	if missingThreshold <= 0 {
		missingThreshold = DefaultMissingThreshold
	}

	out := models.NormalizedSeries{Fuel: fuel, Unit: "kWh"}
	if len(raw) == 0 {
		return out
	}

	// Keep-latest tie-break: fetch order decides, so a later duplicate
	// overwrites an earlier one before any sorting happens.
	byStart := make(map[time.Time]models.RawReading, len(raw))
	for _, r := range raw {
		byStart[r.IntervalStart.UTC()] = r
	}

	starts := make([]time.Time, 0, len(byStart))
	for t := range byStart {
		starts = append(starts, t)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	cadence := time.Duration(0)
	if len(starts) >= 2 {
		cadence = starts[1].Sub(starts[0])
	}
	out.Cadence = cadence

	value := func(r models.RawReading) float64 {
		if r.Unit == "m3" || r.Unit == "m³" {
			return GasToKWh(r.Consumption)
		}
		return r.Consumption
	}

	if cadence <= 0 {
		r := byStart[starts[0]]
		out.Points = []models.SeriesPoint{{LocalTime: starts[0].In(loc), Value: value(r)}}
		out.ExpectedCount = 1
		return out
	}

	first, last := starts[0], starts[len(starts)-1]
	for t := first; !t.After(last); t = t.Add(cadence) {
		out.ExpectedCount++
		if r, ok := byStart[t]; ok {
			out.Points = append(out.Points, models.SeriesPoint{
				LocalTime: t.In(loc),
				Value:     value(r),
			})
		} else {
			out.MissingCount++
			out.Points = append(out.Points, models.SeriesPoint{
				LocalTime: t.In(loc),
				Value:     0,
				Estimated: true,
			})
		}
	}

	// Off-cadence stragglers (clock drift, meter reboots) do not fit the
	// expected axis; they are counted as present only if they landed on it.
	if out.ExpectedCount > 0 {
		missing := float64(out.MissingCount) / float64(out.ExpectedCount)
		out.DataQualityWarning = missing > missingThreshold
	}

	return out
}
