package models

import "time"

// FuelType identifies the commodity a reading or tariff belongs to.
type FuelType string

const (
	FuelElectricity FuelType = "electricity"
	FuelGas         FuelType = "gas"
	FuelBoth        FuelType = "both"
)

// Valid reports whether f is one of the supported fuel types.
func (f FuelType) Valid() bool {
	switch f {
	case FuelElectricity, FuelGas, FuelBoth:
		return true
	}
	return false
}

// Fuels expands the selection into the concrete fuel types to query.
func (f FuelType) Fuels() []FuelType {
	if f == FuelBoth {
		return []FuelType{FuelElectricity, FuelGas}
	}
	return []FuelType{f}
}

// Supported request periods, in days.
const (
	PeriodWeek    = 7
	PeriodMonth   = 30
	PeriodQuarter = 90
)

// ValidPeriod reports whether days is a supported request period.
func ValidPeriod(days int) bool {
	return days == PeriodWeek || days == PeriodMonth || days == PeriodQuarter
}

// Credential identifies a remote-service principal. It is supplied by an
// external store and treated as read-only; the APIKey must never be logged.
type Credential struct {
	APIKey        string
	AccountNumber string
}

// ConsumptionRequest describes one invocation of the pipeline. Immutable
// once constructed.
type ConsumptionRequest struct {
	Credential    Credential
	Fuel          FuelType
	PeriodDays    int
	ReferenceTime time.Time
}

// Window returns the [from, to) query window the request covers.
func (r ConsumptionRequest) Window() (time.Time, time.Time) {
	to := r.ReferenceTime.UTC()
	return to.AddDate(0, 0, -r.PeriodDays), to
}

// RawReading is a single consumption record as returned by the remote
// service. IntervalStart and IntervalEnd are UTC instants.
type RawReading struct {
	IntervalStart time.Time
	IntervalEnd   time.Time
	Consumption   float64
	Unit          string
}

// SeriesPoint is one entry of a NormalizedSeries. LocalTime is the interval
// start converted to the account's timezone. Estimated marks intervals the
// normalizer inserted to represent missing data.
type SeriesPoint struct {
	LocalTime time.Time
	Value     float64
	Estimated bool
}

// NormalizedSeries is an ordered, duplicate-free, gap-explicit consumption
// series for one fuel type. Timestamps are strictly increasing.
type NormalizedSeries struct {
	Fuel    FuelType
	Unit    string
	Cadence time.Duration
	Points  []SeriesPoint

	// Gap accounting. DataQualityWarning is set when the missing share of
	// expected intervals exceeds the configured threshold.
	ExpectedCount      int
	MissingCount       int
	DataQualityWarning bool
}

// TariffRate is a priced rate plan valid over [ValidFrom, ValidTo).
// A nil bound is open-ended. UnitRate and StandingCharge are in pounds
// (per kWh and per day respectively).
type TariffRate struct {
	UnitRate       float64
	StandingCharge float64
	ValidFrom      *time.Time
	ValidTo        *time.Time
}

// Covers reports whether t falls within the rate's validity window.
func (r TariffRate) Covers(t time.Time) bool {
	from := r.ValidFrom == nil || !t.Before(*r.ValidFrom)
	to := r.ValidTo == nil || t.Before(*r.ValidTo)
	return from && to
}

// CostSummary is the priced view of a NormalizedSeries. PerInterval is
// aligned index-for-index with the series points.
type CostSummary struct {
	TotalCost           float64
	PerInterval         []float64
	StandingChargeTotal float64
	Currency            string

	// Indexes of series points no tariff rate covered. Their cost is zero
	// but they are flagged rather than dropped.
	UnpricedIntervals []int
}

// MeterPoint describes one meter discovered on the account: the mpan
// (electricity) or mprn (gas), the meter serial and the tariff it is
// billed under.
type MeterPoint struct {
	Fuel        FuelType
	PointID     string
	SerialNo    string
	TariffCode  string
	ProductCode string
}

// Account is the subset of the remote account document the pipeline needs.
type Account struct {
	Number      string
	MeterPoints []MeterPoint
}

// MeterPointFor returns the first meter point for the given fuel, or nil.
func (a *Account) MeterPointFor(fuel FuelType) *MeterPoint {
	for i := range a.MeterPoints {
		if a.MeterPoints[i].Fuel == fuel {
			return &a.MeterPoints[i]
		}
	}
	return nil
}
