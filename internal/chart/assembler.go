// Package chart prepares declarative chart specifications for an external
// rendering backend. No drawing happens here.
package chart

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/voltbird/octoflux/internal/models"
)

// Layout selects how multiple series are presented.
type Layout string

const (
	LayoutSingle   Layout = "single"
	LayoutCombined Layout = "combined"
)

// Point is one plotted value. Estimated marks placeholders for missing
// data.
type Point struct {
	Time      time.Time `json:"time"`
	Value     float64   `json:"value"`
	Estimated bool      `json:"estimated,omitempty"`
}

// Series is one labeled line of a chart.
type Series struct {
	Name   string  `json:"name"`
	Unit   string  `json:"unit"`
	Points []Point `json:"points"`
}

// Spec is the full declarative chart description handed to the renderer.
type Spec struct {
	Title      string   `json:"title"`
	XLabel     string   `json:"x_label"`
	YLabel     string   `json:"y_label"`
	Layout     Layout   `json:"layout"`
	Series     []Series `json:"series"`
	CostLabel  string   `json:"cost_label,omitempty"`
	PeriodDays int      `json:"period_days"`
}

// Renderer turns a Spec into an opaque image artifact. Implemented by the
// external rendering backend.
type Renderer interface {
	Render(spec Spec) ([]byte, error)
}

// Assemble builds the spec for a single fuel's series.
func Assemble(s models.NormalizedSeries, cost models.CostSummary, periodDays int) Spec {
	return Spec{
		Title:      fmt.Sprintf("%s consumption (last %d days)", titleCase(string(s.Fuel)), periodDays),
		XLabel:     "Date",
		YLabel:     fmt.Sprintf("Consumption (%s)", s.Unit),
		Layout:     LayoutSingle,
		Series:     []Series{toSeries(s)},
		CostLabel:  fmt.Sprintf("Total: £%.2f", cost.TotalCost),
		PeriodDays: periodDays,
	}
}

// AssembleCombined builds one dual-fuel spec with both series aligned onto
// a shared time axis. Where one fuel has no reading at a timestamp the
// other does, a zero-valued estimated placeholder is inserted so the axes
// stay congruent.
func AssembleCombined(a, b models.NormalizedSeries, totalCost float64, periodDays int) Spec {
	axis := sharedAxis(a, b)
	return Spec{
		Title:      fmt.Sprintf("Energy consumption (last %d days)", periodDays),
		XLabel:     "Date",
		YLabel:     "Consumption (kWh)",
		Layout:     LayoutCombined,
		Series:     []Series{alignSeries(a, axis), alignSeries(b, axis)},
		CostLabel:  fmt.Sprintf("Total: £%.2f", totalCost),
		PeriodDays: periodDays,
	}
}

func toSeries(s models.NormalizedSeries) Series {
	out := Series{Name: titleCase(string(s.Fuel)), Unit: s.Unit}
	for _, p := range s.Points {
		out.Points = append(out.Points, Point{Time: p.LocalTime, Value: p.Value, Estimated: p.Estimated})
	}
	return out
}

// sharedAxis returns the sorted union of both series' timestamps.
func sharedAxis(a, b models.NormalizedSeries) []time.Time {
	seen := make(map[time.Time]struct{}, len(a.Points)+len(b.Points))
	for _, p := range a.Points {
		seen[p.LocalTime.UTC()] = struct{}{}
	}
	for _, p := range b.Points {
		seen[p.LocalTime.UTC()] = struct{}{}
	}

	axis := make([]time.Time, 0, len(seen))
	for t := range seen {
		axis = append(axis, t)
	}
	sort.Slice(axis, func(i, j int) bool { return axis[i].Before(axis[j]) })
	return axis
}

func alignSeries(s models.NormalizedSeries, axis []time.Time) Series {
	byTime := make(map[time.Time]models.SeriesPoint, len(s.Points))
	var loc *time.Location
	for _, p := range s.Points {
		byTime[p.LocalTime.UTC()] = p
		loc = p.LocalTime.Location()
	}
	if loc == nil {
		loc = time.UTC
	}

	out := Series{Name: titleCase(string(s.Fuel)), Unit: s.Unit}
	for _, t := range axis {
		if p, ok := byTime[t]; ok {
			out.Points = append(out.Points, Point{Time: p.LocalTime, Value: p.Value, Estimated: p.Estimated})
		} else {
			out.Points = append(out.Points, Point{Time: t.In(loc), Value: 0, Estimated: true})
		}
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
