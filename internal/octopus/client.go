// Package octopus implements the typed client for the Octopus-style energy
// data API: account discovery, consumption and tariff retrieval. Remote
// calls go through a retrying transport and a cooldown gate, and results
// are memoized in the result cache.
package octopus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voltbird/octoflux/internal/cache"
	"github.com/voltbird/octoflux/internal/metrics"
	"github.com/voltbird/octoflux/internal/models"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.octopus.energy/v1"

// Two weeks of half-hour slots per page, matching the cadence of smart
// meter data.
const defaultPageSize = 672

// Client exposes typed operations against the remote energy-data service.
type Client struct {
	baseURL   string
	transport *Transport
	cache     *cache.Cache
	cacheTTL  time.Duration
	logger    *logrus.Logger
	metrics   *metrics.Collector
}

// NewClient builds a client rooted at baseURL. Results of every operation
// are cached in c for ttl.
func NewClient(baseURL string, transport *Transport, c *cache.Cache, ttl time.Duration, logger *logrus.Logger, m *metrics.Collector) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: transport,
		cache:     c,
		cacheTTL:  ttl,
		logger:    logger,
		metrics:   m,
	}
}

// FuelData is the per-fuel outcome of a consumption fetch.
type FuelData struct {
	Meter    models.MeterPoint
	Readings []models.RawReading
	// Attempts the transport made for this fuel; 0 when served from cache.
	Attempts int
}

// wire shapes

type accountDoc struct {
	Number     string `json:"number"`
	Properties []struct {
		ElectricityMeterPoints []meterPointDoc `json:"electricity_meter_points"`
		GasMeterPoints         []meterPointDoc `json:"gas_meter_points"`
	} `json:"properties"`
}

type meterPointDoc struct {
	Mpan     string `json:"mpan"`
	Mprn     string `json:"mprn"`
	IsExport bool   `json:"is_export"`
	Meters   []struct {
		SerialNumber string `json:"serial_number"`
	} `json:"meters"`
	Agreements []struct {
		TariffCode string     `json:"tariff_code"`
		ValidFrom  *time.Time `json:"valid_from"`
		ValidTo    *time.Time `json:"valid_to"`
	} `json:"agreements"`
}

type consumptionPage struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []struct {
		Consumption   float64   `json:"consumption"`
		IntervalStart time.Time `json:"interval_start"`
		IntervalEnd   time.Time `json:"interval_end"`
	} `json:"results"`
}

type ratePage struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []struct {
		ValueIncVAT float64    `json:"value_inc_vat"`
		ValidFrom   *time.Time `json:"valid_from"`
		ValidTo     *time.Time `json:"valid_to"`
	} `json:"results"`
}

// Account fetches the account document and extracts the import meter
// points. The export electricity meter point, if any, is skipped.
func (c *Client) Account(ctx context.Context, cred models.Credential) (*models.Account, error) {
	key := cache.SubKey(cred.AccountNumber, "account")

	fetched := false
	v, err := c.cache.GetOrCompute(key, c.cacheTTL, func() (interface{}, error) {
		fetched = true
		return c.fetchAccount(ctx, cred)
	})
	if err != nil {
		return nil, err
	}
	c.recordCacheOutcome(fetched)

	return v.(*models.Account), nil
}

func (c *Client) fetchAccount(ctx context.Context, cred models.Credential) (*models.Account, error) {
	var doc accountDoc
	u := fmt.Sprintf("%s/accounts/%s/", c.baseURL, url.PathEscape(cred.AccountNumber))
	if _, err := c.getJSON(ctx, cred, "account", u, &doc); err != nil {
		return nil, err
	}

	account := &models.Account{Number: doc.Number}
	if account.Number == "" {
		account.Number = cred.AccountNumber
	}

	for _, prop := range doc.Properties {
		for _, mp := range prop.ElectricityMeterPoints {
			if mp.IsExport {
				continue
			}
			if pt, ok := toMeterPoint(mp, models.FuelElectricity); ok {
				account.MeterPoints = append(account.MeterPoints, pt)
			}
		}
		for _, mp := range prop.GasMeterPoints {
			if pt, ok := toMeterPoint(mp, models.FuelGas); ok {
				account.MeterPoints = append(account.MeterPoints, pt)
			}
		}
	}

	return account, nil
}

func toMeterPoint(doc meterPointDoc, fuel models.FuelType) (models.MeterPoint, bool) {
	if len(doc.Meters) == 0 || len(doc.Agreements) == 0 {
		return models.MeterPoint{}, false
	}

	pointID := doc.Mpan
	if fuel == models.FuelGas {
		pointID = doc.Mprn
	}

	// The most recent agreement carries the active tariff.
	tariffCode := doc.Agreements[len(doc.Agreements)-1].TariffCode
	return models.MeterPoint{
		Fuel:        fuel,
		PointID:     pointID,
		SerialNo:    doc.Meters[0].SerialNumber,
		TariffCode:  tariffCode,
		ProductCode: productCodeFromTariff(tariffCode),
	}, true
}

// productCodeFromTariff derives the product code embedded in a tariff code,
// e.g. "E-1R-VAR-22-11-01-A" -> "VAR-22-11-01".
func productCodeFromTariff(tariffCode string) string {
	parts := strings.Split(tariffCode, "-")
	if len(parts) < 4 {
		return tariffCode
	}
	return strings.Join(parts[2:len(parts)-1], "-")
}

// FetchConsumption retrieves readings for every fuel the request selects.
// Each fuel is an independent sub-request: when one fails and another
// succeeds, the failure is reported in the returned PartialFailure slice
// rather than dropped. An error is returned only when account discovery
// fails or no fuel produced data.
func (c *Client) FetchConsumption(ctx context.Context, req models.ConsumptionRequest) (map[models.FuelType]FuelData, []*models.PartialFailure, error) {
	account, err := c.Account(ctx, req.Credential)
	if err != nil {
		return nil, nil, err
	}

	fuels := req.Fuel.Fuels()
	results := make(map[models.FuelType]FuelData, len(fuels))
	var failures []*models.PartialFailure

	for _, fuel := range fuels {
		mp := account.MeterPointFor(fuel)
		if mp == nil {
			err := &models.NotFoundError{Resource: fmt.Sprintf("%s meter point on account %s", fuel, req.Credential.AccountNumber)}
			if len(fuels) == 1 {
				return nil, nil, err
			}
			failures = append(failures, &models.PartialFailure{Fuel: fuel, Err: err})
			continue
		}

		readings, attempts, err := c.consumption(ctx, req, *mp)
		if err != nil {
			if len(fuels) == 1 {
				return nil, nil, err
			}
			failures = append(failures, &models.PartialFailure{Fuel: fuel, Err: err})
			continue
		}

		results[fuel] = FuelData{Meter: *mp, Readings: readings, Attempts: attempts}
	}

	if len(results) == 0 && len(failures) > 0 {
		return nil, failures, failures[0].Err
	}

	return results, failures, nil
}

// consumption fetches one fuel's readings through the cache.
func (c *Client) consumption(ctx context.Context, req models.ConsumptionRequest, mp models.MeterPoint) ([]models.RawReading, int, error) {
	key := cache.Key(req.Credential.AccountNumber, string(mp.Fuel), req.PeriodDays, req.ReferenceTime)

	attempts := 0
	v, err := c.cache.GetOrCompute(key, c.cacheTTL, func() (interface{}, error) {
		readings, a, err := c.fetchConsumptionPages(ctx, req.Credential, mp, req)
		attempts = a
		return readings, err
	})
	if err != nil {
		return nil, attempts, err
	}
	c.recordCacheOutcome(attempts > 0)

	return v.([]models.RawReading), attempts, nil
}

func (c *Client) fetchConsumptionPages(ctx context.Context, cred models.Credential, mp models.MeterPoint, req models.ConsumptionRequest) ([]models.RawReading, int, error) {
	from, to := req.Window()

	kind := "electricity-meter-points"
	unit := "kWh"
	if mp.Fuel == models.FuelGas {
		kind = "gas-meter-points"
		// SMETS2 gas meters report cubic metres; the normalizer converts.
		unit = "m3"
	}

	q := url.Values{}
	q.Set("period_from", from.Format(time.RFC3339))
	q.Set("period_to", to.Format(time.RFC3339))
	q.Set("order_by", "period")
	q.Set("page_size", fmt.Sprint(defaultPageSize))

	next := fmt.Sprintf("%s/%s/%s/meters/%s/consumption/?%s",
		c.baseURL, kind, url.PathEscape(mp.PointID), url.PathEscape(mp.SerialNo), q.Encode())

	var readings []models.RawReading
	attempts := 0
	for next != "" {
		var page consumptionPage
		a, err := c.getJSON(ctx, cred, "consumption", next, &page)
		attempts += a
		if err != nil {
			return nil, attempts, err
		}

		for _, r := range page.Results {
			readings = append(readings, models.RawReading{
				IntervalStart: r.IntervalStart.UTC(),
				IntervalEnd:   r.IntervalEnd.UTC(),
				Consumption:   r.Consumption,
				Unit:          unit,
			})
		}

		next = nextURL(page.Next)
	}

	c.logger.WithFields(logrus.Fields{
		"fuel":     mp.Fuel,
		"readings": len(readings),
	}).Debug("fetched consumption")

	return readings, attempts, nil
}

// TariffRates fetches the unit rates covering [from, to) for the meter
// point's tariff and annotates each with the standing charge in force at
// the start of its validity window. Values arrive in pence including VAT
// and are converted to pounds.
func (c *Client) TariffRates(ctx context.Context, cred models.Credential, mp models.MeterPoint, from, to time.Time) ([]models.TariffRate, int, error) {
	key := cache.SubKey(cache.Key(cred.AccountNumber, string(mp.Fuel), 0, from), "tariff|"+mp.TariffCode)

	attempts := 0
	v, err := c.cache.GetOrCompute(key, c.cacheTTL, func() (interface{}, error) {
		rates, a, err := c.fetchTariffRates(ctx, cred, mp, from, to)
		attempts = a
		return rates, err
	})
	if err != nil {
		return nil, attempts, err
	}
	c.recordCacheOutcome(attempts > 0)

	return v.([]models.TariffRate), attempts, nil
}

func (c *Client) fetchTariffRates(ctx context.Context, cred models.Credential, mp models.MeterPoint, from, to time.Time) ([]models.TariffRate, int, error) {
	unitRates, a1, err := c.fetchRatePages(ctx, cred, mp, "standard-unit-rates", from, to)
	if err != nil {
		return nil, a1, err
	}

	charges, a2, err := c.fetchRatePages(ctx, cred, mp, "standing-charges", from, to)
	if err != nil {
		return nil, a1 + a2, err
	}

	rates := make([]models.TariffRate, 0, len(unitRates))
	for _, r := range unitRates {
		anchor := from
		if r.ValidFrom != nil {
			anchor = *r.ValidFrom
		}
		rates = append(rates, models.TariffRate{
			UnitRate:       r.UnitRate,
			StandingCharge: standingChargeAt(anchor, charges),
			ValidFrom:      r.ValidFrom,
			ValidTo:        r.ValidTo,
		})
	}

	return rates, a1 + a2, nil
}

// rateEntry is an intermediate unit-rate or standing-charge window, already
// converted to pounds.
type rateEntry struct {
	UnitRate  float64
	ValidFrom *time.Time
	ValidTo   *time.Time
}

func (c *Client) fetchRatePages(ctx context.Context, cred models.Credential, mp models.MeterPoint, endpoint string, from, to time.Time) ([]rateEntry, int, error) {
	q := url.Values{}
	q.Set("period_from", from.Format(time.RFC3339))
	q.Set("period_to", to.Format(time.RFC3339))
	q.Set("page_size", fmt.Sprint(defaultPageSize))

	next := fmt.Sprintf("%s/products/%s/%s-tariffs/%s/%s/?%s",
		c.baseURL, url.PathEscape(mp.ProductCode), mp.Fuel, url.PathEscape(mp.TariffCode), endpoint, q.Encode())

	var entries []rateEntry
	attempts := 0
	for next != "" {
		var page ratePage
		a, err := c.getJSON(ctx, cred, endpoint, next, &page)
		attempts += a
		if err != nil {
			return nil, attempts, err
		}

		for _, r := range page.Results {
			entries = append(entries, rateEntry{
				UnitRate:  r.ValueIncVAT / 100, // pence -> pounds
				ValidFrom: r.ValidFrom,
				ValidTo:   r.ValidTo,
			})
		}

		next = nextURL(page.Next)
	}

	return entries, attempts, nil
}

func standingChargeAt(t time.Time, charges []rateEntry) float64 {
	for _, ch := range charges {
		from := ch.ValidFrom == nil || !t.Before(*ch.ValidFrom)
		to := ch.ValidTo == nil || t.Before(*ch.ValidTo)
		if from && to {
			return ch.UnitRate
		}
	}
	if len(charges) > 0 {
		return charges[0].UnitRate
	}
	return 0
}

// getJSON performs one authenticated GET through the retrying transport and
// decodes the body into out. It returns the number of attempts made.
func (c *Client) getJSON(ctx context.Context, cred models.Credential, operation, rawURL string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(cred.APIKey, "")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, attempts, err := c.transport.Do(ctx, req, cred.AccountNumber)
	c.metrics.RecordRequest(operation, outcomeOf(err), time.Since(start).Seconds())
	if err != nil {
		return attempts, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return attempts, fmt.Errorf("failed to decode %s response: %w", operation, err)
	}

	return attempts, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

func nextURL(next *string) string {
	if next == nil {
		return ""
	}
	return *next
}

func (c *Client) recordCacheOutcome(fetched bool) {
	if fetched {
		c.metrics.RecordCacheMiss()
	} else {
		c.metrics.RecordCacheHit()
	}
}
