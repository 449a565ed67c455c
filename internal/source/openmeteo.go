package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"breathe/internal/aqi"
	"breathe/internal/metrics"
)

const openMeteoBaseURL = "https://air-quality-api.open-meteo.com/v1/air-quality"

// GasFields are the satellite pollutants supplementing a sensor reading;
// FullFields additionally cover particulates for the satellite-only tier.
var (
	GasFields  = []aqi.Pollutant{aqi.O3, aqi.NO2, aqi.SO2, aqi.CO}
	FullFields = []aqi.Pollutant{aqi.PM10, aqi.PM25, aqi.NO2, aqi.SO2, aqi.CO, aqi.O3}
)

// upstreamField maps a canonical pollutant to the Open-Meteo hourly
// variable name.
var upstreamField = map[aqi.Pollutant]string{
	aqi.PM25: "pm2_5",
	aqi.PM10: "pm10",
	aqi.NO2:  "nitrogen_dioxide",
	aqi.SO2:  "sulphur_dioxide",
	aqi.CO:   "carbon_monoxide",
	aqi.O3:   "ozone",
}

// OpenMeteoClient is a client for the Open-Meteo air quality API.
type OpenMeteoClient struct {
	client *http.Client

	// BaseURL is overridable for tests.
	BaseURL string
}

// NewOpenMeteoClient creates a new Open-Meteo air quality client
func NewOpenMeteoClient() *OpenMeteoClient {
	return &OpenMeteoClient{
		client:  &http.Client{Timeout: 15 * time.Second},
		BaseURL: openMeteoBaseURL,
	}
}

// AirQualityParams selects the hourly pollutant series to request.
type AirQualityParams struct {
	Latitude  float64
	Longitude float64
	Hourly    []aqi.Pollutant
	PastDays  int
}

// AirQuality is the hourly air quality response: parallel arrays of epoch
// times and per-pollutant concentration series, nulls preserved.
type AirQuality struct {
	Latitude  float64          `json:"latitude"`
	Longitude float64          `json:"longitude"`
	Hourly    AirQualityHourly `json:"hourly"`
}

type AirQualityHourly struct {
	Time            []int64    `json:"time"`
	PM10            []*float64 `json:"pm10"`
	PM25            []*float64 `json:"pm2_5"`
	NitrogenDioxide []*float64 `json:"nitrogen_dioxide"`
	SulphurDioxide  []*float64 `json:"sulphur_dioxide"`
	CarbonMonoxide  []*float64 `json:"carbon_monoxide"`
	Ozone           []*float64 `json:"ozone"`
}

// Series returns the hourly value series for one pollutant.
func (h *AirQualityHourly) Series(p aqi.Pollutant) []*float64 {
	switch p {
	case aqi.PM10:
		return h.PM10
	case aqi.PM25:
		return h.PM25
	case aqi.NO2:
		return h.NitrogenDioxide
	case aqi.SO2:
		return h.SulphurDioxide
	case aqi.CO:
		return h.CarbonMonoxide
	case aqi.O3:
		return h.Ozone
	}
	return nil
}

// BuildURL builds the request URL for the given parameters.
func (c *OpenMeteoClient) BuildURL(params AirQualityParams) string {
	fields := make([]string, 0, len(params.Hourly))
	for _, p := range params.Hourly {
		fields = append(fields, upstreamField[p])
	}

	url := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&timezone=auto&timeformat=unixtime",
		c.BaseURL, params.Latitude, params.Longitude)

	if params.PastDays > 0 {
		url += fmt.Sprintf("&past_days=%d", params.PastDays)
	}

	if len(fields) > 0 {
		url += "&hourly=" + strings.Join(fields, ",")
	}

	return url
}

// GetAirQuality fetches hourly air quality data for the given coordinates.
func (c *OpenMeteoClient) GetAirQuality(ctx context.Context, params AirQualityParams) (*AirQuality, error) {
	if len(params.Hourly) == 0 {
		return nil, fmt.Errorf("GetAirQuality: no pollutant fields provided")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL(params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.RecordUpstreamRequest("openmeteo", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch air quality: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var aq AirQuality
	if err := json.NewDecoder(resp.Body).Decode(&aq); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &aq, nil
}

// ClosestIndex returns the position of the hour nearest to now.
func (a *AirQuality) ClosestIndex(now int64) (int, bool) {
	if len(a.Hourly.Time) == 0 {
		return 0, false
	}
	best := 0
	for i, t := range a.Hourly.Time {
		if abs64(t-now) < abs64(a.Hourly.Time[best]-now) {
			best = i
		}
	}
	return best, true
}

// SampleAt collects the non-null pollutant values at one hour position.
func (a *AirQuality) SampleAt(idx int, pollutants []aqi.Pollutant) aqi.Sample {
	sample := make(aqi.Sample)
	for _, p := range pollutants {
		series := a.Hourly.Series(p)
		if idx < len(series) && series[idx] != nil {
			sample[p] = *series[idx]
		}
	}
	return sample
}

// ValueNear returns the pollutant value at idx, stepping back up to
// maxStepsBack hours to skip nulls. The model occasionally lags the current
// hour, so a slightly older estimate beats none.
func (a *AirQuality) ValueNear(p aqi.Pollutant, idx, maxStepsBack int) (float64, bool) {
	series := a.Hourly.Series(p)
	for step := 0; step <= maxStepsBack; step++ {
		check := idx - step
		if check >= 0 && check < len(series) && series[check] != nil {
			return *series[check], true
		}
	}
	return 0, false
}

// EstimatePoints flattens all non-null hourly values into merger input.
func (a *AirQuality) EstimatePoints(pollutants []aqi.Pollutant) []EstimatePoint {
	var points []EstimatePoint
	for i, t := range a.Hourly.Time {
		for _, p := range pollutants {
			series := a.Hourly.Series(p)
			if i < len(series) && series[i] != nil {
				points = append(points, EstimatePoint{TS: t, Pollutant: p, Value: *series[i]})
			}
		}
	}
	return points
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
