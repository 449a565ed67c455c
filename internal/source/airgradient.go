package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"breathe/internal/metrics"
)

const airGradientBaseURL = "https://api.airgradient.com/public/api/v1"

// AirGradientClient is a client for the AirGradient public API.
type AirGradientClient struct {
	client *http.Client

	// BaseURL is overridable for tests.
	BaseURL string
}

// NewAirGradientClient creates a new AirGradient API client
func NewAirGradientClient() *AirGradientClient {
	return &AirGradientClient{
		client:  &http.Client{Timeout: 15 * time.Second},
		BaseURL: airGradientBaseURL,
	}
}

// agCurrent is the "current measures" response shape. Corrected values are
// preferred over raw ones wherever both exist.
type agCurrent struct {
	PM02Corrected *float64 `json:"pm02_corrected"`
	PM02          *float64 `json:"pm02"`
	PM10Corrected *float64 `json:"pm10_corrected"`
	PM10          *float64 `json:"pm10"`
	AtmpCorrected *float64 `json:"atmp_corrected"`
	Atmp          *float64 `json:"atmp"`
	RhumCorrected *float64 `json:"rhum_corrected"`
	Rhum          *float64 `json:"rhum"`
	Timestamp     string   `json:"timestamp"`
}

// agPastEntry is one row of the "past measures" response. Timestamps come
// back in epoch milliseconds.
type agPastEntry struct {
	Timestamp     int64    `json:"timestamp"`
	PM02Corrected *float64 `json:"pm02_corrected"`
	PM02          *float64 `json:"pm02"`
	PM10Corrected *float64 `json:"pm10_corrected"`
	PM10          *float64 `json:"pm10"`
}

func preferCorrected(corrected, raw *float64) *float64 {
	if corrected != nil {
		return corrected
	}
	return raw
}

// Current fetches the node's live reading.
func (c *AirGradientClient) Current(ctx context.Context, locationID int, token string) (Reading, error) {
	url := fmt.Sprintf("%s/locations/%d/measures/current?token=%s", c.BaseURL, locationID, token)

	var payload agCurrent
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return Reading{}, err
	}

	r := Reading{
		PM25:        preferCorrected(payload.PM02Corrected, payload.PM02),
		PM10:        preferCorrected(payload.PM10Corrected, payload.PM10),
		Temperature: preferCorrected(payload.AtmpCorrected, payload.Atmp),
		Humidity:    preferCorrected(payload.RhumCorrected, payload.Rhum),
	}
	if payload.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			r.TS = ts.Unix()
		}
	}
	return r, nil
}

// Past fetches the node's prior-day readings for history backfill. Entries
// without a PM2.5 value are dropped.
func (c *AirGradientClient) Past(ctx context.Context, locationID int, token string) ([]Reading, error) {
	url := fmt.Sprintf("%s/locations/%d/measures/past?token=%s&period=1day", c.BaseURL, locationID, token)

	var payload []agPastEntry
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}

	readings := make([]Reading, 0, len(payload))
	for _, entry := range payload {
		pm25 := preferCorrected(entry.PM02Corrected, entry.PM02)
		if pm25 == nil {
			continue
		}
		ts := entry.Timestamp
		if ts > 9999999999 {
			ts /= 1000 // ms to sec
		}
		readings = append(readings, Reading{
			PM25: pm25,
			PM10: preferCorrected(entry.PM10Corrected, entry.PM10),
			TS:   ts,
		})
	}
	return readings, nil
}

func (c *AirGradientClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.RecordUpstreamRequest("airgradient", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to fetch airgradient data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
