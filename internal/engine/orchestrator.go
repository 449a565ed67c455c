package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"breathe/internal/aggregate"
	"breathe/internal/aqi"
	"breathe/internal/config"
	"breathe/internal/history"
	"breathe/internal/metrics"
	"breathe/internal/models"
	"breathe/internal/source"
	"breathe/internal/store"
)

const (
	sourceSensor    = "airgradient + openmeteo"
	sourceSatellite = "openmeteo air pollution api"

	spikeWarningText = "Warning: Unnatural spikes in sensors could be influenced by other atmospheric factors at the moment and this may not reflect the actual readings of the region"
	fallbackText     = "Physical sensor temporarily offline. Using satellite-based estimates from Open-Meteo."

	trendTolerance = 1800 // seconds around the trend lookup target
	trendSpikeJump = 150  // 1h index jump that triggers the spike advisory
)

// SensorHistoryClient fetches a node's prior-day readings for backfill.
type SensorHistoryClient interface {
	Past(ctx context.Context, locationID int, token string) ([]source.Reading, error)
}

// SatelliteClient fetches hourly model-estimated air quality.
type SatelliteClient interface {
	GetAirQuality(ctx context.Context, params source.AirQualityParams) (*source.AirQuality, error)
}

// Orchestrator runs the fallback cascade for one zone: sensor tier first,
// satellite tier on any sensor failure, then index/trend/warning assembly.
type Orchestrator struct {
	store     store.Store
	agg       *aggregate.Aggregator
	sensor    SensorHistoryClient
	satellite SatelliteClient
	calc      *aqi.Calculator
	merger    *history.Merger

	// Now is overridable for tests.
	Now func() time.Time
}

func NewOrchestrator(st store.Store, agg *aggregate.Aggregator, sensor SensorHistoryClient, satellite SatelliteClient, calc *aqi.Calculator, merger *history.Merger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		agg:       agg,
		sensor:    sensor,
		satellite: satellite,
		calc:      calc,
		merger:    merger,
		Now:       time.Now,
	}
}

// tierResult is the explicit outcome of one cascade tier.
type tierResult struct {
	sample      aqi.Sample
	temperature *float64
	history     []models.HistoryPoint
	statuses    []models.NodeStatus
	source      string
	err         error
}

// Run executes the cascade for one zone and assembles its snapshot. Only a
// failure of every tier is returned as an error.
func (o *Orchestrator) Run(ctx context.Context, zone config.Zone) (*models.ZoneSnapshot, error) {
	now := o.Now()
	start := time.Now()

	var res tierResult
	var advisory string

	if len(zone.SensorNodes) > 0 {
		res = o.trySensor(ctx, zone, now)
		if res.err != nil {
			log.Printf("Sensor tier failed for %s: %v, falling back to satellite", zone.ID, res.err)
			advisory = fallbackText
		}
	} else {
		res.err = fmt.Errorf("zone %s has no sensor configuration", zone.ID)
	}

	if res.err != nil {
		statuses := res.statuses
		res = o.trySatellite(ctx, zone, now)
		res.statuses = statuses
		if res.err != nil {
			return nil, fmt.Errorf("zone %s: %w: %v", zone.ID, ErrTotalFailure, res.err)
		}
	}

	snap := o.assemble(zone, res, advisory, now)
	metrics.ZoneRefreshDuration.WithLabelValues(zone.ID, res.source).Observe(time.Since(start).Seconds())
	return snap, nil
}

// trySensor aggregates the zone's physical nodes and supplements the merged
// reading with satellite gas estimates. The gas fetch runs in parallel with
// the node reads; its failure degrades the sample instead of failing the
// tier.
func (o *Orchestrator) trySensor(ctx context.Context, zone config.Zone, now time.Time) tierResult {
	token := zone.Token()
	if token == "" {
		return tierResult{err: fmt.Errorf("zone %s (env %s): %w", zone.ID, zone.TokenEnv, ErrMissingCredential)}
	}

	o.ensureBackfill(ctx, zone, token)

	var (
		merged   source.Reading
		statuses []models.NodeStatus
		aggErr   error
		gases    *source.AirQuality
		gasErr   error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		merged, statuses, aggErr = o.agg.Aggregate(ctx, zone, token, now)
	}()
	go func() {
		defer wg.Done()
		gases, gasErr = o.satellite.GetAirQuality(ctx, source.AirQualityParams{
			Latitude:  zone.Lat,
			Longitude: zone.Lon,
			Hourly:    source.GasFields,
			PastDays:  1,
		})
	}()
	wg.Wait()

	if aggErr != nil {
		return tierResult{statuses: statuses, err: aggErr}
	}

	// a stale merged reading is never served as current
	if merged.TS > 0 && now.Sub(time.Unix(merged.TS, 0)) > time.Hour {
		return tierResult{statuses: statuses, err: fmt.Errorf("zone %s reading age %s: %w", zone.ID, now.Sub(time.Unix(merged.TS, 0)).Round(time.Minute), ErrStaleData)}
	}

	sample := aqi.Sample{aqi.PM25: *merged.PM25}
	pm10 := 0.0
	if merged.PM10 != nil {
		pm10 = *merged.PM10
		sample[aqi.PM10] = pm10
	}

	ts := merged.TS
	if ts == 0 {
		ts = now.Unix()
	}
	if err := o.store.SaveReading(zone.ID, *merged.PM25, pm10, ts); err != nil {
		log.Printf("Failed to persist merged reading for %s: %v", zone.ID, err)
	}

	var estimates []source.EstimatePoint
	if gasErr != nil {
		log.Printf("Gas estimate fetch failed for %s: %v", zone.ID, gasErr)
	} else {
		if idx, ok := gases.ClosestIndex(now.Unix()); ok {
			for _, p := range source.GasFields {
				if v, ok := gases.ValueNear(p, idx, 6); ok {
					sample[p] = v
				}
			}
		}
		estimates = gases.EstimatePoints(source.GasFields)
	}

	return tierResult{
		sample:      sample,
		temperature: merged.Temperature,
		history:     o.merger.Merge(zone.ID, estimates),
		statuses:    statuses,
		source:      sourceSensor,
	}
}

// ensureBackfill refills the persisted history from the sensor API once,
// when no recent local reading exists for the zone.
func (o *Orchestrator) ensureBackfill(ctx context.Context, zone config.Zone, token string) {
	existing, err := o.store.GetHistory(zone.ID, 1)
	if err != nil || len(existing) > 0 {
		return
	}

	log.Printf("No recent history for %s, refilling from sensor API", zone.ID)
	for _, node := range zone.SensorNodes {
		readings, err := o.sensor.Past(ctx, node.LocationID, token)
		if err != nil {
			log.Printf("Backfill failed for %s/%s: %v", zone.ID, node.DisplayName, err)
			continue
		}
		count := 0
		for _, r := range readings {
			pm10 := 0.0
			if r.PM10 != nil {
				pm10 = *r.PM10
			}
			if err := o.store.SaveReading(zone.ID, *r.PM25, pm10, r.TS); err != nil {
				continue
			}
			if err := o.store.SaveReading(store.NodeKey(zone.ID, node.DisplayName), *r.PM25, pm10, r.TS); err != nil {
				continue
			}
			count++
		}
		log.Printf("✓ Refilled %d records for %s/%s", count, zone.ID, node.DisplayName)
	}
}

// trySatellite serves the zone entirely from hourly model estimates,
// computing one index per trailing hour for the history sequence.
func (o *Orchestrator) trySatellite(ctx context.Context, zone config.Zone, now time.Time) tierResult {
	aq, err := o.satellite.GetAirQuality(ctx, source.AirQualityParams{
		Latitude:  zone.Lat,
		Longitude: zone.Lon,
		Hourly:    source.FullFields,
		PastDays:  1,
	})
	if err != nil {
		return tierResult{err: fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)}
	}

	nowTS := now.Unix()
	idx, ok := aq.ClosestIndex(nowTS)
	if !ok {
		return tierResult{err: fmt.Errorf("no hourly estimates for %s: %w", zone.ID, ErrMissingData)}
	}

	sample := aq.SampleAt(idx, source.FullFields)
	if len(sample) == 0 {
		return tierResult{err: fmt.Errorf("empty estimate for %s: %w", zone.ID, ErrMissingData)}
	}

	var points []models.HistoryPoint
	startTS := nowTS - 24*3600
	for i, t := range aq.Hourly.Time {
		if t < startTS || t > nowTS {
			continue
		}
		hourSample := aq.SampleAt(i, source.FullFields)
		if len(hourSample) == 0 {
			continue
		}
		res := o.calc.Compute(hourSample)
		points = append(points, models.HistoryPoint{TS: t, AQI: res.AQI, USAQI: res.USAQI})
	}

	return tierResult{
		sample:  sample,
		history: points,
		source:  sourceSatellite,
	}
}

// assemble computes the current indices, trends, and warnings, and builds
// the snapshot payload.
func (o *Orchestrator) assemble(zone config.Zone, res tierResult, advisory string, now time.Time) *models.ZoneSnapshot {
	tempK := 298.15
	if res.temperature != nil {
		tempK = *res.temperature + 273.15
	}
	idx := o.calc.ComputeAt(res.sample, tempK)

	nowTS := now.Unix()
	trends := models.Trends{}
	var warning string

	if res.sample[aqi.PM25] > 650 || res.sample[aqi.PM10] > 600 {
		warning = spikeWarningText
	}

	if v, ok := historyIndexAt(res.history, nowTS-3600); ok {
		delta := idx.AQI - v
		trends.Change1h = &delta
		if warning == "" && delta > trendSpikeJump {
			warning = spikeWarningText
		}
	}
	if v, ok := historyIndexAt(res.history, nowTS-86400); ok {
		delta := idx.AQI - v
		trends.Change24h = &delta
	}

	if advisory != "" {
		if warning != "" {
			warning = advisory + "\n\n" + warning
		} else {
			warning = advisory
		}
	}

	snap := &models.ZoneSnapshot{
		ZoneID:            zone.ID,
		ZoneName:          zone.Name,
		Source:            res.source,
		TimestampUnix:     nowTS,
		Coordinates:       models.Coordinates{Lat: zone.Lat, Lon: zone.Lon},
		History:           res.history,
		Trends:            trends,
		AQI:               idx.AQI,
		USAQI:             idx.USAQI,
		MainPollutant:     pollutantLabel(idx.MainPollutant),
		USMainPollutant:   string(idx.USMainPollutant),
		AQIBreakdown:      stringKeyed(idx.Breakdown),
		ConcentrationsUS:  stringKeyedF(idx.ConcentrationsUS),
		ConcentrationsRaw: stringKeyedF(idx.Raw),
		NodeStatuses:      res.statuses,
	}
	if warning != "" {
		snap.Warning = &warning
	}
	return snap
}

// historyIndexAt returns the index of the history point nearest to target,
// accepting only points within the trend tolerance. No interpolation.
func historyIndexAt(points []models.HistoryPoint, target int64) (int, bool) {
	for _, p := range points {
		d := p.TS - target
		if d < 0 {
			d = -d
		}
		if d <= trendTolerance {
			return p.AQI, true
		}
	}
	return 0, false
}

func pollutantLabel(p aqi.Pollutant) string {
	if p == "" {
		return "n/a"
	}
	return string(p)
}

func stringKeyed(m map[aqi.Pollutant]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func stringKeyedF(m map[aqi.Pollutant]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}
