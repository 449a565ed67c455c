package history

import (
	"log"
	"sort"
	"time"

	"breathe/internal/aqi"
	"breathe/internal/models"
	"breathe/internal/source"
	"breathe/internal/store"
)

// Merger reconciles persisted sensor readings with model-estimated
// pollutant series into one gap-filled hourly index sequence.
type Merger struct {
	store store.Store
	calc  *aqi.Calculator

	// Now is overridable so clip-window tests are deterministic.
	Now func() time.Time
}

func New(st store.Store, calc *aqi.Calculator) *Merger {
	return &Merger{store: st, calc: calc, Now: time.Now}
}

// Merge builds the zone's trailing-24h hourly history. Sensor data, once
// available, fully supersedes estimates: estimated points survive only for
// hours strictly before the top of the hour containing the earliest
// persisted reading.
func (m *Merger) Merge(zoneID string, estimates []source.EstimatePoint) []models.HistoryPoint {
	now := m.Now().Unix()

	local, err := m.store.GetHistory(zoneID, 24)
	if err != nil {
		log.Printf("History read failed for %s, merging estimates only: %v", zoneID, err)
		local = nil
	}

	var sensorStart int64
	if len(local) > 0 {
		sensorStart = hourBucket(local[0].TS)
	}

	buckets := make(map[int64]aqi.Sample)
	bucket := func(ts int64) aqi.Sample {
		s, ok := buckets[ts]
		if !ok {
			s = make(aqi.Sample)
			buckets[ts] = s
		}
		return s
	}

	for _, pt := range estimates {
		if sensorStart > 0 && pt.TS >= sensorStart {
			continue
		}
		bucket(pt.TS)[pt.Pollutant] = pt.Value
	}

	for _, r := range local {
		hour := hourBucket(r.TS)
		bucket(hour)[aqi.PM25] = r.PM25
		bucket(hour)[aqi.PM10] = r.PM10
	}

	clipStart := now - 24*3600
	if sensorStart > 0 {
		clipStart = sensorStart
	}

	times := make([]int64, 0, len(buckets))
	for ts := range buckets {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	points := make([]models.HistoryPoint, 0, len(times))
	for _, ts := range times {
		if ts < clipStart || ts > now {
			continue
		}
		sample := buckets[ts]
		if len(sample) == 0 {
			continue
		}
		res := m.calc.Compute(sample)
		points = append(points, models.HistoryPoint{TS: ts, AQI: res.AQI, USAQI: res.USAQI})
	}
	return points
}

// hourBucket truncates an epoch timestamp to the top of its hour.
func hourBucket(ts int64) int64 {
	return ts - ts%3600
}
