package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"breathe/internal/config"
	"breathe/internal/metrics"
	"breathe/internal/models"
	"breathe/internal/source"
	"breathe/internal/spike"
	"breathe/internal/store"
)

// ErrAllNodesExcluded is returned when no node of the zone produced a
// usable reading; the caller treats it as a total sensor-tier failure.
var ErrAllNodesExcluded = errors.New("all sensor nodes excluded")

// sensorStaleness is the maximum age before a node reading is treated as a
// fetch failure rather than served as current.
const sensorStaleness = time.Hour

// SensorClient fetches one node's live reading.
type SensorClient interface {
	Current(ctx context.Context, locationID int, token string) (source.Reading, error)
}

// Aggregator combines the readings of a zone's sensor nodes into a single
// merged reading, excluding nodes that are offline, stale, or spiking.
type Aggregator struct {
	client SensorClient
	store  store.Store
	guard  *spike.Guard
}

func New(client SensorClient, st store.Store, guard *spike.Guard) *Aggregator {
	return &Aggregator{client: client, store: st, guard: guard}
}

type nodeResult struct {
	reading source.Reading
	err     error
	grace   time.Duration
	inGrace bool
}

// Aggregate fetches every node concurrently, classifies each outcome, and
// averages the nodes that survive the status pipeline. The merged reading's
// timestamp is the newest among included nodes.
func (a *Aggregator) Aggregate(ctx context.Context, zone config.Zone, token string, now time.Time) (source.Reading, []models.NodeStatus, error) {
	nodes := zone.SensorNodes
	results := make([]nodeResult, len(nodes))

	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node config.SensorNode) {
			defer wg.Done()

			// nodes in grace are not worth an upstream call
			if remaining, ok := a.guard.InGrace(zone.ID, node.DisplayName, now); ok {
				results[i] = nodeResult{grace: remaining, inGrace: true}
				return
			}

			reading, err := a.client.Current(ctx, node.LocationID, token)
			results[i] = nodeResult{reading: reading, err: err}
		}(i, node)
	}
	wg.Wait()

	statuses := make([]models.NodeStatus, 0, len(nodes))
	var included []source.Reading

	for i, node := range nodes {
		res := results[i]
		status, reading := a.classify(zone, node, res, now)
		statuses = append(statuses, status)
		if status.State == models.NodeActive {
			included = append(included, reading)
		}
	}

	if len(included) == 0 {
		return source.Reading{}, statuses, fmt.Errorf("zone %s: %w", zone.ID, ErrAllNodesExcluded)
	}

	return mergeReadings(included), statuses, nil
}

// classify runs one node through the exclusion pipeline and persists the
// reading when the node ends up active.
func (a *Aggregator) classify(zone config.Zone, node config.SensorNode, res nodeResult, now time.Time) (models.NodeStatus, source.Reading) {
	status := models.NodeStatus{Node: node.DisplayName}

	if res.inGrace {
		status.State = models.NodeGracePeriod
		status.RemainingMinutes = int(res.grace.Minutes())
		return status, source.Reading{}
	}

	if res.err != nil {
		log.Printf("Node %s/%s fetch failed: %v", zone.ID, node.DisplayName, res.err)
		// a cancelled or timed-out fetch is our failure, not the node's
		if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
			status.State = models.NodeError
		} else {
			status.State = models.NodeOffline
		}
		status.Detail = res.err.Error()
		return status, source.Reading{}
	}

	reading := res.reading
	if !reading.Usable() {
		status.State = models.NodeNoData
		return status, source.Reading{}
	}

	if reading.TS > 0 {
		age := now.Sub(time.Unix(reading.TS, 0))
		if age > sensorStaleness {
			status.State = models.NodeStale
			status.AgeMinutes = int(age.Minutes())
			return status, source.Reading{}
		}
	}

	pm25 := *reading.PM25
	pm10 := 0.0
	if reading.PM10 != nil {
		pm10 = *reading.PM10
	}

	nodeKey := store.NodeKey(zone.ID, node.DisplayName)
	if anomalous, reason := a.guard.IsAnomalous(pm25, pm10, a.priorPM25(nodeKey, now)); anomalous {
		a.guard.RecordSpike(zone.ID, node.DisplayName, now)
		metrics.SpikesDetectedTotal.WithLabelValues(zone.ID).Inc()
		log.Printf("Spike detected on %s/%s: %s", zone.ID, node.DisplayName, reason)
		status.State = models.NodeSpikeDetected
		status.Detail = reason
		return status, source.Reading{}
	}

	ts := reading.TS
	if ts == 0 {
		ts = now.Unix()
	}
	if err := a.store.SaveReading(nodeKey, pm25, pm10, ts); err != nil {
		log.Printf("Failed to persist reading for %s: %v", nodeKey, err)
	}

	status.State = models.NodeActive
	return status, reading
}

// priorPM25 looks up the node's persisted reading nearest to one hour ago,
// nil when none falls within the tolerance window.
func (a *Aggregator) priorPM25(nodeKey string, now time.Time) *float64 {
	history, err := a.store.GetHistory(nodeKey, 3)
	if err != nil || len(history) == 0 {
		return nil
	}

	target := now.Add(-time.Hour).Unix()
	best := history[0]
	for _, r := range history[1:] {
		if abs64(r.TS-target) < abs64(best.TS-target) {
			best = r
		}
	}
	if abs64(best.TS-target) > int64(spike.PriorTolerance.Seconds()) {
		return nil
	}
	v := best.PM25
	return &v
}

// mergeReadings averages the included nodes. Temperature and humidity are
// averaged only over the nodes reporting them; the merged timestamp is the
// most recent one.
func mergeReadings(readings []source.Reading) source.Reading {
	var pm25Sum, pm10Sum, tempSum, humSum float64
	var pm25N, pm10N, tempN, humN int
	var maxTS int64
	for _, r := range readings {
		pm25Sum += *r.PM25
		pm25N++
		if r.PM10 != nil {
			pm10Sum += *r.PM10
			pm10N++
		}
		if r.Temperature != nil {
			tempSum += *r.Temperature
			tempN++
		}
		if r.Humidity != nil {
			humSum += *r.Humidity
			humN++
		}
		if r.TS > maxTS {
			maxTS = r.TS
		}
	}

	merged := source.Reading{TS: maxTS}
	pm25 := pm25Sum / float64(pm25N)
	merged.PM25 = &pm25
	if pm10N > 0 {
		pm10 := pm10Sum / float64(pm10N)
		merged.PM10 = &pm10
	}
	if tempN > 0 {
		temp := tempSum / float64(tempN)
		merged.Temperature = &temp
	}
	if humN > 0 {
		hum := humSum / float64(humN)
		merged.Humidity = &hum
	}
	return merged
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
