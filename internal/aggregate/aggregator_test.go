package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"breathe/internal/config"
	"breathe/internal/models"
	"breathe/internal/source"
	"breathe/internal/spike"
	"breathe/internal/store"
)

type fakeSensor struct {
	readings map[int]source.Reading
	errs     map[int]error
}

func (f *fakeSensor) Current(ctx context.Context, locationID int, token string) (source.Reading, error) {
	if err, ok := f.errs[locationID]; ok {
		return source.Reading{}, err
	}
	return f.readings[locationID], nil
}

func f64(v float64) *float64 { return &v }

func testZone(nodes ...config.SensorNode) config.Zone {
	return config.Zone{ID: "srinagar", Name: "Srinagar", SensorNodes: nodes}
}

func stateOf(statuses []models.NodeStatus, node string) models.NodeState {
	for _, s := range statuses {
		if s.Node == node {
			return s.State
		}
	}
	return ""
}

func TestAggregateExcludesSpikesAndStaleNodes(t *testing.T) {
	now := time.Now()
	zone := testZone(
		config.SensorNode{LocationID: 1, DisplayName: "station-a"},
		config.SensorNode{LocationID: 2, DisplayName: "station-b"},
		config.SensorNode{LocationID: 3, DisplayName: "station-c"},
	)
	// station-a spikes on the absolute limit, station-b is stale,
	// station-c is healthy
	sensor := &fakeSensor{readings: map[int]source.Reading{
		1: {PM25: f64(700), PM10: f64(100), TS: now.Unix()},
		2: {PM25: f64(25), PM10: f64(50), TS: now.Unix() - 5000},
		3: {PM25: f64(30), PM10: f64(60), TS: now.Unix()},
	}}

	st := store.NewMemory()
	agg := New(sensor, st, spike.NewGuard())

	merged, statuses, err := agg.Aggregate(context.Background(), zone, "tok", now)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}

	if got := stateOf(statuses, "station-a"); got != models.NodeSpikeDetected {
		t.Errorf("station-a state = %s, want %s", got, models.NodeSpikeDetected)
	}
	if got := stateOf(statuses, "station-b"); got != models.NodeStale {
		t.Errorf("station-b state = %s, want %s", got, models.NodeStale)
	}
	if got := stateOf(statuses, "station-c"); got != models.NodeActive {
		t.Errorf("station-c state = %s, want %s", got, models.NodeActive)
	}

	// only the healthy node contributes
	if *merged.PM25 != 30 || *merged.PM10 != 60 {
		t.Errorf("merged = pm2_5 %v / pm10 %v, want the healthy node alone", *merged.PM25, *merged.PM10)
	}

	// only the healthy node's reading was persisted
	if st.Count(store.NodeKey("srinagar", "station-c")) != 1 {
		t.Error("active node reading should be persisted")
	}
	if st.Count(store.NodeKey("srinagar", "station-a")) != 0 {
		t.Error("spiking node reading must not be persisted")
	}
}

func TestAggregateAveragesAcrossNodes(t *testing.T) {
	now := time.Now()
	zone := testZone(
		config.SensorNode{LocationID: 1, DisplayName: "station-a"},
		config.SensorNode{LocationID: 2, DisplayName: "station-b"},
	)
	sensor := &fakeSensor{readings: map[int]source.Reading{
		1: {PM25: f64(20), PM10: f64(40), Temperature: f64(10), TS: now.Unix() - 120},
		2: {PM25: f64(40), TS: now.Unix()},
	}}

	agg := New(sensor, store.NewMemory(), spike.NewGuard())
	merged, _, err := agg.Aggregate(context.Background(), zone, "tok", now)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}

	if *merged.PM25 != 30 {
		t.Errorf("merged PM2.5 = %v, want 30", *merged.PM25)
	}
	// pm10 averaged only over the node reporting it
	if merged.PM10 == nil || *merged.PM10 != 40 {
		t.Errorf("merged PM10 = %v, want 40", merged.PM10)
	}
	if merged.Temperature == nil || *merged.Temperature != 10 {
		t.Errorf("merged temperature = %v, want 10", merged.Temperature)
	}
	if merged.TS != now.Unix() {
		t.Errorf("merged TS = %d, want the newest node timestamp %d", merged.TS, now.Unix())
	}
}

func TestAggregateAllNodesExcluded(t *testing.T) {
	now := time.Now()
	zone := testZone(
		config.SensorNode{LocationID: 1, DisplayName: "station-a"},
		config.SensorNode{LocationID: 2, DisplayName: "station-b"},
	)
	sensor := &fakeSensor{
		readings: map[int]source.Reading{2: {TS: now.Unix()}}, // no PM2.5
		errs:     map[int]error{1: errors.New("connection refused")},
	}

	agg := New(sensor, store.NewMemory(), spike.NewGuard())
	_, statuses, err := agg.Aggregate(context.Background(), zone, "tok", now)
	if !errors.Is(err, ErrAllNodesExcluded) {
		t.Fatalf("Aggregate() error = %v, want ErrAllNodesExcluded", err)
	}
	if got := stateOf(statuses, "station-a"); got != models.NodeOffline {
		t.Errorf("station-a state = %s, want %s", got, models.NodeOffline)
	}
	if got := stateOf(statuses, "station-b"); got != models.NodeNoData {
		t.Errorf("station-b state = %s, want %s", got, models.NodeNoData)
	}
}

func TestAggregateCancelledFetchIsErrorNotOffline(t *testing.T) {
	now := time.Now()
	zone := testZone(config.SensorNode{LocationID: 1, DisplayName: "station-a"})
	sensor := &fakeSensor{errs: map[int]error{1: context.DeadlineExceeded}}

	agg := New(sensor, store.NewMemory(), spike.NewGuard())
	_, statuses, err := agg.Aggregate(context.Background(), zone, "tok", now)
	if !errors.Is(err, ErrAllNodesExcluded) {
		t.Fatalf("Aggregate() error = %v, want ErrAllNodesExcluded", err)
	}
	if got := stateOf(statuses, "station-a"); got != models.NodeError {
		t.Errorf("station-a state = %s, want %s", got, models.NodeError)
	}
}

func TestAggregateRateOfChangeSpike(t *testing.T) {
	now := time.Now()
	zone := testZone(config.SensorNode{LocationID: 1, DisplayName: "station-a"})

	st := store.NewMemory()
	// the node reported 30 µg/m³ an hour ago
	st.SaveReading(store.NodeKey("srinagar", "station-a"), 30, 50, now.Add(-time.Hour).Unix())

	sensor := &fakeSensor{readings: map[int]source.Reading{
		1: {PM25: f64(300), PM10: f64(100), TS: now.Unix()},
	}}

	agg := New(sensor, st, spike.NewGuard())
	_, statuses, err := agg.Aggregate(context.Background(), zone, "tok", now)
	if !errors.Is(err, ErrAllNodesExcluded) {
		t.Fatalf("Aggregate() error = %v, want ErrAllNodesExcluded", err)
	}
	if got := stateOf(statuses, "station-a"); got != models.NodeSpikeDetected {
		t.Errorf("station-a state = %s, want %s", got, models.NodeSpikeDetected)
	}
}

func TestAggregateGracePeriodSkipsFetch(t *testing.T) {
	now := time.Now()
	zone := testZone(config.SensorNode{LocationID: 1, DisplayName: "station-a"})

	guard := spike.NewGuard()
	guard.RecordSpike("srinagar", "station-a", now.Add(-10*time.Minute))

	sensor := &fakeSensor{readings: map[int]source.Reading{
		1: {PM25: f64(30), TS: now.Unix()},
	}}

	agg := New(sensor, store.NewMemory(), guard)
	_, statuses, err := agg.Aggregate(context.Background(), zone, "tok", now)
	if !errors.Is(err, ErrAllNodesExcluded) {
		t.Fatalf("Aggregate() error = %v, want ErrAllNodesExcluded", err)
	}
	if got := stateOf(statuses, "station-a"); got != models.NodeGracePeriod {
		t.Errorf("station-a state = %s, want %s", got, models.NodeGracePeriod)
	}

	// after the grace window the node participates again
	later := now.Add(55 * time.Minute)
	merged, statuses, err := agg.Aggregate(context.Background(), zone, "tok", later)
	if err != nil {
		t.Fatalf("Aggregate() after grace error: %v", err)
	}
	if got := stateOf(statuses, "station-a"); got != models.NodeActive {
		t.Errorf("station-a state after grace = %s, want %s", got, models.NodeActive)
	}
	if *merged.PM25 != 30 {
		t.Errorf("merged PM2.5 = %v, want 30", *merged.PM25)
	}
}
