package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"breathe/internal/aggregate"
	"breathe/internal/aqi"
	"breathe/internal/config"
	"breathe/internal/history"
	"breathe/internal/models"
	"breathe/internal/source"
	"breathe/internal/spike"
	"breathe/internal/store"
)

// fixedNow is on an exact hour boundary so trend lookups are stable.
var fixedNow = time.Unix(1700006400, 0)

func f64(v float64) *float64 { return &v }

type fakeSatellite struct {
	aq  *source.AirQuality
	err error
}

func (f *fakeSatellite) GetAirQuality(ctx context.Context, params source.AirQualityParams) (*source.AirQuality, error) {
	return f.aq, f.err
}

type fakePast struct {
	readings []source.Reading
	err      error
}

func (f *fakePast) Past(ctx context.Context, locationID int, token string) ([]source.Reading, error) {
	return f.readings, f.err
}

type fakeNodeClient struct {
	reading source.Reading
	err     error
}

func (f *fakeNodeClient) Current(ctx context.Context, locationID int, token string) (source.Reading, error) {
	return f.reading, f.err
}

// identity brackets for PM2.5 keep index math readable: index equals the
// concentration. The pm10 range is deliberately compressed so PM2.5 always
// drives the overall index in these fixtures.
func identityCalc() *aqi.Calculator {
	return aqi.NewCalculator(aqi.Breakpoints{
		aqi.PM25: {{CLow: 0, CHigh: 500, ILow: 0, IHigh: 500}},
		aqi.PM10: {{CLow: 0, CHigh: 700, ILow: 0, IHigh: 100}},
	}, aqi.ModeStatic)
}

func satelliteData(now int64, pm25ByOffset map[int64]float64) *source.AirQuality {
	var times []int64
	var pm25 []*float64
	for offset := int64(-24 * 3600); offset <= 0; offset += 3600 {
		times = append(times, now+offset)
		if v, ok := pm25ByOffset[offset]; ok {
			val := v
			pm25 = append(pm25, &val)
		} else {
			pm25 = append(pm25, nil)
		}
	}
	return &source.AirQuality{Hourly: source.AirQualityHourly{Time: times, PM25: pm25}}
}

func newOrchestrator(st *store.Memory, node *fakeNodeClient, past *fakePast, sat *fakeSatellite) *Orchestrator {
	st.Now = func() time.Time { return fixedNow }
	calc := identityCalc()
	agg := aggregate.New(node, st, spike.NewGuard())
	merger := history.New(st, calc)
	merger.Now = func() time.Time { return fixedNow }
	o := NewOrchestrator(st, agg, past, sat, calc, merger)
	o.Now = func() time.Time { return fixedNow }
	return o
}

func satelliteZone() config.Zone {
	return config.Zone{ID: "gulmarg", Name: "Gulmarg", Lat: 34.05, Lon: 74.38}
}

func sensorZone() config.Zone {
	return config.Zone{
		ID: "srinagar", Name: "Srinagar", Lat: 34.0837, Lon: 74.7973,
		TokenEnv:    "TEST_AIRGRADIENT_TOKEN",
		SensorNodes: []config.SensorNode{{LocationID: 172681, DisplayName: "station-1"}},
	}
}

func TestRunSatelliteOnlyZone(t *testing.T) {
	now := fixedNow.Unix()
	sat := &fakeSatellite{aq: satelliteData(now, map[int64]float64{
		-24 * 3600: 20,
		-3600:      40,
		0:          100,
	})}

	o := newOrchestrator(store.NewMemory(), &fakeNodeClient{}, &fakePast{}, sat)
	snap, err := o.Run(context.Background(), satelliteZone())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if snap.Source != "openmeteo air pollution api" {
		t.Errorf("source = %q", snap.Source)
	}
	if snap.AQI != 100 {
		t.Errorf("AQI = %d, want 100", snap.AQI)
	}
	if snap.MainPollutant != "pm2_5" {
		t.Errorf("main pollutant = %q", snap.MainPollutant)
	}
	if snap.Warning != nil {
		t.Errorf("warning = %q, want none for a configured satellite zone", *snap.Warning)
	}
	if len(snap.History) != 3 {
		t.Errorf("history = %d points, want 3 non-null hours", len(snap.History))
	}
	if snap.Trends.Change1h == nil || *snap.Trends.Change1h != 60 {
		t.Errorf("trend_1h = %v, want 60", snap.Trends.Change1h)
	}
	if snap.Trends.Change24h == nil || *snap.Trends.Change24h != 80 {
		t.Errorf("trend_24h = %v, want 80", snap.Trends.Change24h)
	}
}

func TestRunSensorTier(t *testing.T) {
	t.Setenv("TEST_AIRGRADIENT_TOKEN", "tok")

	now := fixedNow.Unix()
	st := store.NewMemory()
	node := &fakeNodeClient{reading: source.Reading{
		PM25: f64(42), PM10: f64(80), Temperature: f64(15), TS: now - 60,
	}}
	sat := &fakeSatellite{aq: &source.AirQuality{Hourly: source.AirQualityHourly{
		Time:  []int64{now - 3600, now},
		Ozone: []*float64{f64(30), f64(55)},
	}}}

	o := newOrchestrator(st, node, &fakePast{}, sat)
	snap, err := o.Run(context.Background(), sensorZone())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if snap.Source != "airgradient + openmeteo" {
		t.Errorf("source = %q", snap.Source)
	}
	if snap.AQI != 42 {
		t.Errorf("AQI = %d, want 42", snap.AQI)
	}
	// the satellite gas supplement joins the sensor particulates
	if snap.ConcentrationsRaw["o3"] != 55 {
		t.Errorf("o3 = %v, want the closest-hour gas estimate 55", snap.ConcentrationsRaw["o3"])
	}
	if len(snap.NodeStatuses) != 1 || snap.NodeStatuses[0].State != models.NodeActive {
		t.Errorf("node statuses = %+v", snap.NodeStatuses)
	}
	if snap.Warning != nil {
		t.Errorf("warning = %q, want none", *snap.Warning)
	}

	// merged reading persisted under the zone key, node reading under its own
	if st.Count("srinagar") == 0 {
		t.Error("merged zone reading should be persisted")
	}
	if st.Count(store.NodeKey("srinagar", "station-1")) == 0 {
		t.Error("node reading should be persisted")
	}
}

func TestRunSensorFailureFallsBackToSatellite(t *testing.T) {
	t.Setenv("TEST_AIRGRADIENT_TOKEN", "tok")

	now := fixedNow.Unix()
	node := &fakeNodeClient{err: errors.New("connection refused")}
	sat := &fakeSatellite{aq: satelliteData(now, map[int64]float64{0: 90})}

	o := newOrchestrator(store.NewMemory(), node, &fakePast{}, sat)
	snap, err := o.Run(context.Background(), sensorZone())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if snap.Source != "openmeteo air pollution api" {
		t.Errorf("source = %q, want satellite after sensor failure", snap.Source)
	}
	if snap.Warning == nil || *snap.Warning != "Physical sensor temporarily offline. Using satellite-based estimates from Open-Meteo." {
		t.Errorf("warning = %v, want the fallback advisory", snap.Warning)
	}
	// node diagnostics from the failed tier are kept on the snapshot
	if len(snap.NodeStatuses) != 1 || snap.NodeStatuses[0].State != models.NodeOffline {
		t.Errorf("node statuses = %+v, want the offline node carried over", snap.NodeStatuses)
	}
}

func TestRunMissingTokenFallsBack(t *testing.T) {
	// token env deliberately unset
	now := fixedNow.Unix()
	sat := &fakeSatellite{aq: satelliteData(now, map[int64]float64{0: 50})}

	o := newOrchestrator(store.NewMemory(), &fakeNodeClient{}, &fakePast{}, sat)
	snap, err := o.Run(context.Background(), sensorZone())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if snap.Source != "openmeteo air pollution api" {
		t.Errorf("source = %q, want satellite when the token is missing", snap.Source)
	}
	if snap.Warning == nil {
		t.Error("fallback advisory expected when the sensor tier is skipped")
	}
}

func TestRunTotalFailure(t *testing.T) {
	sat := &fakeSatellite{err: errors.New("upstream down")}

	o := newOrchestrator(store.NewMemory(), &fakeNodeClient{}, &fakePast{}, sat)
	_, err := o.Run(context.Background(), satelliteZone())
	if !errors.Is(err, ErrTotalFailure) {
		t.Errorf("Run() error = %v, want ErrTotalFailure", err)
	}
}

func TestRunEmptyEstimateFails(t *testing.T) {
	now := fixedNow.Unix()
	// hours exist but every value is null
	sat := &fakeSatellite{aq: satelliteData(now, nil)}

	o := newOrchestrator(store.NewMemory(), &fakeNodeClient{}, &fakePast{}, sat)
	_, err := o.Run(context.Background(), satelliteZone())
	if !errors.Is(err, ErrTotalFailure) {
		t.Errorf("Run() error = %v, want ErrTotalFailure", err)
	}
}

func TestRunSpikeWarnings(t *testing.T) {
	now := fixedNow.Unix()

	t.Run("absolute pm2_5", func(t *testing.T) {
		sat := &fakeSatellite{aq: satelliteData(now, map[int64]float64{0: 700})}
		o := newOrchestrator(store.NewMemory(), &fakeNodeClient{}, &fakePast{}, sat)
		snap, err := o.Run(context.Background(), satelliteZone())
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if snap.Warning == nil {
			t.Fatal("pm2_5 above 650 must raise the spike advisory")
		}
	})

	t.Run("trend jump", func(t *testing.T) {
		sat := &fakeSatellite{aq: satelliteData(now, map[int64]float64{-3600: 40, 0: 400})}
		o := newOrchestrator(store.NewMemory(), &fakeNodeClient{}, &fakePast{}, sat)
		snap, err := o.Run(context.Background(), satelliteZone())
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if snap.Warning == nil {
			t.Fatal("a 1h index jump above 150 must raise the spike advisory")
		}
	})

	t.Run("moderate trend", func(t *testing.T) {
		sat := &fakeSatellite{aq: satelliteData(now, map[int64]float64{-3600: 40, 0: 100})}
		o := newOrchestrator(store.NewMemory(), &fakeNodeClient{}, &fakePast{}, sat)
		snap, err := o.Run(context.Background(), satelliteZone())
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if snap.Warning != nil {
			t.Errorf("warning = %q, want none for a moderate trend", *snap.Warning)
		}
	})
}

func TestHistoryIndexAt(t *testing.T) {
	points := []models.HistoryPoint{
		{TS: 10000, AQI: 40},
		{TS: 13600, AQI: 60},
	}

	if v, ok := historyIndexAt(points, 13600); !ok || v != 60 {
		t.Errorf("exact match = %d, %v", v, ok)
	}
	if v, ok := historyIndexAt(points, 11500); !ok || v != 40 {
		t.Errorf("within tolerance = %d, %v, want first matching point", v, ok)
	}
	if _, ok := historyIndexAt(points, 20000); ok {
		t.Error("targets beyond the tolerance must report no match")
	}
	if _, ok := historyIndexAt(nil, 10000); ok {
		t.Error("empty history must report no match")
	}
}
