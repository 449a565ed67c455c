package models

// Coordinates is the lat/lon pair echoed back in every zone payload.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// HistoryPoint is one hourly bucket of the reconstructed 24h time line.
type HistoryPoint struct {
	TS    int64 `json:"ts"`
	AQI   int   `json:"aqi"`
	USAQI int   `json:"us_aqi"`
}

// Trends holds the 1h/24h index deltas. A nil delta means no history point
// was found close enough to the target time.
type Trends struct {
	Change1h  *int `json:"change_1h"`
	Change24h *int `json:"change_24h"`
}

// NodeState classifies the outcome of one sensor node fetch.
type NodeState string

const (
	NodeActive        NodeState = "active"
	NodeOffline       NodeState = "offline"
	NodeStale         NodeState = "stale"
	NodeNoData        NodeState = "no_data"
	NodeSpikeDetected NodeState = "spike_detected"
	NodeGracePeriod   NodeState = "grace_period"
	NodeError         NodeState = "error"
)

// NodeStatus is the per-node diagnostic produced on every fetch cycle.
type NodeStatus struct {
	Node             string    `json:"node"`
	State            NodeState `json:"state"`
	Detail           string    `json:"detail,omitempty"`
	AgeMinutes       int       `json:"age_minutes,omitempty"`
	RemainingMinutes int       `json:"remaining_minutes,omitempty"`
}

// ZoneSnapshot is the full response payload for one zone. It is built as a
// whole by the orchestrator and replaced atomically in the cache; it is
// never mutated in place.
type ZoneSnapshot struct {
	ZoneID            string             `json:"zone_id"`
	ZoneName          string             `json:"zone_name"`
	Source            string             `json:"source"`
	TimestampUnix     int64              `json:"timestamp_unix"`
	Coordinates       Coordinates        `json:"coordinates"`
	History           []HistoryPoint     `json:"history"`
	Trends            Trends             `json:"trends"`
	Warning           *string            `json:"warning"`
	AQI               int                `json:"aqi"`
	USAQI             int                `json:"us_aqi"`
	MainPollutant     string             `json:"main_pollutant"`
	USMainPollutant   string             `json:"us_main_pollutant,omitempty"`
	AQIBreakdown      map[string]int     `json:"aqi_breakdown"`
	ConcentrationsUS  map[string]float64 `json:"concentrations_us_units"`
	ConcentrationsRaw map[string]float64 `json:"concentrations_raw_ugm3"`
	NodeStatuses      []NodeStatus       `json:"node_status,omitempty"`
}

// PersistedReading is one stored sensor row. At most one row exists per
// (zone key, timestamp); re-inserting the same pair is a no-op.
type PersistedReading struct {
	ZoneKey string  `json:"zone_key"`
	TS      int64   `json:"ts"`
	PM25    float64 `json:"pm2_5"`
	PM10    float64 `json:"pm10"`
}
