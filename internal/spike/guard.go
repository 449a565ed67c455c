package spike

import (
	"fmt"
	"sync"
	"time"
)

const (
	// AbsolutePM25Limit and AbsolutePM10Limit trigger immediate exclusion.
	AbsolutePM25Limit = 650.0
	AbsolutePM10Limit = 600.0

	// RateOfChangePM25 is the maximum allowed PM2.5 jump versus the
	// reading from roughly one hour earlier.
	RateOfChangePM25 = 200.0

	// GracePeriod keeps a flagged node excluded regardless of its
	// current readings.
	GracePeriod = time.Hour

	// PriorTolerance bounds how far from "one hour ago" the comparison
	// reading may sit.
	PriorTolerance = 90 * time.Minute
)

// Guard remembers which sensor nodes recently produced anomalous readings.
// Records expire lazily on the next grace check, not via a timer.
type Guard struct {
	mu      sync.Mutex
	records map[string]time.Time
}

func NewGuard() *Guard {
	return &Guard{records: make(map[string]time.Time)}
}

func key(zone, node string) string {
	return zone + ":" + node
}

// IsAnomalous applies the absolute-threshold and rate-of-change rules to a
// node's current reading. priorPM25 is the PM2.5 value from roughly one
// hour earlier, nil when no such reading exists. Returns the trigger reason.
func (g *Guard) IsAnomalous(pm25, pm10 float64, priorPM25 *float64) (bool, string) {
	if pm25 > AbsolutePM25Limit {
		return true, fmt.Sprintf("pm2_5 %.1f exceeds absolute limit %.0f", pm25, AbsolutePM25Limit)
	}
	if pm10 > AbsolutePM10Limit {
		return true, fmt.Sprintf("pm10 %.1f exceeds absolute limit %.0f", pm10, AbsolutePM10Limit)
	}
	if priorPM25 != nil && pm25-*priorPM25 > RateOfChangePM25 {
		return true, fmt.Sprintf("pm2_5 jumped %.1f within one hour", pm25-*priorPM25)
	}
	return false, ""
}

// RecordSpike marks the node as anomalous at the given time.
func (g *Guard) RecordSpike(zone, node string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[key(zone, node)] = now
}

// InGrace reports whether the node is still inside its grace window and how
// much of the window remains. Expired records are purged here.
func (g *Guard) InGrace(zone, node string, now time.Time) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(zone, node)
	flagged, ok := g.records[k]
	if !ok {
		return 0, false
	}
	elapsed := now.Sub(flagged)
	if elapsed >= GracePeriod {
		delete(g.records, k)
		return 0, false
	}
	return GracePeriod - elapsed, true
}
