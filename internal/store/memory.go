package store

import (
	"sort"
	"sync"
	"time"

	"breathe/internal/models"
)

// Memory is an in-memory Store with the same idempotence guarantee as the
// MySQL store. It backs tests and local runs without a database.
type Memory struct {
	mu       sync.Mutex
	readings map[string]map[int64]models.PersistedReading

	// Now is overridable so history-window tests are deterministic.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		readings: make(map[string]map[int64]models.PersistedReading),
		Now:      time.Now,
	}
}

func (m *Memory) SaveReading(zoneKey string, pm25, pm10 float64, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byTS, ok := m.readings[zoneKey]
	if !ok {
		byTS = make(map[int64]models.PersistedReading)
		m.readings[zoneKey] = byTS
	}
	if _, exists := byTS[ts]; exists {
		return nil // insert-or-ignore, never overwrite
	}
	byTS[ts] = models.PersistedReading{ZoneKey: zoneKey, TS: ts, PM25: pm25, PM10: pm10}
	return nil
}

func (m *Memory) GetHistory(zoneKey string, hoursBack int) ([]models.PersistedReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.Now().Unix() - int64(hoursBack)*3600

	var readings []models.PersistedReading
	for ts, r := range m.readings[zoneKey] {
		if ts > cutoff {
			readings = append(readings, r)
		}
	}
	sort.Slice(readings, func(i, j int) bool { return readings[i].TS < readings[j].TS })
	return readings, nil
}

// Count reports the number of stored rows for a zone key.
func (m *Memory) Count(zoneKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings[zoneKey])
}
