package store

import "breathe/internal/models"

// Store is the persisted-readings contract. Saving the same
// (zone key, timestamp) pair twice must keep exactly one row.
type Store interface {
	// SaveReading persists one reading. ts is epoch seconds.
	SaveReading(zoneKey string, pm25, pm10 float64, ts int64) error
	// GetHistory returns readings for the trailing hoursBack hours,
	// ordered ascending by timestamp.
	GetHistory(zoneKey string, hoursBack int) ([]models.PersistedReading, error)
}

// NodeKey derives the composite zone key under which a single sensor
// node's readings are persisted.
func NodeKey(zoneID, node string) string {
	return zoneID + "." + node
}
