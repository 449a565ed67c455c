package source

import "breathe/internal/aqi"

// Reading is one sensor observation. Pointer fields distinguish "absent"
// from zero; TS is epoch seconds, 0 when the source supplied no timestamp.
type Reading struct {
	PM25        *float64
	PM10        *float64
	Temperature *float64
	Humidity    *float64
	TS          int64
}

// Usable reports whether the reading carries the required PM2.5 value.
func (r Reading) Usable() bool {
	return r.PM25 != nil
}

// EstimatePoint is one hourly model-estimated concentration for one
// pollutant, the unit the history merger consumes.
type EstimatePoint struct {
	TS        int64
	Pollutant aqi.Pollutant
	Value     float64
}
