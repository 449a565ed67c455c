package aqi

import "strings"

// Pollutant is the closed set of pollutant keys the engine understands.
type Pollutant string

const (
	PM25 Pollutant = "pm2_5"
	PM10 Pollutant = "pm10"
	CO   Pollutant = "co"
	NO2  Pollutant = "no2"
	SO2  Pollutant = "so2"
	O3   Pollutant = "o3"
	CH4  Pollutant = "ch4"
)

// CanonicalOrder fixes the iteration order over pollutants so that
// max-index ties resolve deterministically to the first-seen key.
var CanonicalOrder = []Pollutant{PM25, PM10, CO, NO2, SO2, O3, CH4}

// keyAliases maps raw upstream keys (lowercased, trimmed) to canonical
// pollutant keys. Keys outside this table are dropped.
var keyAliases = map[string]Pollutant{
	"pm2.5":            PM25,
	"pm2_5":            PM25,
	"pm25":             PM25,
	"pm10":             PM10,
	"co":               CO,
	"carbon_monoxide":  CO,
	"no2":              NO2,
	"nitrogen_dioxide": NO2,
	"so2":              SO2,
	"sulphur_dioxide":  SO2,
	"o3":               O3,
	"ozone":            O3,
	"ch4":              CH4,
	"methane":          CH4,
}

// molarMass in g/mol, used by the static µg/m³ → ppb conversion.
var molarMass = map[Pollutant]float64{
	CO:  28.01,
	NO2: 46.01,
	SO2: 64.07,
	O3:  48.00,
	CH4: 16.04,
}

// Sample maps pollutant keys to raw concentrations in µg/m³.
type Sample map[Pollutant]float64

// Normalize resolves a raw string-keyed pollutant map into a Sample,
// case-insensitively applying the alias table and dropping unknown keys.
func Normalize(raw map[string]float64) Sample {
	s := make(Sample, len(raw))
	for k, v := range raw {
		if p, ok := keyAliases[strings.ToLower(strings.TrimSpace(k))]; ok {
			s[p] = v
		}
	}
	return s
}

// LookupKey resolves a single raw key to its canonical pollutant, if any.
func LookupKey(raw string) (Pollutant, bool) {
	p, ok := keyAliases[strings.ToLower(strings.TrimSpace(raw))]
	return p, ok
}
