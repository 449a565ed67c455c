package aqi

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bracket maps one concentration range to one index range. Brackets for a
// pollutant must be contiguous and non-overlapping so exactly one matches.
type Bracket struct {
	CLow  float64
	CHigh float64
	ILow  int
	IHigh int
}

// Breakpoints holds the ordered bracket list per pollutant for one standard.
type Breakpoints map[Pollutant][]Bracket

// usBreakpoints is the fixed US EPA-style table. Concentrations are in the
// standard's reporting units: µg/m³ for particulates, ppm for CO, ppb for
// NO2 and SO2. Pollutants without an entry are excluded from the US
// breakdown.
var usBreakpoints = Breakpoints{
	PM25: {
		{0.0, 9.0, 0, 50},
		{9.1, 35.4, 51, 100},
		{35.5, 55.4, 101, 150},
		{55.5, 125.4, 151, 200},
		{125.5, 225.4, 201, 300},
		{225.5, 325.4, 301, 400},
		{325.5, 500.4, 401, 500},
	},
	PM10: {
		{0, 54, 0, 50},
		{55, 154, 51, 100},
		{155, 254, 101, 150},
		{255, 354, 151, 200},
		{355, 424, 201, 300},
		{425, 504, 301, 400},
		{505, 604, 401, 500},
	},
	CO: {
		{0.0, 4.4, 0, 50},
		{4.5, 9.4, 51, 100},
		{9.5, 12.4, 101, 150},
		{12.5, 15.4, 151, 200},
		{15.5, 30.4, 201, 300},
		{30.5, 40.4, 301, 400},
		{40.5, 50.4, 401, 500},
	},
	NO2: {
		{0, 53, 0, 50},
		{54, 100, 51, 100},
		{101, 360, 101, 150},
		{361, 649, 151, 200},
		{650, 1249, 201, 300},
		{1250, 1649, 301, 400},
		{1650, 2049, 401, 500},
	},
	SO2: {
		{0, 35, 0, 50},
		{36, 75, 51, 100},
		{76, 185, 101, 150},
		{186, 304, 151, 200},
		{305, 604, 201, 300},
		{605, 804, 301, 400},
		{805, 1004, 401, 500},
	},
}

// LoadBreakpoints reads the national-standard bracket lists from a YAML file
// keyed by pollutant, each entry a [concLow, concHigh, idxLow, idxHigh]
// tuple. Unknown pollutant keys are rejected rather than dropped so a typo
// in the data file fails fast.
func LoadBreakpoints(path string) (Breakpoints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read breakpoints file %s: %w", path, err)
	}

	var raw map[string][][]float64
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse breakpoints file %s: %w", path, err)
	}

	bps := make(Breakpoints, len(raw))
	for key, rows := range raw {
		p, ok := LookupKey(key)
		if !ok {
			return nil, fmt.Errorf("breakpoints file %s: unknown pollutant %q", path, key)
		}
		brackets := make([]Bracket, 0, len(rows))
		for i, row := range rows {
			if len(row) != 4 {
				return nil, fmt.Errorf("breakpoints file %s: %s bracket %d has %d values, want 4", path, key, i, len(row))
			}
			brackets = append(brackets, Bracket{
				CLow:  row[0],
				CHigh: row[1],
				ILow:  int(row[2]),
				IHigh: int(row[3]),
			})
		}
		bps[p] = brackets
	}
	return bps, nil
}
