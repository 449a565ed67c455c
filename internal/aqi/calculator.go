package aqi

import "math"

// Mode selects how gas concentrations are converted to the second
// standard's units. Static uses the molar volume at 25°C; TemperatureAdjusted
// scales the documented EPA-style factors by the ambient temperature.
type Mode string

const (
	ModeStatic              Mode = "static"
	ModeTemperatureAdjusted Mode = "temperature_adjusted"
)

const referenceTempK = 298.15

// Result is the outcome of one index computation over a sample.
type Result struct {
	AQI              int
	USAQI            int
	MainPollutant    Pollutant
	USMainPollutant  Pollutant
	Breakdown        map[Pollutant]int
	USBreakdown      map[Pollutant]int
	ConcentrationsUS map[Pollutant]float64
	Raw              map[Pollutant]float64
}

// Calculator computes standardized indices under the national standard
// (data-driven brackets) and the fixed US EPA-style standard.
type Calculator struct {
	national Breakpoints
	mode     Mode
}

func NewCalculator(national Breakpoints, mode Mode) *Calculator {
	if mode == "" {
		mode = ModeStatic
	}
	return &Calculator{national: national, mode: mode}
}

// Compute runs both standards over the sample using the reference
// temperature for gas conversions.
func (c *Calculator) Compute(sample Sample) Result {
	return c.ComputeAt(sample, referenceTempK)
}

// ComputeAt runs both standards over the sample. tempK only influences the
// temperature-adjusted conversion mode; the static mode ignores it.
func (c *Calculator) ComputeAt(sample Sample, tempK float64) Result {
	res := Result{
		Breakdown:        make(map[Pollutant]int),
		USBreakdown:      make(map[Pollutant]int),
		ConcentrationsUS: make(map[Pollutant]float64),
		Raw:              make(map[Pollutant]float64, len(sample)),
	}

	for _, p := range CanonicalOrder {
		conc, ok := sample[p]
		if !ok {
			continue
		}
		res.Raw[p] = conc

		if idx, ok := indexFor(c.national[p], toNationalUnits(p, conc)); ok {
			res.Breakdown[p] = idx
			if res.MainPollutant == "" || idx > res.AQI {
				res.MainPollutant = p
				res.AQI = idx
			}
		}

		usVal := c.toUSUnits(p, conc, tempK)
		res.ConcentrationsUS[p] = math.Round(usVal*100) / 100
		if idx, ok := indexFor(usBreakpoints[p], truncateUS(p, usVal)); ok {
			res.USBreakdown[p] = idx
			if res.USMainPollutant == "" || idx > res.USAQI {
				res.USMainPollutant = p
				res.USAQI = idx
			}
		}
	}

	return res
}

// indexFor locates the bracket containing conc and interpolates. Returns
// false when the pollutant has no bracket table at all.
func indexFor(brackets []Bracket, conc float64) (int, bool) {
	if len(brackets) == 0 {
		return 0, false
	}
	if conc < brackets[0].CLow {
		return 0, true
	}
	for _, b := range brackets {
		if conc >= b.CLow && conc <= b.CHigh {
			return interpolate(conc, b), true
		}
	}
	if conc > brackets[len(brackets)-1].CHigh {
		return 500, true
	}
	return 0, false
}

// interpolate maps a concentration inside one bracket to its index range,
// truncating toward zero like the reporting standards do.
func interpolate(conc float64, b Bracket) int {
	if b.CHigh == b.CLow {
		return b.ILow
	}
	val := float64(b.IHigh-b.ILow)/(b.CHigh-b.CLow)*(conc-b.CLow) + float64(b.ILow)
	return int(val)
}

// toNationalUnits converts a raw µg/m³ value into the national standard's
// reporting units: CO and CH4 are reported in mg/m³, everything else stays.
func toNationalUnits(p Pollutant, ugm3 float64) float64 {
	switch p {
	case CO, CH4:
		return ugm3 / 1000.0
	}
	return ugm3
}

// toUSUnits converts a raw µg/m³ value into the second standard's units:
// particulates stay in µg/m³, gases become ppb (CO ppm).
func (c *Calculator) toUSUnits(p Pollutant, ugm3, tempK float64) float64 {
	switch p {
	case PM25, PM10:
		return ugm3
	}

	if c.mode == ModeTemperatureAdjusted {
		if v, ok := adjustedUSUnits(p, ugm3, tempK); ok {
			return v
		}
	}

	m, ok := molarMass[p]
	if !ok {
		return ugm3
	}
	ppb := ugm3 * 24.45 / m
	if p == CO {
		return ppb / 1000.0 // ppm
	}
	return ppb
}

// adjustedUSUnits applies the temperature-scaled conversion factors. Only
// the documented gases carry a factor; others fall through to static.
func adjustedUSUnits(p Pollutant, ugm3, tempK float64) (float64, bool) {
	if tempK <= 0 {
		tempK = referenceTempK
	}
	scale := tempK / referenceTempK
	switch p {
	case CO:
		return ugm3 / 1145.0 * scale, true // ppm
	case NO2:
		return ugm3 / 1.88 * scale, true
	case SO2:
		return ugm3 / 2.62 * scale, true
	case O3:
		return ugm3 / 1.96 * scale, true
	}
	return 0, false
}

// truncateUS applies the standard's truncation rule before bracket lookup:
// PM2.5 and CO keep one decimal place, the remaining keys truncate to an
// integer.
func truncateUS(p Pollutant, v float64) float64 {
	switch p {
	case PM25, CO:
		return math.Floor(v*10) / 10
	}
	return float64(int(v))
}
