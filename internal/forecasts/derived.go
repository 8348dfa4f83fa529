package forecasts

import (
	"math"
	"strings"

	"weatherbingo/internal/types"
)

// Wind chill applies only at or below this air temperature (°C) and at or
// above this wind speed (km/h).
const (
	windChillMaxTempC   = 10.0
	windChillMinWindKmh = 4.8
)

// Snow surface model constants: maximum radiative cooling under a clear sky
// and the wind speed (m/s) at which that cooling is halved.
const (
	snowClearSkyCoolingC = 3.0
	snowWindDampingMs    = 5.0
)

// FeelsLike returns the wind-chill adjusted temperature for an air temperature
// in °C and a wind speed in m/s. Outside the wind chill regime the air
// temperature is returned unchanged.
func FeelsLike(tempC, windMs float64) float64 {
	windKmh := windMs * 3.6
	if tempC > windChillMaxTempC || windKmh < windChillMinWindKmh {
		return tempC
	}
	v := math.Pow(windKmh, 0.16)
	return 13.12 + 0.6215*tempC - 11.37*v + 0.3965*tempC*v
}

// SnowTemperature estimates the snow surface temperature. The surface starts
// from the lower of air temperature and dew point and cools further under
// clear skies, less so in wind. The result never exceeds 0 °C.
func SnowTemperature(airC, dewPointC, cloudCoverPct, windMs float64) float64 {
	base := math.Min(airC, dewPointC)
	cloudFactor := 1 - clamp(cloudCoverPct/100, 0, 1)
	windDamping := 1 / (1 + windMs/snowWindDampingMs)
	offset := cloudFactor * snowClearSkyCoolingC * windDamping
	return math.Min(base-offset, 0)
}

// PrecipitationType classifies precipitation from the amount, the provider's
// symbol code, and, when the symbol is not conclusive, the air temperature.
func PrecipitationType(precipMm, tempC float64, symbolCode string) string {
	if precipMm <= 0 {
		return types.PrecipNone
	}
	switch {
	case strings.Contains(symbolCode, "snow"):
		return types.PrecipSnow
	case strings.Contains(symbolCode, "sleet"):
		return types.PrecipSleet
	case strings.Contains(symbolCode, "rain"), strings.Contains(symbolCode, "drizzle"):
		return types.PrecipRain
	}
	switch {
	case tempC < 0:
		return types.PrecipSnow
	case tempC <= 2:
		return types.PrecipSleet
	default:
		return types.PrecipRain
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round1 rounds to one decimal place; non-finite values become 0 so they can
// never reach storage.
func round1(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*10) / 10
}
