// Package psychro provides the psychrometric math used by the control core.
//
// All functions are pure and stateless. Temperatures are Celsius unless the
// name carries an F suffix; pressures are kilopascals. Conversions between
// Fahrenheit and Celsius use the exact linear formulas and no intermediate
// rounding, so repeated round-trips do not accumulate error. Rounding belongs
// at presentation boundaries only.
package psychro

import "math"

// Magnus-Tetens coefficients. The saturation curve and the dew point inverse
// use slightly different denominators; both are kept as published rather than
// unified, since the control targets were tuned against these exact values.
const (
	magnusA = 17.27
	svpB    = 237.3
	dewB    = 237.7
)

// SaturationVaporPressure returns the saturation vapor pressure in kPa at the
// given temperature using the Magnus-Tetens approximation:
//
//	svp = 0.6108 * exp(17.27*T / (T + 237.3))
//
// Valid over the liquid-water range this chamber operates in (roughly 0-50C).
func SaturationVaporPressure(tempC float64) float64 {
	return 0.6108 * math.Exp(magnusA*tempC/(tempC+svpB))
}

// VPD returns the vapor pressure deficit in kPa for the given temperature and
// relative humidity. VPD is the difference between saturation and actual vapor
// pressure; it is the quantity that drives moisture out of the product.
func VPD(tempC, rhPercent float64) float64 {
	return SaturationVaporPressure(tempC) * (1 - rhPercent/100)
}

// DewPoint returns the dew point in Celsius via the inverse Magnus-Tetens
// formula.
//
// The logarithm is undefined for rhPercent <= 0; in that case the input
// temperature is returned. A sensor reporting 0% humidity is already a fault
// condition handled upstream, so the fallback only needs to be safe, not
// meaningful. For all rhPercent in (0, 100] the result is <= tempC.
func DewPoint(tempC, rhPercent float64) float64 {
	if rhPercent <= 0 {
		return tempC
	}
	gamma := math.Log(rhPercent/100) + magnusA*tempC/(dewB+tempC)
	return dewB * gamma / (magnusA - gamma)
}

// WaterActivityEstimate estimates water activity from relative humidity and
// temperature in Fahrenheit, clamped to [0.30, 1.0].
//
// This is a heuristic derived from equilibrium behavior around 65F, not a
// calibrated instrument reading. It is suitable as an early-exit hint for the
// phase schedule and for display; it must not be the sole input to any
// product-safety decision.
func WaterActivityEstimate(rhPercent, tempF float64) float64 {
	aw := rhPercent / 100 * (1 - (tempF-65)*0.002) * 0.95
	return clamp(aw, 0.30, 1.0)
}

// CToF converts Celsius to Fahrenheit.
func CToF(c float64) float64 { return c*9/5 + 32 }

// FToC converts Fahrenheit to Celsius.
func FToC(f float64) float64 { return (f - 32) * 5 / 9 }

// VPDFromF is VPD with the temperature given in Fahrenheit. The control layer
// works in Fahrenheit end to end; this keeps the conversion in one place.
func VPDFromF(tempF, rhPercent float64) float64 {
	return VPD(FToC(tempF), rhPercent)
}

// DewPointF is DewPoint with input and output in Fahrenheit.
func DewPointF(tempF, rhPercent float64) float64 {
	return CToF(DewPoint(FToC(tempF), rhPercent))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
