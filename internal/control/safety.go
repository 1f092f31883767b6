package control

import (
	"fmt"

	"github.com/drydenhq/dryden/internal/config"
)

// SafetyBounds is the emergency envelope for the chamber. Conditions
// outside it take the same path as an operator emergency stop: product
// safety beats process continuity only here.
type SafetyBounds struct {
	TempMinF    float64
	TempMaxF    float64
	HumidityMin float64
	HumidityMax float64
}

func boundsFromConfig(s config.Safety) SafetyBounds {
	return SafetyBounds{
		TempMinF:    s.TempMinF,
		TempMaxF:    s.TempMaxF,
		HumidityMin: s.HumidityMin,
		HumidityMax: s.HumidityMax,
	}
}

// Check returns an error wrapping ErrSafetyLimit when the aggregated
// conditions are outside the envelope.
func (b SafetyBounds) Check(c Conditions) error {
	if c.TempF < b.TempMinF || c.TempF > b.TempMaxF {
		return fmt.Errorf("%w: temperature %.1fF outside %.0f-%.0fF",
			ErrSafetyLimit, c.TempF, b.TempMinF, b.TempMaxF)
	}
	if c.Humidity < b.HumidityMin || c.Humidity > b.HumidityMax {
		return fmt.Errorf("%w: humidity %.1f%% outside %.0f-%.0f%%",
			ErrSafetyLimit, c.Humidity, b.HumidityMin, b.HumidityMax)
	}
	return nil
}
