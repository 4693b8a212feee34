// Package units provides shared constants and conversions for field
// intensity and angle units.
package units

import "math"

// Intensity unit constants
const (
	NT = "nT"
	UT = "uT"
	MT = "mT"
)

// ValidUnits contains all valid intensity unit values
var ValidUnits = []string{NT, UT, MT}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "nT, uT, mT"
}

// ToNanotesla converts an intensity in the given units to nT.
// The inversion works in nT throughout.
func ToNanotesla(value float64, fromUnits string) float64 {
	switch fromUnits {
	case UT:
		return value * 1e3
	case MT:
		return value * 1e6
	default:
		return value
	}
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
