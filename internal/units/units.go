// Package units converts the engine's canonical measurements (metres, dBm,
// UTC) into the forms observers ask for.
package units

import (
	"fmt"
	"strings"
)

// Distance unit names accepted in ?units= query parameters.
const (
	Metres     = "m"
	Kilometres = "km"
	Feet       = "ft"
	Miles      = "mi"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Metres, Kilometres, Feet, Miles}

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
	return strings.Join(ValidUnits, ", ")
}

// ConvertDistance converts metres to the target unit. Unknown units return
// metres unchanged.
func ConvertDistance(metres float64, targetUnits string) float64 {
	switch targetUnits {
	case Kilometres:
		return metres / 1000
	case Feet:
		return metres * 3.28083989501
	case Miles:
		return metres / 1609.344
	default:
		return metres
	}
}

// FormatDistance renders metres in the target unit with a suffix.
func FormatDistance(metres float64, targetUnits string) string {
	if !IsValid(targetUnits) {
		targetUnits = Metres
	}
	v := ConvertDistance(metres, targetUnits)
	if targetUnits == Metres || targetUnits == Feet {
		return fmt.Sprintf("%.0f %s", v, targetUnits)
	}
	return fmt.Sprintf("%.2f %s", v, targetUnits)
}
