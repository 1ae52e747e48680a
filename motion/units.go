package motion

import "math"

// Lid hinge drive train.
const (
	lidStepsPerDegree = 200.0 / 360.0
	lidMicrostepping  = 32
	lidGearRatio      = 99.5
	// LidMicrostepsPerDegree converts hinge angle to driver microsteps.
	LidMicrostepsPerDegree = lidStepsPerDegree * lidMicrostepping * lidGearRatio

	// LidDACMaxCurrent is the current, in mA, that a full scale DAC output sets on the lid
	// driver: 3.3 V across 8 x 0.05 ohm.
	LidDACMaxCurrent = 8250.0
	lidDACMaxValue   = 0xFF
)

// LidAngleToMicrosteps converts a hinge angle in degrees to signed microsteps, truncating toward
// zero.
func LidAngleToMicrosteps(degrees float64) int64 {
	return int64(degrees * LidMicrostepsPerDegree)
}

// LidCurrentToDAC converts a lid motor current in mA to the 8 bit reference DAC value.
func LidCurrentToDAC(milliamps float64) uint8 {
	milliamps = math.Min(math.Max(milliamps, 0), LidDACMaxCurrent)
	return uint8(uint32(milliamps*lidDACMaxValue/LidDACMaxCurrent) & lidDACMaxValue)
}

// Abs returns the magnitude of a signed step count.
func Abs(steps int64) uint64 {
	if steps < 0 {
		return uint64(-steps)
	}
	return uint64(steps)
}
