package tmc

import "math"

// ExternalClock is the clock frequency the drivers are run from, in Hz.
const ExternalClock = 16000000

// VelocityToTStep converts a velocity in microsteps per second into the TSTEP-style value the
// threshold registers compare against. Zero and negative velocities map to 0, which disables the
// threshold.
func VelocityToTStep(velocity float64) uint32 {
	if velocity <= 0 {
		return 0
	}
	t := ExternalClock / velocity
	if t > MaxThreshold {
		return MaxThreshold
	}
	return uint32(t)
}

// TStepToVelocity is the inverse of VelocityToTStep.
func TStepToVelocity(tstep uint32) float64 {
	return ExternalClock / float64(max(tstep, 1))
}

// CurrentSense describes the sense resistor circuit of a TMC2160 board.
type CurrentSense struct {
	RSense float64 // ohms
	VFS    float64 // full scale sense voltage, volts
}

// PeakCurrentToCS converts a peak current in amps into an IRUN/IHOLD value for a TMC2160 with
// the given global scaler. The result is clamped to 0..31.
func (c CurrentSense) PeakCurrentToCS(peak float64, scaler GlobalScaler) uint8 {
	const (
		csSteps   = 32.0
		scaleBase = 256.0
	)
	inv := 1.0
	if s := scaler.Clamped(); s != 0 {
		inv = scaleBase / float64(s)
	}
	cs := math.Floor(inv * csSteps * c.RSense / c.VFS * peak)
	switch {
	case cs > csSteps:
		cs = csSteps
	case cs < 1:
		cs = 1
	}
	return uint8(cs - 1)
}
