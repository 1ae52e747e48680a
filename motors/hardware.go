package motors

import "context"

// TickFunc is called once per timer tick. Returning false stops the ticks; the tick source must
// not call it again until it is restarted.
type TickFunc func() bool

// Hardware is everything the motor task drives directly. Methods without a context may be called
// from a TickFunc and must not block.
type Hardware interface {
	SetLidEnable(ctx context.Context, enable bool) error
	// SetLidDirection sets the hinge direction. Positive opens.
	SetLidDirection(ctx context.Context, positive bool) error
	// SetLidCurrent writes the lid driver current reference DAC.
	SetLidCurrent(ctx context.Context, dac uint8) error
	LidFault(ctx context.Context) (bool, error)
	EngageSolenoid(ctx context.Context) error
	DisengageSolenoid(ctx context.Context) error
	LidStepPulse()
	ReadLidSwitches() (closed, open bool)
	StartLidTicks(hz uint32, tick TickFunc) error
	// StopLidTicks stops the lid ticks. Once it returns the TickFunc is not running and will not
	// be called again.
	StopLidTicks()

	SetSealEnable(ctx context.Context, enable bool) error
	SetSealDirection(ctx context.Context, positive bool) error
	SealStepPulse()
	// SealDiag reads the seal driver diagnostic outputs.
	SealDiag() (stall, fault bool)
	StartSealTicks(hz uint32, tick TickFunc) error
	// StopSealTicks stops the seal ticks with the same guarantee as StopLidTicks.
	StopSealTicks()
}

// Responder delivers responses to the host.
type Responder interface {
	Respond(resp Response)
}
