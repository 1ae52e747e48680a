// Package motion generates step pulses for a stepper driven from a fixed rate tick.
package motion

import "math"

// Kind selects how a Profile ends.
type Kind int

const (
	// FixedDistance moves a set number of steps and then reports done.
	FixedDistance Kind = iota
	// OpenLoop runs at its peak velocity until stopped from outside.
	OpenLoop
)

func (k Kind) String() string {
	if k == OpenLoop {
		return "open_loop"
	}
	return "fixed_distance"
}

// Velocities are steps per tick with 31 fractional bits. The tracker adds the velocity every tick
// and a step is due whenever the whole-step bit flips.
const (
	radix    = 31
	tickFlag = int64(1) << radix
	// Anything at or above one step per tick could skip a flip.
	maxVelocity = tickFlag - 1
)

func toFixed(v float64) int64 {
	f := v * float64(tickFlag)
	if f >= float64(maxVelocity) {
		return maxVelocity
	}
	if f <= 0 {
		return 0
	}
	return int64(f)
}

// Params describes the speeds of a movement. Velocities are in steps per second and acceleration
// in steps per second squared.
type Params struct {
	TickFrequency uint32
	StartVelocity float64
	PeakVelocity  float64
	// Acceleration of zero or less starts the movement at PeakVelocity.
	Acceleration float64
}

// Tick is what one timer tick asks of the caller.
type Tick struct {
	Done bool
	Step bool
}

// Profile is a trapezoidal (or flat) velocity ramp evaluated one tick at a time. Tick must only be
// called from one goroutine; the accessors may be read by the owner once the ticks have stopped.
type Profile struct {
	kind   Kind
	params Params

	start int64
	peak  int64
	accel int64
	// Acceleration in steps per tick squared, for the braking cap.
	accelPerTick float64

	velocity int64
	tracker  int64
	target   uint64
	distance uint64
	done     bool
}

// NewProfile returns a profile at rest. distance is ignored for OpenLoop movements.
func NewProfile(params Params, kind Kind, distance uint64) *Profile {
	params.TickFrequency = max(params.TickFrequency, 1)
	params.StartVelocity = max(params.StartVelocity, 0)
	params.PeakVelocity = max(params.PeakVelocity, params.StartVelocity)
	params.Acceleration = max(params.Acceleration, 0)

	freq := float64(params.TickFrequency)
	p := &Profile{
		kind:         kind,
		params:       params,
		start:        toFixed(params.StartVelocity / freq),
		peak:         toFixed(params.PeakVelocity / freq),
		accel:        toFixed(params.Acceleration / (freq * freq)),
		accelPerTick: params.Acceleration / (freq * freq),
		target:       distance,
	}
	if p.accel <= 0 {
		p.start = p.peak
	}
	p.reset()
	return p
}

// reset puts the profile back at the start of its movement.
func (p *Profile) reset() {
	p.velocity = p.start
	p.tracker = 0
	p.distance = 0
	p.done = p.kind == FixedDistance && p.target == 0
}

// Tick advances the profile by one tick. Once a fixed distance movement is done every further
// call returns Done without a step.
func (p *Profile) Tick() Tick {
	if p.done {
		return Tick{Done: true}
	}

	p.velocity += p.accel
	if p.velocity > p.peak {
		p.velocity = p.peak
	}
	if p.kind == FixedDistance && p.accel > 0 {
		// Brake so the velocity runs out with the distance. The cap never drops below what
		// one remaining step needs, so the movement always finishes.
		remaining := float64(p.target - p.distance)
		limit := toFixed(math.Sqrt(2 * p.accelPerTick * remaining))
		limit = max(limit, p.start, toFixed(math.Sqrt(2*p.accelPerTick)), 1)
		if p.velocity > limit {
			p.velocity = limit
		}
	}

	old := p.tracker
	p.tracker += p.velocity
	step := (old^p.tracker)&tickFlag != 0
	if step {
		p.distance++
	}
	if p.kind == FixedDistance && p.distance >= p.target {
		p.done = true
	}
	return Tick{Done: p.done, Step: step}
}

// Kind returns the movement kind.
func (p *Profile) Kind() Kind {
	return p.kind
}

// TargetDistance returns the number of steps a fixed distance movement takes.
func (p *Profile) TargetDistance() uint64 {
	return p.target
}

// CurrentDistance returns the number of steps taken so far.
func (p *Profile) CurrentDistance() uint64 {
	return p.distance
}

// Done reports whether a fixed distance movement has reached its target.
func (p *Profile) Done() bool {
	return p.done
}

// Velocity returns the current velocity in steps per second.
func (p *Profile) Velocity() float64 {
	return float64(p.velocity) / float64(tickFlag) * float64(p.params.TickFrequency)
}
