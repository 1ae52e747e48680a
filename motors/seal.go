package motors

import (
	"context"
	"math"

	"go.viam.com/rdk/logging"

	"github.com/viam-modules/thermocycler-motion/motion"
	"github.com/viam-modules/thermocycler-motion/tmc"
)

// Seal stepper defaults.
const (
	DefaultSealTickFrequency = 1000000
	DefaultSealVelocity      = 200000
	DefaultSealAcceleration  = 50000
)

// SealConfig sets the seal movement speeds. Velocity is in microsteps per second and acceleration
// in microsteps per second squared.
type SealConfig struct {
	TickFrequency uint32
	Velocity      float64
	Acceleration  float64
}

func (c SealConfig) withDefaults() SealConfig {
	if c.TickFrequency == 0 {
		c.TickFrequency = DefaultSealTickFrequency
	}
	if c.Velocity == 0 {
		c.Velocity = DefaultSealVelocity
	}
	if c.Acceleration == 0 {
		c.Acceleration = DefaultSealAcceleration
	}
	return c
}

// Seal coordinates the seal stepper. It has no limit switches; stalls are detected by the driver
// and the position is dead reckoned from the steps taken.
type Seal struct {
	cfg    SealConfig
	driver *tmc.Driver
	hw     Hardware
	queue  *Queue
	logger logging.Logger

	state StateCell
	id    ID
	// Signed steps since startup.
	position int64

	// Written by the task before Moving and by the tick handler until Finishing.
	profile  *motion.Profile
	positive bool
	reason   CompletionReason
}

func newSeal(cfg SealConfig, driver *tmc.Driver, hw Hardware, queue *Queue, logger logging.Logger) *Seal {
	return &Seal{
		cfg:    cfg.withDefaults(),
		driver: driver,
		hw:     hw,
		queue:  queue,
		logger: logger,
	}
}

// State returns the seal run state.
func (s *Seal) State() RunState {
	return s.state.Load()
}

// Position returns the dead reckoned seal position in signed microsteps.
func (s *Seal) Position() int64 {
	return s.position
}

// start begins a movement of steps microsteps. A NoError result means a SealMovementResult for id
// will follow.
func (s *Seal) start(ctx context.Context, id ID, steps int64) ErrorCode {
	if s.state.Busy() {
		return SealMotorBusy
	}
	if _, fault := s.hw.SealDiag(); fault {
		s.logger.CWarnf(ctx, "seal driver reports a fault on DIAG0, not moving")
		return SealMotorFault
	}
	faulted, err := s.driver.Faulted(ctx)
	if err != nil {
		s.logger.CWarnf(ctx, "checking seal driver status: %v", err)
		return SealMotorSPIError
	}
	if faulted {
		s.logger.CWarnf(ctx, "seal driver status shows a fault, not moving")
		return SealMotorFault
	}

	positive := steps > 0
	if err := s.hw.SetSealDirection(ctx, positive); err != nil {
		s.logger.CWarnf(ctx, "setting seal direction: %v", err)
		return SealMotorFault
	}
	if err := s.hw.SetSealEnable(ctx, false); err != nil {
		s.logger.CWarnf(ctx, "disabling seal driver: %v", err)
		return SealMotorFault
	}
	if err := s.driver.ClearStall(ctx); err != nil {
		s.logger.CWarnf(ctx, "clearing seal stall: %v", err)
		return SealMotorSPIError
	}
	if err := s.hw.SetSealEnable(ctx, true); err != nil {
		s.logger.CWarnf(ctx, "enabling seal driver: %v", err)
		return SealMotorFault
	}

	s.profile = motion.NewProfile(motion.Params{
		TickFrequency: s.cfg.TickFrequency,
		PeakVelocity:  s.cfg.Velocity,
		Acceleration:  s.cfg.Acceleration,
	}, motion.FixedDistance, motion.Abs(steps))
	s.positive = positive
	s.reason = DoneReason
	s.id = id

	s.state.Transition(Idle, Moving)
	if err := s.hw.StartSealTicks(s.cfg.TickFrequency, s.tick); err != nil {
		s.logger.CWarnf(ctx, "starting seal ticks: %v", err)
		s.state.Transition(Moving, Idle)
		s.id = InvalidID
		s.disable(ctx)
		return SealMotorFault
	}
	s.logger.Debugw("seal movement started", "id", id, "steps", steps)
	return NoError
}

// tick runs once per timer tick while Moving.
func (s *Seal) tick() bool {
	stall, fault := s.hw.SealDiag()
	switch {
	case fault:
		s.reason = ErrorReason
		return s.finish()
	case stall:
		s.reason = StallReason
		return s.finish()
	}

	t := s.profile.Tick()
	if t.Step {
		s.hw.SealStepPulse()
	}
	if t.Done {
		return s.finish()
	}
	return true
}

func (s *Seal) finish() bool {
	if s.state.Transition(Moving, Finishing) {
		s.queue.SendFromISR(sealComplete{})
	}
	return false
}

// complete handles the end of a movement the tick handler finished. Late or repeated completion
// events find the cell no longer Finishing and do nothing.
func (s *Seal) complete(ctx context.Context, responder Responder) {
	if s.state.Load() != Finishing {
		return
	}
	s.hw.StopSealTicks()
	s.disable(ctx)

	code := NoError
	if s.reason == ErrorReason {
		code = SealMotorFault
	}
	s.settle(responder, s.reason, code)
	s.state.Transition(Finishing, Idle)
}

// stop halts a movement in flight. It reports whether one was halted.
func (s *Seal) stop(ctx context.Context, responder Responder) bool {
	s.hw.StopSealTicks()
	switch s.state.Load() {
	case Finishing:
		// Already over; report it the normal way.
		s.complete(ctx, responder)
		return false
	case Moving:
		s.logger.Infow("seal movement interrupted", "id", s.id, "velocity", s.profile.Velocity())
		s.disable(ctx)
		s.settle(responder, StoppedReason, MotorStopped)
		s.state.Transition(Moving, Idle)
		return true
	default:
		s.disable(ctx)
		return false
	}
}

// settle records the steps taken and answers the movement. The ticks must be stopped.
func (s *Seal) settle(responder Responder, reason CompletionReason, code ErrorCode) {
	steps := int64(s.profile.CurrentDistance())
	if !s.positive {
		steps = -steps
	}
	s.position += steps
	s.logger.Infow("seal movement finished", "id", s.id, "steps", steps, "reason", reason, "error", code)
	if s.id != InvalidID {
		responder.Respond(SealMovementResult{ID: s.id, Steps: steps, Reason: reason, Error: code})
	}
	s.id = InvalidID
}

func (s *Seal) disable(ctx context.Context) {
	if err := s.hw.SetSealEnable(ctx, false); err != nil {
		s.logger.CWarnf(ctx, "disabling seal driver: %v", err)
	}
}

// setParameter changes one seal tunable. Register backed parameters are written immediately.
func (s *Seal) setParameter(ctx context.Context, param SealParameter, value int64) ErrorCode {
	if s.state.Busy() {
		return SealMotorBusy
	}

	regs := s.driver.Registers()
	var err error
	switch param {
	case SealVelocity:
		s.cfg.Velocity = float64(max(value, 1))
	case SealAcceleration:
		s.cfg.Acceleration = float64(max(value, 0))
	case SealStallguardThreshold:
		cool := regs.CoolConf
		cool.SGT = tmc.ClampSGT(clampInt32(value))
		err = s.driver.SetCoolConf(ctx, cool)
	case SealStallguardMinVelocity:
		err = s.driver.SetCoolThreshold(ctx, tmc.TCoolThrs{Threshold: tmc.VelocityToTStep(float64(value))})
	case SealRunCurrent:
		current := regs.IHoldIRun
		current.Run = clampCurrent(value)
		err = s.driver.SetCurrent(ctx, current)
	case SealHoldCurrent:
		current := regs.IHoldIRun
		current.Hold = clampCurrent(value)
		err = s.driver.SetCurrent(ctx, current)
	default:
		s.logger.CWarnf(ctx, "unknown seal parameter %v", param)
		return SealMotorFault
	}
	if err != nil {
		s.logger.CWarnf(ctx, "setting seal %s: %v", param, err)
		return SealMotorSPIError
	}
	return NoError
}

func clampInt32(v int64) int32 {
	return int32(min(max(v, math.MinInt32), math.MaxInt32))
}

func clampCurrent(v int64) uint8 {
	return uint8(min(max(v, 0), tmc.MaxCurrent))
}
