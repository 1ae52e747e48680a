package motors

import (
	"context"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/thermocycler-motion/motion"
)

// Lid hinge movements, in degrees. Positive opens.
const (
	// FullOpenDegrees is more than the hinge can travel so the open switch is always reached.
	FullOpenDegrees = 120.0
	// OpenBackDegrees backs off the open switch to the 90 degree rest position.
	OpenBackDegrees = -5.0
	// FullCloseDegrees is more than the hinge can travel so the close switch is always reached.
	FullCloseDegrees = -120.0
	// CloseOverdriveDegrees drives past the close switch to seat the lid.
	CloseOverdriveDegrees = -5.0
	// PlateLiftRaiseDegrees pushes past the open position to raise the plate lift.
	PlateLiftRaiseDegrees = 20.0
	// PlateLiftLowerDegrees comes back far enough to clear the open switch.
	PlateLiftLowerDegrees = -30.0
)

// Lid stepper defaults.
const (
	DefaultLidTickFrequency = 100000
	DefaultLidVelocity      = 25000
	DefaultLidAcceleration  = 50000
	DefaultLidRunCurrent    = 1200 // mA
	DefaultLidHoldCurrent   = 300  // mA
)

// LidConfig sets the lid movement speeds and currents.
type LidConfig struct {
	TickFrequency uint32
	Velocity      float64
	Acceleration  float64
	RunCurrent    float64
	HoldCurrent   float64
}

func (c LidConfig) withDefaults() LidConfig {
	if c.TickFrequency == 0 {
		c.TickFrequency = DefaultLidTickFrequency
	}
	if c.Velocity == 0 {
		c.Velocity = DefaultLidVelocity
	}
	if c.Acceleration == 0 {
		c.Acceleration = DefaultLidAcceleration
	}
	if c.RunCurrent == 0 {
		c.RunCurrent = DefaultLidRunCurrent
	}
	if c.HoldCurrent == 0 {
		c.HoldCurrent = DefaultLidHoldCurrent
	}
	return c
}

// LidStage is the step of a lid sequence in progress.
type LidStage int

// Lid stages.
const (
	LidIdle LidStage = iota
	LidSimpleMovement
	LidOpenToSwitch
	LidOpenBackTo90
	LidCloseToSwitch
	LidCloseOverdrive
	LidLiftRaise
	LidLiftLower
)

var lidStageNames = map[LidStage]string{
	LidIdle:           "IDLE",
	LidSimpleMovement: "SIMPLE_MOVEMENT",
	LidOpenToSwitch:   "OPEN_TO_SWITCH",
	LidOpenBackTo90:   "OPEN_BACK_TO_90",
	LidCloseToSwitch:  "CLOSE_TO_SWITCH",
	LidCloseOverdrive: "CLOSE_OVERDRIVE",
	LidLiftRaise:      "LIFT_RAISE",
	LidLiftLower:      "LIFT_LOWER",
}

func (s LidStage) String() string {
	return lidStageNames[s]
}

// Lid coordinates the lid hinge stepper, its limit switches and the latch solenoid.
type Lid struct {
	cfg    LidConfig
	hw     Hardware
	queue  *Queue
	logger logging.Logger

	state StateCell
	stage LidStage
	id    ID
	// Last position a finished sequence recorded.
	position LidPosition

	// Written by the task before Moving, read by the tick handler.
	profile      *motion.Profile
	positive     bool
	stopAtSwitch bool
}

func newLid(cfg LidConfig, hw Hardware, queue *Queue, logger logging.Logger) *Lid {
	return &Lid{
		cfg:      cfg.withDefaults(),
		hw:       hw,
		queue:    queue,
		logger:   logger,
		position: PositionUnknown,
	}
}

// Stage returns the current lid stage.
func (l *Lid) Stage() LidStage {
	return l.stage
}

// State returns the lid run state.
func (l *Lid) State() RunState {
	return l.state.Load()
}

// Position returns where the lid is. Any sequence in progress reads as between; otherwise the
// switches win over the recorded position. sealBusy holds the recorded position back while the
// seal is moving.
func (l *Lid) Position(sealBusy bool) LidPosition {
	closed, open := l.hw.ReadLidSwitches()
	switch {
	case l.stage != LidIdle || l.state.Busy():
		return PositionBetween
	case closed && open:
		return PositionUnknown
	case closed:
		return PositionClosed
	case open:
		return PositionOpen
	case sealBusy:
		return PositionBetween
	default:
		return l.position
	}
}

// start begins a lid movement. pending means an Acknowledge for msg.ID will be sent when the
// sequence ends; otherwise the caller answers with code right away.
func (l *Lid) start(ctx context.Context, msg StartLidMovement, sealBusy bool) (code ErrorCode, pending bool) {
	if code := l.ready(ctx); code != NoError {
		return code, false
	}

	var err error
	switch msg.Target.Kind {
	case TargetOpen:
		if l.Position(sealBusy) == PositionOpen {
			return NoError, false
		}
		err = l.openToSwitch(ctx)
	case TargetClosed:
		if l.Position(sealBusy) == PositionClosed {
			return NoError, false
		}
		err = l.closeToSwitch(ctx)
	default:
		err = l.begin(ctx, LidSimpleMovement, msg.Target.Angle, msg.Overdrive)
	}
	if err != nil {
		l.logger.CWarnf(ctx, "starting lid movement: %v", err)
		l.abort(ctx, NoError)
		return LidMotorFault, false
	}
	l.id = msg.ID
	return NoError, true
}

// plateLift starts the plate lift sequence. The lid must be open.
func (l *Lid) plateLift(ctx context.Context, id ID, sealBusy bool) (code ErrorCode, pending bool) {
	if code := l.ready(ctx); code != NoError {
		return code, false
	}
	if l.Position(sealBusy) != PositionOpen {
		return LidClosed, false
	}
	if err := l.begin(ctx, LidLiftRaise, PlateLiftRaiseDegrees, true); err != nil {
		l.logger.CWarnf(ctx, "starting plate lift: %v", err)
		l.abort(ctx, NoError)
		return LidMotorFault, false
	}
	l.id = id
	return NoError, true
}

func (l *Lid) ready(ctx context.Context) ErrorCode {
	if l.stage != LidIdle || l.state.Busy() {
		return LidMotorBusy
	}
	fault, err := l.hw.LidFault(ctx)
	if err != nil {
		l.logger.CWarnf(ctx, "reading lid fault: %v", err)
		return LidMotorFault
	}
	if fault {
		return LidMotorFault
	}
	return NoError
}

func (l *Lid) openToSwitch(ctx context.Context) error {
	// Release the latch first.
	if err := l.hw.EngageSolenoid(ctx); err != nil {
		return err
	}
	return l.begin(ctx, LidOpenToSwitch, FullOpenDegrees, false)
}

func (l *Lid) closeToSwitch(ctx context.Context) error {
	if err := l.hw.EngageSolenoid(ctx); err != nil {
		return err
	}
	return l.begin(ctx, LidCloseToSwitch, FullCloseDegrees, false)
}

// begin enters stage and starts moving by degrees. Without overdrive the movement also ends when
// the switch in the direction of travel closes.
func (l *Lid) begin(ctx context.Context, stage LidStage, degrees float64, overdrive bool) error {
	steps := motion.LidAngleToMicrosteps(degrees)
	positive := steps > 0

	if err := l.hw.SetLidCurrent(ctx, motion.LidCurrentToDAC(l.cfg.RunCurrent)); err != nil {
		return errors.Wrap(err, "setting lid run current")
	}
	if err := l.hw.SetLidDirection(ctx, positive); err != nil {
		return errors.Wrap(err, "setting lid direction")
	}
	if err := l.hw.SetLidEnable(ctx, true); err != nil {
		return errors.Wrap(err, "enabling lid driver")
	}

	l.profile = motion.NewProfile(motion.Params{
		TickFrequency: l.cfg.TickFrequency,
		PeakVelocity:  l.cfg.Velocity,
		Acceleration:  l.cfg.Acceleration,
	}, motion.FixedDistance, motion.Abs(steps))
	l.positive = positive
	l.stopAtSwitch = !overdrive
	l.stage = stage
	l.position = PositionBetween

	l.state.Transition(Idle, Moving)
	if err := l.hw.StartLidTicks(l.cfg.TickFrequency, l.tick); err != nil {
		l.state.Transition(Moving, Idle)
		return errors.Wrap(err, "starting lid ticks")
	}
	l.logger.Debugw("lid stage started", "stage", stage, "degrees", degrees, "overdrive", overdrive)
	return nil
}

// tick runs once per timer tick while Moving.
func (l *Lid) tick() bool {
	if l.stopAtSwitch {
		closed, open := l.hw.ReadLidSwitches()
		if (l.positive && open) || (!l.positive && closed) {
			return l.finish()
		}
	}
	t := l.profile.Tick()
	if t.Step {
		l.hw.LidStepPulse()
	}
	if t.Done {
		return l.finish()
	}
	return true
}

func (l *Lid) finish() bool {
	if l.state.Transition(Moving, Finishing) {
		l.queue.SendFromISR(lidComplete{})
	}
	return false
}

// complete advances the sequence after the tick handler finished a stage.
func (l *Lid) complete(ctx context.Context, responder Responder) {
	if l.state.Load() != Finishing {
		return
	}
	l.hw.StopLidTicks()
	l.state.Transition(Finishing, Idle)

	var err error
	switch l.stage {
	case LidSimpleMovement:
		l.end(ctx, responder, PositionBetween, NoError)
	case LidOpenToSwitch:
		// The switch decides, not the distance.
		if _, open := l.hw.ReadLidSwitches(); !open {
			l.logger.CWarn(ctx, "lid open movement ended without reaching the open switch")
			l.fail(ctx, responder, LidMotorFault)
			return
		}
		// Latched open; the solenoid can let go.
		if err = l.hw.DisengageSolenoid(ctx); err == nil {
			err = l.begin(ctx, LidOpenBackTo90, OpenBackDegrees, true)
		}
	case LidOpenBackTo90:
		l.end(ctx, responder, PositionOpen, NoError)
	case LidCloseToSwitch:
		if closed, _ := l.hw.ReadLidSwitches(); !closed {
			l.logger.CWarn(ctx, "lid close movement ended without reaching the close switch")
			l.fail(ctx, responder, LidMotorFault)
			return
		}
		err = l.begin(ctx, LidCloseOverdrive, CloseOverdriveDegrees, true)
	case LidCloseOverdrive:
		// Seated; the latch can close.
		if err = l.hw.DisengageSolenoid(ctx); err == nil {
			l.end(ctx, responder, PositionClosed, NoError)
		}
	case LidLiftRaise:
		err = l.begin(ctx, LidLiftLower, PlateLiftLowerDegrees, true)
	case LidLiftLower:
		// Back to open the usual way.
		err = l.begin(ctx, LidOpenToSwitch, FullOpenDegrees, false)
	case LidIdle:
	}
	if err != nil {
		l.logger.CWarnf(ctx, "advancing lid sequence: %v", err)
		l.fail(ctx, responder, LidMotorFault)
	}
}

// end finishes the sequence at position and answers it with code.
func (l *Lid) end(ctx context.Context, responder Responder, position LidPosition, code ErrorCode) {
	if err := l.hw.SetLidCurrent(ctx, motion.LidCurrentToDAC(l.cfg.HoldCurrent)); err != nil {
		l.logger.CWarnf(ctx, "setting lid hold current: %v", err)
	}
	l.logger.Infow("lid sequence finished", "id", l.id, "from", l.stage, "position", position, "error", code)
	l.stage = LidIdle
	l.position = position
	if l.id != InvalidID {
		responder.Respond(Acknowledge{ID: l.id, Error: code})
	}
	l.id = InvalidID
}

// fail ends the sequence with the lid somewhere unknown.
func (l *Lid) fail(ctx context.Context, responder Responder, code ErrorCode) {
	if err := l.hw.DisengageSolenoid(ctx); err != nil {
		l.logger.CWarnf(ctx, "releasing lid solenoid: %v", err)
	}
	l.end(ctx, responder, PositionUnknown, code)
}

// abort unwinds a sequence that failed to start. Nobody is waiting on it yet.
func (l *Lid) abort(ctx context.Context, code ErrorCode) {
	l.id = InvalidID
	l.fail(ctx, nopResponder{}, code)
}

// stop halts the lid wherever it is. It reports whether a movement was halted.
func (l *Lid) stop(ctx context.Context, responder Responder) bool {
	l.hw.StopLidTicks()
	if l.stage == LidIdle && !l.state.Busy() {
		return false
	}
	if !l.state.Transition(Moving, Idle) {
		l.state.Transition(Finishing, Idle)
	}
	l.fail(ctx, responder, MotorStopped)
	return true
}

type nopResponder struct{}

func (nopResponder) Respond(Response) {}
