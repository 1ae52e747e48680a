// Package motors runs the lid and seal steppers of a thermocycler lid from a single task.
//
// All commands go through the task queue and are handled one at a time, in order. Movements are
// advanced by timer ticks on the Hardware; when a movement ends, the tick handler sends a
// completion event back to the same queue and the task finishes the movement from there.
package motors

import (
	"context"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/thermocycler-motion/tmc"
)

// StopPolicy decides how StopMotor treats a mechanism that is moving.
type StopPolicy int

const (
	// StopInterrupts halts the movement in flight. The movement is answered with MotorStopped.
	StopInterrupts StopPolicy = iota
	// StopRejectsWhenBusy answers StopMotor with the busy error while a movement is in flight.
	StopRejectsWhenBusy
)

// ParseStopPolicy reads a stop policy from configuration. The empty string is StopInterrupts.
func ParseStopPolicy(s string) (StopPolicy, error) {
	switch s {
	case "", "interrupt":
		return StopInterrupts, nil
	case "reject_when_busy":
		return StopRejectsWhenBusy, nil
	default:
		return 0, errors.Errorf("unknown stop policy %q", s)
	}
}

func (p StopPolicy) String() string {
	if p == StopRejectsWhenBusy {
		return "reject_when_busy"
	}
	return "interrupt"
}

// Options configures a Task.
type Options struct {
	QueueSize  int
	StopPolicy StopPolicy
	Lid        LidConfig
	Seal       SealConfig
}

// Task owns the lid and seal coordinators, the seal driver and the hardware they share.
type Task struct {
	queue      *Queue
	driver     *tmc.Driver
	hw         Hardware
	responder  Responder
	stopPolicy StopPolicy
	logger     logging.Logger

	lid  *Lid
	seal *Seal

	seenDropped uint64
}

// NewTask returns a task that has not started running.
func NewTask(opts Options, driver *tmc.Driver, hw Hardware, responder Responder, logger logging.Logger) *Task {
	queue := NewQueue(opts.QueueSize)
	return &Task{
		queue:      queue,
		driver:     driver,
		hw:         hw,
		responder:  responder,
		stopPolicy: opts.StopPolicy,
		logger:     logger,
		lid:        newLid(opts.Lid, hw, queue, logger.Sublogger("lid")),
		seal:       newSeal(opts.Seal, driver, hw, queue, logger.Sublogger("seal")),
	}
}

// Queue returns the task inbox.
func (t *Task) Queue() *Queue {
	return t.queue
}

// Lid returns the lid coordinator.
func (t *Task) Lid() *Lid {
	return t.lid
}

// Seal returns the seal coordinator.
func (t *Task) Seal() *Seal {
	return t.seal
}

// Run handles messages until ctx is done, then halts both motors.
func (t *Task) Run(ctx context.Context) error {
	for {
		t.prepare(ctx)
		msg, err := t.queue.Recv(ctx)
		if err != nil {
			t.halt()
			return nil
		}
		t.handle(ctx, msg)
	}
}

// prepare runs before every wait on the queue.
func (t *Task) prepare(ctx context.Context) {
	if err := t.driver.EnsureInitialized(ctx); err != nil {
		t.logger.CWarnf(ctx, "seal driver not configured: %v", err)
	}
	t.reconcile(ctx)
}

// reconcile finishes movements whose completion event was dropped. A drop only happens with a
// full queue, so the task always comes back here soon after one.
func (t *Task) reconcile(ctx context.Context) {
	dropped := t.queue.Dropped()
	if dropped == t.seenDropped {
		return
	}
	t.logger.CWarnf(ctx, "%d completion event(s) dropped, recovering", dropped-t.seenDropped)
	t.seenDropped = dropped
	t.lid.complete(ctx, t.responder)
	t.seal.complete(ctx, t.responder)
}

func (t *Task) handle(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case StartLidMovement:
		if code, pending := t.lid.start(ctx, m, t.seal.state.Busy()); !pending {
			t.respond(Acknowledge{ID: m.ID, Error: code})
		}
	case PlateLift:
		if code, pending := t.lid.plateLift(ctx, m.ID, t.seal.state.Busy()); !pending {
			t.respond(Acknowledge{ID: m.ID, Error: code})
		}
	case StartSealMovement:
		if code := t.seal.start(ctx, m.ID, m.Steps); code != NoError {
			t.respond(Acknowledge{ID: m.ID, Error: code})
		}
	case SetSealParameter:
		t.respond(Acknowledge{ID: m.ID, Error: t.seal.setParameter(ctx, m.Parameter, m.Value)})
	case ActuateSolenoid:
		t.respond(Acknowledge{ID: m.ID, Error: t.actuateSolenoid(ctx, m.Engage)})
	case GetDriveStatus:
		t.respond(t.driveStatus(ctx, m.ID))
	case GetLidSwitches:
		closed, open := t.hw.ReadLidSwitches()
		t.respond(LidSwitches{ID: m.ID, Closed: closed, Open: open})
	case GetLidStatus:
		sealBusy := t.seal.state.Busy()
		t.respond(LidStatus{
			ID:         m.ID,
			Lid:        t.lid.Position(sealBusy),
			SealMoving: sealBusy,
			SealSteps:  t.seal.position,
		})
	case StopMotor:
		t.respond(Acknowledge{ID: m.ID, Error: t.stop(ctx, m.Motor)})
	case lidComplete:
		t.lid.complete(ctx, t.responder)
	case sealComplete:
		t.seal.complete(ctx, t.responder)
	default:
		t.logger.CWarnf(ctx, "ignoring unexpected message %T", msg)
	}
}

func (t *Task) respond(resp Response) {
	if resp.RespondingTo() == InvalidID {
		return
	}
	t.responder.Respond(resp)
}

func (t *Task) actuateSolenoid(ctx context.Context, engage bool) ErrorCode {
	var err error
	if engage {
		err = t.hw.EngageSolenoid(ctx)
	} else {
		err = t.hw.DisengageSolenoid(ctx)
	}
	if err != nil {
		t.logger.CWarnf(ctx, "actuating lid solenoid: %v", err)
		return LidMotorFault
	}
	return NoError
}

func (t *Task) driveStatus(ctx context.Context, id ID) DriveStatus {
	resp := DriveStatus{ID: id}
	status, err := t.driver.ReadStatus(ctx)
	if err != nil {
		t.logger.CWarnf(ctx, "reading seal drive status: %v", err)
		resp.Error = SealMotorSPIError
		return resp
	}
	resp.Status = status
	resp.StallFlag = status.StallGuard
	resp.StallResult = status.SGResult
	tstep, err := t.driver.ReadTStep(ctx)
	if err != nil {
		t.logger.CWarnf(ctx, "reading seal tstep: %v", err)
		resp.Error = SealMotorSPIError
		return resp
	}
	resp.TStep = tstep
	if !status.StSt {
		resp.Velocity = tmc.TStepToVelocity(tstep)
	}
	gstat, err := t.driver.ReadGStat(ctx)
	if err != nil {
		t.logger.CWarnf(ctx, "reading seal global status: %v", err)
		resp.Error = SealMotorSPIError
	}
	resp.Global = gstat
	return resp
}

// stop handles StopMotor according to the stop policy.
func (t *Task) stop(ctx context.Context, motor Motor) ErrorCode {
	switch motor {
	case SealMotor:
		if t.stopPolicy == StopRejectsWhenBusy && t.seal.state.Busy() {
			return SealMotorBusy
		}
		t.seal.stop(ctx, t.responder)
	default:
		if t.stopPolicy == StopRejectsWhenBusy && (t.lid.stage != LidIdle || t.lid.state.Busy()) {
			return LidMotorBusy
		}
		t.lid.stop(ctx, t.responder)
	}
	return NoError
}

// halt stops both motors when the task exits.
func (t *Task) halt() {
	ctx := context.Background()
	t.lid.stop(ctx, t.responder)
	t.seal.stop(ctx, t.responder)
}
