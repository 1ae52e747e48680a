package motors

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/viam-modules/thermocycler-motion/tmc"
)

// ID correlates a command with its response.
type ID uint32

// InvalidID marks a movement nobody waits on. No response is sent for it.
const InvalidID ID = 0

// Message is anything the motor task receives.
type Message interface {
	message()
}

// Motor names one of the two mechanisms.
type Motor int

// Motors.
const (
	LidMotor Motor = iota
	SealMotor
)

func (m Motor) String() string {
	if m == SealMotor {
		return "seal"
	}
	return "lid"
}

// TargetKind selects what a lid movement aims for.
type TargetKind int

// Lid movement targets.
const (
	// TargetAngle moves by a relative angle.
	TargetAngle TargetKind = iota
	// TargetOpen runs the full open sequence.
	TargetOpen
	// TargetClosed runs the full close sequence.
	TargetClosed
)

// LidTarget is where a lid movement should go.
type LidTarget struct {
	Kind TargetKind
	// Angle is the relative hinge angle in degrees, for TargetAngle. Positive opens.
	Angle float64
}

// StartLidMovement moves the lid hinge. Overdrive ignores the limit switches; it only applies to
// TargetAngle movements.
type StartLidMovement struct {
	ID        ID
	Target    LidTarget
	Overdrive bool
}

// StartSealMovement moves the seal by a signed number of microsteps.
type StartSealMovement struct {
	ID    ID
	Steps int64
}

// SealParameter names a tunable of the seal stepper.
type SealParameter byte

// Seal parameters. The values are the letters used on the host protocol.
const (
	SealVelocity              SealParameter = 'V'
	SealAcceleration          SealParameter = 'A'
	SealStallguardThreshold   SealParameter = 'T'
	SealStallguardMinVelocity SealParameter = 'M'
	SealRunCurrent            SealParameter = 'R'
	SealHoldCurrent           SealParameter = 'H'
)

var sealParameterNames = map[SealParameter]string{
	SealVelocity:              "velocity",
	SealAcceleration:          "acceleration",
	SealStallguardThreshold:   "stallguard_threshold",
	SealStallguardMinVelocity: "stallguard_min_velocity",
	SealRunCurrent:            "run_current",
	SealHoldCurrent:           "hold_current",
}

func (p SealParameter) String() string {
	if name, ok := sealParameterNames[p]; ok {
		return name
	}
	return fmt.Sprintf("parameter(%q)", rune(p))
}

// ParseSealParameter accepts either the protocol letter or the parameter name.
func ParseSealParameter(s string) (SealParameter, error) {
	for p, name := range sealParameterNames {
		if s == name || s == string(rune(p)) {
			return p, nil
		}
	}
	return 0, errors.Errorf("unknown seal parameter %q", s)
}

// SetSealParameter changes one seal tunable. Only accepted while the seal is idle.
type SetSealParameter struct {
	ID        ID
	Parameter SealParameter
	Value     int64
}

// ActuateSolenoid engages or releases the lid latch solenoid.
type ActuateSolenoid struct {
	ID     ID
	Engage bool
}

// GetDriveStatus reads the seal driver status.
type GetDriveStatus struct {
	ID ID
}

// GetLidSwitches reads the lid limit switches.
type GetLidSwitches struct {
	ID ID
}

// GetLidStatus reports the lid and seal positions.
type GetLidStatus struct {
	ID ID
}

// PlateLift raises the plate lift mechanism and returns the lid to open. The lid must be open.
type PlateLift struct {
	ID ID
}

// StopMotor halts a mechanism.
type StopMotor struct {
	ID    ID
	Motor Motor
}

// Completion events, sent by the tick handlers.
type (
	lidComplete  struct{}
	sealComplete struct{}
)

func (StartLidMovement) message()  {}
func (StartSealMovement) message() {}
func (SetSealParameter) message()  {}
func (ActuateSolenoid) message()   {}
func (GetDriveStatus) message()    {}
func (GetLidSwitches) message()    {}
func (GetLidStatus) message()      {}
func (PlateLift) message()         {}
func (StopMotor) message()         {}
func (lidComplete) message()       {}
func (sealComplete) message()      {}

// Response is anything the motor task sends to the host.
type Response interface {
	RespondingTo() ID
}

// Acknowledge answers commands without a payload.
type Acknowledge struct {
	ID    ID
	Error ErrorCode
}

// CompletionReason is why a seal movement ended.
type CompletionReason int

// Completion reasons.
const (
	DoneReason CompletionReason = iota
	StallReason
	// LimitReason is reserved; the seal has no limit switches wired to the coordinator.
	LimitReason
	ErrorReason
	// StoppedReason ends a movement that StopMotor interrupted.
	StoppedReason
)

func (r CompletionReason) String() string {
	switch r {
	case StallReason:
		return "STALL"
	case LimitReason:
		return "LIMIT"
	case ErrorReason:
		return "ERROR"
	case StoppedReason:
		return "STOPPED"
	default:
		return "DONE"
	}
}

// SealMovementResult ends a seal movement. Steps is signed like the request.
type SealMovementResult struct {
	ID     ID
	Steps  int64
	Reason CompletionReason
	Error  ErrorCode
}

// DriveStatus reports the seal driver status.
type DriveStatus struct {
	ID          ID
	StallFlag   bool
	StallResult uint16
	TStep       uint32
	// Velocity is derived from TStep in microsteps/s, 0 at standstill.
	Velocity float64
	Status   tmc.DriveStatus
	// Global holds the GSTAT flags latched since the previous read.
	Global tmc.GStat
	Error  ErrorCode
}

// LidSwitches reports the lid limit switches.
type LidSwitches struct {
	ID     ID
	Closed bool
	Open   bool
}

// LidPosition is where the lid is believed to be.
type LidPosition int

// Lid positions.
const (
	PositionBetween LidPosition = iota
	PositionClosed
	PositionOpen
	PositionUnknown
)

func (p LidPosition) String() string {
	switch p {
	case PositionClosed:
		return "closed"
	case PositionOpen:
		return "open"
	case PositionUnknown:
		return "unknown"
	default:
		return "in_between"
	}
}

// LidStatus reports the lid position and the dead reckoned seal position.
type LidStatus struct {
	ID         ID
	Lid        LidPosition
	SealMoving bool
	SealSteps  int64
}

// RespondingTo implements Response.
func (r Acknowledge) RespondingTo() ID { return r.ID }

// RespondingTo implements Response.
func (r SealMovementResult) RespondingTo() ID { return r.ID }

// RespondingTo implements Response.
func (r DriveStatus) RespondingTo() ID { return r.ID }

// RespondingTo implements Response.
func (r LidSwitches) RespondingTo() ID { return r.ID }

// RespondingTo implements Response.
func (r LidStatus) RespondingTo() ID { return r.ID }
