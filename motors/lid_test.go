package motors

import (
	"testing"

	"go.viam.com/test"

	"github.com/viam-modules/thermocycler-motion/motion"
)

var (
	runDAC  = motion.LidCurrentToDAC(DefaultLidRunCurrent)
	holdDAC = motion.LidCurrentToDAC(DefaultLidHoldCurrent)
)

func openLid(f *fixture) {
	f.send(StartLidMovement{ID: 100, Target: LidTarget{Kind: TargetOpen}})
	f.settle()
	f.resp.take()
}

func TestLidOpen(t *testing.T) {
	f := newFixture(t, Options{})
	test.That(t, f.task.Lid().Position(false), test.ShouldEqual, PositionClosed)

	f.send(StartLidMovement{ID: 5, Target: LidTarget{Kind: TargetOpen}})
	test.That(t, f.resp.take(), test.ShouldBeEmpty)
	test.That(t, f.task.Lid().Stage(), test.ShouldEqual, LidOpenToSwitch)
	test.That(t, f.hw.engaged, test.ShouldBeTrue)
	test.That(t, f.hw.lidPositive, test.ShouldBeTrue)
	test.That(t, f.hw.lidDAC, test.ShouldEqual, runDAC)
	test.That(t, f.task.Lid().Position(false), test.ShouldEqual, PositionBetween)

	// Runs until the open switch, well short of the full distance.
	f.stepLid()
	test.That(t, f.hw.lidPos, test.ShouldEqual, f.hw.openAt)
	test.That(t, f.task.Lid().Stage(), test.ShouldEqual, LidOpenBackTo90)
	test.That(t, f.hw.engaged, test.ShouldBeFalse)
	test.That(t, f.hw.lidPositive, test.ShouldBeFalse)
	test.That(t, f.resp.take(), test.ShouldBeEmpty)

	f.stepLid()
	test.That(t, f.hw.lidPos, test.ShouldEqual, f.hw.openAt+motion.LidAngleToMicrosteps(OpenBackDegrees))
	test.That(t, f.task.Lid().Stage(), test.ShouldEqual, LidIdle)
	test.That(t, f.task.Lid().State(), test.ShouldEqual, Idle)
	test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 5}})
	test.That(t, f.task.Lid().Position(false), test.ShouldEqual, PositionOpen)
	test.That(t, f.hw.engages, test.ShouldEqual, 1)
	test.That(t, f.hw.disengages, test.ShouldEqual, 1)
	test.That(t, f.hw.lidDAC, test.ShouldEqual, holdDAC)

	t.Run("already open", func(t *testing.T) {
		f.send(StartLidMovement{ID: 6, Target: LidTarget{Kind: TargetOpen}})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 6}})
		test.That(t, f.hw.engages, test.ShouldEqual, 1)
		test.That(t, f.hw.lidTick == nil, test.ShouldBeTrue)
	})
}

func TestLidClose(t *testing.T) {
	f := newFixture(t, Options{})
	openLid(f)

	f.send(StartLidMovement{ID: 7, Target: LidTarget{Kind: TargetClosed}})
	test.That(t, f.task.Lid().Stage(), test.ShouldEqual, LidCloseToSwitch)
	test.That(t, f.hw.engaged, test.ShouldBeTrue)

	f.stepLid()
	test.That(t, f.hw.lidPos, test.ShouldEqual, int64(0))
	test.That(t, f.task.Lid().Stage(), test.ShouldEqual, LidCloseOverdrive)
	// Still unlatched while seating.
	test.That(t, f.hw.engaged, test.ShouldBeTrue)

	f.stepLid()
	test.That(t, f.hw.lidPos, test.ShouldEqual, motion.LidAngleToMicrosteps(CloseOverdriveDegrees))
	test.That(t, f.hw.engaged, test.ShouldBeFalse)
	test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 7}})
	test.That(t, f.task.Lid().Position(false), test.ShouldEqual, PositionClosed)

	f.send(StartLidMovement{ID: 8, Target: LidTarget{Kind: TargetClosed}})
	test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 8}})
}

func TestLidSwitchIsAuthoritative(t *testing.T) {
	f := newFixture(t, Options{})
	// The switch is out of reach.
	f.hw.openAt = motion.LidAngleToMicrosteps(FullOpenDegrees + 10)

	f.send(StartLidMovement{ID: 9, Target: LidTarget{Kind: TargetOpen}})
	f.settle()
	test.That(t, f.hw.lidPos, test.ShouldEqual, motion.LidAngleToMicrosteps(FullOpenDegrees))
	test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 9, Error: LidMotorFault}})
	test.That(t, f.task.Lid().Stage(), test.ShouldEqual, LidIdle)
	test.That(t, f.task.Lid().Position(false), test.ShouldEqual, PositionUnknown)
	test.That(t, f.hw.engaged, test.ShouldBeFalse)
}

func TestLidSimpleMovement(t *testing.T) {
	f := newFixture(t, Options{})

	f.send(StartLidMovement{ID: 1, Target: LidTarget{Kind: TargetAngle, Angle: 10}})
	test.That(t, f.task.Lid().Stage(), test.ShouldEqual, LidSimpleMovement)
	f.settle()
	test.That(t, f.hw.lidPos, test.ShouldEqual, motion.LidAngleToMicrosteps(10))
	test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 1}})
	test.That(t, f.task.Lid().Position(false), test.ShouldEqual, PositionBetween)
	test.That(t, f.hw.engages, test.ShouldEqual, 0)

	t.Run("stops at the switch in its direction", func(t *testing.T) {
		f.send(StartLidMovement{ID: 2, Target: LidTarget{Kind: TargetAngle, Angle: -30}})
		f.settle()
		test.That(t, f.hw.lidPos, test.ShouldEqual, int64(0))
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 2}})
	})

	t.Run("overdrive ignores the switch", func(t *testing.T) {
		f.send(StartLidMovement{ID: 3, Target: LidTarget{Kind: TargetAngle, Angle: -1}, Overdrive: true})
		f.settle()
		test.That(t, f.hw.lidPos, test.ShouldEqual, motion.LidAngleToMicrosteps(-1))
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 3}})
	})
}

func TestLidPlateLift(t *testing.T) {
	f := newFixture(t, Options{})

	f.send(PlateLift{ID: 1})
	test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 1, Error: LidClosed}})

	openLid(f)
	rest := f.hw.lidPos

	f.send(PlateLift{ID: 2})
	var stages []LidStage
	for f.task.Lid().Stage() != LidIdle {
		stages = append(stages, f.task.Lid().Stage())
		f.stepLid()
	}
	test.That(t, stages, test.ShouldResemble, []LidStage{LidLiftRaise, LidLiftLower, LidOpenToSwitch, LidOpenBackTo90})
	test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 2}})
	test.That(t, f.hw.lidPos, test.ShouldEqual, rest)
	test.That(t, f.task.Lid().Position(false), test.ShouldEqual, PositionOpen)
}

func TestLidGuards(t *testing.T) {
	t.Run("busy", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.send(StartLidMovement{ID: 1, Target: LidTarget{Kind: TargetOpen}})
		f.send(StartLidMovement{ID: 2, Target: LidTarget{Kind: TargetAngle, Angle: 5}})
		f.send(StartLidMovement{ID: 3, Target: LidTarget{Kind: TargetClosed}})
		f.send(PlateLift{ID: 4})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{
			Acknowledge{ID: 2, Error: LidMotorBusy},
			Acknowledge{ID: 3, Error: LidMotorBusy},
			Acknowledge{ID: 4, Error: LidMotorBusy},
		})
		test.That(t, f.task.Lid().Stage(), test.ShouldEqual, LidOpenToSwitch)
		test.That(t, f.task.Lid().id, test.ShouldEqual, ID(1))

		// Still busy once the sequence moves on to its second stage.
		f.stepLid()
		test.That(t, f.task.Lid().Stage(), test.ShouldEqual, LidOpenBackTo90)
		f.send(StartLidMovement{ID: 5, Target: LidTarget{Kind: TargetAngle, Angle: 5}})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 5, Error: LidMotorBusy}})

		f.settle()
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 1}})
	})

	t.Run("fault", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.hw.lidFault = true
		f.send(StartLidMovement{ID: 1, Target: LidTarget{Kind: TargetOpen}})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 1, Error: LidMotorFault}})
		test.That(t, f.hw.engages, test.ShouldEqual, 0)
		test.That(t, f.hw.lidStarts, test.ShouldEqual, 0)
	})
}

func TestLidPosition(t *testing.T) {
	f := newFixture(t, Options{})
	lid := f.task.Lid()

	f.hw.lidPos = 0
	test.That(t, lid.Position(false), test.ShouldEqual, PositionClosed)

	// Both switches at once can't be trusted.
	f.hw.openAt = 0
	test.That(t, lid.Position(false), test.ShouldEqual, PositionUnknown)

	f.hw.openAt = 1000
	f.hw.lidPos = 500
	test.That(t, lid.Position(false), test.ShouldEqual, PositionUnknown)
	lid.position = PositionOpen
	test.That(t, lid.Position(false), test.ShouldEqual, PositionOpen)
	test.That(t, lid.Position(true), test.ShouldEqual, PositionBetween)
}
