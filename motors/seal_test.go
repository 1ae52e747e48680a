package motors

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/viam-modules/thermocycler-motion/tmc"
)

func TestSealMovement(t *testing.T) {
	t.Run("full distance", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.send(StartSealMovement{ID: 7, Steps: -5000})
		test.That(t, f.resp.take(), test.ShouldBeEmpty)
		test.That(t, f.task.Seal().State(), test.ShouldEqual, Moving)
		test.That(t, f.hw.sealEnabled, test.ShouldBeTrue)
		test.That(t, f.hw.sealPositive, test.ShouldBeFalse)

		f.settle()
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{
			SealMovementResult{ID: 7, Steps: -5000, Reason: DoneReason, Error: NoError},
		})
		test.That(t, f.hw.sealPulses, test.ShouldEqual, 5000)
		test.That(t, f.hw.sealEnabled, test.ShouldBeFalse)
		test.That(t, f.task.Seal().State(), test.ShouldEqual, Idle)
		test.That(t, f.task.Seal().Position(), test.ShouldEqual, int64(-5000))
	})

	t.Run("stall", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.hw.stallAt = 1234
		f.send(StartSealMovement{ID: 8, Steps: -5000})
		f.settle()
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{
			SealMovementResult{ID: 8, Steps: -1234, Reason: StallReason, Error: NoError},
		})
		test.That(t, f.task.Seal().Position(), test.ShouldEqual, int64(-1234))
	})

	t.Run("fault during movement", func(t *testing.T) {
		f := newFixture(t, Options{Seal: SealConfig{TickFrequency: 1000, Velocity: 500}})
		f.send(StartSealMovement{ID: 9, Steps: 300})
		f.hw.runSeal(120)
		f.hw.sealFault = true
		f.settle()
		resps := f.resp.take()
		test.That(t, len(resps), test.ShouldEqual, 1)
		result, ok := resps[0].(SealMovementResult)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, result.Reason, test.ShouldEqual, ErrorReason)
		test.That(t, result.Error, test.ShouldEqual, SealMotorFault)
		test.That(t, result.Steps, test.ShouldBeLessThan, int64(300))
		test.That(t, result.Steps, test.ShouldEqual, int64(f.hw.sealPulses))
		test.That(t, f.hw.sealEnabled, test.ShouldBeFalse)
	})

	t.Run("positive steps and dead reckoning", func(t *testing.T) {
		f := newFixture(t, Options{Seal: SealConfig{TickFrequency: 1000, Velocity: 500}})
		f.send(StartSealMovement{ID: 1, Steps: 400})
		f.settle()
		f.send(StartSealMovement{ID: 2, Steps: -150})
		f.settle()
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{
			SealMovementResult{ID: 1, Steps: 400},
			SealMovementResult{ID: 2, Steps: -150},
		})
		test.That(t, f.task.Seal().Position(), test.ShouldEqual, int64(250))
	})

	t.Run("zero steps", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.send(StartSealMovement{ID: 3})
		f.settle()
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{SealMovementResult{ID: 3}})
		test.That(t, f.hw.sealPulses, test.ShouldEqual, 0)
	})
}

func TestSealStartClearsStall(t *testing.T) {
	f := newFixture(t, Options{})
	f.chip.ResetWrites()
	f.send(StartSealMovement{ID: 1, Steps: 10})

	writes := f.chip.Writes()
	test.That(t, len(writes), test.ShouldEqual, 4)
	test.That(t, writes[1][0], test.ShouldEqual, byte(tmc.AddrGConf)|byte(tmc.ModeWrite))
	test.That(t, writes[2][0], test.ShouldEqual, byte(tmc.AddrGConf)|byte(tmc.ModeWrite))
	f.settle()
}

func TestSealStartFailures(t *testing.T) {
	t.Run("spi", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.chip.Fail = true
		f.send(StartSealMovement{ID: 4, Steps: 10})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 4, Error: SealMotorSPIError}})
		test.That(t, f.task.Seal().State(), test.ShouldEqual, Idle)
		test.That(t, f.hw.sealTick == nil, test.ShouldBeTrue)
	})

	t.Run("tick source", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.hw.startSealErr = errors.New("no timer")
		f.send(StartSealMovement{ID: 5, Steps: 10})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 5, Error: SealMotorFault}})
		test.That(t, f.task.Seal().State(), test.ShouldEqual, Idle)
		test.That(t, f.hw.sealEnabled, test.ShouldBeFalse)

		// Nothing is left busy.
		f.hw.startSealErr = nil
		f.send(StartSealMovement{ID: 6, Steps: 10})
		f.settle()
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{SealMovementResult{ID: 6, Steps: 10}})
	})
}

func TestSealFaultGuard(t *testing.T) {
	t.Run("diag line", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.hw.sealFault = true
		f.chip.ResetWrites()
		f.send(StartSealMovement{ID: 1, Steps: 300})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 1, Error: SealMotorFault}})
		test.That(t, f.task.Seal().State(), test.ShouldEqual, Idle)
		test.That(t, f.hw.sealEnabled, test.ShouldBeFalse)
		test.That(t, f.hw.sealTick == nil, test.ShouldBeTrue)
		test.That(t, f.task.Seal().Position(), test.ShouldEqual, int64(0))
		// No stall clearing either.
		for _, w := range f.chip.Writes() {
			test.That(t, w[0], test.ShouldNotEqual, byte(tmc.AddrGConf)|byte(tmc.ModeWrite))
		}
	})

	t.Run("drive status", func(t *testing.T) {
		f := newFixture(t, Options{})
		// Over temperature.
		f.chip.Set(byte(tmc.AddrDrvStatus), 1<<25)
		f.send(StartSealMovement{ID: 2, Steps: 300})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 2, Error: SealMotorFault}})
		test.That(t, f.task.Seal().State(), test.ShouldEqual, Idle)
		test.That(t, f.hw.sealEnabled, test.ShouldBeFalse)

		f.chip.Set(byte(tmc.AddrDrvStatus), 0)
		f.send(StartSealMovement{ID: 3, Steps: 300})
		f.settle()
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{SealMovementResult{ID: 3, Steps: 300}})
	})
}

func TestSealBusyGuard(t *testing.T) {
	f := newFixture(t, Options{})
	f.send(StartSealMovement{ID: 1, Steps: -5000})
	f.hw.runSeal(1000)

	f.send(StartSealMovement{ID: 2, Steps: 100})
	f.send(SetSealParameter{ID: 3, Parameter: SealVelocity, Value: 10})
	test.That(t, f.resp.take(), test.ShouldResemble, []Response{
		Acknowledge{ID: 2, Error: SealMotorBusy},
		Acknowledge{ID: 3, Error: SealMotorBusy},
	})
	test.That(t, f.task.Seal().id, test.ShouldEqual, ID(1))
	test.That(t, f.task.Seal().State(), test.ShouldEqual, Moving)

	f.settle()
	test.That(t, f.resp.take(), test.ShouldResemble, []Response{
		SealMovementResult{ID: 1, Steps: -5000},
	})
}

func TestSetSealParameter(t *testing.T) {
	f := newFixture(t, Options{})
	test.That(t, f.task.driver.EnsureInitialized(f.ctx), test.ShouldBeNil)

	for _, tc := range []struct {
		param SealParameter
		value int64
	}{
		{SealVelocity, 0},
		{SealAcceleration, -5},
		{SealStallguardThreshold, 100},
		{SealStallguardMinVelocity, 60000},
		{SealRunCurrent, 40},
		{SealHoldCurrent, -2},
	} {
		f.send(SetSealParameter{ID: 10, Parameter: tc.param, Value: tc.value})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 10}})
	}

	seal := f.task.Seal()
	test.That(t, seal.cfg.Velocity, test.ShouldEqual, 1.0)
	test.That(t, seal.cfg.Acceleration, test.ShouldEqual, 0.0)

	regs := f.task.driver.Registers()
	test.That(t, regs.CoolConf.SGT, test.ShouldEqual, int8(63))
	test.That(t, regs.TCoolThrs.Threshold, test.ShouldEqual, uint32(266))
	test.That(t, regs.IHoldIRun.Run, test.ShouldEqual, uint8(31))
	test.That(t, regs.IHoldIRun.Hold, test.ShouldEqual, uint8(0))

	test.That(t, f.chip.Get(byte(tmc.AddrCoolConf)), test.ShouldEqual, uint32(63<<16))
	test.That(t, f.chip.Get(byte(tmc.AddrTCoolThrs)), test.ShouldEqual, uint32(266))
	test.That(t, f.chip.Get(byte(tmc.AddrIHoldIRun)), test.ShouldEqual, uint32(0x07<<16|31<<8))

	t.Run("spi failure", func(t *testing.T) {
		f.chip.Fail = true
		f.send(SetSealParameter{ID: 11, Parameter: SealRunCurrent, Value: 10})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 11, Error: SealMotorSPIError}})
		test.That(t, f.task.driver.Initialized(), test.ShouldBeFalse)

		// Speeds don't touch the driver.
		f.send(SetSealParameter{ID: 12, Parameter: SealVelocity, Value: 1000})
		test.That(t, f.resp.take(), test.ShouldResemble, []Response{Acknowledge{ID: 12}})
	})
}

func TestParseSealParameter(t *testing.T) {
	p, err := ParseSealParameter("T")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, SealStallguardThreshold)
	p, err = ParseSealParameter("run_current")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, SealRunCurrent)
	_, err = ParseSealParameter("Q")
	test.That(t, err, test.ShouldNotBeNil)
}
