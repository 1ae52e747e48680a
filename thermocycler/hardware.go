//go:build linux

package thermocycler

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/thermocycler-motion/motors"
)

// PinConfig names the board pins the lid and seal are wired to.
type PinConfig struct {
	LidStep         string `json:"lid_step"`
	LidDirection    string `json:"lid_dir"`
	LidEnableLow    string `json:"lid_en_low"`
	LidFaultLow     string `json:"lid_fault_low,omitempty"`
	LidClosedSwitch string `json:"lid_closed_switch"`
	LidOpenSwitch   string `json:"lid_open_switch"`
	Solenoid        string `json:"solenoid"`

	// LidCurrentDAC is an analog writer on the board that sets the lid driver current reference.
	LidCurrentDAC string `json:"lid_current_dac,omitempty"`

	SealStep      string `json:"seal_step"`
	SealDirection string `json:"seal_dir"`
	SealEnableLow string `json:"seal_en_low"`

	// DIAG outputs of the seal driver, open drain and active low.
	SealStallLow string `json:"seal_diag1_low,omitempty"`
	SealFaultLow string `json:"seal_diag0_low,omitempty"`
}

func (p PinConfig) validate(path string) error {
	required := []struct{ name, value string }{
		{"pins.lid_step", p.LidStep},
		{"pins.lid_dir", p.LidDirection},
		{"pins.lid_en_low", p.LidEnableLow},
		{"pins.lid_closed_switch", p.LidClosedSwitch},
		{"pins.lid_open_switch", p.LidOpenSwitch},
		{"pins.solenoid", p.Solenoid},
		{"pins.seal_step", p.SealStep},
		{"pins.seal_dir", p.SealDirection},
		{"pins.seal_en_low", p.SealEnableLow},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.Errorf("%s: %q is required", path, r.name)
		}
	}
	return nil
}

// boardHardware implements motors.Hardware on the GPIO pins and analog writers of an rdk board.
type boardHardware struct {
	logger logging.Logger

	lidStep, lidDir, lidEnLow, lidFaultLow board.GPIOPin
	lidClosed, lidOpen, solenoid           board.GPIOPin
	lidDAC                                 board.Analog

	sealStep, sealDir, sealEnLow board.GPIOPin
	sealStallLow, sealFaultLow   board.GPIOPin

	lidTicks, sealTicks tickSource
}

func newBoardHardware(b board.Board, pins PinConfig, logger logging.Logger) (*boardHardware, error) {
	h := &boardHardware{logger: logger}
	var errs error
	pin := func(name string, optional bool) board.GPIOPin {
		if name == "" && optional {
			return nil
		}
		p, err := b.GPIOPinByName(name)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "pin %q", name))
		}
		return p
	}

	h.lidStep = pin(pins.LidStep, false)
	h.lidDir = pin(pins.LidDirection, false)
	h.lidEnLow = pin(pins.LidEnableLow, false)
	h.lidFaultLow = pin(pins.LidFaultLow, true)
	h.lidClosed = pin(pins.LidClosedSwitch, false)
	h.lidOpen = pin(pins.LidOpenSwitch, false)
	h.solenoid = pin(pins.Solenoid, false)
	h.sealStep = pin(pins.SealStep, false)
	h.sealDir = pin(pins.SealDirection, false)
	h.sealEnLow = pin(pins.SealEnableLow, false)
	h.sealStallLow = pin(pins.SealStallLow, true)
	h.sealFaultLow = pin(pins.SealFaultLow, true)

	if pins.LidCurrentDAC != "" {
		dac, err := b.AnalogByName(pins.LidCurrentDAC)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "analog %q", pins.LidCurrentDAC))
		}
		h.lidDAC = dac
	}
	if errs != nil {
		return nil, errs
	}
	return h, nil
}

func (h *boardHardware) SetLidEnable(ctx context.Context, enable bool) error {
	return h.lidEnLow.Set(ctx, !enable, nil)
}

func (h *boardHardware) SetLidDirection(ctx context.Context, positive bool) error {
	return h.lidDir.Set(ctx, positive, nil)
}

func (h *boardHardware) SetLidCurrent(ctx context.Context, dac uint8) error {
	if h.lidDAC == nil {
		return nil
	}
	return h.lidDAC.Write(ctx, int(dac), nil)
}

func (h *boardHardware) LidFault(ctx context.Context) (bool, error) {
	if h.lidFaultLow == nil {
		return false, nil
	}
	high, err := h.lidFaultLow.Get(ctx, nil)
	return !high, err
}

func (h *boardHardware) EngageSolenoid(ctx context.Context) error {
	return h.solenoid.Set(ctx, true, nil)
}

func (h *boardHardware) DisengageSolenoid(ctx context.Context) error {
	return h.solenoid.Set(ctx, false, nil)
}

func (h *boardHardware) LidStepPulse() {
	h.pulse(h.lidStep)
}

func (h *boardHardware) ReadLidSwitches() (closed, open bool) {
	return h.read(h.lidClosed), h.read(h.lidOpen)
}

func (h *boardHardware) StartLidTicks(hz uint32, tick motors.TickFunc) error {
	h.lidTicks.Start(hz, tick)
	return nil
}

func (h *boardHardware) StopLidTicks() {
	h.lidTicks.Stop()
}

func (h *boardHardware) SetSealEnable(ctx context.Context, enable bool) error {
	return h.sealEnLow.Set(ctx, !enable, nil)
}

func (h *boardHardware) SetSealDirection(ctx context.Context, positive bool) error {
	return h.sealDir.Set(ctx, positive, nil)
}

func (h *boardHardware) SealStepPulse() {
	h.pulse(h.sealStep)
}

func (h *boardHardware) SealDiag() (stall, fault bool) {
	if h.sealStallLow != nil {
		stall = !h.read(h.sealStallLow)
	}
	if h.sealFaultLow != nil {
		fault = !h.read(h.sealFaultLow)
	}
	return stall, fault
}

func (h *boardHardware) StartSealTicks(hz uint32, tick motors.TickFunc) error {
	h.sealTicks.Start(hz, tick)
	return nil
}

func (h *boardHardware) StopSealTicks() {
	h.sealTicks.Stop()
}

// pulse drives one step edge. Called from the tick goroutines, so failures are only logged.
func (h *boardHardware) pulse(p board.GPIOPin) {
	ctx := context.Background()
	if err := multierr.Combine(p.Set(ctx, true, nil), p.Set(ctx, false, nil)); err != nil {
		h.logger.Debugf("step pulse: %v", err)
	}
}

// read returns false if the pin can't be read.
func (h *boardHardware) read(p board.GPIOPin) bool {
	high, err := p.Get(context.Background(), nil)
	if err != nil {
		h.logger.Debugf("reading pin: %v", err)
		return false
	}
	return high
}

func (h *boardHardware) close(ctx context.Context) error {
	h.lidTicks.Stop()
	h.sealTicks.Stop()
	return multierr.Combine(
		h.SetLidEnable(ctx, false),
		h.SetSealEnable(ctx, false),
		h.DisengageSolenoid(ctx),
	)
}
