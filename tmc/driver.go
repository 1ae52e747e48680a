package tmc

import (
	"context"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Driver owns the cached register map of one driver IC. It is not safe for concurrent use; a
// single motor task owns each Driver.
type Driver struct {
	chip        Chip
	tr          *Transport
	regs        RegisterMap
	initialized bool
	logger      logging.Logger
}

// NewDriver returns a driver for chip that will configure it with regs. Nothing is sent until
// InitializeConfig or EnsureInitialized is called.
func NewDriver(chip Chip, tr *Transport, regs RegisterMap, logger logging.Logger) *Driver {
	return &Driver{chip: chip, tr: tr, regs: regs, logger: logger}
}

// Chip returns the driver IC variant.
func (d *Driver) Chip() Chip {
	return d.chip
}

// Registers returns a copy of the cached register map.
func (d *Driver) Registers() RegisterMap {
	return d.regs
}

// Initialized reports whether the last configuration pass and every write since succeeded.
func (d *Driver) Initialized() bool {
	return d.initialized
}

// InitializeConfig writes every managed register of regs in a fixed order, general config first
// and stealthChop config last. It stops at the first register that can't be written, leaving
// the driver uninitialized.
func (d *Driver) InitializeConfig(ctx context.Context, regs RegisterMap) error {
	d.regs = regs
	d.initialized = false
	for _, r := range d.regs.initOrder(d.chip) {
		if err := d.tr.WriteRetry(ctx, r.Address(), r.Encode(d.chip)); err != nil {
			return errors.Wrapf(err, "configuring %s", d.chip)
		}
	}
	d.initialized = true
	d.logger.Debugf("%s configured", d.chip)
	return nil
}

// EnsureInitialized re-sends the cached configuration if a previous write failed.
func (d *Driver) EnsureInitialized(ctx context.Context) error {
	if d.initialized {
		return nil
	}
	return d.InitializeConfig(ctx, d.regs)
}

func (d *Driver) write(ctx context.Context, r Writable) error {
	if err := d.tr.Write(ctx, r.Address(), r.Encode(d.chip)); err != nil {
		d.initialized = false
		return err
	}
	return nil
}

func (d *Driver) read(ctx context.Context, r Readable) error {
	raw, err := d.tr.Read(ctx, r.Address())
	if err != nil {
		return err
	}
	r.Decode(raw)
	return nil
}

// SetGConf updates and writes the global configuration.
func (d *Driver) SetGConf(ctx context.Context, r GConf) error {
	d.regs.GConf = r
	return d.write(ctx, r)
}

// SetShortConf updates and writes the short detection configuration.
func (d *Driver) SetShortConf(ctx context.Context, r ShortConf) error {
	if d.chip != TMC2160 {
		return errors.Errorf("%s has no SHORT_CONF register", d.chip)
	}
	d.regs.ShortConf = r
	return d.write(ctx, r)
}

// SetDrvConf updates and writes the gate driver configuration.
func (d *Driver) SetDrvConf(ctx context.Context, r DrvConf) error {
	if d.chip != TMC2160 {
		return errors.Errorf("%s has no DRV_CONF register", d.chip)
	}
	d.regs.DrvConf = r
	return d.write(ctx, r)
}

// SetGlobalScaler updates and writes the global current scaler.
func (d *Driver) SetGlobalScaler(ctx context.Context, r GlobalScaler) error {
	if d.chip != TMC2160 {
		return errors.Errorf("%s has no GLOBAL_SCALER register", d.chip)
	}
	r.Scale = r.Clamped()
	d.regs.GlobalScaler = r
	return d.write(ctx, r)
}

// SetCurrent updates and writes the hold/run current register.
func (d *Driver) SetCurrent(ctx context.Context, r IHoldIRun) error {
	r.Hold = min(r.Hold, MaxCurrent)
	r.Run = min(r.Run, MaxCurrent)
	d.regs.IHoldIRun = r
	return d.write(ctx, r)
}

// SetPowerDown updates and writes the power down delay.
func (d *Driver) SetPowerDown(ctx context.Context, r TPowerDown) error {
	d.regs.TPowerDown = r
	return d.write(ctx, r)
}

// SetStealthThreshold updates and writes TPWMTHRS.
func (d *Driver) SetStealthThreshold(ctx context.Context, r TPWMThrs) error {
	r.Threshold = min(r.Threshold, MaxThreshold)
	d.regs.TPWMThrs = r
	return d.write(ctx, r)
}

// SetCoolThreshold updates and writes TCOOLTHRS.
func (d *Driver) SetCoolThreshold(ctx context.Context, r TCoolThrs) error {
	r.Threshold = min(r.Threshold, MaxThreshold)
	d.regs.TCoolThrs = r
	return d.write(ctx, r)
}

// SetHighThreshold updates and writes THIGH.
func (d *Driver) SetHighThreshold(ctx context.Context, r THigh) error {
	r.Threshold = min(r.Threshold, MaxThreshold)
	d.regs.THigh = r
	return d.write(ctx, r)
}

// SetChopConf updates and writes the chopper configuration.
func (d *Driver) SetChopConf(ctx context.Context, r ChopConf) error {
	d.regs.ChopConf = r
	return d.write(ctx, r)
}

// SetCoolConf updates and writes the coolStep configuration.
func (d *Driver) SetCoolConf(ctx context.Context, r CoolConf) error {
	r.SGT = ClampSGT(int32(r.SGT))
	d.regs.CoolConf = r
	return d.write(ctx, r)
}

// SetPWMConf updates and writes the stealthChop configuration.
func (d *Driver) SetPWMConf(ctx context.Context, r PWMConf) error {
	d.regs.PWMConf = r
	return d.write(ctx, r)
}

// ReadStatus reads DRVSTATUS.
func (d *Driver) ReadStatus(ctx context.Context) (DriveStatus, error) {
	var s DriveStatus
	if err := d.read(ctx, &s); err != nil {
		return s, errors.Wrap(err, "reading drive status")
	}
	return s, nil
}

// ReadGStat reads and clears the global status flags. If the read fails the returned flags
// report a driver error alongside the error.
func (d *Driver) ReadGStat(ctx context.Context) (GStat, error) {
	var s GStat
	if err := d.read(ctx, &s); err != nil {
		return GStat{DriverError: true}, errors.Wrap(err, "reading global status")
	}
	return s, nil
}

// ReadTStep reads the measured time per microstep.
func (d *Driver) ReadTStep(ctx context.Context) (uint32, error) {
	var s TStep
	if err := d.read(ctx, &s); err != nil {
		return 0, errors.Wrap(err, "reading tstep")
	}
	return s.Value, nil
}

// Faulted reports whether DRVSTATUS shows a hardware fault.
func (d *Driver) Faulted(ctx context.Context) (bool, error) {
	s, err := d.ReadStatus(ctx)
	if err != nil {
		return false, err
	}
	return s.Fault(), nil
}

// ClearStall resets the stallGuard accumulator before a movement. Switching stealthChop on and
// back off clears it; stall detection is disabled (TCOOLTHRS = 0) while the mode bit is set and
// the cached threshold is restored afterwards. stealthChop is left off.
func (d *Driver) ClearStall(ctx context.Context) error {
	gconf := d.regs.GConf
	tcool := d.regs.TCoolThrs

	on := gconf
	on.EnPWMMode = true
	off := gconf
	off.EnPWMMode = false

	steps := []Writable{TCoolThrs{}, on, off, tcool}
	for _, r := range steps {
		if err := d.write(ctx, r); err != nil {
			return errors.Wrap(err, "clearing stall")
		}
	}
	d.regs.GConf = off
	return nil
}
