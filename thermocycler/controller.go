//go:build linux

// Package thermocycler exposes the lid and seal motion of a thermocycler as a generic component.
package thermocycler

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/board/genericlinux/buses"
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"golang.org/x/sync/errgroup"

	"github.com/viam-modules/thermocycler-motion/motors"
	"github.com/viam-modules/thermocycler-motion/tmc"
)

// LidParams overrides the lid movement defaults. Zero values keep the default.
type LidParams struct {
	TickFrequency uint32  `json:"tick_frequency_hz,omitempty"`
	Velocity      float64 `json:"velocity,omitempty"`     // microsteps/s
	Acceleration  float64 `json:"acceleration,omitempty"` // microsteps/s^2
	RunCurrent    float64 `json:"run_current_ma,omitempty"`
	HoldCurrent   float64 `json:"hold_current_ma,omitempty"`
}

// SealParams overrides the seal movement defaults. Zero values keep the default.
type SealParams struct {
	TickFrequency uint32  `json:"tick_frequency_hz,omitempty"`
	Velocity      float64 `json:"velocity,omitempty"`     // microsteps/s
	Acceleration  float64 `json:"acceleration,omitempty"` // microsteps/s^2

	// Peak currents in amps. They take precedence over the register profile.
	RunCurrent    float64 `json:"run_current_a,omitempty"`
	HoldCurrent   float64 `json:"hold_current_a,omitempty"`
	SenseResistor float64 `json:"sense_resistor_ohms,omitempty"`
	PowerDown     float64 `json:"power_down_s,omitempty"`
}

const (
	defaultSenseResistor = 0.11
	// Full scale sense voltage with VSENSE clear.
	fullScaleSense = 0.325
)

func (p SealParams) validate(path string) error {
	for name, v := range map[string]float64{
		"seal.run_current_a":       p.RunCurrent,
		"seal.hold_current_a":      p.HoldCurrent,
		"seal.sense_resistor_ohms": p.SenseResistor,
		"seal.power_down_s":        p.PowerDown,
	} {
		if v < 0 {
			return errors.Errorf("%s: %q can't be negative", path, name)
		}
	}
	return nil
}

// applyTo writes the configured currents and power down delay into regs.
func (p SealParams) applyTo(regs *tmc.RegisterMap) {
	sense := tmc.CurrentSense{RSense: p.SenseResistor, VFS: fullScaleSense}
	if sense.RSense == 0 {
		sense.RSense = defaultSenseResistor
	}
	if p.RunCurrent > 0 {
		regs.IHoldIRun.Run = sense.PeakCurrentToCS(p.RunCurrent, regs.GlobalScaler)
	}
	if p.HoldCurrent > 0 {
		regs.IHoldIRun.Hold = sense.PeakCurrentToCS(p.HoldCurrent, regs.GlobalScaler)
	}
	if p.PowerDown > 0 {
		regs.TPowerDown = tmc.PowerDownFromSeconds(p.PowerDown)
	}
}

// Config describes the configuration of the lid motion controller.
type Config struct {
	BoardName  string    `json:"board"`
	SPIBus     string    `json:"spi_bus"`
	ChipSelect string    `json:"chip_select"`
	SPIBackend string    `json:"spi_backend,omitempty"` // "rdk" (default) or "periph"
	Chip       string    `json:"chip,omitempty"`        // "tmc2130" (default) or "tmc2160"
	Pins       PinConfig `json:"pins"`
	// RegisterProfile is a YAML file of seal driver register overrides.
	RegisterProfile string     `json:"register_profile,omitempty"`
	StopPolicy      string     `json:"stop_policy,omitempty"`
	QueueSize       int        `json:"queue_size,omitempty"`
	Lid             LidParams  `json:"lid,omitempty"`
	Seal            SealParams `json:"seal,omitempty"`
}

// Model for the thermocycler lid motion controller.
var Model = resource.NewModel("viam", "thermocycler", "lid-motion")

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) ([]string, []string, error) {
	if config.BoardName == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "board")
	}
	if config.SPIBus == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "spi_bus")
	}
	if config.ChipSelect == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "chip_select")
	}
	switch config.SPIBackend {
	case "", "rdk", "periph":
	default:
		return nil, nil, errors.Errorf("%s: unknown spi_backend %q", path, config.SPIBackend)
	}
	if _, err := tmc.ParseChip(config.Chip); err != nil {
		return nil, nil, err
	}
	if _, err := motors.ParseStopPolicy(config.StopPolicy); err != nil {
		return nil, nil, err
	}
	if config.QueueSize < 0 {
		return nil, nil, errors.New("queue_size can't be negative")
	}
	if err := config.Pins.validate(path); err != nil {
		return nil, nil, err
	}
	if err := config.Seal.validate(path); err != nil {
		return nil, nil, err
	}
	return []string{config.BoardName}, nil, nil
}

func init() {
	resource.RegisterComponent(generic.API, Model, resource.Registration[resource.Resource, *Config]{
		Constructor: newController,
	})
}

// spiMu serializes SPI access across controllers. Controllers on the same spi_bus share one
// physical bus, and a register read spans two transfers that must not interleave.
var spiMu sync.Mutex

// Controller runs the motor task for one thermocycler lid and answers commands through DoCommand.
type Controller struct {
	resource.Named
	resource.AlwaysRebuild
	logger logging.Logger

	task    *motors.Task
	waiters *waiters
	hw      motors.Hardware

	cancel  context.CancelFunc
	workers *errgroup.Group
}

func newController(ctx context.Context, deps resource.Dependencies, c resource.Config, logger logging.Logger,
) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](c)
	if err != nil {
		return nil, err
	}
	b, err := board.FromDependencies(deps, conf.BoardName)
	if err != nil {
		return nil, errors.Errorf("%q is not a board", conf.BoardName)
	}
	hw, err := newBoardHardware(b, conf.Pins, logger)
	if err != nil {
		return nil, err
	}

	var bus buses.SPI
	if conf.SPIBackend == "periph" {
		if bus, err = newPeriphBus(conf.SPIBus); err != nil {
			return nil, err
		}
	} else {
		bus = buses.NewSpiBus(conf.SPIBus)
	}
	return makeController(ctx, *conf, c.ResourceName(), logger, bus, hw)
}

// makeController is separate from newController so tests can inject the SPI bus and the
// hardware.
func makeController(ctx context.Context, c Config, name resource.Name, logger logging.Logger,
	bus buses.SPI, hw motors.Hardware,
) (*Controller, error) {
	chip, err := tmc.ParseChip(c.Chip)
	if err != nil {
		return nil, err
	}
	policy, err := motors.ParseStopPolicy(c.StopPolicy)
	if err != nil {
		return nil, err
	}
	regs := tmc.DefaultRegisterMap(chip)
	if c.RegisterProfile != "" {
		if regs, err = tmc.LoadRegisterMap(c.RegisterProfile, chip); err != nil {
			return nil, err
		}
	}
	c.Seal.applyTo(&regs)

	tr := tmc.NewTransport(bus, c.ChipSelect, &spiMu, logger)
	driver := tmc.NewDriver(chip, tr, regs, logger)
	if err := driver.InitializeConfig(ctx, regs); err != nil {
		// The task retries before every command.
		logger.CWarnf(ctx, "seal driver not configured yet: %v", err)
	}

	w := newWaiters(logger)
	opts := motors.Options{
		QueueSize:  c.QueueSize,
		StopPolicy: policy,
		Lid: motors.LidConfig{
			TickFrequency: c.Lid.TickFrequency,
			Velocity:      c.Lid.Velocity,
			Acceleration:  c.Lid.Acceleration,
			RunCurrent:    c.Lid.RunCurrent,
			HoldCurrent:   c.Lid.HoldCurrent,
		},
		Seal: motors.SealConfig{
			TickFrequency: c.Seal.TickFrequency,
			Velocity:      c.Seal.Velocity,
			Acceleration:  c.Seal.Acceleration,
		},
	}

	runCtx, cancel := context.WithCancel(context.Background())
	workers, runCtx := errgroup.WithContext(runCtx)
	ctrl := &Controller{
		Named:   name.AsNamed(),
		logger:  logger,
		task:    motors.NewTask(opts, driver, hw, w, logger),
		waiters: w,
		hw:      hw,
		cancel:  cancel,
		workers: workers,
	}
	workers.Go(func() error {
		return ctrl.task.Run(runCtx)
	})
	logger.Infow("lid motion started", "chip", chip, "stop_policy", policy)
	return ctrl, nil
}

// Close stops the motor task, which halts both motors.
func (c *Controller) Close(ctx context.Context) error {
	c.cancel()
	err := c.workers.Wait()
	if hw, ok := c.hw.(*boardHardware); ok {
		err = multierr.Combine(err, hw.close(ctx))
	}
	return err
}

// DoCommand sends one command to the motor task and waits for its response.
func (c *Controller) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	id, ch := c.waiters.add()
	msg, err := parseCommand(cmd, id)
	if err != nil {
		c.waiters.remove(id)
		return nil, err
	}
	if err := c.task.Queue().Send(ctx, msg); err != nil {
		c.waiters.remove(id)
		return nil, err
	}
	resp, err := c.waiters.wait(ctx, id, ch)
	if err != nil {
		return nil, errors.Wrapf(err, "waiting for %v", cmd[Command])
	}
	return responseMap(resp), nil
}
