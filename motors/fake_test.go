package motors

import (
	"context"
	"sync"
	"testing"

	"go.viam.com/rdk/logging"

	"github.com/viam-modules/thermocycler-motion/internal/spitest"
	"github.com/viam-modules/thermocycler-motion/motion"
	"github.com/viam-modules/thermocycler-motion/tmc"
)

// fakeHardware runs ticks synchronously from the test and simulates the lid hinge and its
// switches. The lid starts closed; the open switch closes at openAt microsteps.
type fakeHardware struct {
	lidEnabled  bool
	lidPositive bool
	lidDAC      uint8
	lidFault    bool
	engaged     bool
	engages     int
	disengages  int
	lidPos      int64
	openAt      int64
	lidTick     TickFunc
	lidStarts   int

	sealEnabled  bool
	sealPositive bool
	sealPulses   int
	stallAt      int
	sealFault    bool
	sealTick     TickFunc
	startSealErr error
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{openAt: motion.LidAngleToMicrosteps(90)}
}

func (h *fakeHardware) SetLidEnable(ctx context.Context, enable bool) error {
	h.lidEnabled = enable
	return nil
}

func (h *fakeHardware) SetLidDirection(ctx context.Context, positive bool) error {
	h.lidPositive = positive
	return nil
}

func (h *fakeHardware) SetLidCurrent(ctx context.Context, dac uint8) error {
	h.lidDAC = dac
	return nil
}

func (h *fakeHardware) LidFault(ctx context.Context) (bool, error) {
	return h.lidFault, nil
}

func (h *fakeHardware) EngageSolenoid(ctx context.Context) error {
	h.engaged = true
	h.engages++
	return nil
}

func (h *fakeHardware) DisengageSolenoid(ctx context.Context) error {
	h.engaged = false
	h.disengages++
	return nil
}

func (h *fakeHardware) LidStepPulse() {
	if h.lidPositive {
		h.lidPos++
	} else {
		h.lidPos--
	}
}

func (h *fakeHardware) ReadLidSwitches() (closed, open bool) {
	return h.lidPos <= 0, h.lidPos >= h.openAt
}

func (h *fakeHardware) StartLidTicks(hz uint32, tick TickFunc) error {
	h.lidTick = tick
	h.lidStarts++
	return nil
}

func (h *fakeHardware) StopLidTicks() {
	h.lidTick = nil
}

func (h *fakeHardware) SetSealEnable(ctx context.Context, enable bool) error {
	h.sealEnabled = enable
	return nil
}

func (h *fakeHardware) SetSealDirection(ctx context.Context, positive bool) error {
	h.sealPositive = positive
	return nil
}

func (h *fakeHardware) SealStepPulse() {
	h.sealPulses++
}

func (h *fakeHardware) SealDiag() (stall, fault bool) {
	return h.stallAt > 0 && h.sealPulses >= h.stallAt, h.sealFault
}

func (h *fakeHardware) StartSealTicks(hz uint32, tick TickFunc) error {
	if h.startSealErr != nil {
		return h.startSealErr
	}
	h.sealTick = tick
	return nil
}

func (h *fakeHardware) StopSealTicks() {
	h.sealTick = nil
}

// runLid ticks the lid until its tick handler stops.
func (h *fakeHardware) runLid() {
	for h.lidTick != nil {
		if !h.lidTick() {
			h.lidTick = nil
		}
	}
}

// runSeal ticks the seal until its tick handler stops or, if limit is positive, for at most limit
// ticks.
func (h *fakeHardware) runSeal(limit int) {
	for n := 0; h.sealTick != nil && (limit <= 0 || n < limit); n++ {
		if !h.sealTick() {
			h.sealTick = nil
		}
	}
}

type recorder struct {
	mu        sync.Mutex
	responses []Response
	ch        chan Response
}

func (r *recorder) Respond(resp Response) {
	r.mu.Lock()
	r.responses = append(r.responses, resp)
	r.mu.Unlock()
	if r.ch != nil {
		r.ch <- resp
	}
}

// take returns and forgets the responses so far.
func (r *recorder) take() []Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.responses
	r.responses = nil
	return out
}

type fixture struct {
	ctx  context.Context
	task *Task
	hw   *fakeHardware
	resp *recorder
	chip *spitest.Chip
}

var fastLid = LidConfig{TickFrequency: 1000, Velocity: 500}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	logger := logging.NewTestLogger(t)
	chip, bus := spitest.NewChip()
	driver := tmc.NewDriver(tmc.TMC2130, tmc.NewTransport(bus, "0", nil, logger),
		tmc.DefaultRegisterMap(tmc.TMC2130), logger)
	hw := newFakeHardware()
	resp := &recorder{}
	if opts.Lid == (LidConfig{}) {
		opts.Lid = fastLid
	}
	return &fixture{
		ctx:  context.Background(),
		task: NewTask(opts, driver, hw, resp, logger),
		hw:   hw,
		resp: resp,
		chip: chip,
	}
}

// send hands msg to the task the way Run would.
func (f *fixture) send(msg Message) {
	f.task.handle(f.ctx, msg)
}

// drain handles every queued message.
func (f *fixture) drain() {
	for f.task.queue.Len() > 0 {
		msg, err := f.task.queue.Recv(f.ctx)
		if err != nil {
			return
		}
		f.task.handle(f.ctx, msg)
	}
}

// stepLid runs the current lid stage to its end and lets the task handle the completion.
func (f *fixture) stepLid() {
	f.hw.runLid()
	f.drain()
}

// settle runs every movement and sequence to its end.
func (f *fixture) settle() {
	for f.hw.lidTick != nil || f.hw.sealTick != nil || f.task.queue.Len() > 0 {
		f.hw.runLid()
		f.hw.runSeal(0)
		f.drain()
	}
}
