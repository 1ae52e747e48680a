package tmc

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/board/genericlinux/buses"
	"go.viam.com/rdk/logging"
)

// FrameSize is the length of every SPI datagram: one address byte and four data bytes.
const FrameSize = 5

// Frame is a single SPI datagram.
type Frame [FrameSize]byte

// Mode is the access direction encoded in the address byte.
type Mode byte

// Access modes.
const (
	ModeRead  Mode = 0x00
	ModeWrite Mode = 0x80
)

// BuildFrame returns a new frame for addr. The value goes out big-endian.
func BuildFrame(addr Address, mode Mode, value uint32) Frame {
	var f Frame
	f[0] = byte(addr)&0x7F | byte(mode)
	f[1] = byte(value >> 24)
	f[2] = byte(value >> 16)
	f[3] = byte(value >> 8)
	f[4] = byte(value)
	return f
}

// Value returns the data bytes of a reply frame.
func (f Frame) Value() uint32 {
	return uint32(f[1])<<24 | uint32(f[2])<<16 | uint32(f[3])<<8 | uint32(f[4])
}

// SPI defaults for both driver ICs.
const (
	DefaultBaud    = 1000000
	DefaultSPIMode = 3

	writeAttempts = 3
	retryInterval = 2 * time.Millisecond
)

// Transport exchanges frames with one driver IC over an SPI bus.
type Transport struct {
	bus        buses.SPI
	chipSelect string
	baud       uint
	logger     logging.Logger

	// Reads take two exchanges. Anything else talking to the chip in between would corrupt
	// the reply, so both go out under this lock.
	mu *sync.Mutex
}

// NewTransport returns a transport for the chip behind chipSelect. Transports that share a
// physical bus should share mu; a nil mu gives the transport its own lock.
func NewTransport(bus buses.SPI, chipSelect string, mu *sync.Mutex, logger logging.Logger) *Transport {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &Transport{
		bus:        bus,
		chipSelect: chipSelect,
		baud:       DefaultBaud,
		logger:     logger,
		mu:         mu,
	}
}

func (t *Transport) xfer(ctx context.Context, handle buses.SPIHandle, f Frame) (Frame, error) {
	var reply Frame
	rx, err := handle.Xfer(ctx, t.baud, t.chipSelect, DefaultSPIMode, f[:])
	if err != nil {
		return reply, err
	}
	if len(rx) != FrameSize {
		return reply, errors.Errorf("short spi reply: %d bytes", len(rx))
	}
	copy(reply[:], rx)
	return reply, nil
}

func (t *Transport) openHandle(ctx context.Context) (buses.SPIHandle, func(), error) {
	handle, err := t.bus.OpenHandle()
	if err != nil {
		return nil, nil, err
	}
	return handle, func() {
		if err := handle.Close(); err != nil {
			t.logger.CError(ctx, err)
		}
	}, nil
}

// Write sends value to addr. A nil error means the frame went out over the bus; whether the
// chip accepted the value cannot be known from the write itself.
func (t *Transport) Write(ctx context.Context, addr Address, value uint32) error {
	f := BuildFrame(addr, ModeWrite, value)

	handle, closeHandle, err := t.openHandle(ctx)
	if err != nil {
		return errors.Wrapf(err, "opening spi handle to write 0x%x (cs %s)", addr, t.chipSelect)
	}
	defer closeHandle()

	t.logger.Debugf("Write to 0x%x: %v", addr, f[1:])

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.xfer(ctx, handle, f); err != nil {
		return errors.Wrapf(err, "writing register 0x%x (cs %s)", addr, t.chipSelect)
	}
	return nil
}

// WriteRetry is Write with a fixed number of attempts a short, constant interval apart.
func (t *Transport) WriteRetry(ctx context.Context, addr Address, value uint32) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), writeAttempts-1), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := t.Write(ctx, addr, value)
		if err != nil {
			t.logger.CWarnf(ctx, "write attempt %d/%d to 0x%x failed: %v", attempt, writeAttempts, addr, err)
		}
		return err
	}, b)
}

// Read returns the contents of addr.
//
// The chip answers every datagram with the register requested by the *previous* one, so the
// read frame is sent twice and the value is taken from the second reply.
func (t *Transport) Read(ctx context.Context, addr Address) (uint32, error) {
	handle, closeHandle, err := t.openHandle(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "opening spi handle to read 0x%x (cs %s)", addr, t.chipSelect)
	}
	defer closeHandle()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.xfer(ctx, handle, BuildFrame(addr, ModeRead, 0)); err != nil {
		return 0, errors.Wrapf(err, "priming read of register 0x%x (cs %s)", addr, t.chipSelect)
	}
	reply, err := t.xfer(ctx, handle, BuildFrame(addr, ModeRead, 0))
	if err != nil {
		return 0, errors.Wrapf(err, "reading register 0x%x (cs %s)", addr, t.chipSelect)
	}

	value := reply.Value()
	t.logger.Debugf("Read from 0x%x: %d (%v)", addr, value, reply[1:])
	return value, nil
}
