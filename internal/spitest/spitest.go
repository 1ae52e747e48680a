// Package spitest provides fake SPI buses for driver tests.
package spitest

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/board/genericlinux/buses"
	"go.viam.com/rdk/testutils/inject"
	"go.viam.com/test"
)

// ErrXfer is returned by scripted transfers marked as failing.
var ErrXfer = errors.New("spi transfer failed")

// Handle is a scripted SPI handle. Every Xfer must match the next expected tx and gets the
// matching rx back.
type Handle struct {
	tx, rx [][]byte // tx and rx must have the same length
	errs   []error
	i      int // Index of the next tx/rx pair to use
	tb     testing.TB
}

// Xfer implements buses.SPIHandle.
func (h *Handle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	test.That(h.tb, h.i, test.ShouldBeLessThan, len(h.tx))
	test.That(h.tb, tx, test.ShouldResemble, h.tx[h.i])
	result, err := h.rx[h.i], h.errs[h.i]
	h.i++
	return result, err
}

// Close implements buses.SPIHandle.
func (h *Handle) Close() error {
	return nil
}

// AddExpectedTx expects each frame to be sent and answers it with zeros.
func (h *Handle) AddExpectedTx(expects [][]byte) {
	for _, line := range expects {
		h.tx = append(h.tx, line)
		h.rx = append(h.rx, make([]byte, len(line)))
		h.errs = append(h.errs, nil)
	}
}

// AddExpectedRx expects each frame to be sent and answers it with the matching reply.
func (h *Handle) AddExpectedRx(expects, sends [][]byte) {
	test.That(h.tb, len(expects), test.ShouldEqual, len(sends))
	h.tx = append(h.tx, expects...)
	h.rx = append(h.rx, sends...)
	for range expects {
		h.errs = append(h.errs, nil)
	}
}

// AddFailedTx expects each frame to be sent and fails the transfer.
func (h *Handle) AddFailedTx(expects [][]byte) {
	for _, line := range expects {
		h.tx = append(h.tx, line)
		h.rx = append(h.rx, nil)
		h.errs = append(h.errs, ErrXfer)
	}
}

// ExpectDone asserts that all expected data was transmitted.
func (h *Handle) ExpectDone() {
	test.That(h.tb, h.i, test.ShouldEqual, len(h.tx))
}

// NewScripted returns a scripted handle and a bus that always opens it.
func NewScripted(tb testing.TB) (*Handle, buses.SPI) {
	handle := &Handle{tb: tb}
	bus := &inject.SPI{}
	bus.OpenHandleFunc = func() (buses.SPIHandle, error) {
		return handle, nil
	}
	return handle, bus
}

// Chip simulates a driver IC: writes are latched per address and reads reply with the register
// requested by the previous datagram.
type Chip struct {
	mu      sync.Mutex
	regs    map[byte]uint32
	pending byte
	writes  [][]byte
	// Fail makes every transfer fail while set.
	Fail bool
}

// NewChip returns a simulated chip and a bus connected to it.
func NewChip() (*Chip, buses.SPI) {
	c := &Chip{regs: map[byte]uint32{}}
	bus := &inject.SPI{}
	bus.OpenHandleFunc = func() (buses.SPIHandle, error) {
		return c, nil
	}
	return c, bus
}

// Xfer implements buses.SPIHandle.
func (c *Chip) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail {
		return nil, ErrXfer
	}
	if len(tx) != 5 {
		return nil, errors.Errorf("bad frame length %d", len(tx))
	}
	prev := c.regs[c.pending]
	reply := []byte{0, byte(prev >> 24), byte(prev >> 16), byte(prev >> 8), byte(prev)}

	addr := tx[0] & 0x7F
	if tx[0]&0x80 != 0 {
		c.regs[addr] = uint32(tx[1])<<24 | uint32(tx[2])<<16 | uint32(tx[3])<<8 | uint32(tx[4])
		c.writes = append(c.writes, append([]byte(nil), tx...))
	}
	c.pending = addr
	return reply, nil
}

// Close implements buses.SPIHandle.
func (c *Chip) Close() error {
	return nil
}

// Set stores a register value as if the chip had produced it.
func (c *Chip) Set(addr byte, value uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[addr] = value
}

// Get returns the last value written to addr.
func (c *Chip) Get(addr byte) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[addr]
}

// Writes returns every write frame received so far.
func (c *Chip) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// ResetWrites forgets the recorded write frames.
func (c *Chip) ResetWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = nil
}
