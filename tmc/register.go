// Package tmc implements the SPI register protocol for TMC2130 and TMC2160 stepper drivers.
package tmc

import (
	"strings"

	"github.com/pkg/errors"
)

// Chip selects which member of the driver family is on the bus. The two share most of their
// register layout; the differences are handled in each register's Encode.
type Chip int

// Supported driver ICs.
const (
	TMC2130 Chip = iota
	TMC2160
)

func (c Chip) String() string {
	switch c {
	case TMC2130:
		return "tmc2130"
	case TMC2160:
		return "tmc2160"
	default:
		return "unknown"
	}
}

// ParseChip returns the chip named by s. An empty string selects the TMC2130.
func ParseChip(s string) (Chip, error) {
	switch strings.ToLower(s) {
	case "", "tmc2130":
		return TMC2130, nil
	case "tmc2160":
		return TMC2160, nil
	default:
		return TMC2130, errors.Errorf("unsupported driver chip %q", s)
	}
}

// Address is a register address on the driver IC.
type Address uint8

// Register addresses.
const (
	AddrGConf        Address = 0x00
	AddrGStat        Address = 0x01
	AddrShortConf    Address = 0x09
	AddrDrvConf      Address = 0x0A
	AddrGlobalScaler Address = 0x0B
	AddrIHoldIRun    Address = 0x10
	AddrTPowerDown   Address = 0x11
	AddrTStep        Address = 0x12
	AddrTPWMThrs     Address = 0x13
	AddrTCoolThrs    Address = 0x14
	AddrTHigh        Address = 0x15
	AddrChopConf     Address = 0x6C
	AddrCoolConf     Address = 0x6D
	AddrDrvStatus    Address = 0x6F
	AddrPWMConf      Address = 0x70
)

// Register is any driver register.
type Register interface {
	Address() Address
}

// Writable registers can be serialized for a write frame. Read-only registers do not implement
// it, so handing one to a write path does not compile.
type Writable interface {
	Register
	// Mask is the set of bits that may ever be transmitted for this register on chip. Bits the
	// hardware requires to be zero are excluded.
	Mask(chip Chip) uint32
	// Encode packs the fields into a register value. The result never has bits outside Mask.
	Encode(chip Chip) uint32
}

// Readable registers can be filled from the value returned by a read. They are implemented on
// pointer receivers.
type Readable interface {
	Register
	Decode(raw uint32)
}

// field is one bit-field of a register: width bits starting at shift.
type field struct {
	shift, width uint
}

func (f field) mask() uint32 {
	return (uint32(1)<<f.width - 1) << f.shift
}

func (f field) get(raw uint32) uint32 {
	return (raw & f.mask()) >> f.shift
}

func (f field) put(raw, v uint32) uint32 {
	return raw | (v<<f.shift)&f.mask()
}

func bitMask(width uint) uint32 {
	if width >= 32 {
		return 0xFFFFFFFF
	}
	return uint32(1)<<width - 1
}

func boolBit(b bool, shift uint) uint32 {
	if b {
		return 1 << shift
	}
	return 0
}

func hasBit(raw uint32, shift uint) bool {
	return raw&(1<<shift) != 0
}

// packFlags sets bit i of the result for every true flags[i].
func packFlags(flags []*bool) uint32 {
	var raw uint32
	for i, f := range flags {
		raw |= boolBit(*f, uint(i))
	}
	return raw
}

func unpackFlags(raw uint32, flags []*bool) {
	for i, f := range flags {
		*f = hasBit(raw, uint(i))
	}
}
