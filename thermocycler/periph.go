//go:build linux

package thermocycler

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/board/genericlinux/buses"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var periphInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// periphBus is a buses.SPI backed by the periph.io SPI registry, for boards where the rdk bus is
// not available. The chip select is part of the periph port name (SPI<bus>.<cs>).
type periphBus struct {
	bus string
}

func newPeriphBus(bus string) (buses.SPI, error) {
	if err := periphInit(); err != nil {
		return nil, errors.Wrap(err, "initializing periph host")
	}
	return &periphBus{bus: bus}, nil
}

func (b *periphBus) OpenHandle() (buses.SPIHandle, error) {
	return &periphHandle{bus: b.bus}, nil
}

// Close is a no-op; ports are opened per transfer.
func (b *periphBus) Close(ctx context.Context) error {
	return nil
}

type periphHandle struct {
	bus string
}

func (h *periphHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("SPI%s.%s", h.bus, chipSelect)
	port, err := spireg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}
	defer port.Close() //nolint:errcheck

	conn, err := port.Connect(physic.Frequency(baud)*physic.Hertz, spi.Mode(mode), 8)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", name)
	}
	rx := make([]byte, len(tx))
	if err := conn.Tx(tx, rx); err != nil {
		return nil, errors.Wrapf(err, "transfer on %s", name)
	}
	return rx, nil
}

func (h *periphHandle) Close() error {
	return nil
}
