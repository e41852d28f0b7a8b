package hw

import (
	"context"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/twi"
)

var _ twi.I2CBus = &PeriphBus{}

// PeriphBus is a host I2C adapter opened through periph.
type PeriphBus struct {
	bus i2c.BusCloser
}

// NewPeriphBus initializes the periph host drivers and opens dev ("" for the
// first bus found).
func NewPeriphBus(dev string) (*PeriphBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return &PeriphBus{bus: bus}, nil
}

func (b *PeriphBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.tx(ctx, address, nil, buffer)
}

func (b *PeriphBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.tx(ctx, address, buffer, nil)
}

// ReadRegister writes reg and reads buffer in one combined transaction.
func (b *PeriphBus) ReadRegister(ctx context.Context, address byte, reg, buffer []byte) error {
	return b.tx(ctx, address, reg, buffer)
}

func (b *PeriphBus) tx(ctx context.Context, address byte, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.bus.Tx(uint16(address), w, r); err != nil {
		return fmt.Errorf("%s: transfer with %#02x failed: %w", b.bus, address, err)
	}
	return nil
}

func (b *PeriphBus) Release(ctx context.Context) error {
	return nil
}

func (b *PeriphBus) String() string { return b.bus.String() }

func (b *PeriphBus) Close() error {
	return b.bus.Close()
}
