package hw

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/twi"
)

var _ twi.I2CBus = &GobotBus{}

// GobotBus reaches devices through a gobot I2C connector, one connection per
// device address.
type GobotBus struct {
	mu      sync.Mutex
	adaptor i2c.Connector
	bus     int
	conns   map[byte]i2c.Connection
}

func NewGobotBus(adaptor i2c.Connector, bus int) *GobotBus {
	return &GobotBus{
		adaptor: adaptor,
		bus:     bus,
		conns:   make(map[byte]i2c.Connection),
	}
}

// NewNanoPiBus connects the NanoPi NEO I2C adaptor. The returned function
// finalizes it.
func NewNanoPiBus(bus int) (*GobotBus, func() error, error) {
	npi := nanopi.NewNeoAdaptor()
	if err := npi.I2cBusAdaptor.Connect(); err != nil {
		return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	return NewGobotBus(npi, bus), npi.I2cBusAdaptor.Finalize, nil
}

func (b *GobotBus) conn(address byte) (i2c.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.conns[address]; ok {
		return c, nil
	}
	c, err := b.adaptor.GetI2cConnection(int(address), b.bus)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %#02x: %w", address, err)
	}
	b.conns[address] = c
	return c, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	c, err := b.conn(address)
	if err != nil {
		return err
	}
	if _, err := io.ReadFull(c, buffer); err != nil {
		return fmt.Errorf("could not read from %#02x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	c, err := b.conn(address)
	if err != nil {
		return err
	}
	if _, err := c.Write(buffer); err != nil {
		return fmt.Errorf("could not write to %#02x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

func (b *GobotBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var first error
	for addr, c := range b.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(b.conns, addr)
	}
	return first
}
