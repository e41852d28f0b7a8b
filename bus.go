package twi

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// BusReader, BusWriter and friends describe blocking transports. The queued
// controller is wrapped into these by the i2c package; hardware backends
// (periph, gobot, MCP2221) implement them natively.
type BusReader interface {
	Read(ctx context.Context, buffer []byte) error
}

type BusWriter interface {
	Write(ctx context.Context, buffer []byte) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}

type I2CDevice interface {
	BusReader
	BusWriter
}

var _ I2CDevice = &Device{}

// Device is one address on a blocking bus.
type Device struct {
	bus     I2CBus
	address byte
}

func NewDevice(bus I2CBus, address byte) *Device {
	return &Device{bus: bus, address: address}
}

func (d *Device) Address() byte { return d.address }

func (d *Device) Read(ctx context.Context, buffer []byte) error {
	return d.bus.ReadFromAddr(ctx, d.address, buffer)
}

// Write sends buffer and releases the bus whether or not the write went
// through.
func (d *Device) Write(ctx context.Context, buffer []byte) error {
	err := d.bus.WriteToAddr(ctx, d.address, buffer)
	if rerr := d.bus.Release(ctx); rerr != nil && err == nil {
		err = fmt.Errorf("release after write to %#02x: %w", d.address, rerr)
	}
	return err
}
