// Package eeprom provides a driver for the Microchip/Atmel 24C32 32-Kbit I2C EEPROM
// running on the queued bus controller. Writes are queued as bus frames and return
// immediately; reads are queued requests completed by the driver's Tick.
//
// Datasheet reference: 24C32 Serial EEPROM (4096 x 8, 32-byte page write, 16-bit word address).
//
// Example usage:
//
//	e, _ := eeprom.New(ctrl)
//	loop.Add(e) // Tick from the main loop
//	e.WriteArray(0x0100, []byte("twi"))
//	e.ReadArray(0x0100, buf, func(err error) { ... })
package eeprom

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/mklimuk/twi/queue"
)

// --- device constants ---
const (
	Address  = 0x50 // A2, A1, A0 tied low
	PageSize = 32   // bytes per page write
	Capacity = 4096 // 32 Kbit

	addressWidth = 2
)

// Bus is the controller surface the driver writes and reads through.
type Bus interface {
	queue.Bus
	SendBytes(dev byte, payload []byte) bool
	SendBatch(dev byte, payloads ...[]byte) bool
}

type Config struct {
	Address       byte
	QueueCapacity int
	Timeout       int
	Retries       int
	Logger        *slog.Logger
}

type ConfigOption func(*Config)

// WithAddress sets the device address when the address pins are not tied low.
func WithAddress(address byte) ConfigOption {
	return func(c *Config) {
		c.Address = address
	}
}

func WithQueueCapacity(n int) ConfigOption {
	return func(c *Config) {
		c.QueueCapacity = n
	}
}

// WithTimeout sets how many ticks a read may stay on the bus and how many
// times it is reissued before it fails.
func WithTimeout(ticks, retries int) ConfigOption {
	return func(c *Config) {
		c.Timeout = ticks
		c.Retries = retries
	}
}

func WithLogger(l *slog.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}

type EEPROM24C32 struct {
	bus     Bus
	reads   *queue.Queue
	address byte
	log     *slog.Logger
}

func New(bus Bus, opts ...ConfigOption) (*EEPROM24C32, error) {
	config := &Config{
		Address:       Address,
		QueueCapacity: queue.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	reads, err := queue.New(bus, queue.Config{
		Name:          "24c32",
		Device:        config.Address,
		RegisterWidth: addressWidth,
		Capacity:      config.QueueCapacity,
		Timeout:       config.Timeout,
		Retries:       config.Retries,
		Logger:        config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create read queue: %w", err)
	}
	return &EEPROM24C32{
		bus:     bus,
		reads:   reads,
		address: config.Address,
		log:     config.Logger,
	}, nil
}

// Tick advances queued reads. It must be called from the main loop.
func (e *EEPROM24C32) Tick() {
	e.reads.Tick()
}

// Pending returns the number of reads not yet completed.
func (e *EEPROM24C32) Pending() int { return e.reads.Pending() }

func (e *EEPROM24C32) Stats() queue.Stats { return e.reads.Stats() }

// WriteUint8 queues a single byte write.
func (e *EEPROM24C32) WriteUint8(address uint16, v byte) bool {
	if !inRange(address, 1) {
		return false
	}
	return e.bus.SendBytes(e.address, []byte{byte(address >> 8), byte(address), v})
}

// WriteUint16 queues a two byte write, low byte first.
func (e *EEPROM24C32) WriteUint16(address uint16, v uint16) bool {
	if !inRange(address, 2) {
		return false
	}
	buf := []byte{byte(address >> 8), byte(address), 0, 0}
	binary.LittleEndian.PutUint16(buf[2:], v)
	return e.bus.SendBytes(e.address, buf)
}

// WriteArray queues data starting at address. Data crossing a page boundary is
// split into one frame per page, since the device wraps page writes in place.
// Either every frame is queued or none.
func (e *EEPROM24C32) WriteArray(address uint16, data []byte) bool {
	if len(data) == 0 || !inRange(address, len(data)) {
		return false
	}
	var frames [][]byte
	offset := 0
	for offset < len(data) {
		pageOffset := int(address) % PageSize
		space := PageSize - pageOffset
		chunk := data[offset:]
		if len(chunk) > space {
			chunk = chunk[:space]
		}
		frame := make([]byte, 0, addressWidth+len(chunk))
		frame = append(frame, byte(address>>8), byte(address))
		frames = append(frames, append(frame, chunk...))
		offset += len(chunk)
		address += uint16(len(chunk))
	}
	return e.bus.SendBatch(e.address, frames...)
}

// ReadArray queues a read of len(dst) bytes. done, if not nil, is called from
// Tick once dst holds the data or the read failed.
func (e *EEPROM24C32) ReadArray(address uint16, dst []byte, done func(error)) bool {
	if !inRange(address, len(dst)) {
		return false
	}
	return e.reads.Enqueue(queue.Request{Register: address, Length: len(dst), Dst: dst, Done: done})
}

func (e *EEPROM24C32) ReadUint8(address uint16, done func(byte, error)) bool {
	buf := make([]byte, 1)
	return e.ReadArray(address, buf, func(err error) {
		done(buf[0], err)
	})
}

// ReadUint16 reads a value stored by WriteUint16.
func (e *EEPROM24C32) ReadUint16(address uint16, done func(uint16, error)) bool {
	buf := make([]byte, 2)
	return e.ReadArray(address, buf, func(err error) {
		done(binary.LittleEndian.Uint16(buf), err)
	})
}

func inRange(address uint16, length int) bool {
	return int(address)+length <= Capacity
}
