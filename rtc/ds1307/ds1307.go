// Package ds1307 is a driver for the Maxim DS1307 serial real-time clock on the
// queued bus controller. Register writes are queued frames; reads are queued
// requests completed from the driver's Tick.
package ds1307

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/twi/queue"
)

const (
	Address = 0x68

	RegSeconds = 0x00
	RegMinutes = 0x01
	RegHours   = 0x02
	RegDay     = 0x03
	RegDate    = 0x04
	RegMonth   = 0x05
	RegYear    = 0x06
	RegControl = 0x07
	RAMStart   = 0x08
	RAMSize    = 56

	timeRegisters = 7

	clockHalt = 0x80
	mode12h   = 0x40
	pm        = 0x20
)

// SquareWave is the control register setting of the SQW/OUT pin.
type SquareWave byte

const (
	SquareWaveOff     SquareWave = 0x00
	SquareWaveOffHigh SquareWave = 0x80
	SquareWave1Hz     SquareWave = 0x10
	SquareWave4kHz    SquareWave = 0x11
	SquareWave8kHz    SquareWave = 0x12
	SquareWave32kHz   SquareWave = 0x13
)

var ErrInvalidTime = errors.New("invalid time registers")

type Bus interface {
	queue.Bus
	SendBytes(dev byte, payload []byte) bool
}

type Config struct {
	QueueCapacity int
	Timeout       int
	Retries       int
	Logger        *slog.Logger
}

type ConfigOption func(*Config)

func WithQueueCapacity(n int) ConfigOption {
	return func(c *Config) {
		c.QueueCapacity = n
	}
}

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

type DS1307 struct {
	bus   Bus
	reads *queue.Queue
	log   *slog.Logger
}

func New(bus Bus, opts ...ConfigOption) (*DS1307, error) {
	config := &Config{QueueCapacity: queue.DefaultCapacity}
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	reads, err := queue.New(bus, queue.Config{
		Name:          "ds1307",
		Device:        Address,
		RegisterWidth: 1,
		Capacity:      config.QueueCapacity,
		Timeout:       config.Timeout,
		Retries:       config.Retries,
		Logger:        config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create read queue: %w", err)
	}
	return &DS1307{bus: bus, reads: reads, log: config.Logger}, nil
}

// Tick advances queued reads.
func (d *DS1307) Tick() {
	d.reads.Tick()
}

func (d *DS1307) Pending() int { return d.reads.Pending() }

func (d *DS1307) Stats() queue.Stats { return d.reads.Stats() }

// WriteRegisters queues a write of data starting at register reg.
func (d *DS1307) WriteRegisters(reg byte, data []byte) bool {
	if int(reg)+len(data) > RAMStart+RAMSize {
		return false
	}
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, reg)
	return d.bus.SendBytes(Address, append(buf, data...))
}

func (d *DS1307) WriteRegister(reg, v byte) bool {
	return d.WriteRegisters(reg, []byte{v})
}

// ReadRegisters queues a read of len(dst) registers starting at reg.
func (d *DS1307) ReadRegisters(reg byte, dst []byte, done func(error)) bool {
	if int(reg)+len(dst) > RAMStart+RAMSize {
		return false
	}
	return d.reads.Enqueue(queue.Request{Register: uint16(reg), Length: len(dst), Dst: dst, Done: done})
}

// SetTime queues a write of all time registers. Writing the seconds register
// clears the clock halt bit, so the oscillator runs afterwards.
func (d *DS1307) SetTime(t time.Time) bool {
	regs, err := Encode(t)
	if err != nil {
		d.log.Warn("time not set", "error", err)
		return false
	}
	return d.WriteRegisters(RegSeconds, regs[:])
}

// Halt stops the oscillator. The seconds register is reset.
func (d *DS1307) Halt() bool {
	return d.WriteRegister(RegSeconds, clockHalt)
}

func (d *DS1307) SetSquareWave(sw SquareWave) bool {
	return d.WriteRegister(RegControl, byte(sw))
}

// ReadTime queues a read of the time registers. halted reports the clock halt
// bit; the time is still decoded when it is set.
func (d *DS1307) ReadTime(done func(t time.Time, halted bool, err error)) bool {
	var regs [timeRegisters]byte
	return d.ReadRegisters(RegSeconds, regs[:], func(err error) {
		if err != nil {
			done(time.Time{}, false, err)
			return
		}
		t, err := Decode(regs)
		done(t, regs[0]&clockHalt != 0, err)
	})
}

// Init sets the clock to t when it is halted, which is the power-on state of
// a device without a backup cell, or unconditionally with force. done receives
// whether the time was written.
func (d *DS1307) Init(t time.Time, force bool, done func(set bool, err error)) bool {
	if force {
		ok := d.SetTime(t)
		if done != nil {
			done(ok, nil)
		}
		return ok
	}
	seconds := make([]byte, 1)
	return d.ReadRegisters(RegSeconds, seconds, func(err error) {
		set := false
		if err == nil && seconds[0]&clockHalt != 0 {
			set = d.SetTime(t)
		}
		if done != nil {
			done(set, err)
		}
	})
}

// Encode converts t to the seven time registers in 24 hour mode.
func Encode(t time.Time) ([timeRegisters]byte, error) {
	var regs [timeRegisters]byte
	if t.Year() < 2000 || t.Year() > 2099 {
		return regs, fmt.Errorf("%w: year %d out of range", ErrInvalidTime, t.Year())
	}
	regs[0] = ToBCD(t.Second())
	regs[1] = ToBCD(t.Minute())
	regs[2] = ToBCD(t.Hour())
	regs[3] = byte(t.Weekday()) + 1
	regs[4] = ToBCD(t.Day())
	regs[5] = ToBCD(int(t.Month()))
	regs[6] = ToBCD(t.Year() - 2000)
	return regs, nil
}

// Decode converts the time registers to a UTC time. Both hour modes are
// accepted. The clock halt bit is ignored.
func Decode(regs [timeRegisters]byte) (time.Time, error) {
	sec := FromBCD(regs[0] &^ clockHalt)
	minute := FromBCD(regs[1])
	var hour int
	if regs[2]&mode12h != 0 {
		hour = FromBCD(regs[2]&0x1F) % 12
		if regs[2]&pm != 0 {
			hour += 12
		}
	} else {
		hour = FromBCD(regs[2] & 0x3F)
	}
	day := FromBCD(regs[4])
	month := FromBCD(regs[5])
	year := 2000 + FromBCD(regs[6])
	switch {
	case sec > 59 || minute > 59 || hour > 23:
		return time.Time{}, fmt.Errorf("%w: %02d:%02d:%02d", ErrInvalidTime, hour, minute, sec)
	case month < 1 || month > 12 || day < 1 || day > 31:
		return time.Time{}, fmt.Errorf("%w: date %d-%d", ErrInvalidTime, month, day)
	}
	return time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.UTC), nil
}

func ToBCD(v int) byte {
	return byte(v/10<<4 | v%10)
}

func FromBCD(b byte) int {
	return int(b>>4)*10 + int(b&0x0F)
}
