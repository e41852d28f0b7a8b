// Package adapter drives the Microchip MCP2221 USB to I2C bridge so a real
// device can sit behind the simulated bus or be scanned from the CLI.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/twi"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

const (
	cmdStatus    = 0x10
	cmdWrite     = 0x90
	cmdRead      = 0x91
	cmdReadData  = 0x40
	cancelTx     = 0x10
	statusBusy   = 0x01
	readDataFail = 0x41
	maxReadSize  = 60
)

var _ twi.I2CBus = &MCP2221{}

var ErrCommandFailed = errors.New("command failed")
var ErrNotFound = errors.New("MCP2221 device not found")

// Device is an open HID handle.
type Device io.ReadWriteCloser

// Opener returns a handle to the adapter. id selects among several adapters.
type Opener func(id int) (Device, error)

type MCP2221 struct {
	mx           sync.Mutex
	request      []byte
	response     []byte
	responseWait time.Duration
	open         Opener
	id           int
	log          *slog.Logger
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"address"`
	LastWriteRequestedSize uint16 `yaml:"requested"`
	LastWriteSentSize      uint16 `yaml:"sent"`
	ReadPending            int    `yaml:"read_pending"`
}

type Option func(*MCP2221)

// WithDeviceID picks the adapter by enumeration index when several are
// plugged in.
func WithDeviceID(id int) Option {
	return func(m *MCP2221) {
		m.id = id
	}
}

func WithOpener(open Opener) Option {
	return func(m *MCP2221) {
		m.open = open
	}
}

func WithResponseWait(d time.Duration) Option {
	return func(m *MCP2221) {
		m.responseWait = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *MCP2221) {
		m.log = l
	}
}

func NewMCP2221(opts ...Option) *MCP2221 {
	m := &MCP2221{
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 50 * time.Millisecond,
		open:         openHID,
		id:           -1,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func openHID(id int) (Device, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, ErrNotFound
	}
	if id < 0 {
		if len(devs) > 1 {
			return nil, fmt.Errorf("ambiguous device identification: %d adapters found", len(devs))
		}
		id = 0
	}
	if id >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", id)
	}
	dev, err := devs[id].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

func (d *MCP2221) String() string { return "mcp2221" }

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if len(buffer) > reportSize-4 {
		return fmt.Errorf("write to %#02x: %d bytes exceed a single report", address, len(buffer))
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdWrite
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("write to %#02x failed: %w", address, err)
	}
	if d.response[1] == statusBusy {
		d.log.Debug("adapter busy", "address", fmt.Sprintf("%#02x", address))
		return twi.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if len(buffer) > maxReadSize {
		return fmt.Errorf("read from %#02x: %d bytes exceed a single report", address, len(buffer))
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdRead
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 | 1
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("bus read from %#02x failed: %w", address, err)
	}
	if d.response[1] == statusBusy {
		return twi.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdReadData
	err = d.send(ctx)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == readDataFail {
		return fmt.Errorf("read from %#02x: %w", address, ErrCommandFailed)
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels any transfer the adapter engine is stuck in.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = cancelTx
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// send writes the request report and reads the response into d.response.
func (d *MCP2221) send(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dev, err := d.open(d.id)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			d.log.Warn("could not close adapter", "error", err)
		}
	}()
	debug := d.log.Enabled(ctx, slog.LevelDebug)
	if debug {
		d.log.Debug("sending message to adapter", "report", "\n"+hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.responseWait):
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to %#02x echoes %#02x: %w", d.request[0], d.response[0], ErrCommandFailed)
	}
	if debug {
		d.log.Debug("read message from adapter", "report", "\n"+hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
