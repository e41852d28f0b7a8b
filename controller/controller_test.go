package controller

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/twi"
	"github.com/mklimuk/twi/irq"
	"github.com/mklimuk/twi/sim"
)

type rig struct {
	ctrl *Controller
	bus  *sim.Bus
}

func newRig(t *testing.T, opts []ConfigOption, targets ...sim.Target) *rig {
	t.Helper()
	line := &irq.Line{}
	bus := sim.NewBus(line, targets...)
	ctrl, err := New(bus, line, opts...)
	require.NoError(t, err)
	bus.Attach(ctrl.HandleEvent)
	_, err = ctrl.Init(StandardMode)
	require.NoError(t, err)
	return &rig{ctrl: ctrl, bus: bus}
}

// run alternates main loop ticks with interrupt delivery until the bus goes
// quiet.
func (r *rig) run() {
	for i := 0; i < 100; i++ {
		r.ctrl.Tick()
		if r.bus.Settle(1000) == 0 && !r.ctrl.Busy() {
			return
		}
	}
}

func wire(records []sim.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.String()
	}
	return out
}

func TestDivisor(t *testing.T) {
	var tests = []struct {
		name      string
		clock     uint32
		frequency uint32
		divisor   uint8
		actual    uint32
		err       error
	}{
		{"8MHz standard", 8_000_000, StandardMode, 24, StandardMode, nil},
		{"16MHz standard", 16_000_000, StandardMode, 64, StandardMode, nil},
		{"16MHz fast", 16_000_000, FastMode, 4, FastMode, nil},
		{"8MHz fast underflows", 8_000_000, FastMode, 0, FastMode, twi.ErrBitRate},
		{"unsupported falls back", 8_000_000, 123_000, 24, StandardMode, nil},
		{"overflow", 80_000_000, StandardMode, 0, StandardMode, twi.ErrBitRate},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			div, actual, err := Divisor(test.clock, test.frequency)
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.divisor, div)
			assert.Equal(t, test.actual, actual)
		})
	}
}

func TestController_Init(t *testing.T) {
	r := newRig(t, []ConfigOption{WithBaseClock(16_000_000)})
	div, err := r.ctrl.Init(FastMode)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), div)
	assert.Equal(t, uint8(4), r.bus.Divisor())
	assert.Equal(t, FastMode, r.ctrl.Frequency())

	slow, err := New(r.bus, nil)
	require.NoError(t, err)
	_, err = slow.Init(FastMode)
	assert.True(t, errors.Is(err, twi.ErrBitRate))
}

func TestNew_Validation(t *testing.T) {
	bus := sim.NewBus(nil)
	var tests = []struct {
		name string
		p    Peripheral
		opts []ConfigOption
	}{
		{"no peripheral", nil, nil},
		{"write buffer too small", bus, []ConfigOption{WithWriteCapacity(2)}},
		{"no read buffer", bus, []ConfigOption{WithReadCapacity(0)}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := New(test.p, nil, test.opts...)
			assert.Error(t, err)
		})
	}
	_, err := New(bus, nil, WithWriteCapacity(3), WithReadCapacity(1))
	assert.NoError(t, err)
}

func TestController_WriteThenRegisterRead(t *testing.T) {
	mem := sim.NewMemory(0x50, 4096, 2)
	r := newRig(t, nil, mem)

	require.True(t, r.ctrl.SendBytes(0x50, []byte{0x00, 0x10, 0xAB}))
	r.run()
	assert.Equal(t, []byte{0xAB}, mem.Dump(0x0010, 1))
	assert.Equal(t, 0, r.ctrl.Flags().WriteOccupancy)
	assert.Equal(t, StateIdle, r.ctrl.State())

	r.bus.ClearRecords()
	require.True(t, r.ctrl.RequestRegisterRead(0x50, []byte{0x00, 0x10}, 1))
	assert.True(t, r.ctrl.ReadBusy())
	r.run()

	assert.Equal(t, []string{
		"START",
		"W 0xa0 ACK",
		"W 0x00 ACK",
		"W 0x10 ACK",
		"SR",
		"W 0xa1 ACK",
		"R 0xab NACK",
		"STOP",
	}, wire(r.bus.Records()))

	assert.True(t, r.ctrl.Flags().ReadDataReady)
	dst := make([]byte, 1)
	assert.Equal(t, 1, r.ctrl.DrainReceived(dst, 1))
	assert.Equal(t, []byte{0xAB}, dst)
	assert.False(t, r.ctrl.ReadBusy())
	r.ctrl.Tick()
	assert.False(t, r.ctrl.Flags().ReadDataReady)
	assert.Equal(t, twi.ErrorNone, r.ctrl.Error())

	stats := r.ctrl.Stats()
	assert.Equal(t, uint64(3), stats.FramesSent)
	assert.Equal(t, uint64(5), stats.BytesSent)
	assert.Equal(t, uint64(1), stats.BytesReceived)
}

func TestController_RepeatedStartFrame(t *testing.T) {
	a := sim.NewMemory(0x50, 16, 1)
	b := sim.NewMemory(0x51, 16, 1)
	r := newRig(t, nil, a, b)

	require.True(t, r.ctrl.SendBytesRepeatedStart(0x50, []byte{0x01, 0x11}))
	require.True(t, r.ctrl.SendBytes(0x51, []byte{0x02, 0x22}))
	r.run()

	assert.Equal(t, []string{
		"START",
		"W 0xa0 ACK", "W 0x01 ACK", "W 0x11 ACK",
		"SR",
		"W 0xa2 ACK", "W 0x02 ACK", "W 0x22 ACK",
		"STOP",
	}, wire(r.bus.Records()))
	assert.Equal(t, byte(0x11), a.Dump(1, 1)[0])
	assert.Equal(t, byte(0x22), b.Dump(2, 1)[0])
}

func TestController_AddressWriteNack(t *testing.T) {
	mem := sim.NewMemory(0x50, 16, 1)
	r := newRig(t, nil, mem)

	require.True(t, r.ctrl.SendBytes(0x51, []byte{1, 2, 3}))
	require.True(t, r.ctrl.SendBytes(0x50, []byte{0x04, 0x44}))
	r.run()

	assert.Equal(t, twi.ErrorAddressWriteNack, r.ctrl.Error())
	assert.Equal(t, 0, r.ctrl.Flags().WriteOccupancy)
	// the frame after the failed one is intact
	assert.Equal(t, byte(0x44), mem.Dump(4, 1)[0])
	assert.Equal(t, uint64(1), r.ctrl.Stats().FramesAborted)

	r.ctrl.ClearError()
	assert.Equal(t, twi.ErrorNone, r.ctrl.Error())
}

func TestController_NackDiscardsExactlyTheFrameRemainder(t *testing.T) {
	r := newRig(t, []ConfigOption{WithWriteCapacity(16)})
	require.True(t, r.ctrl.SendBytes(0x51, []byte{1, 2, 3}))
	require.True(t, r.ctrl.SendBytes(0x51, []byte{4}))

	r.ctrl.Tick()
	require.True(t, r.bus.Step()) // start: header popped, address sent
	tail := r.ctrl.wr.Tail()
	require.Equal(t, 3+3, r.ctrl.wr.Len())

	require.True(t, r.bus.Step()) // address nack
	assert.Equal(t, (tail+3)%16, r.ctrl.wr.Tail())
	assert.Equal(t, 3, r.ctrl.wr.Len())
	assert.Equal(t, twi.ErrorAddressWriteNack, r.ctrl.Error())
	assert.Equal(t, StateIdle, r.ctrl.State())
}

func TestController_DataWriteNack(t *testing.T) {
	mem := sim.NewMemory(0x50, 64, 2)
	mem.NackDataAfter(1)
	r := newRig(t, nil, mem)

	require.True(t, r.ctrl.SendBytes(0x50, []byte{0x00, 0x00, 1, 2, 3, 4}))
	r.run()

	assert.Equal(t, twi.ErrorDataWriteNack, r.ctrl.Error())
	assert.Equal(t, 0, r.ctrl.Flags().WriteOccupancy)
	assert.Equal(t, []byte{1, 0, 0}, mem.Dump(0, 3))
	assert.Equal(t, "STOP", wire(r.bus.Records())[len(r.bus.Records())-1])
}

func TestController_AddressReadNack(t *testing.T) {
	r := newRig(t, nil)

	require.True(t, r.ctrl.RequestRead(0x68, 2))
	r.run()

	flags := r.ctrl.Flags()
	assert.Equal(t, twi.ErrorAddressReadNack, flags.Error)
	assert.True(t, flags.ReadBusy)
	assert.True(t, flags.ReadFailed)
	assert.False(t, r.ctrl.RequestRead(0x68, 2), "read path stays held until aborted")

	r.ctrl.AbortRead()
	assert.False(t, r.ctrl.ReadBusy())
	assert.False(t, r.ctrl.ReadFailed())
	assert.True(t, r.ctrl.RequestRead(0x68, 2))
}

func TestController_BackToBackRepeatedStarts(t *testing.T) {
	mem := sim.NewMemory(0x50, 16, 1)
	r := newRig(t, nil, mem)

	require.True(t, r.ctrl.SendBytesRepeatedStart(0x50, []byte{1}))
	require.True(t, r.ctrl.SendBytesRepeatedStart(0x50, []byte{2}))
	require.True(t, r.ctrl.SendBytes(0x50, []byte{3}))
	r.run()

	assert.Equal(t, []string{
		"START", "W 0xa0 ACK", "W 0x01 ACK",
		"SR", "W 0xa0 ACK", "W 0x02 ACK",
		"SR", "W 0xa0 ACK", "W 0x03 ACK",
		"STOP",
	}, wire(r.bus.Records()))
}

func TestController_RepeatedStartThenRegisterRead(t *testing.T) {
	mem := sim.NewMemory(0x50, 16, 1, sim.WithContents([]byte{0, 0, 0x42}))
	r := newRig(t, nil, mem)

	require.True(t, r.ctrl.SendBytesRepeatedStart(0x50, []byte{7}))
	require.True(t, r.ctrl.RequestRegisterRead(0x50, []byte{2}, 1))
	r.run()

	assert.Equal(t, []string{
		"START", "W 0xa0 ACK", "W 0x07 ACK",
		"SR", "W 0xa0 ACK", "W 0x02 ACK",
		"SR", "W 0xa1 ACK", "R 0x42 NACK",
		"STOP",
	}, wire(r.bus.Records()))
	dst := make([]byte, 1)
	assert.Equal(t, 1, r.ctrl.DrainReceived(dst, 1))
	assert.Equal(t, byte(0x42), dst[0])
}

func TestController_AbandonedReadIsNotDelivered(t *testing.T) {
	eeprom := sim.NewMemory(0x50, 16, 2, sim.WithContents([]byte{0xAA}))
	clock := sim.NewMemory(0x68, 8, 1, sim.WithContents([]byte{0x11}))
	r := newRig(t, nil, eeprom, clock)

	// queued but abandoned before any of its frames reached the wire
	require.True(t, r.ctrl.RequestRegisterRead(0x50, []byte{0, 0}, 1))
	r.ctrl.AbortRead()
	require.True(t, r.ctrl.RequestRegisterRead(0x68, []byte{0}, 1))
	r.run()

	dst := make([]byte, 1)
	require.Equal(t, 1, r.ctrl.DrainReceived(dst, 1))
	assert.Equal(t, byte(0x11), dst[0])
	assert.Equal(t, uint64(1), r.ctrl.Stats().Stale)
	assert.Equal(t, twi.ErrorNone, r.ctrl.Error())
	assert.NotContains(t, wire(r.bus.Records()), "R 0xaa NACK")
	assert.Equal(t, 0, r.ctrl.Flags().WriteOccupancy)
}

func TestController_AbandonedReadOnTheWire(t *testing.T) {
	eeprom := sim.NewMemory(0x50, 16, 1, sim.WithContents([]byte{1, 2, 3, 4}))
	clock := sim.NewMemory(0x68, 8, 1, sim.WithContents([]byte{0x11, 0x22}))
	r := newRig(t, nil, eeprom, clock)

	require.True(t, r.ctrl.RequestRead(0x50, 4))
	r.ctrl.Tick()
	// start, address, first data byte
	require.Equal(t, 3, r.bus.Settle(3))
	r.ctrl.AbortRead()
	require.True(t, r.ctrl.RequestRead(0x68, 2))
	r.run()

	dst := make([]byte, 2)
	require.Equal(t, 2, r.ctrl.DrainReceived(dst, 2))
	assert.Equal(t, []byte{0x11, 0x22}, dst)
}

func TestController_PointerWriteNackFailsRead(t *testing.T) {
	r := newRig(t, nil)

	require.True(t, r.ctrl.RequestRegisterRead(0x51, []byte{0}, 1))
	r.run()

	assert.True(t, r.ctrl.ReadFailed())
	assert.True(t, r.ctrl.ReadBusy())
	assert.Equal(t, twi.ErrorAddressWriteNack, r.ctrl.Error())
	// the SLA+R frame queued behind the pointer went out unclaimed
	assert.Equal(t, uint64(1), r.ctrl.Stats().Stale)
	assert.Equal(t, 0, r.ctrl.Flags().WriteOccupancy)

	r.ctrl.AbortRead()
	assert.False(t, r.ctrl.ReadFailed())
}

func TestController_DrainIsAllOrNothing(t *testing.T) {
	mem := sim.NewMemory(0x50, 16, 1, sim.WithContents([]byte{9, 8, 7, 6}))
	r := newRig(t, nil, mem)

	require.True(t, r.ctrl.RequestRead(0x50, 4))
	r.ctrl.Tick()
	// start, address, first two bytes
	require.Equal(t, 4, r.bus.Settle(4))

	dst := make([]byte, 4)
	assert.Equal(t, 0, r.ctrl.DrainReceived(dst, 4))
	assert.True(t, r.ctrl.ReadBusy())
	r.ctrl.Tick()
	assert.True(t, r.ctrl.Flags().ReadDataReady)

	r.run()
	assert.Equal(t, 4, r.ctrl.DrainReceived(dst, 4))
	assert.Equal(t, []byte{9, 8, 7, 6}, dst)
	assert.False(t, r.ctrl.ReadBusy())
}

func TestController_RequestReadRefusals(t *testing.T) {
	r := newRig(t, []ConfigOption{WithReadCapacity(8)})

	assert.False(t, r.ctrl.RequestRead(0x50, 0))
	assert.False(t, r.ctrl.RequestRead(0x50, 9))
	assert.True(t, r.ctrl.RequestRead(0x50, 8))
	assert.False(t, r.ctrl.RequestRead(0x50, 1), "one read at a time")
	assert.False(t, r.ctrl.RequestRegisterRead(0x50, []byte{0}, 1))
}

func TestController_WriteBufferFull(t *testing.T) {
	r := newRig(t, []ConfigOption{WithWriteCapacity(10)})

	assert.True(t, r.ctrl.SendBytes(0x50, make([]byte, 8)))
	assert.Equal(t, 0, r.ctrl.WriteFree())
	assert.False(t, r.ctrl.SendBytes(0x50, nil))
	assert.Equal(t, 10, r.ctrl.Flags().WriteOccupancy)
}

func TestController_RegisterReadRollsBackWhenFull(t *testing.T) {
	r := newRig(t, []ConfigOption{WithWriteCapacity(6)})

	// the pointer write and the read frame need 6 bytes, 3 are free
	require.True(t, r.ctrl.SendBytes(0x50, []byte{1}))
	assert.False(t, r.ctrl.RequestRegisterRead(0x50, []byte{0, 0}, 1))
	assert.False(t, r.ctrl.ReadBusy())
	assert.Equal(t, 3, r.ctrl.Flags().WriteOccupancy)
}

func TestController_UnexpectedEvent(t *testing.T) {
	r := newRig(t, nil)

	r.ctrl.HandleEvent(twi.StatusDataWriteAck)
	r.ctrl.HandleEvent(twi.StatusAddrReadAck)
	r.ctrl.HandleEvent(twi.Status(0xF8))

	assert.Equal(t, uint64(3), r.ctrl.Stats().Unexpected)
	assert.Equal(t, StateIdle, r.ctrl.State())
	assert.Equal(t, []string{"STOP", "STOP", "STOP"}, wire(r.bus.Records()))
}

func TestController_StartWithEmptyBufferReleasesBus(t *testing.T) {
	r := newRig(t, nil)

	r.ctrl.setState(StateStart)
	r.ctrl.HandleEvent(twi.StatusStart)

	assert.Equal(t, StateIdle, r.ctrl.State())
	assert.Equal(t, []string{"STOP"}, wire(r.bus.Records()))
}

func TestState_Accepts(t *testing.T) {
	var tests = []struct {
		state   State
		ev      twi.Status
		reading bool
		expect  bool
	}{
		{StateStart, twi.StatusStart, false, true},
		{StateIdle, twi.StatusStart, false, false},
		{StateAddress, twi.StatusAddrWriteAck, false, true},
		{StateAddress, twi.StatusAddrWriteAck, true, false},
		{StateAddress, twi.StatusAddrReadNack, true, true},
		{StateTransmit, twi.StatusDataWriteNack, false, true},
		{StateReceive, twi.StatusDataReadNack, true, true},
		{StateReceive, twi.StatusDataWriteAck, true, false},
	}
	for _, test := range tests {
		t.Run(test.state.String()+"/"+test.ev.String(), func(t *testing.T) {
			assert.Equal(t, test.expect, test.state.accepts(test.ev, test.reading))
		})
	}
}

func TestController_FrameResult(t *testing.T) {
	mem := sim.NewMemory(0x50, 16, 1)
	r := newRig(t, nil, mem)

	bad, ok := r.ctrl.Send(0x51, []byte{1})
	require.True(t, ok)
	good, ok := r.ctrl.Send(0x50, []byte{0, 1})
	require.True(t, ok)
	assert.Greater(t, good, bad)

	done, _ := r.ctrl.FrameResult(bad)
	assert.False(t, done)

	r.run()
	done, flag := r.ctrl.FrameResult(bad)
	assert.True(t, done)
	assert.Equal(t, twi.ErrorAddressWriteNack, flag)
	done, flag = r.ctrl.FrameResult(good)
	assert.True(t, done)
	assert.Equal(t, twi.ErrorNone, flag)
}

func TestController_SendBatch(t *testing.T) {
	r := newRig(t, []ConfigOption{WithWriteCapacity(10)})

	assert.False(t, r.ctrl.SendBatch(0x50))
	assert.False(t, r.ctrl.SendBatch(0x50, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8}))
	assert.Equal(t, 0, r.ctrl.Flags().WriteOccupancy)
	assert.True(t, r.ctrl.SendBatch(0x50, []byte{1, 2}, []byte{3, 4}))
	assert.Equal(t, 8, r.ctrl.Flags().WriteOccupancy)
}
