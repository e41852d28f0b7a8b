package ds1307

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/twi/controller"
	"github.com/mklimuk/twi/irq"
	"github.com/mklimuk/twi/poller"
	"github.com/mklimuk/twi/sim"
)

func newClock(t *testing.T) (*DS1307, *sim.Memory, *poller.Poller) {
	t.Helper()
	line := &irq.Line{}
	regs := sim.NewMemory(Address, RAMStart+RAMSize, 1)
	bus := sim.NewBus(line, regs)
	ctrl, err := controller.New(bus, line)
	require.NoError(t, err)
	bus.Attach(ctrl.HandleEvent)
	_, err = ctrl.Init(controller.StandardMode)
	require.NoError(t, err)
	d, err := New(ctrl)
	require.NoError(t, err)
	p, err := poller.New(poller.Config{}, ctrl, d, bus)
	require.NoError(t, err)
	return d, regs, p
}

func TestBCD(t *testing.T) {
	tests := []struct {
		value int
		bcd   byte
	}{
		{0, 0x00},
		{9, 0x09},
		{10, 0x10},
		{59, 0x59},
		{99, 0x99},
	}
	for _, test := range tests {
		t.Run(hex.EncodeToString([]byte{test.bcd}), func(t *testing.T) {
			assert.Equal(t, test.bcd, ToBCD(test.value))
			assert.Equal(t, test.value, FromBCD(test.bcd))
		})
	}
}

func TestEncode(t *testing.T) {
	regs, err := Encode(time.Date(2024, time.February, 29, 23, 59, 58, 0, time.UTC))
	require.NoError(t, err)
	// Thursday is day 5 counting from Sunday = 1
	assert.Equal(t, [7]byte{0x58, 0x59, 0x23, 0x05, 0x29, 0x02, 0x24}, regs)

	_, err = Encode(time.Date(1999, time.January, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		regs     [7]byte
		expected time.Time
		err      bool
	}{
		{"24h", [7]byte{0x05, 0x30, 0x17, 0x02, 0x15, 0x07, 0x25}, time.Date(2025, time.July, 15, 17, 30, 5, 0, time.UTC), false},
		{"12h pm", [7]byte{0x00, 0x00, 0x40 | 0x20 | 0x05, 0x01, 0x01, 0x01, 0x00}, time.Date(2000, time.January, 1, 17, 0, 0, 0, time.UTC), false},
		{"12h midnight", [7]byte{0x00, 0x00, 0x40 | 0x12, 0x01, 0x01, 0x01, 0x00}, time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC), false},
		{"halted", [7]byte{0x80 | 0x10, 0x00, 0x00, 0x01, 0x01, 0x01, 0x00}, time.Date(2000, time.January, 1, 0, 0, 10, 0, time.UTC), false},
		{"bad month", [7]byte{0x00, 0x00, 0x00, 0x01, 0x01, 0x13, 0x00}, time.Time{}, true},
		{"bad minutes", [7]byte{0x00, 0x60, 0x00, 0x01, 0x01, 0x01, 0x00}, time.Time{}, true},
		{"power on", [7]byte{}, time.Time{}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Decode(test.regs)
			if test.err {
				assert.ErrorIs(t, err, ErrInvalidTime)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, got)
		})
	}
}

func TestDS1307_SetAndReadTime(t *testing.T) {
	d, regs, p := newClock(t)
	now := time.Date(2026, time.March, 14, 15, 9, 26, 0, time.UTC)

	require.True(t, d.SetTime(now))
	require.True(t, d.SetSquareWave(SquareWave1Hz))

	var (
		got    time.Time
		halted bool
		done   bool
	)
	require.True(t, d.ReadTime(func(t time.Time, h bool, err error) {
		got, halted, done = t, h, err == nil
	}))
	require.True(t, p.Until(50, func() bool { return done }))
	assert.Equal(t, now, got)
	assert.False(t, halted)
	assert.Equal(t, []byte{byte(SquareWave1Hz)}, regs.Dump(RegControl, 1))

	done = false
	require.True(t, d.Halt())
	require.True(t, d.ReadTime(func(t time.Time, h bool, err error) {
		halted, done = h, true
	}))
	require.True(t, p.Until(50, func() bool { return done }))
	assert.True(t, halted)
}

func TestDS1307_Init(t *testing.T) {
	now := time.Date(2026, time.October, 16, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		seconds byte
		force   bool
		set     bool
	}{
		{"halted clock is set", 0x80, false, true},
		{"running clock is kept", 0x12, false, false},
		{"forced", 0x12, true, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d, regs, p := newClock(t)
			regs.Poke(RegSeconds, []byte{test.seconds})

			var set, done bool
			require.True(t, d.Init(now, test.force, func(s bool, err error) {
				require.NoError(t, err)
				set, done = s, true
			}))
			require.True(t, p.Until(50, func() bool { return done }))
			p.Until(10, func() bool { return false })
			assert.Equal(t, test.set, set)
			if test.set {
				assert.Equal(t, []byte{0x00, 0x00, 0x08}, regs.Dump(RegSeconds, 3))
			} else {
				assert.Equal(t, []byte{test.seconds}, regs.Dump(RegSeconds, 1))
			}
		})
	}
}

func TestDS1307_RegisterBounds(t *testing.T) {
	d, regs, p := newClock(t)
	assert.False(t, d.WriteRegisters(0x3F, []byte{1, 2}))
	assert.False(t, d.ReadRegisters(0x3F, make([]byte, 2), nil))

	require.True(t, d.WriteRegisters(RAMStart, []byte("ram")))
	dst := make([]byte, 3)
	done := false
	require.True(t, d.ReadRegisters(RAMStart, dst, func(err error) { done = err == nil }))
	require.True(t, p.Until(50, func() bool { return done }))
	assert.Equal(t, []byte("ram"), dst)
	assert.Equal(t, []byte("ram"), regs.Dump(RAMStart, 3))
}
