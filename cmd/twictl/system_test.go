package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/twi/cmd/twictl/console"
	"github.com/mklimuk/twi/config"
)

func TestSystem_EEPROMRoundTrip(t *testing.T) {
	s, err := newSystem(config.Default())
	require.NoError(t, err)
	defer s.Close()

	data := []byte("queued two-wire bus, page split across 0x20")
	require.True(t, s.eeprom.WriteArray(0x0010, data))
	require.NoError(t, s.Flush())

	got := make([]byte, len(data))
	done := false
	require.True(t, s.eeprom.ReadArray(0x0010, got, func(err error) {
		assert.NoError(t, err)
		done = true
	}))
	require.NoError(t, s.Until(func() bool { return done }))
	assert.Equal(t, data, got)
}

func TestSystem_Clock(t *testing.T) {
	s, err := newSystem(config.Default())
	require.NoError(t, err)
	defer s.Close()

	set := time.Date(2031, time.March, 4, 17, 45, 12, 0, time.UTC)
	require.True(t, s.rtc.SetTime(set))
	require.NoError(t, s.Flush())

	var got time.Time
	done := false
	require.True(t, s.rtc.ReadTime(func(tm time.Time, halted bool, err error) {
		assert.NoError(t, err)
		assert.False(t, halted)
		got = tm
		done = true
	}))
	require.NoError(t, s.Until(func() bool { return done }))
	assert.Equal(t, set, got)
}

func TestSystem_Scan(t *testing.T) {
	s, err := newSystem(config.Default())
	require.NoError(t, err)
	defer s.Close()

	found, err := s.bus.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x50, 0x68}, found)
}

func TestSystem_WriteToMissingDevice(t *testing.T) {
	cfg := config.Default()
	cfg.Devices.RTC = nil
	s, err := newSystem(cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.rtc)
	require.True(t, s.ctrl.SendBytes(0x68, []byte{0x00, 0x00}))
	assert.Error(t, s.Flush())
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	path := filepath.Join(t.TempDir(), "twictl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus:\n  frequency: 250000\n"), 0o600))
	_, err = loadConfig(path)
	assert.Error(t, err)
}

func TestApp_EEPROMCommands(t *testing.T) {
	var out bytes.Buffer
	console.SetOutput(&out, &out)
	defer console.SetOutput(os.Stdout, os.Stderr)

	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	require.NoError(t, app.Run([]string{"twictl", "eeprom", "write", "-a", "0x0100", "-d", "cafe"}))
	require.NoError(t, app.Run([]string{"twictl", "eeprom", "read", "-a", "0x0100", "-n", "2"}))
	assert.Contains(t, out.String(), "ca fe")

	assert.Error(t, app.Run([]string{"twictl", "eeprom", "read", "-a", "0x0FFF", "-n", "2"}))
}
