package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/twi/cmd/twictl/console"
)

var eepromCmd = cli.Command{
	Name:    "eeprom",
	Aliases: []string{"mem"},
	Usage:   "24C32 EEPROM operations",
	Subcommands: cli.Commands{
		&eepromReadCmd,
		&eepromWriteCmd,
	},
}

var eepromReadCmd = cli.Command{
	Name:  "read",
	Usage: "read bytes from the EEPROM",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "address", Aliases: []string{"a"}, Usage: "memory address to read", Required: true},
		&cli.IntFlag{Name: "length", Aliases: []string{"n"}, Usage: "number of bytes to read", Value: 16},
	},
	Action: func(c *cli.Context) error {
		s, err := systemFrom(c)
		if err != nil {
			return console.Exit(1, "could not set up bus: %s", console.Red(err))
		}
		if s.eeprom == nil {
			return console.Exit(1, "no EEPROM configured")
		}
		addr := c.Uint("address")
		length := c.Int("length")
		if addr > 0xFFFF || length <= 0 || length > s.ctrl.ReadCapacity() {
			return console.Exit(1, "invalid range: address %#x length %d", addr, length)
		}
		buf := make([]byte, length)
		var result error
		done := false
		if !s.eeprom.ReadArray(uint16(addr), buf, func(err error) {
			result = err
			done = true
		}) {
			return console.Exit(1, "read not queued: range outside the device or queue full")
		}
		if err := s.Until(func() bool { return done }); err != nil {
			return console.Exit(1, "read from %#04x: %s", addr, console.Red(err))
		}
		if result != nil {
			return console.Exit(1, "read from %#04x: %s", addr, console.Red(result))
		}
		console.Printf("%s", hex.Dump(buf))
		return nil
	},
}

var eepromWriteCmd = cli.Command{
	Name:  "write",
	Usage: "write bytes to the EEPROM",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "address", Aliases: []string{"a"}, Usage: "memory address to write", Required: true},
		&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "hex bytes to write (e.g. '01FF23')", Required: true},
	},
	Action: func(c *cli.Context) error {
		s, err := systemFrom(c)
		if err != nil {
			return console.Exit(1, "could not set up bus: %s", console.Red(err))
		}
		if s.eeprom == nil {
			return console.Exit(1, "no EEPROM configured")
		}
		addr := c.Uint("address")
		if addr > 0xFFFF {
			return console.Exit(1, "address out of range: %#x", addr)
		}
		data, err := hex.DecodeString(strings.TrimPrefix(c.String("data"), "0x"))
		if err != nil {
			return console.Exit(1, "invalid data hex string: %s", console.Red(err))
		}
		s.wire.ClearRecords()
		if !s.eeprom.WriteArray(uint16(addr), data) {
			return console.Exit(1, "write not queued: range outside the device or write buffer full")
		}
		err = s.Flush()
		if console.IsVerbose(verboseContext(c)) {
			console.Wire(wireLog(s))
		}
		if err != nil {
			return console.Exit(1, "write to %#04x: %s", addr, console.Red(err))
		}
		console.Infof("wrote %s bytes at %s", console.White(len(data)), console.White(fmt.Sprintf("%#04x", addr)))
		return nil
	},
}
