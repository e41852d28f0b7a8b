package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/twi/cmd/twictl/console"
)

var shellCmd = cli.Command{
	Name:  "shell",
	Usage: "run commands against one bus interactively",
	Action: func(c *cli.Context) error {
		if _, err := systemFrom(c); err != nil {
			return console.Exit(1, "could not set up bus: %s", console.Red(err))
		}
		history := ""
		if home, err := os.UserHomeDir(); err == nil {
			history = filepath.Join(home, ".twictl_history")
		}
		rl, err := console.Shell("twi> ", history)
		if err != nil {
			return console.Exit(1, "could not open terminal: %s", console.Red(err))
		}
		defer rl.Close()

		app := c.App
		// errors are printed per line instead of terminating the shell
		app.ExitErrHandler = func(*cli.Context, error) {}
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return console.Exit(1, "terminal error: %s", console.Red(err))
			}
			args := strings.Fields(line)
			if len(args) == 0 {
				continue
			}
			switch args[0] {
			case "exit", "quit":
				return nil
			case c.Command.Name:
				console.Warnf("already in the shell")
				continue
			}
			if err := app.RunContext(c.Context, append([]string{app.Name}, args...)); err != nil {
				console.Printf("%s", console.Format(err))
			}
		}
	},
}
