package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/twi/cmd/twictl/console"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "run the main loop and report the clock periodically",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "every", Usage: "clock report period", Value: time.Second},
		&cli.DurationFlag{Name: "for", Usage: "stop after this long, 0 runs until interrupted"},
	},
	Action: func(c *cli.Context) error {
		s, err := systemFrom(c)
		if err != nil {
			return console.Exit(1, "could not set up bus: %s", console.Red(err))
		}
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if d := c.Duration("for"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		if s.rtc != nil {
			s.loop.Add(&clockReporter{sys: s, every: cyclesIn(c.Duration("every"), s.loop.Interval())})
		}
		slog.Info("main loop running", "interval", s.loop.Interval())
		err = s.loop.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return console.Exit(1, "main loop: %s", console.Red(err))
		}
		slog.Info("main loop stopped", "cycles", s.loop.Cycles(), "frames", s.ctrl.Stats().FramesSent)
		return nil
	},
}

func cyclesIn(d, interval time.Duration) int {
	n := int(d / interval)
	if n < 1 {
		n = 1
	}
	return n
}

// clockReporter queues a clock read every so many main loop cycles. It runs
// inside the loop, so the read is queued from the main loop context.
type clockReporter struct {
	sys   *system
	every int
	count int
}

func (r *clockReporter) Tick() {
	r.count++
	if r.count < r.every {
		return
	}
	r.count = 0
	ok := r.sys.rtc.ReadTime(func(t time.Time, halted bool, err error) {
		if err != nil {
			slog.Warn("clock read failed", "error", err)
			return
		}
		slog.Info("clock", "time", t.Format(time.DateTime), "halted", halted)
	})
	if !ok {
		slog.Debug("clock read not queued")
	}
}
