package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/shtmon/busctx"
	"github.com/mklimuk/shtmon/cmd/shtmon/console"
	"github.com/mklimuk/shtmon/environment"
	"github.com/mklimuk/shtmon/transaction"
)

var shellCmd = cli.Command{
	Name:  "shell",
	Usage: "interactive prompt for reading the sensor and inspecting failures",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		ctx := busctx.SetVerbose(c.Context, c.Bool("verbose"))
		s, err := openLink(ctx, cfg)
		if err != nil {
			return console.Exit(1, "link initialization error: %s", console.Red(err))
		}
		defer closeSession(s)

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "shtmon> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
			AutoComplete: readline.NewPrefixCompleter(
				readline.PcItem("read"),
				readline.PcItem("status"),
				readline.PcItem("crc"),
				readline.PcItem("help"),
				readline.PcItem("quit"),
			),
		})
		if err != nil {
			return console.Exit(1, "terminal error: %s", console.Red(err))
		}
		defer rl.Close()

		sensor, err := s.sensor(cfg.Sensor)
		if err != nil {
			return console.Exit(1, "sensor error: %s", console.Red(err))
		}
		sh := &shell{seq: sensor, state: &transaction.ErrorState{}, out: rl.Stdout()}
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if err != nil {
				return nil
			}
			if !sh.exec(ctx, line) {
				return nil
			}
		}
	},
}

type shell struct {
	seq   environment.Measurer
	state *transaction.ErrorState
	out   io.Writer
}

// exec runs one command line and reports whether the shell should go on.
func (sh *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	switch fields[0] {
	case "read":
		raw, err := sh.seq.Measure(ctx)
		if err != nil {
			sh.state.Record(err)
			fmt.Fprintf(sh.out, "error: %s\n", err)
			return true
		}
		r := environment.Convert(raw)
		fmt.Fprintf(sh.out, "%.2f F  %.2f C  %.2f %%RH  (raw %#04x %#04x)\n",
			r.Fahrenheit, r.Celsius, r.Humidity, raw.Primary, raw.Secondary)
	case "status":
		rec, at, ok := sh.state.Last()
		if !ok {
			fmt.Fprintln(sh.out, "no failures")
			return true
		}
		fmt.Fprintf(sh.out, "step %d (%s) status 0x%02x (%s) kind %s at %s\n",
			int(rec.Step), rec.Step, byte(rec.Status), rec.Status, rec.Kind, at.Format(time.TimeOnly))
	case "crc":
		out, err := crc(fields[1:])
		if err != nil {
			fmt.Fprintf(sh.out, "error: %s\n", err)
			return true
		}
		fmt.Fprintln(sh.out, out)
	case "help":
		fmt.Fprintln(sh.out, "read | status | crc HIGH LOW [CHECKSUM] | quit")
	case "quit", "exit":
		return false
	default:
		fmt.Fprintf(sh.out, "unknown command %q, try help\n", fields[0])
	}
	return true
}
