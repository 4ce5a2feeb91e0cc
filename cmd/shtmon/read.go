package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/shtmon/busctx"
	"github.com/mklimuk/shtmon/cmd/shtmon/console"
	"github.com/mklimuk/shtmon/config"
	"github.com/mklimuk/shtmon/display"
	"github.com/mklimuk/shtmon/environment"
	"github.com/mklimuk/shtmon/monitor"
	"github.com/mklimuk/shtmon/publish"
	"github.com/mklimuk/shtmon/transaction"
)

var readCmd = cli.Command{
	Name:  "read",
	Usage: "take a single measurement",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "celsius", Aliases: []string{"C"}},
	},
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

		m, err := s.sensor(cfg.Sensor)
		if err != nil {
			return console.Exit(1, "sensor error: %s", console.Red(err))
		}
		raw, err := m.Measure(ctx)
		if err != nil {
			printFailure(err)
			return console.Exit(2, "measurement failed")
		}
		printReading(environment.Convert(raw), c.Bool("celsius") || cfg.Poll.Unit == "C")
		return nil
	},
}

var watchCmd = cli.Command{
	Name:  "watch",
	Usage: "measure periodically and show the readings",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "stop after n samples, 0 runs until interrupted"},
		&cli.StringFlag{Name: "mqtt", Usage: "broker url, e.g. tcp://localhost:1883/sensors"},
		&cli.DurationFlag{Name: "interval", Aliases: []string{"i"}, Usage: "polling interval"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		if broker := c.String("mqtt"); broker != "" {
			cfg.MQTT.Broker = broker
		}
		if c.IsSet("interval") {
			cfg.Poll.Interval = c.Duration("interval")
		}
		if err := config.Validate(&cfg); err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = busctx.SetVerbose(ctx, c.Bool("verbose"))

		s, err := openLink(ctx, cfg)
		if err != nil {
			return console.Exit(1, "link initialization error: %s", console.Red(err))
		}
		defer closeSession(s)

		opts := []monitor.Option{monitor.WithInterval(cfg.Poll.Interval)}
		if cfg.Display.Enabled {
			tty := isatty.IsTerminal(os.Stdout.Fd())
			term := display.NewTerminal(os.Stdout, display.WithColor(tty), display.WithClearScreen(tty))
			screen := display.NewScreen(term, display.Unit(cfg.Poll.Unit))
			if cfg.Sensor.Kind == config.SensorSHTC3 {
				screen.SetTitle("SHTC3")
			}
			screen.SelfTest(selfTest())
			_ = screen.Flush()
			opts = append(opts, monitor.WithScreen(screen))
		}
		if cfg.MQTT.Broker != "" {
			pub, err := publish.Dial(ctx, cfg.MQTT.Broker,
				publish.WithClientID(cfg.MQTT.ClientID),
				publish.WithQoS(cfg.MQTT.QoS),
				publish.WithRetained(cfg.MQTT.Retained),
				publish.WithTimeout(cfg.MQTT.Timeout),
			)
			if err != nil {
				return console.Exit(1, "broker connection error: %s", console.Red(err))
			}
			s.closers = append(s.closers, pub.Close)
			opts = append(opts, monitor.WithPublisher(pub))
		}

		sensor, err := s.sensor(cfg.Sensor)
		if err != nil {
			return console.Exit(1, "sensor error: %s", console.Red(err))
		}
		m, err := monitor.New(sensor, opts...)
		if err != nil {
			return console.Exit(1, "monitor error: %s", console.Red(err))
		}
		return watch(ctx, m, c.Int("count"), !cfg.Display.Enabled, cfg.Poll.Unit == "C")
	},
}

// watch runs the monitor until ctx is done or count samples were taken.
func watch(ctx context.Context, m *monitor.Monitor, count int, echo, celsius bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	samples := make(chan publish.Sample)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, samples)
	}()

	taken := 0
	for {
		select {
		case <-done:
			return nil
		case sample := <-samples:
			taken++
			if echo {
				if sample.Reading != nil {
					printReading(*sample.Reading, celsius)
				} else {
					console.Errorf("%s", sample.Error)
				}
			}
			if count > 0 && taken >= count {
				cancel()
				<-done
				return nil
			}
		}
	}
}

// selfTest checks the checksum routine against the reference vector before
// any bus traffic.
func selfTest() bool {
	ok := crcReferenceOK()
	if !ok {
		slog.Error("checksum self-test failed")
	}
	return ok
}

func printReading(r environment.Reading, celsius bool) {
	if celsius {
		console.Printf("%s  %s\n", console.PictoThermometer, console.White(fmt.Sprintf("%.2f C", r.Celsius)))
	} else {
		console.Printf("%s  %s\n", console.PictoThermometer, console.White(fmt.Sprintf("%.2f F", r.Fahrenheit)))
	}
	console.Printf("%s  %s\n", console.PictoHumidity, console.White(fmt.Sprintf("%.2f %%", r.Humidity)))
}

func printFailure(err error) {
	rec, ok := transaction.AsFailure(err)
	if !ok {
		console.Errorf("%s", err)
		return
	}
	console.Errorf("step %s failed with status %s (%s)",
		console.White(int(rec.Step)), console.White(rec.Status), console.Yellow(rec.Kind))
	slog.Debug("measurement failed", "error", err)
}

func closeSession(s *session) {
	if err := s.Close(); err != nil {
		slog.Warn("could not close link", "error", err)
	}
}
