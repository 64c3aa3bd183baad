// Command stsctl talks to ST3215-family serial bus servos: discover them,
// inspect their state, move them and calibrate their range of motion.
//
// Usage:
//
//	stsctl [flags] scan
//	stsctl [flags] ping -id N
//	stsctl [flags] status -id N
//	stsctl [flags] move -id N -pos P [-speed S] [-acc A] [-wait]
//	stsctl [flags] rotate -id N -speed S
//	stsctl [flags] calibrate -id N
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/servokit/st3215/st3215"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("stsctl", flag.ContinueOnError)
	configPath := flags.String("config", "", "YAML bus profile")
	port := flags.String("port", "", "serial port (overrides config)")
	verbose := flags.Bool("v", false, "debug logging")
	flags.Usage = func() {
		fmt.Fprintln(flags.Output(), "usage: stsctl [flags] scan|ping|status|move|rotate|calibrate [args]")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return exitUsage
	}
	if flags.NArg() < 1 {
		flags.Usage()
		return exitUsage
	}

	log := newLogger(*verbose)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return exitUsage
	}
	if *port != "" {
		cfg.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := st3215.NewBus(st3215.BusConfig{
		Port:          cfg.Port,
		BaudRate:      cfg.BaudRate,
		Timeout:       cfg.timeout(),
		MinCommandGap: cfg.minCommandGap(),
		Logger:        &log,
	})
	if err != nil {
		log.Error().Err(err).Str("port", cfg.Port).Msg("cannot open bus")
		return exitError
	}
	defer bus.Close()

	cmd, cmdArgs := flags.Arg(0), flags.Args()[1:]
	if err := dispatch(ctx, bus, cfg, log, cmd, cmdArgs); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintln(os.Stderr, usageErr.Error())
			return exitUsage
		}
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
		return exitError
	}
	return exitOK
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func dispatch(ctx context.Context, bus *st3215.Bus, cfg Config, log zerolog.Logger, cmd string, args []string) error {
	switch cmd {
	case "scan":
		return cmdScan(ctx, bus, cfg)
	case "ping":
		return cmdPing(ctx, bus, args)
	case "status":
		return cmdStatus(ctx, bus, args)
	case "move":
		return cmdMove(ctx, bus, args)
	case "rotate":
		return cmdRotate(ctx, bus, args)
	case "calibrate":
		return cmdCalibrate(ctx, bus, log, args)
	default:
		return &usageError{msg: fmt.Sprintf("unknown command %q", cmd)}
	}
}

func cmdScan(ctx context.Context, bus *st3215.Bus, cfg Config) error {
	found, err := bus.Scan(ctx, cfg.Scan.From, cfg.Scan.To)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("no servos found")
		return nil
	}
	for _, id := range found {
		fmt.Printf("servo %d online\n", id)
	}
	return nil
}

func cmdPing(ctx context.Context, bus *st3215.Bus, args []string) error {
	flags := flag.NewFlagSet("ping", flag.ContinueOnError)
	id := flags.Int("id", -1, "servo ID")
	if err := parseIDFlags(flags, id, args); err != nil {
		return err
	}

	ok, err := bus.Ping(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("servo %d did not respond", *id)
	}
	fmt.Printf("servo %d online\n", *id)
	return nil
}

func cmdStatus(ctx context.Context, bus *st3215.Bus, args []string) error {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	id := flags.Int("id", -1, "servo ID")
	if err := parseIDFlags(flags, id, args); err != nil {
		return err
	}

	servo := st3215.NewServo(bus, *id)

	position, err := servo.Position(ctx)
	if err != nil {
		return err
	}
	speed, err := servo.Speed(ctx)
	if err != nil {
		return err
	}
	load, err := servo.Load(ctx)
	if err != nil {
		return err
	}
	voltage, err := servo.Voltage(ctx)
	if err != nil {
		return err
	}
	current, err := servo.Current(ctx)
	if err != nil {
		return err
	}
	temp, err := servo.Temperature(ctx)
	if err != nil {
		return err
	}
	moving, err := servo.Moving(ctx)
	if err != nil {
		return err
	}
	faults, err := servo.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("servo %d\n", *id)
	fmt.Printf("  position:    %d\n", position)
	fmt.Printf("  speed:       %d step/s\n", speed)
	fmt.Printf("  load:        %.1f%%\n", load)
	fmt.Printf("  voltage:     %.1f V\n", voltage)
	fmt.Printf("  current:     %.1f mA\n", current)
	fmt.Printf("  temperature: %d C\n", temp)
	fmt.Printf("  moving:      %v\n", moving)
	fmt.Printf("  faults:      %s\n", faults)
	return nil
}

func cmdMove(ctx context.Context, bus *st3215.Bus, args []string) error {
	flags := flag.NewFlagSet("move", flag.ContinueOnError)
	id := flags.Int("id", -1, "servo ID")
	pos := flags.Int("pos", -1, "goal position (0-4095)")
	speed := flags.Int("speed", 0, "speed in step/s")
	acc := flags.Int("acc", 0, "acceleration in 100 step/s^2")
	wait := flags.Bool("wait", false, "block until the move completes")
	if err := parseIDFlags(flags, id, args); err != nil {
		return err
	}
	if *pos < 0 {
		return &usageError{msg: "move: -pos is required"}
	}

	servo := st3215.NewServo(bus, *id)
	return servo.MoveTo(ctx, *pos, st3215.MoveOptions{
		Speed:        *speed,
		Acceleration: *acc,
		Wait:         *wait,
	})
}

func cmdRotate(ctx context.Context, bus *st3215.Bus, args []string) error {
	flags := flag.NewFlagSet("rotate", flag.ContinueOnError)
	id := flags.Int("id", -1, "servo ID")
	speed := flags.Int("speed", 0, "signed speed in step/s; 0 stops")
	if err := parseIDFlags(flags, id, args); err != nil {
		return err
	}

	servo := st3215.NewServo(bus, *id)
	if *speed == 0 {
		return servo.Stop(ctx)
	}
	return servo.Rotate(ctx, *speed)
}

func cmdCalibrate(ctx context.Context, bus *st3215.Bus, log zerolog.Logger, args []string) error {
	flags := flag.NewFlagSet("calibrate", flag.ContinueOnError)
	id := flags.Int("id", -1, "servo ID")
	if err := parseIDFlags(flags, id, args); err != nil {
		return err
	}

	log.Warn().Int("id", *id).Msg("calibration drives the servo into both mechanical stops")

	servo := st3215.NewServo(bus, *id)
	res, err := servo.Calibrate(ctx, st3215.CalibrationConfig{})
	if err != nil {
		return err
	}

	fmt.Printf("servo %d calibrated\n", *id)
	fmt.Printf("  min position: %d\n", res.MinPosition)
	fmt.Printf("  max position: %d\n", res.MaxPosition)
	fmt.Printf("  midpoint:     %d\n", res.Midpoint)
	fmt.Printf("  correction:   %d\n", res.Correction)
	return nil
}

func parseIDFlags(flags *flag.FlagSet, id *int, args []string) error {
	if err := flags.Parse(args); err != nil {
		return &usageError{msg: err.Error()}
	}
	if *id < 0 {
		return &usageError{msg: flags.Name() + ": -id is required"}
	}
	return nil
}
