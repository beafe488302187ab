package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/edoenges/runexcl/cpuset"
	"github.com/edoenges/runexcl/internal/rlog"
	"github.com/edoenges/runexcl/launch"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const usage = "run a command on an exclusively reserved, optionally isolated and frequency-pinned cpuset"

func main() {
	app := cli.NewApp()
	app.Name = "runexcl"
	app.Usage = usage
	app.Version = "unknown"
	app.ArgsUsage = "-c <cpu-list> [options] -- <command> [args...]"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "cpu-list, c",
			Usage: "CPU list to reserve exclusively, e.g. \"0-2,4\"",
		},
		cli.StringFlag{
			Name:  "frequency, f",
			Usage: "pin the reserved CPUs to a frequency: a kHz value (optionally suffixed k/M/G or kHz/MHz/GHz), or one of max, min, nonlinear",
		},
		cli.BoolFlag{
			Name:  "isolate, i",
			Usage: "pull the reserved CPUs out of the scheduler's load-balancing domains",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "set the log file to write runexcl logs to (default is stderr)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "set the log format ('text' (default), or 'json')",
		},
	}

	app.Before = func(context *cli.Context) error {
		return rlog.Configure(rlog.Config{
			Debug:     context.GlobalBool("debug"),
			LogFile:   context.GlobalString("log"),
			LogFormat: context.GlobalString("log-format"),
		})
	}

	exitCode := 0
	app.Action = func(context *cli.Context) error {
		code, err := runAction(context)
		exitCode = code
		return err
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Error(err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

// runAction parses the command line into a launch.Config and runs it,
// returning the process exit code alongside any error to log.
func runAction(context *cli.Context) (int, error) {
	cfg, err := configFromContext(context)
	if err != nil {
		return 1, err
	}
	return launch.Run(cfg)
}

func configFromContext(context *cli.Context) (launch.Config, error) {
	cfg := launch.Config{
		Isolate: context.Bool("isolate"),
		Command: context.Args(),
	}

	cpuList := context.String("cpu-list")
	if cpuList == "" {
		return cfg, fmt.Errorf("runexcl: -c/--cpu-list is required")
	}
	mask, err := cpuset.Parse(cpuList)
	if err != nil {
		return cfg, fmt.Errorf("runexcl: -c/--cpu-list: %w", err)
	}
	cfg.Mask = mask

	if raw := context.String("frequency"); raw != "" {
		freq, err := parseFrequency(raw)
		if err != nil {
			return cfg, fmt.Errorf("runexcl: -f/--frequency: %w", err)
		}
		cfg.Frequency = &freq
	}

	return cfg, nil
}

// parseFrequency implements the FrequencyUnit suffix table: the named
// setpoints max/min/nonlinear map to the sentinel values freqctl's
// mapSetpoint switches on, and a bare or suffixed number is converted to
// kHz. Grounded on the frequency argument handling in
// _examples/original_source/runexcl.cpp.
func parseFrequency(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "max":
		return -1.0, nil
	case "min":
		return -2.0, nil
	case "nonlinear":
		return -3.0, nil
	}

	multiplier := 1.0
	numPart := s
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, "ghz"):
		multiplier = 1_000_000
		numPart = s[:len(s)-3]
	case strings.HasSuffix(lower, "mhz"):
		multiplier = 1_000
		numPart = s[:len(s)-3]
	case strings.HasSuffix(lower, "khz"):
		numPart = s[:len(s)-3]
	case strings.HasSuffix(lower, "g"):
		multiplier = 1_000_000
		numPart = s[:len(s)-1]
	case strings.HasSuffix(lower, "m"):
		multiplier = 1_000
		numPart = s[:len(s)-1]
	case strings.HasSuffix(lower, "k"):
		numPart = s[:len(s)-1]
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(numPart), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}
	return n * multiplier, nil
}
