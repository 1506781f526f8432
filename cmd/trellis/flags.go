package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/trellis/internal/logger"
)

var (
	backendName string
	tileSize    int64
	workers     int64
	streams     int64
	device      int64

	lengthscale float64
	vertical    float64
	noise       float64
	learnRate   float64

	logLevel  string
	logFormat string
	debug     bool
)

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "compute backend (auto, cpu, cuda)",
			Value:       "auto",
			Destination: &backendName,
		},
		&cli.Int64Flag{
			Name:        "tile-size",
			Aliases:     []string{"b"},
			Usage:       "tile edge length; data sizes must be multiples of it",
			Value:       64,
			Destination: &tileSize,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Usage:       "executor lanes on the cpu backend (0 = all cores)",
			Destination: &workers,
		},
		&cli.Int64Flag{
			Name:        "streams",
			Usage:       "device streams on the cuda backend (0 = default)",
			Destination: &streams,
		},
		&cli.Int64Flag{
			Name:        "device",
			Usage:       "cuda device ordinal",
			Destination: &device,
		},
	}
}

func hyperFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:        "lengthscale",
			Aliases:     []string{"l"},
			Usage:       "initial lengthscale",
			Value:       1.0,
			Destination: &lengthscale,
		},
		&cli.Float64Flag{
			Name:        "vertical",
			Aliases:     []string{"v"},
			Usage:       "initial vertical lengthscale (signal variance)",
			Value:       1.0,
			Destination: &vertical,
		},
		&cli.Float64Flag{
			Name:        "noise",
			Usage:       "initial noise variance",
			Value:       0.1,
			Destination: &noise,
		},
		&cli.Float64Flag{
			Name:        "learn-rate",
			Aliases:     []string{"lr"},
			Usage:       "adam learning rate",
			Value:       0.1,
			Destination: &learnRate,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
