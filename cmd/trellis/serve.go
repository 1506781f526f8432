package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/trellis/internal/api"
	"github.com/samcharles93/trellis/internal/logger"
	"github.com/samcharles93/trellis/internal/optimize"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	flags := append(engineFlags(), hyperFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the regression REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()
			applyEngineConfig(cmd, cfg)
			applyServeConfig(cmd, cfg, &addr)

			adam := optimize.DefaultAdam()
			adam.LearnRate = learnRate
			service := api.NewService(api.ServiceConfig{
				Backend:  backendName,
				Workers:  int(workers),
				Streams:  int(streams),
				Device:   int(device),
				TileSize: int(tileSize),
				Hyper: optimize.Hyperparams{
					Lengthscale: lengthscale,
					Vertical:    vertical,
					Noise:       noise,
				},
				Adam: adam,
			}, log)
			server := api.NewServer(service)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
