package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/trellis/internal/dataset"
	"github.com/samcharles93/trellis/internal/gp"
	"github.com/samcharles93/trellis/internal/logger"
)

type predictResult struct {
	Lengthscale float64   `json:"lengthscale"`
	Vertical    float64   `json:"vertical"`
	Noise       float64   `json:"noise"`
	Mean        []float64 `json:"mean"`
	Variance    []float64 `json:"variance,omitempty"`
}

func predictCmd() *cli.Command {
	var (
		dataPath    string
		testPath    string
		iters       int64
		uncertainty bool
		outPath     string
	)

	flags := append(engineFlags(), hyperFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "data",
			Aliases:     []string{"d"},
			Usage:       "path to two-column input/target training file",
			Required:    true,
			Destination: &dataPath,
		},
		&cli.StringFlag{
			Name:        "test",
			Aliases:     []string{"t"},
			Usage:       "path to single-column test input file",
			Required:    true,
			Destination: &testPath,
		},
		&cli.Int64Flag{
			Name:        "iters",
			Aliases:     []string{"n"},
			Usage:       "optimization iterations before predicting (0 = use initial hyperparameters)",
			Destination: &iters,
		},
		&cli.BoolFlag{
			Name:        "uncertainty",
			Aliases:     []string{"u"},
			Usage:       "also compute the per-point predictive variance",
			Destination: &uncertainty,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "write the result JSON to this file instead of stdout",
			Destination: &outPath,
		},
	)

	return &cli.Command{
		Name:  "predict",
		Usage: "Predict at test inputs, optionally fitting first",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyEngineConfig(cmd, LoadConfig())

			x, y, err := dataset.LoadXY(dataPath)
			if err != nil {
				return err
			}
			xTest, err := dataset.LoadX(testPath)
			if err != nil {
				return err
			}

			sess, err := gp.New(engineConfig(), x, y, log)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			for i := int64(0); i < iters; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				l, err := sess.Step()
				if err != nil {
					return fmt.Errorf("iteration %d: %w", i+1, err)
				}
				log.Debug("iteration", "iter", i+1, "loss", l)
			}

			h := sess.Hyperparams()
			res := predictResult{
				Lengthscale: h.Lengthscale,
				Vertical:    h.Vertical,
				Noise:       h.Noise,
			}
			if uncertainty {
				res.Mean, res.Variance, err = sess.PredictWithUncertainty(xTest)
			} else {
				res.Mean, err = sess.Predict(xTest)
			}
			if err != nil {
				return err
			}
			log.Info("prediction done", "train_points", len(x), "test_points", len(xTest))
			return writeJSON(outPath, res)
		},
	}
}
