package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/trellis/internal/dataset"
	"github.com/samcharles93/trellis/internal/gp"
	"github.com/samcharles93/trellis/internal/logger"
	"github.com/samcharles93/trellis/internal/optimize"
)

func engineConfig() gp.Config {
	adam := optimize.DefaultAdam()
	adam.LearnRate = learnRate
	return gp.Config{
		TileSize: int(tileSize),
		Backend:  backendName,
		Workers:  int(workers),
		Streams:  int(streams),
		Device:   int(device),
		Hyper: optimize.Hyperparams{
			Lengthscale: lengthscale,
			Vertical:    vertical,
			Noise:       noise,
		},
		Adam: adam,
	}
}

func writeJSON(path string, v any) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type trainResult struct {
	RunID       string    `json:"run_id"`
	Iterations  int       `json:"iterations"`
	Lengthscale float64   `json:"lengthscale"`
	Vertical    float64   `json:"vertical"`
	Noise       float64   `json:"noise"`
	Losses      []float64 `json:"losses"`
}

func trainCmd() *cli.Command {
	var (
		dataPath string
		iters    int64
		outPath  string
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
		&cli.Int64Flag{
			Name:        "iters",
			Aliases:     []string{"n"},
			Usage:       "optimization iterations",
			Value:       100,
			Destination: &iters,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "write the result JSON to this file instead of stdout",
			Destination: &outPath,
		},
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Optimize hyperparameters on a training set",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyEngineConfig(cmd, LoadConfig())
			if iters <= 0 {
				return fmt.Errorf("iters must be positive, got %d", iters)
			}

			x, y, err := dataset.LoadXY(dataPath)
			if err != nil {
				return err
			}

			sess, err := gp.New(engineConfig(), x, y, log)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			runID := uuid.NewString()
			log.Info("training", "run_id", runID, "points", len(x), "iters", iters)
			start := time.Now()

			losses := make([]float64, 0, iters)
			for i := int64(0); i < iters; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				l, err := sess.Step()
				if err != nil {
					return fmt.Errorf("iteration %d: %w", i+1, err)
				}
				losses = append(losses, l)
				log.Debug("iteration", "run_id", runID, "iter", i+1, "loss", l)
			}

			h := sess.Hyperparams()
			log.Info("training done",
				"run_id", runID,
				"elapsed", time.Since(start).Round(time.Millisecond),
				"final_loss", losses[len(losses)-1],
				"lengthscale", h.Lengthscale,
				"vertical", h.Vertical,
				"noise", h.Noise,
			)
			return writeJSON(outPath, trainResult{
				RunID:       runID,
				Iterations:  int(iters),
				Lengthscale: h.Lengthscale,
				Vertical:    h.Vertical,
				Noise:       h.Noise,
				Losses:      losses,
			})
		},
	}
}
