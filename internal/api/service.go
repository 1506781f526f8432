package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/trellis/internal/gp"
	"github.com/samcharles93/trellis/internal/logger"
	"github.com/samcharles93/trellis/internal/optimize"
)

// ServiceConfig carries the engine defaults a request may override.
type ServiceConfig struct {
	Backend  string
	Workers  int
	Streams  int
	Device   int
	TileSize int
	Hyper    optimize.Hyperparams
	Adam     optimize.AdamConfig
}

// Service executes regression requests. Each request gets its own engine
// session, closed when the request finishes.
type Service struct {
	cfg ServiceConfig
	log logger.Logger
}

func NewService(cfg ServiceConfig, log logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) session(xTrain, yTrain []float64, tileSize int, hyper *HyperDTO) (*gp.GP, error) {
	if len(xTrain) == 0 {
		return nil, newInvalidRequest("x_train is required")
	}
	if len(xTrain) != len(yTrain) {
		return nil, newInvalidRequest(fmt.Sprintf("x_train has %d points, y_train has %d", len(xTrain), len(yTrain)))
	}
	if tileSize <= 0 {
		tileSize = s.cfg.TileSize
	}
	h := s.cfg.Hyper
	if hyper != nil {
		h = optimize.Hyperparams{
			Lengthscale: hyper.Lengthscale,
			Vertical:    hyper.Vertical,
			Noise:       hyper.Noise,
		}
	}
	sess, err := gp.New(gp.Config{
		TileSize: tileSize,
		Backend:  s.cfg.Backend,
		Workers:  s.cfg.Workers,
		Streams:  s.cfg.Streams,
		Device:   s.cfg.Device,
		Hyper:    h,
		Adam:     s.cfg.Adam,
	}, xTrain, yTrain, s.log)
	if err != nil {
		if errors.Is(err, gp.ErrInput) || errors.Is(err, optimize.ErrConfig) {
			return nil, newInvalidRequest(err.Error())
		}
		return nil, err
	}
	return sess, nil
}

func dto(h optimize.Hyperparams) HyperDTO {
	return HyperDTO{Lengthscale: h.Lengthscale, Vertical: h.Vertical, Noise: h.Noise}
}

// Predict optionally refines the hyperparameters, then evaluates the
// posterior at the test inputs.
func (s *Service) Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error) {
	if len(req.XTest) == 0 {
		return nil, newInvalidRequest("x_test is required")
	}
	sess, err := s.session(req.XTrain, req.YTrain, req.TileSize, req.Hyper)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	for i := 0; i < req.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := sess.Step(); err != nil {
			return nil, err
		}
	}

	resp := &PredictResponse{Hyper: dto(sess.Hyperparams())}
	if req.Uncertainty {
		resp.Mean, resp.Variance, err = sess.PredictWithUncertainty(req.XTest)
	} else {
		resp.Mean, err = sess.Predict(req.XTest)
	}
	if err != nil {
		if errors.Is(err, gp.ErrInput) {
			return nil, newInvalidRequest(err.Error())
		}
		return nil, err
	}
	return resp, nil
}

// Train runs the requested number of optimization iterations.
func (s *Service) Train(ctx context.Context, req *TrainRequest) (*TrainResponse, error) {
	if req.Iterations <= 0 {
		return nil, newInvalidRequest("iterations must be positive")
	}
	sess, err := s.session(req.XTrain, req.YTrain, req.TileSize, req.Hyper)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	losses := make([]float64, 0, req.Iterations)
	for i := 0; i < req.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l, err := sess.Step()
		if err != nil {
			return nil, err
		}
		losses = append(losses, l)
	}
	return &TrainResponse{Hyper: dto(sess.Hyperparams()), Losses: losses}, nil
}
