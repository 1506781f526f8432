// Package gp is the driver layer of the regression engine. It owns the
// training data, the compute backend and the optimizer state, and sequences
// the tiled algorithms into the user-facing operations: fitting the
// hyperparameters, predicting at new inputs, and quantifying prediction
// uncertainty. Everything below this package works on tile grids; everything
// above it works on flat float64 slices.
package gp

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/trellis/internal/backend"
	"github.com/samcharles93/trellis/internal/cov"
	"github.com/samcharles93/trellis/internal/executor"
	"github.com/samcharles93/trellis/internal/logger"
	"github.com/samcharles93/trellis/internal/optimize"
	"github.com/samcharles93/trellis/internal/tile"
	"github.com/samcharles93/trellis/internal/tiled"
)

// ErrInput is returned when the training or test data cannot be tiled with
// the configured tile size.
var ErrInput = errors.New("gp: invalid input")

// Config collects everything needed to build a session.
type Config struct {
	// TileSize is the edge length of the square tiles the covariance
	// matrix is partitioned into. The training and test set sizes must be
	// multiples of it.
	TileSize int

	// Backend selects the compute backend: "cpu", "cuda" or "auto".
	Backend string

	// Workers and Streams size the executor lane set; zero values pick the
	// backend defaults.
	Workers int
	Streams int
	Device  int

	Hyper optimize.Hyperparams
	Adam  optimize.AdamConfig
}

// GP is one regression session: training data bound at construction,
// hyperparameters refined by successive Step calls, predictions served
// against the current hyperparameters.
type GP struct {
	cfg  Config
	log  logger.Logger
	be   backend.Backend
	pool *executor.Pool

	xTrain []float64
	yTrain []float64

	hyp  optimize.Hyperparams
	adam *optimize.Adam
	iter int
}

// New builds a session over the given training set. The caller must Close
// the session to release backend resources.
func New(cfg Config, xTrain, yTrain []float64, log logger.Logger) (*GP, error) {
	if log == nil {
		log = logger.Default()
	}
	if len(xTrain) != len(yTrain) {
		return nil, fmt.Errorf("%w: %d inputs against %d targets", ErrInput, len(xTrain), len(yTrain))
	}
	if cfg.TileSize <= 0 || len(xTrain) == 0 || len(xTrain)%cfg.TileSize != 0 {
		return nil, fmt.Errorf("%w: %d training points not divisible into tiles of %d", ErrInput, len(xTrain), cfg.TileSize)
	}
	if err := cfg.Hyper.Validate(); err != nil {
		return nil, err
	}
	adam, err := optimize.NewAdam(cfg.Adam)
	if err != nil {
		return nil, err
	}

	be, err := backend.New(cfg.Backend, backend.Options{
		Workers: cfg.Workers,
		Streams: cfg.Streams,
		Device:  cfg.Device,
	})
	if err != nil {
		return nil, err
	}
	lanes, err := be.Lanes()
	if err != nil {
		be.Close()
		return nil, err
	}

	g := &GP{
		cfg:    cfg,
		log:    log,
		be:     be,
		pool:   executor.NewPool(lanes),
		xTrain: append([]float64(nil), xTrain...),
		yTrain: append([]float64(nil), yTrain...),
		hyp:    cfg.Hyper,
		adam:   adam,
	}
	log.Debug("session open",
		"backend", be.Name(),
		"lanes", g.pool.Lanes(),
		"points", len(xTrain),
		"tile_size", cfg.TileSize,
	)
	return g, nil
}

// Close drains the executor and releases the backend.
func (g *GP) Close() error {
	g.pool.Close()
	return g.be.Close()
}

// Hyperparams returns the current hyperparameter values.
func (g *GP) Hyperparams() optimize.Hyperparams { return g.hyp }

// factorize assembles the training covariance and Cholesky-factors it in
// place, returning the factor grid.
func (g *GP) factorize() (*tile.Grid, error) {
	k, err := cov.Matrix(g.xTrain, g.cfg.TileSize, g.hyp)
	if err != nil {
		return nil, err
	}
	if err := tiled.Cholesky(g.pool, k); err != nil {
		return nil, err
	}
	return k, nil
}

// weights solves L Lᵗ α = y against the given factor, returning the weight
// vector grid. The solves run in place on a fresh partition of y.
func (g *GP) weights(factor *tile.Grid) (*tile.Grid, error) {
	alpha, err := tile.PartitionVector(g.yTrain, g.cfg.TileSize)
	if err != nil {
		return nil, err
	}
	if err := tiled.ForwardSolve(g.pool, factor, alpha); err != nil {
		return nil, err
	}
	if err := tiled.BackwardSolve(g.pool, factor, alpha); err != nil {
		return nil, err
	}
	return alpha, nil
}

// Step runs one optimization iteration: factorize, solve for the weights,
// evaluate the loss, accumulate the three hyperparameter gradients, and
// apply one Adam update to each. It returns the loss at the pre-update
// hyperparameters.
func (g *GP) Step() (float64, error) {
	factor, err := g.factorize()
	if err != nil {
		return 0, err
	}
	alpha, err := g.weights(factor)
	if err != nil {
		return 0, err
	}
	y, err := tile.PartitionVector(g.yTrain, g.cfg.TileSize)
	if err != nil {
		return 0, err
	}
	loss, lossTok, err := tiled.Loss(g.pool, factor, alpha, y)
	if err != nil {
		return 0, err
	}

	// K⁻¹ through the matrix solves against the identity.
	nt := len(g.xTrain) / g.cfg.TileSize
	invK := tile.Identity(nt, g.cfg.TileSize)
	if err := tiled.ForwardSolveMatrix(g.pool, factor, invK); err != nil {
		return 0, err
	}
	if err := tiled.BackwardSolveMatrix(g.pool, factor, invK); err != nil {
		return 0, err
	}

	// The trace term needs W = K⁻¹ − α αᵗ alongside the untouched K⁻¹,
	// so the rank-one update runs on a copy.
	if err := invK.Wait(); err != nil {
		return 0, err
	}
	if err := alpha.Wait(); err != nil {
		return 0, err
	}
	if err := g.be.Gather(invK); err != nil {
		return 0, err
	}
	if err := g.be.Gather(alpha); err != nil {
		return 0, err
	}
	w := invK.Clone()
	if err := tiled.OuterUpdate(g.pool, w, alpha, alpha); err != nil {
		return 0, err
	}

	dl, err := cov.GradLengthscale(g.xTrain, g.cfg.TileSize, g.hyp)
	if err != nil {
		return 0, err
	}
	dv, err := cov.GradVertical(g.xTrain, g.cfg.TileSize, g.hyp)
	if err != nil {
		return 0, err
	}
	gradL, glTok, err := tiled.GradientTrace(g.pool, w, dl)
	if err != nil {
		return 0, err
	}
	gradV, gvTok, err := tiled.GradientTrace(g.pool, w, dv)
	if err != nil {
		return 0, err
	}
	gradN, gnTok, err := tiled.NoiseGradient(g.pool, invK, alpha)
	if err != nil {
		return 0, err
	}
	if err := tile.WaitAll(lossTok, glTok, gvTok, gnTok); err != nil {
		return 0, err
	}

	for idx, grad := range [optimize.NumParams]float64{*gradL, *gradV, *gradN} {
		if err := g.adam.Step(&g.hyp, idx, grad); err != nil {
			return 0, err
		}
	}
	g.iter++
	g.log.Debug("optimizer step",
		"iter", g.iter,
		"loss", *loss,
		"lengthscale", g.hyp.Lengthscale,
		"vertical", g.hyp.Vertical,
		"noise", g.hyp.Noise,
	)
	return *loss, nil
}

// Fit runs iters optimization steps and returns the loss trace.
func (g *GP) Fit(iters int) ([]float64, error) {
	losses := make([]float64, 0, iters)
	for i := 0; i < iters; i++ {
		l, err := g.Step()
		if err != nil {
			return losses, err
		}
		losses = append(losses, l)
	}
	return losses, nil
}

// Loss evaluates the objective at the current hyperparameters without
// updating them.
func (g *GP) Loss() (float64, error) {
	factor, err := g.factorize()
	if err != nil {
		return 0, err
	}
	alpha, err := g.weights(factor)
	if err != nil {
		return 0, err
	}
	y, err := tile.PartitionVector(g.yTrain, g.cfg.TileSize)
	if err != nil {
		return 0, err
	}
	loss, tok, err := tiled.Loss(g.pool, factor, alpha, y)
	if err != nil {
		return 0, err
	}
	if err := tok.Wait(); err != nil {
		return 0, err
	}
	return *loss, nil
}

func (g *GP) checkTest(xTest []float64) (mt int, err error) {
	b := g.cfg.TileSize
	if len(xTest) == 0 || len(xTest)%b != 0 {
		return 0, fmt.Errorf("%w: %d test points not divisible into tiles of %d", ErrInput, len(xTest), b)
	}
	return len(xTest) / b, nil
}

// Predict returns the posterior mean at the test inputs.
func (g *GP) Predict(xTest []float64) ([]float64, error) {
	mt, err := g.checkTest(xTest)
	if err != nil {
		return nil, err
	}
	factor, err := g.factorize()
	if err != nil {
		return nil, err
	}
	alpha, err := g.weights(factor)
	if err != nil {
		return nil, err
	}
	cross, err := cov.Cross(xTest, g.xTrain, g.cfg.TileSize, g.hyp)
	if err != nil {
		return nil, err
	}
	mean := tile.NewGrid(mt, 1, g.cfg.TileSize, 1)
	if err := tiled.Predict(g.pool, cross, alpha, mean); err != nil {
		return nil, err
	}
	if err := mean.Wait(); err != nil {
		return nil, err
	}
	if err := g.be.Gather(mean); err != nil {
		return nil, err
	}
	return mean.Assemble(), nil
}

// PredictWithUncertainty returns the posterior mean and the per-point
// posterior variance at the test inputs. The variance comes from the
// diagonal of the posterior covariance; off-diagonal structure is the
// domain of PosteriorCovariance.
func (g *GP) PredictWithUncertainty(xTest []float64) (mean, variance []float64, err error) {
	mt, err := g.checkTest(xTest)
	if err != nil {
		return nil, nil, err
	}
	b := g.cfg.TileSize
	factor, err := g.factorize()
	if err != nil {
		return nil, nil, err
	}
	alpha, err := g.weights(factor)
	if err != nil {
		return nil, nil, err
	}
	cross, err := cov.Cross(xTest, g.xTrain, b, g.hyp)
	if err != nil {
		return nil, nil, err
	}
	meanGrid := tile.NewGrid(mt, 1, b, 1)
	if err := tiled.Predict(g.pool, cross, alpha, meanGrid); err != nil {
		return nil, nil, err
	}

	// tCC = L⁻¹ K_cross(train, test); its column sums of squares are the
	// variance reductions.
	tcc, err := cov.Cross(g.xTrain, xTest, b, g.hyp)
	if err != nil {
		return nil, nil, err
	}
	if err := tiled.ForwardSolveMatrix(g.pool, factor, tcc); err != nil {
		return nil, nil, err
	}
	acc := tile.NewGrid(mt, 1, b, 1)
	if err := tiled.PosteriorCovariance(g.pool, tcc, acc); err != nil {
		return nil, nil, err
	}
	prior, err := cov.Prior(xTest, b, g.hyp)
	if err != nil {
		return nil, nil, err
	}
	varGrid := tile.NewGrid(mt, 1, b, 1)
	if err := tiled.Uncertainty(g.pool, prior, acc, varGrid); err != nil {
		return nil, nil, err
	}

	if err := meanGrid.Wait(); err != nil {
		return nil, nil, err
	}
	if err := varGrid.Wait(); err != nil {
		return nil, nil, err
	}
	if err := g.be.Gather(meanGrid); err != nil {
		return nil, nil, err
	}
	if err := g.be.Gather(varGrid); err != nil {
		return nil, nil, err
	}
	return meanGrid.Assemble(), varGrid.Assemble(), nil
}

// PosteriorCovariance returns the full M×M posterior covariance at the test
// inputs, flattened row-major. The cross covariance is pushed through the
// two transposed-system solves so K⁻¹ is never formed.
func (g *GP) PosteriorCovariance(xTest []float64) ([]float64, error) {
	if _, err := g.checkTest(xTest); err != nil {
		return nil, err
	}
	b := g.cfg.TileSize
	factor, err := g.factorize()
	if err != nil {
		return nil, err
	}
	cross, err := cov.Cross(xTest, g.xTrain, b, g.hyp)
	if err != nil {
		return nil, err
	}
	if err := cross.Wait(); err != nil {
		return nil, err
	}

	// cc = K_cross K⁻¹ in place; the untouched cross grid stays behind
	// for the final product.
	cc := cross.Clone()
	if err := tiled.ForwardSolveKK(g.pool, factor, cc); err != nil {
		return nil, err
	}
	if err := tiled.BackwardSolveKK(g.pool, factor, cc); err != nil {
		return nil, err
	}
	prior, err := cov.Prior(xTest, b, g.hyp)
	if err != nil {
		return nil, err
	}
	if err := tiled.FullCovariance(g.pool, cc, cross, prior); err != nil {
		return nil, err
	}
	if err := prior.Wait(); err != nil {
		return nil, err
	}
	if err := g.be.Gather(prior); err != nil {
		return nil, err
	}
	return prior.Assemble(), nil
}

// Factorize is the flat-matrix entry point to the tiled Cholesky: it
// factors the SPD matrix a (n×n, row-major) with tile size b and returns
// the lower factor with the strict upper triangle zeroed.
func (g *GP) Factorize(a []float64, n int) ([]float64, error) {
	grid, err := tile.Partition(a, n, g.cfg.TileSize)
	if err != nil {
		return nil, err
	}
	if err := tiled.Cholesky(g.pool, grid); err != nil {
		return nil, err
	}
	if err := grid.Wait(); err != nil {
		return nil, err
	}
	if err := g.be.Gather(grid); err != nil {
		return nil, err
	}
	out := grid.Assemble()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out[i*n+j] = 0
		}
	}
	return out, nil
}

// SolveSPD solves A x = rhs for an SPD matrix a (n×n, row-major) through
// the tiled factorization and the pair of triangular solves.
func (g *GP) SolveSPD(a []float64, n int, rhs []float64) ([]float64, error) {
	grid, err := tile.Partition(a, n, g.cfg.TileSize)
	if err != nil {
		return nil, err
	}
	if err := tiled.Cholesky(g.pool, grid); err != nil {
		return nil, err
	}
	x, err := tile.PartitionVector(rhs, g.cfg.TileSize)
	if err != nil {
		return nil, err
	}
	if err := tiled.ForwardSolve(g.pool, grid, x); err != nil {
		return nil, err
	}
	if err := tiled.BackwardSolve(g.pool, grid, x); err != nil {
		return nil, err
	}
	if err := x.Wait(); err != nil {
		return nil, err
	}
	if err := g.be.Gather(x); err != nil {
		return nil, err
	}
	return x.Assemble(), nil
}

// RMSE is a convenience for scoring predictions against known targets.
func RMSE(pred, truth []float64) float64 {
	if len(pred) != len(truth) || len(pred) == 0 {
		return math.NaN()
	}
	var s float64
	for i := range pred {
		d := pred[i] - truth[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(pred)))
}
