// Package optimize owns the tunable hyperparameters of the squared
// exponential covariance function and the Adam state used to update them.
// Updates run in log space so gradient steps cannot leave the positive
// domain; each hyperparameter keeps fully independent moment estimates.
package optimize

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidParam is returned for a hyperparameter index outside
	// {ParamLengthscale, ParamVertical, ParamNoise}.
	ErrInvalidParam = errors.New("optimize: invalid hyperparameter index")

	// ErrConfig is returned when an Adam configuration value is outside
	// its valid range.
	ErrConfig = errors.New("optimize: invalid adam configuration")
)

// Hyperparameter indices, matching the gradient order produced by the tiled
// gradient kernels.
const (
	ParamLengthscale = iota
	ParamVertical
	ParamNoise
	NumParams
)

// Hyperparams is the tunable triple of the covariance function. All three
// are constrained to stay strictly positive.
type Hyperparams struct {
	Lengthscale float64
	Vertical    float64
	Noise       float64
}

// Validate checks the positivity constraints.
func (h Hyperparams) Validate() error {
	if h.Lengthscale <= 0 || h.Vertical <= 0 || h.Noise <= 0 {
		return fmt.Errorf("%w: hyperparameters must be positive, got %+v", ErrConfig, h)
	}
	return nil
}

func (h *Hyperparams) at(idx int) *float64 {
	switch idx {
	case ParamLengthscale:
		return &h.Lengthscale
	case ParamVertical:
		return &h.Vertical
	case ParamNoise:
		return &h.Noise
	}
	return nil
}

// AdamConfig holds the fixed scheduling scalars of the update rule.
type AdamConfig struct {
	LearnRate float64
	Beta1     float64
	Beta2     float64
	Epsilon   float64
}

// DefaultAdam returns the conventional Adam constants with the step size
// used for covariance hyperparameter tuning.
func DefaultAdam() AdamConfig {
	return AdamConfig{LearnRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

// Adam carries the per-hyperparameter first and second moment estimates and
// the β-power accumulators. State spans a whole training run; it is reset
// only by constructing a new value.
type Adam struct {
	cfg      AdamConfig
	m        [NumParams]float64
	v        [NumParams]float64
	beta1Pow [NumParams]float64
	beta2Pow [NumParams]float64
}

// NewAdam validates the configuration and returns fresh optimizer state.
func NewAdam(cfg AdamConfig) (*Adam, error) {
	if cfg.LearnRate <= 0 {
		return nil, fmt.Errorf("%w: learn rate %g", ErrConfig, cfg.LearnRate)
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 || cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return nil, fmt.Errorf("%w: betas (%g, %g) must lie in [0, 1)", ErrConfig, cfg.Beta1, cfg.Beta2)
	}
	if cfg.Epsilon <= 0 {
		return nil, fmt.Errorf("%w: epsilon %g", ErrConfig, cfg.Epsilon)
	}
	a := &Adam{cfg: cfg}
	for i := range a.beta1Pow {
		a.beta1Pow[i] = 1
		a.beta2Pow[i] = 1
	}
	return a, nil
}

// Step applies one bias-corrected Adam update to hyperparameter idx given
// the gradient of the loss with respect to the constrained parameter. The
// parameter is moved to log space (with the chain-rule factor θ applied to
// the gradient), updated, and mapped back, so it remains strictly positive.
func (a *Adam) Step(h *Hyperparams, idx int, grad float64) error {
	p := h.at(idx)
	if p == nil {
		return fmt.Errorf("%w: %d", ErrInvalidParam, idx)
	}
	if !isFinite(grad) {
		return fmt.Errorf("%w: non-finite gradient %g for parameter %d", ErrConfig, grad, idx)
	}

	theta := *p
	u := math.Log(theta)
	g := grad * theta // d(loss)/d(log θ)

	a.beta1Pow[idx] *= a.cfg.Beta1
	a.beta2Pow[idx] *= a.cfg.Beta2
	a.m[idx] = a.cfg.Beta1*a.m[idx] + (1-a.cfg.Beta1)*g
	a.v[idx] = a.cfg.Beta2*a.v[idx] + (1-a.cfg.Beta2)*g*g

	mhat := a.m[idx] / (1 - a.beta1Pow[idx])
	vhat := a.v[idx] / (1 - a.beta2Pow[idx])
	if vhat < 0 {
		vhat = 0
	}

	u -= a.cfg.LearnRate * mhat / (math.Sqrt(vhat) + a.cfg.Epsilon)
	*p = math.Exp(u)
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
