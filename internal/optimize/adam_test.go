package optimize

import (
	"errors"
	"math"
	"testing"
)

func TestHyperparamsValidate(t *testing.T) {
	ok := Hyperparams{Lengthscale: 1, Vertical: 1, Noise: 0.1}
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}
	bad := Hyperparams{Lengthscale: 0, Vertical: 1, Noise: 0.1}
	if err := bad.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v", err)
	}
	neg := Hyperparams{Lengthscale: 1, Vertical: 1, Noise: -1}
	if err := neg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v", err)
	}
}

func TestNewAdamRejectsBadConfig(t *testing.T) {
	cases := []AdamConfig{
		{LearnRate: 0, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8},
		{LearnRate: 0.1, Beta1: 1, Beta2: 0.999, Epsilon: 1e-8},
		{LearnRate: 0.1, Beta1: 0.9, Beta2: -0.1, Epsilon: 1e-8},
		{LearnRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 0},
	}
	for i, cfg := range cases {
		if _, err := NewAdam(cfg); !errors.Is(err, ErrConfig) {
			t.Fatalf("case %d: got %v", i, err)
		}
	}
}

func TestStepRejectsInvalidIndex(t *testing.T) {
	a, err := NewAdam(DefaultAdam())
	if err != nil {
		t.Fatal(err)
	}
	h := Hyperparams{Lengthscale: 1, Vertical: 1, Noise: 0.1}
	if err := a.Step(&h, NumParams, 0.1); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("got %v", err)
	}
	if err := a.Step(&h, -1, 0.1); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("got %v", err)
	}
}

func TestStepRejectsNonFiniteGradient(t *testing.T) {
	a, err := NewAdam(DefaultAdam())
	if err != nil {
		t.Fatal(err)
	}
	h := Hyperparams{Lengthscale: 1, Vertical: 1, Noise: 0.1}
	if err := a.Step(&h, ParamLengthscale, math.NaN()); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v", err)
	}
	if err := a.Step(&h, ParamLengthscale, math.Inf(1)); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v", err)
	}
}

func TestStepMatchesHandComputedUpdate(t *testing.T) {
	cfg := DefaultAdam()
	a, err := NewAdam(cfg)
	if err != nil {
		t.Fatal(err)
	}
	h := Hyperparams{Lengthscale: 2, Vertical: 1, Noise: 0.1}
	const grad = 0.5
	if err := a.Step(&h, ParamLengthscale, grad); err != nil {
		t.Fatal(err)
	}

	// Reference: first Adam step in log space.
	g := grad * 2.0
	m := (1 - cfg.Beta1) * g
	v := (1 - cfg.Beta2) * g * g
	mhat := m / (1 - cfg.Beta1)
	vhat := v / (1 - cfg.Beta2)
	want := math.Exp(math.Log(2.0) - cfg.LearnRate*mhat/(math.Sqrt(vhat)+cfg.Epsilon))

	if d := math.Abs(h.Lengthscale - want); d > 1e-14 {
		t.Fatalf("got %v, want %v", h.Lengthscale, want)
	}
}

func TestStepKeepsParametersPositive(t *testing.T) {
	a, err := NewAdam(DefaultAdam())
	if err != nil {
		t.Fatal(err)
	}
	h := Hyperparams{Lengthscale: 0.01, Vertical: 0.01, Noise: 0.01}
	for i := 0; i < 200; i++ {
		for idx := 0; idx < NumParams; idx++ {
			if err := a.Step(&h, idx, 10); err != nil {
				t.Fatal(err)
			}
		}
	}
	if h.Lengthscale <= 0 || h.Vertical <= 0 || h.Noise <= 0 {
		t.Fatalf("parameters left the positive domain: %+v", h)
	}
}

// Each parameter carries independent moment state, so updating them in a
// different order must give identical values.
func TestStepOrderInsensitiveAcrossParameters(t *testing.T) {
	grads := [NumParams]float64{0.3, -0.2, 0.1}

	run := func(order []int) Hyperparams {
		a, err := NewAdam(DefaultAdam())
		if err != nil {
			t.Fatal(err)
		}
		h := Hyperparams{Lengthscale: 1.5, Vertical: 0.9, Noise: 0.2}
		for step := 0; step < 5; step++ {
			for _, idx := range order {
				if err := a.Step(&h, idx, grads[idx]); err != nil {
					t.Fatal(err)
				}
			}
		}
		return h
	}

	fwd := run([]int{ParamLengthscale, ParamVertical, ParamNoise})
	rev := run([]int{ParamNoise, ParamVertical, ParamLengthscale})
	if fwd != rev {
		t.Fatalf("order changed the result: %+v vs %+v", fwd, rev)
	}
}

func TestStepDescendsOnConstantGradient(t *testing.T) {
	a, err := NewAdam(DefaultAdam())
	if err != nil {
		t.Fatal(err)
	}
	h := Hyperparams{Lengthscale: 1, Vertical: 1, Noise: 0.1}
	before := h.Lengthscale
	for i := 0; i < 10; i++ {
		if err := a.Step(&h, ParamLengthscale, 1); err != nil {
			t.Fatal(err)
		}
	}
	if h.Lengthscale >= before {
		t.Fatalf("positive gradient did not shrink the parameter: %g -> %g", before, h.Lengthscale)
	}
}
