package tiled

import (
	"math"
	"testing"

	"github.com/samcharles93/trellis/internal/cov"
	"github.com/samcharles93/trellis/internal/executor"
	"github.com/samcharles93/trellis/internal/optimize"
	"github.com/samcharles93/trellis/internal/tile"
)

func TestOuterUpdateSubtractsOuterProduct(t *testing.T) {
	const n, b = 6, 2
	w0 := randSPD(n, 20)
	v := randVec(n, 21)

	p := newPool(t, 4)
	w, err := tile.Partition(w0, n, b)
	if err != nil {
		t.Fatal(err)
	}
	vg, err := tile.PartitionVector(v, b)
	if err != nil {
		t.Fatal(err)
	}
	if err := OuterUpdate(p, w, vg, vg); err != nil {
		t.Fatal(err)
	}
	if err := w.Wait(); err != nil {
		t.Fatal(err)
	}

	got := w.Assemble()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			want := w0[i*n+j] - v[i]*v[j]
			if d := math.Abs(got[i*n+j] - want); d > 1e-12 {
				t.Fatalf("(%d,%d): got %g, want %g", i, j, got[i*n+j], want)
			}
		}
	}
}

func TestGradientTraceMatchesDense(t *testing.T) {
	const n, b = 6, 2
	wf := randVec(n*n, 22)
	df := randVec(n*n, 23)

	p := newPool(t, 4)
	w, err := tile.Partition(wf, n, b)
	if err != nil {
		t.Fatal(err)
	}
	d, err := tile.Partition(df, n, b)
	if err != nil {
		t.Fatal(err)
	}
	got, tok, err := GradientTrace(p, w, d)
	if err != nil {
		t.Fatal(err)
	}
	if err := tok.Wait(); err != nil {
		t.Fatal(err)
	}

	prod := matmulFlat(wf, df, n, n, n)
	var trace float64
	for i := 0; i < n; i++ {
		trace += prod[i*n+i]
	}
	want := 0.5 * trace / float64(n)
	if diff := math.Abs(*got - want); diff > 1e-12 {
		t.Fatalf("got %g, want %g", *got, want)
	}
}

func TestNoiseGradientMatchesDense(t *testing.T) {
	const n, b = 6, 3
	invF := randSPD(n, 24)
	alphaF := randVec(n, 25)

	p := newPool(t, 2)
	invK, err := tile.Partition(invF, n, b)
	if err != nil {
		t.Fatal(err)
	}
	alpha, err := tile.PartitionVector(alphaF, b)
	if err != nil {
		t.Fatal(err)
	}
	got, tok, err := NoiseGradient(p, invK, alpha)
	if err != nil {
		t.Fatal(err)
	}
	if err := tok.Wait(); err != nil {
		t.Fatal(err)
	}

	var trace, fit float64
	for i := 0; i < n; i++ {
		trace += invF[i*n+i]
		fit += alphaF[i] * alphaF[i]
	}
	want := 0.5 * (trace - fit) / float64(n)
	if diff := math.Abs(*got - want); diff > 1e-12 {
		t.Fatalf("got %g, want %g", *got, want)
	}
}

// lossAt evaluates the objective at the given hyperparameters through the
// tiled pipeline.
func lossAt(t *testing.T, p *executor.Pool, x, y []float64, b int, h optimize.Hyperparams) float64 {
	t.Helper()
	k, err := cov.Matrix(x, b, h)
	if err != nil {
		t.Fatal(err)
	}
	if err := Cholesky(p, k); err != nil {
		t.Fatal(err)
	}
	alpha, err := tile.PartitionVector(y, b)
	if err != nil {
		t.Fatal(err)
	}
	if err := ForwardSolve(p, k, alpha); err != nil {
		t.Fatal(err)
	}
	if err := BackwardSolve(p, k, alpha); err != nil {
		t.Fatal(err)
	}
	yg, err := tile.PartitionVector(y, b)
	if err != nil {
		t.Fatal(err)
	}
	loss, tok, err := Loss(p, k, alpha, yg)
	if err != nil {
		t.Fatal(err)
	}
	if err := tok.Wait(); err != nil {
		t.Fatal(err)
	}
	return *loss
}

func TestGradientsMatchFiniteDifference(t *testing.T) {
	const n, b = 6, 2
	x := randVec(n, 26)
	y := randVec(n, 27)
	h := optimize.Hyperparams{Lengthscale: 1.2, Vertical: 0.8, Noise: 0.3}

	p := newPool(t, 4)

	// Analytic gradients through the full pipeline.
	k, err := cov.Matrix(x, b, h)
	if err != nil {
		t.Fatal(err)
	}
	if err := Cholesky(p, k); err != nil {
		t.Fatal(err)
	}
	alpha, err := tile.PartitionVector(y, b)
	if err != nil {
		t.Fatal(err)
	}
	if err := ForwardSolve(p, k, alpha); err != nil {
		t.Fatal(err)
	}
	if err := BackwardSolve(p, k, alpha); err != nil {
		t.Fatal(err)
	}
	invK := tile.Identity(n/b, b)
	if err := ForwardSolveMatrix(p, k, invK); err != nil {
		t.Fatal(err)
	}
	if err := BackwardSolveMatrix(p, k, invK); err != nil {
		t.Fatal(err)
	}
	if err := invK.Wait(); err != nil {
		t.Fatal(err)
	}
	if err := alpha.Wait(); err != nil {
		t.Fatal(err)
	}
	w := invK.Clone()
	if err := OuterUpdate(p, w, alpha, alpha); err != nil {
		t.Fatal(err)
	}
	dl, err := cov.GradLengthscale(x, b, h)
	if err != nil {
		t.Fatal(err)
	}
	dv, err := cov.GradVertical(x, b, h)
	if err != nil {
		t.Fatal(err)
	}
	gl, glTok, err := GradientTrace(p, w, dl)
	if err != nil {
		t.Fatal(err)
	}
	gv, gvTok, err := GradientTrace(p, w, dv)
	if err != nil {
		t.Fatal(err)
	}
	gn, gnTok, err := NoiseGradient(p, invK, alpha)
	if err != nil {
		t.Fatal(err)
	}
	if err := tile.WaitAll(glTok, gvTok, gnTok); err != nil {
		t.Fatal(err)
	}

	const eps = 1e-5
	fd := func(perturb func(optimize.Hyperparams, float64) optimize.Hyperparams) float64 {
		up := lossAt(t, p, x, y, b, perturb(h, eps))
		down := lossAt(t, p, x, y, b, perturb(h, -eps))
		return (up - down) / (2 * eps)
	}

	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"lengthscale", *gl, fd(func(h optimize.Hyperparams, e float64) optimize.Hyperparams {
			h.Lengthscale += e
			return h
		})},
		{"vertical", *gv, fd(func(h optimize.Hyperparams, e float64) optimize.Hyperparams {
			h.Vertical += e
			return h
		})},
		{"noise", *gn, fd(func(h optimize.Hyperparams, e float64) optimize.Hyperparams {
			h.Noise += e
			return h
		})},
	}
	for _, tc := range cases {
		if d := math.Abs(tc.got - tc.want); d > 1e-4 {
			t.Errorf("%s: analytic %g, finite difference %g", tc.name, tc.got, tc.want)
		}
	}
}
