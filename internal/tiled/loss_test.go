package tiled

import (
	"fmt"
	"math"
	"testing"

	"github.com/samcharles93/trellis/internal/tile"
)

// denseLoss is the unblocked negative log marginal likelihood.
func denseLoss(a, y []float64, n int) float64 {
	l := denseChol(a, n)
	alpha := denseSolveSPD(a, y, n)
	var logdet, fit float64
	for i := 0; i < n; i++ {
		logdet += math.Log(l[i*n+i])
		fit += alpha[i] * y[i]
	}
	nf := float64(n)
	return (logdet + 0.5*fit + 0.5*nf*math.Log(2*math.Pi)) / nf
}

func TestLossMatchesDense(t *testing.T) {
	const n = 6
	a := randSPD(n, 10)
	y := randVec(n, 11)
	want := denseLoss(a, y, n)

	for _, b := range []int{1, 2, 3, 6} {
		t.Run(fmt.Sprintf("tile_%d", b), func(t *testing.T) {
			p := newPool(t, 4)
			factor := factorGrid(t, p, a, n, b)
			alpha, err := tile.PartitionVector(y, b)
			if err != nil {
				t.Fatal(err)
			}
			if err := ForwardSolve(p, factor, alpha); err != nil {
				t.Fatal(err)
			}
			if err := BackwardSolve(p, factor, alpha); err != nil {
				t.Fatal(err)
			}
			yGrid, err := tile.PartitionVector(y, b)
			if err != nil {
				t.Fatal(err)
			}
			got, tok, err := Loss(p, factor, alpha, yGrid)
			if err != nil {
				t.Fatal(err)
			}
			if err := tok.Wait(); err != nil {
				t.Fatal(err)
			}
			if d := math.Abs(*got - want); d > 1e-8 {
				t.Fatalf("got %g, want %g (diff %g)", *got, want, d)
			}
		})
	}
}

func TestLossShapeMismatch(t *testing.T) {
	p := newPool(t, 1)
	factor := factorGrid(t, p, randSPD(4, 12), 4, 2)
	alpha, err := tile.PartitionVector(randVec(4, 13), 2)
	if err != nil {
		t.Fatal(err)
	}
	short, err := tile.PartitionVector(randVec(2, 14), 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Loss(p, factor, alpha, short); err == nil {
		t.Fatal("expected dimension error")
	}
}
