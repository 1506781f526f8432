package tiled

import (
	"math"
	"math/rand"
	"testing"

	"github.com/samcharles93/trellis/internal/executor"
	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/kernel/cpu"
	"github.com/samcharles93/trellis/internal/tile"
)

func newPool(t *testing.T, lanes int) *executor.Pool {
	t.Helper()
	ks := make([]kernel.Kernels, lanes)
	for i := range ks {
		ks[i] = cpu.New()
	}
	p := executor.NewPool(ks)
	t.Cleanup(p.Close)
	return p
}

func randVec(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}

// randSPD builds M·Mᵗ + n·I flattened row-major.
func randSPD(n int, seed int64) []float64 {
	m := randVec(n*n, seed)
	a := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var s float64
			for k := 0; k < n; k++ {
				s += m[i*n+k] * m[j*n+k]
			}
			a[i*n+j] = s
		}
		a[i*n+i] += float64(n)
	}
	return a
}

func maxAbsDiff(a, b []float64) float64 {
	var maxAbs float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

// denseChol is the textbook lower Cholesky, used as the reference.
func denseChol(a []float64, n int) []float64 {
	l := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			s := a[i*n+j]
			for k := 0; k < j; k++ {
				s -= l[i*n+k] * l[j*n+k]
			}
			if i == j {
				l[i*n+i] = math.Sqrt(s)
			} else {
				l[i*n+j] = s / l[j*n+j]
			}
		}
	}
	return l
}

// denseSolveSPD solves A·x = b through the dense factor.
func denseSolveSPD(a, b []float64, n int) []float64 {
	l := denseChol(a, n)
	x := append([]float64(nil), b...)
	for i := 0; i < n; i++ {
		for k := 0; k < i; k++ {
			x[i] -= l[i*n+k] * x[k]
		}
		x[i] /= l[i*n+i]
	}
	for i := n - 1; i >= 0; i-- {
		for k := i + 1; k < n; k++ {
			x[i] -= l[k*n+i] * x[k]
		}
		x[i] /= l[i*n+i]
	}
	return x
}

// lowerPart zeroes the strict upper triangle of a flattened matrix.
func lowerPart(a []float64, n int) []float64 {
	out := append([]float64(nil), a...)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out[i*n+j] = 0
		}
	}
	return out
}

// matmulFlat multiplies rows×k by k×cols flattened matrices.
func matmulFlat(a, b []float64, rows, k, cols int) []float64 {
	c := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var s float64
			for m := 0; m < k; m++ {
				s += a[i*k+m] * b[m*cols+j]
			}
			c[i*cols+j] = s
		}
	}
	return c
}

func transposeFlat(a []float64, rows, cols int) []float64 {
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = a[i*cols+j]
		}
	}
	return out
}

// factorGrid partitions and factorizes an SPD matrix, failing the test on
// any scheduling error. The grid carries in-flight tokens; callers chain
// dependent work or wait.
func factorGrid(t *testing.T, p *executor.Pool, a []float64, n, b int) *tile.Grid {
	t.Helper()
	g, err := tile.Partition(a, n, b)
	if err != nil {
		t.Fatal(err)
	}
	if err := Cholesky(p, g); err != nil {
		t.Fatal(err)
	}
	return g
}
