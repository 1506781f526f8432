// Package cov assembles covariance tile grids from one-dimensional inputs
// under the squared exponential kernel
//
//	k(x, x') = v·exp(−(x−x')² / (2·l²))  (+ σ² on the training diagonal)
//
// with lengthscale l, vertical scale v and noise variance σ². The same
// kernel's analytic derivatives with respect to l and v are assembled into
// gradient grids consumed by the tiled gradient-trace path.
package cov

import (
	"fmt"
	"math"

	"github.com/samcharles93/trellis/internal/optimize"
	"github.com/samcharles93/trellis/internal/tile"
)

func sek(xi, xj float64, h optimize.Hyperparams) float64 {
	d := xi - xj
	return h.Vertical * math.Exp(-d*d/(2*h.Lengthscale*h.Lengthscale))
}

func fill(g *tile.Grid, xr, xc []float64, f func(xi, xj float64) float64) {
	rows, cols, tr, tc := g.Shape()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			t := g.Tile(i, j)
			for r := 0; r < tr; r++ {
				for c := 0; c < tc; c++ {
					t.Set(r, c, f(xr[i*tr+r], xc[j*tc+c]))
				}
			}
		}
	}
}

func checkInput(op string, n, b int) error {
	if b <= 0 || n <= 0 || n%b != 0 {
		return fmt.Errorf("%s: %w: %d points, tile size %d", op, tile.ErrDimension, n, b)
	}
	return nil
}

// Matrix builds the training covariance grid K(x, x) with the noise
// variance added on the diagonal.
func Matrix(x []float64, b int, h optimize.Hyperparams) (*tile.Grid, error) {
	if err := checkInput("cov", len(x), b); err != nil {
		return nil, err
	}
	g := tile.NewGrid(len(x)/b, len(x)/b, b, b)
	fill(g, x, x, func(xi, xj float64) float64 { return sek(xi, xj, h) })
	nt, _, _, _ := g.Shape()
	for k := 0; k < nt; k++ {
		t := g.Tile(k, k)
		for i := 0; i < b; i++ {
			t.Set(i, i, t.At(i, i)+h.Noise)
		}
	}
	return g, nil
}

// Cross builds the noise-free cross-covariance grid K(xr, xc), one grid row
// per tile of xr and one grid column per tile of xc. Both sides use the
// same tile size.
func Cross(xr, xc []float64, b int, h optimize.Hyperparams) (*tile.Grid, error) {
	if err := checkInput("cross", len(xr), b); err != nil {
		return nil, err
	}
	if err := checkInput("cross", len(xc), b); err != nil {
		return nil, err
	}
	g := tile.NewGrid(len(xr)/b, len(xc)/b, b, b)
	fill(g, xr, xc, func(xi, xj float64) float64 { return sek(xi, xj, h) })
	return g, nil
}

// Prior builds the noise-free prior covariance grid over the test points,
// whose diagonal blocks feed the predictive variance.
func Prior(x []float64, b int, h optimize.Hyperparams) (*tile.Grid, error) {
	if err := checkInput("prior", len(x), b); err != nil {
		return nil, err
	}
	g := tile.NewGrid(len(x)/b, len(x)/b, b, b)
	fill(g, x, x, func(xi, xj float64) float64 { return sek(xi, xj, h) })
	return g, nil
}

// GradLengthscale builds ∂K/∂l = k(x,x')·d²/l³.
func GradLengthscale(x []float64, b int, h optimize.Hyperparams) (*tile.Grid, error) {
	if err := checkInput("grad_lengthscale", len(x), b); err != nil {
		return nil, err
	}
	l3 := h.Lengthscale * h.Lengthscale * h.Lengthscale
	g := tile.NewGrid(len(x)/b, len(x)/b, b, b)
	fill(g, x, x, func(xi, xj float64) float64 {
		d := xi - xj
		return sek(xi, xj, h) * d * d / l3
	})
	return g, nil
}

// GradVertical builds ∂K/∂v = k(x,x')/v.
func GradVertical(x []float64, b int, h optimize.Hyperparams) (*tile.Grid, error) {
	if err := checkInput("grad_vertical", len(x), b); err != nil {
		return nil, err
	}
	g := tile.NewGrid(len(x)/b, len(x)/b, b, b)
	fill(g, x, x, func(xi, xj float64) float64 {
		return sek(xi, xj, h) / h.Vertical
	})
	return g, nil
}
