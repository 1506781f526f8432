package tiled

import (
	"fmt"

	"github.com/samcharles93/trellis/internal/executor"
	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/tile"
)

// OuterUpdate applies w(i,j) -= v1_i·v2_jᵗ across the whole grid. With
// w = K⁻¹ and v1 = v2 = α this leaves K⁻¹ − α·αᵗ, the weight matrix of the
// kernel-hyperparameter gradients.
func OuterUpdate(p *executor.Pool, w, v1, v2 *tile.Grid) error {
	nr, nc, _, _ := w.Shape()
	if r1, _, _, _ := v1.Shape(); r1 != nr {
		return fmt.Errorf("outer_update: %w: w grid %dx%d, v1 rows %d", tile.ErrDimension, nr, nc, r1)
	}
	if r2, _, _, _ := v2.Shape(); r2 != nc {
		return fmt.Errorf("outer_update: %w: w grid %dx%d, v2 rows %d", tile.ErrDimension, nr, nc, r2)
	}
	for i := 0; i < nr; i++ {
		for j := 0; j < nc; j++ {
			wij, xi, yj := w.Tile(i, j), v1.Tile(i, 0), v2.Tile(j, 0)
			w.SetToken(i, j, p.Schedule("ger", func(ks kernel.Kernels) error {
				return ks.Ger(wij, xi, yj)
			}, w.Token(i, j), v1.Token(i, 0), v2.Token(j, 0)))
		}
	}
	return nil
}

// GradientTrace computes g = ½·tr(W·D)/N through tiled GEMM diagonals:
// zero-initialised diagonal accumulators collect diag(w(i,j)·d(j,i)), then a
// reduction sums them into the scalar gradient. W is K⁻¹ − α·αᵗ and D the
// covariance derivative with respect to one hyperparameter.
func GradientTrace(p *executor.Pool, w, d *tile.Grid) (*float64, *tile.Token, error) {
	nt, nc, b, tc := w.Shape()
	if nt != nc || b != tc {
		return nil, nil, fmt.Errorf("gradient_trace: %w: w grid %dx%d", tile.ErrDimension, nt, nc)
	}
	if dr, dc, dtr, dtc := d.Shape(); dr != nt || dc != nt || dtr != b || dtc != b {
		return nil, nil, fmt.Errorf("gradient_trace: %w: d grid %dx%d", tile.ErrDimension, dr, dc)
	}

	acc := tile.NewGrid(nt, 1, b, 1)
	for i := 0; i < nt; i++ {
		accI := acc.Tile(i, 0)
		for j := 0; j < nt; j++ {
			wij, dji := w.Tile(i, j), d.Tile(j, i)
			acc.SetToken(i, 0, p.Schedule("diag_gemm", func(ks kernel.Kernels) error {
				return ks.DiagGemm(wij, dji, accI)
			}, w.Token(i, j), d.Token(j, i), acc.Token(i, 0)))
		}
	}

	deps := make([]*tile.Token, nt)
	for i := 0; i < nt; i++ {
		deps[i] = acc.Token(i, 0)
	}
	n := float64(nt * b)
	out := new(float64)
	tok := p.Schedule("gradient_sum", func(kernel.Kernels) error {
		var sum float64
		for i := 0; i < nt; i++ {
			for _, v := range acc.Tile(i, 0).Data {
				sum += v
			}
		}
		*out = 0.5 * sum / n
		return nil
	}, deps...)
	return out, tok, nil
}

// NoiseGradient computes the closed-form noise-variance gradient
// g = ½·(tr(K⁻¹) − αᵗα)/N from the inverse tiles directly; the covariance
// derivative with respect to the noise variance is the identity.
func NoiseGradient(p *executor.Pool, invK, alpha *tile.Grid) (*float64, *tile.Token, error) {
	nt, nc, b, tc := invK.Shape()
	if nt != nc || b != tc {
		return nil, nil, fmt.Errorf("noise_gradient: %w: invK grid %dx%d", tile.ErrDimension, nt, nc)
	}
	if ar, _, atr, _ := alpha.Shape(); ar != nt || atr != b {
		return nil, nil, fmt.Errorf("noise_gradient: %w: alpha rows %d", tile.ErrDimension, ar)
	}

	traces := make([]float64, nt)
	fits := make([]float64, nt)
	deps := make([]*tile.Token, 0, 2*nt)
	for k := 0; k < nt; k++ {
		dkk := invK.Tile(k, k)
		deps = append(deps, p.Schedule("trace", func(ks kernel.Kernels) error {
			v, err := ks.Trace(dkk)
			if err != nil {
				return err
			}
			traces[k] = v
			return nil
		}, invK.Token(k, k)))
		ak := alpha.Tile(k, 0)
		deps = append(deps, p.Schedule("dot", func(ks kernel.Kernels) error {
			v, err := ks.Dot(ak, ak)
			if err != nil {
				return err
			}
			fits[k] = v
			return nil
		}, alpha.Token(k, 0)))
	}

	n := float64(nt * b)
	out := new(float64)
	tok := p.Schedule("noise_gradient_sum", func(kernel.Kernels) error {
		var sum float64
		for k := 0; k < nt; k++ {
			sum += traces[k] - fits[k]
		}
		*out = 0.5 * sum / n
		return nil
	}, deps...)
	return out, tok, nil
}
