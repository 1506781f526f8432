package tiled

import (
	"fmt"

	"github.com/samcharles93/trellis/internal/executor"
	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/tile"
)

// Predict accumulates out = out + cross·x, the tiled dense mat-vec behind
// the predictive mean: output tile k receives a contribution from every
// cross-covariance tile (k,m). Output tiles are independent of each other.
func Predict(p *executor.Pool, cross, x, out *tile.Grid) error {
	cr, cc, tr, tc := cross.Shape()
	if xr, xc, xtr, _ := x.Shape(); xr != cc || xc != 1 || xtr != tc {
		return fmt.Errorf("predict: %w: cross grid %dx%d, input grid %dx%d", tile.ErrDimension, cr, cc, xr, xc)
	}
	if or, oc, otr, _ := out.Shape(); or != cr || oc != 1 || otr != tr {
		return fmt.Errorf("predict: %w: cross grid %dx%d, output grid %dx%d", tile.ErrDimension, cr, cc, or, oc)
	}
	for k := 0; k < cr; k++ {
		outK := out.Tile(k, 0)
		for m := 0; m < cc; m++ {
			ckm, xm := cross.Tile(k, m), x.Tile(m, 0)
			out.SetToken(k, 0, p.Schedule("gemv", func(ks kernel.Kernels) error {
				return ks.Gemv(kernel.NoTrans, 1, ckm, xm, outK)
			}, cross.Token(k, m), x.Token(m, 0), out.Token(k, 0)))
		}
	}
	return nil
}

// PosteriorCovariance accumulates acc_i += diag(tcc(m,i)ᵗ·tcc(m,i)) across
// the shared inner dimension, yielding the K_*·K⁻¹·K_*ᵗ diagonal per output
// tile. tcc holds L⁻¹·K_*ᵗ in an n_tiles×m_tiles grid.
func PosteriorCovariance(p *executor.Pool, tcc, acc *tile.Grid) error {
	nr, mc, _, tc := tcc.Shape()
	if ar, ac, atr, atc := acc.Shape(); ar != mc || ac != 1 || atr != tc || atc != 1 {
		return fmt.Errorf("posterior_covariance: %w: tcc grid %dx%d, acc grid %dx%d", tile.ErrDimension, nr, mc, ar, ac)
	}
	for i := 0; i < mc; i++ {
		accI := acc.Tile(i, 0)
		for m := 0; m < nr; m++ {
			tmi := tcc.Tile(m, i)
			acc.SetToken(i, 0, p.Schedule("diag_syrk", func(ks kernel.Kernels) error {
				return ks.DiagSyrk(tmi, accI)
			}, tcc.Token(m, i), acc.Token(i, 0)))
		}
	}
	return nil
}

// FullCovariance subtracts the cross-product term from the prior test
// covariance: prior(i,j) -= Σ_m cc(i,m)·cross(j,m)ᵗ, where cc already holds
// K_*·K⁻¹ (the output of the KK solves). On return (once waited), prior is
// the full posterior covariance over the test points.
func FullCovariance(p *executor.Pool, cc, cross, prior *tile.Grid) error {
	mr, nc, _, _ := cc.Shape()
	if xr, xc, _, _ := cross.Shape(); xr != mr || xc != nc {
		return fmt.Errorf("full_covariance: %w: cc grid %dx%d, cross grid %dx%d", tile.ErrDimension, mr, nc, xr, xc)
	}
	if pr, pc, _, _ := prior.Shape(); pr != mr || pc != mr {
		return fmt.Errorf("full_covariance: %w: cc grid %dx%d, prior grid %dx%d", tile.ErrDimension, mr, nc, pr, pc)
	}
	for i := 0; i < mr; i++ {
		for j := 0; j < mr; j++ {
			pij := prior.Tile(i, j)
			for m := 0; m < nc; m++ {
				cim, xjm := cc.Tile(i, m), cross.Tile(j, m)
				prior.SetToken(i, j, p.Schedule("gemm", func(ks kernel.Kernels) error {
					return ks.Gemm(kernel.NoTrans, kernel.Trans, -1, cim, xjm, pij)
				}, cc.Token(i, m), cross.Token(j, m), prior.Token(i, j)))
			}
		}
	}
	return nil
}

// Uncertainty extracts the predictive variance per output tile:
// out_i = diag(prior(i,i)) − acc_i.
func Uncertainty(p *executor.Pool, prior, acc, out *tile.Grid) error {
	pr, pc, _, _ := prior.Shape()
	ar, _, _, _ := acc.Shape()
	if or, _, _, _ := out.Shape(); pr != pc || ar != pr || or != pr {
		return fmt.Errorf("uncertainty: %w: prior grid %dx%d, acc rows %d, out rows %d", tile.ErrDimension, pr, pc, ar, or)
	}
	for i := 0; i < pr; i++ {
		pii, accI, outI := prior.Tile(i, i), acc.Tile(i, 0), out.Tile(i, 0)
		out.SetToken(i, 0, p.Schedule("variance", func(ks kernel.Kernels) error {
			return ks.Variance(pii, accI, outI)
		}, prior.Token(i, i), acc.Token(i, 0), out.Token(i, 0)))
	}
	return nil
}
