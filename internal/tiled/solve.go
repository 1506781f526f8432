package tiled

import (
	"fmt"

	"github.com/samcharles93/trellis/internal/executor"
	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/tile"
)

func checkFactor(op string, l *tile.Grid) (nt, b int, err error) {
	nt, mt, tr, tc := l.Shape()
	if nt != mt || tr != tc {
		return 0, 0, fmt.Errorf("%s: %w: factor grid %dx%d, tile %dx%d", op, tile.ErrDimension, nt, mt, tr, tc)
	}
	return nt, tr, nil
}

// ForwardSolve solves L·x = b in place on the column grid b (block forward
// substitution). Strictly sequential top to bottom by construction.
func ForwardSolve(p *executor.Pool, l, b *tile.Grid) error {
	nt, tb, err := checkFactor("forward_solve", l)
	if err != nil {
		return err
	}
	if br, bc, tr, tc := b.Shape(); br != nt || bc != 1 || tr != tb || tc != 1 {
		return fmt.Errorf("forward_solve: %w: rhs grid %dx%d, tile %dx%d", tile.ErrDimension, br, bc, tr, tc)
	}
	for k := 0; k < nt; k++ {
		lkk, xk := l.Tile(k, k), b.Tile(k, 0)
		b.SetToken(k, 0, p.Schedule("trsv", func(ks kernel.Kernels) error {
			return ks.Trsv(kernel.NoTrans, lkk, xk)
		}, l.Token(k, k), b.Token(k, 0)))
		for m := k + 1; m < nt; m++ {
			lmk, xm := l.Tile(m, k), b.Tile(m, 0)
			b.SetToken(m, 0, p.Schedule("gemv", func(ks kernel.Kernels) error {
				return ks.Gemv(kernel.NoTrans, -1, lmk, xk, xm)
			}, l.Token(m, k), b.Token(k, 0), b.Token(m, 0)))
		}
	}
	return nil
}

// BackwardSolve solves Lᵗ·x = b in place on the column grid b. The factor
// stays in lower-triangular storage; tile (k,m) with m<k supplies the
// transposed coefficient block.
func BackwardSolve(p *executor.Pool, l, b *tile.Grid) error {
	nt, tb, err := checkFactor("backward_solve", l)
	if err != nil {
		return err
	}
	if br, bc, tr, tc := b.Shape(); br != nt || bc != 1 || tr != tb || tc != 1 {
		return fmt.Errorf("backward_solve: %w: rhs grid %dx%d, tile %dx%d", tile.ErrDimension, br, bc, tr, tc)
	}
	for k := nt - 1; k >= 0; k-- {
		lkk, xk := l.Tile(k, k), b.Tile(k, 0)
		b.SetToken(k, 0, p.Schedule("trsv", func(ks kernel.Kernels) error {
			return ks.Trsv(kernel.Trans, lkk, xk)
		}, l.Token(k, k), b.Token(k, 0)))
		for m := k - 1; m >= 0; m-- {
			lkm, xm := l.Tile(k, m), b.Tile(m, 0)
			b.SetToken(m, 0, p.Schedule("gemv", func(ks kernel.Kernels) error {
				return ks.Gemv(kernel.Trans, -1, lkm, xk, xm)
			}, l.Token(k, m), b.Token(k, 0), b.Token(m, 0)))
		}
	}
	return nil
}

// ForwardSolveMatrix solves L·X = B for a block right-hand side. Column
// blocks recur independently of each other and run in parallel.
func ForwardSolveMatrix(p *executor.Pool, l, b *tile.Grid) error {
	nt, tb, err := checkFactor("forward_solve_matrix", l)
	if err != nil {
		return err
	}
	br, bc, tr, _ := b.Shape()
	if br != nt || tr != tb {
		return fmt.Errorf("forward_solve_matrix: %w: rhs grid %dx%d, tile rows %d", tile.ErrDimension, br, bc, tr)
	}
	for c := 0; c < bc; c++ {
		for k := 0; k < nt; k++ {
			lkk, bkc := l.Tile(k, k), b.Tile(k, c)
			b.SetToken(k, c, p.Schedule("trsm", func(ks kernel.Kernels) error {
				return ks.Trsm(kernel.Left, kernel.NoTrans, lkk, bkc)
			}, l.Token(k, k), b.Token(k, c)))
			for m := k + 1; m < nt; m++ {
				lmk, bmc := l.Tile(m, k), b.Tile(m, c)
				b.SetToken(m, c, p.Schedule("gemm", func(ks kernel.Kernels) error {
					return ks.Gemm(kernel.NoTrans, kernel.NoTrans, -1, lmk, bkc, bmc)
				}, l.Token(m, k), b.Token(k, c), b.Token(m, c)))
			}
		}
	}
	return nil
}

// BackwardSolveMatrix solves Lᵗ·X = B for a block right-hand side.
func BackwardSolveMatrix(p *executor.Pool, l, b *tile.Grid) error {
	nt, tb, err := checkFactor("backward_solve_matrix", l)
	if err != nil {
		return err
	}
	br, bc, tr, _ := b.Shape()
	if br != nt || tr != tb {
		return fmt.Errorf("backward_solve_matrix: %w: rhs grid %dx%d, tile rows %d", tile.ErrDimension, br, bc, tr)
	}
	for c := 0; c < bc; c++ {
		for k := nt - 1; k >= 0; k-- {
			lkk, bkc := l.Tile(k, k), b.Tile(k, c)
			b.SetToken(k, c, p.Schedule("trsm", func(ks kernel.Kernels) error {
				return ks.Trsm(kernel.Left, kernel.Trans, lkk, bkc)
			}, l.Token(k, k), b.Token(k, c)))
			for m := k - 1; m >= 0; m-- {
				lkm, bmc := l.Tile(k, m), b.Tile(m, c)
				b.SetToken(m, c, p.Schedule("gemm", func(ks kernel.Kernels) error {
					return ks.Gemm(kernel.Trans, kernel.NoTrans, -1, lkm, bkc, bmc)
				}, l.Token(k, m), b.Token(k, c), b.Token(m, c)))
			}
		}
	}
	return nil
}

// ForwardSolveKK solves X·Lᵗ = B in place on b, where b holds row blocks of
// a wide right-hand side (one grid row per output row block). Together with
// BackwardSolveKK this computes B·K⁻¹ without ever forming K⁻¹: the unknown
// multiplies the factor from the right, so the loop nest runs over result
// rows outside and factor columns inside.
func ForwardSolveKK(p *executor.Pool, l, b *tile.Grid) error {
	nt, tb, err := checkFactor("forward_solve_kk", l)
	if err != nil {
		return err
	}
	br, bc, _, tc := b.Shape()
	if bc != nt || tc != tb {
		return fmt.Errorf("forward_solve_kk: %w: rhs grid %dx%d, tile cols %d", tile.ErrDimension, br, bc, tc)
	}
	for r := 0; r < br; r++ {
		for c := 0; c < nt; c++ {
			lcc, brc := l.Tile(c, c), b.Tile(r, c)
			b.SetToken(r, c, p.Schedule("trsm", func(ks kernel.Kernels) error {
				return ks.Trsm(kernel.Right, kernel.Trans, lcc, brc)
			}, l.Token(c, c), b.Token(r, c)))
			for m := c + 1; m < nt; m++ {
				lmc, brm := l.Tile(m, c), b.Tile(r, m)
				b.SetToken(r, m, p.Schedule("gemm", func(ks kernel.Kernels) error {
					return ks.Gemm(kernel.NoTrans, kernel.Trans, -1, brc, lmc, brm)
				}, l.Token(m, c), b.Token(r, c), b.Token(r, m)))
			}
		}
	}
	return nil
}

// BackwardSolveKK solves X·L = B in place on b, the mirror of
// ForwardSolveKK.
func BackwardSolveKK(p *executor.Pool, l, b *tile.Grid) error {
	nt, tb, err := checkFactor("backward_solve_kk", l)
	if err != nil {
		return err
	}
	br, bc, _, tc := b.Shape()
	if bc != nt || tc != tb {
		return fmt.Errorf("backward_solve_kk: %w: rhs grid %dx%d, tile cols %d", tile.ErrDimension, br, bc, tc)
	}
	for r := 0; r < br; r++ {
		for c := nt - 1; c >= 0; c-- {
			lcc, brc := l.Tile(c, c), b.Tile(r, c)
			b.SetToken(r, c, p.Schedule("trsm", func(ks kernel.Kernels) error {
				return ks.Trsm(kernel.Right, kernel.NoTrans, lcc, brc)
			}, l.Token(c, c), b.Token(r, c)))
			for m := c - 1; m >= 0; m-- {
				lcm, brm := l.Tile(c, m), b.Tile(r, m)
				b.SetToken(r, m, p.Schedule("gemm", func(ks kernel.Kernels) error {
					return ks.Gemm(kernel.NoTrans, kernel.NoTrans, -1, brc, lcm, brm)
				}, l.Token(c, m), b.Token(r, c), b.Token(r, m)))
			}
		}
	}
	return nil
}
