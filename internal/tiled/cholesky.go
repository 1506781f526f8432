// Package tiled expresses the blocked linear-algebra algorithms as DAGs of
// tile kernel invocations. Each routine walks its loop nest issuing tasks to
// the executor and wiring dependencies through the grids' slot tokens; it
// returns once everything is issued. Numeric failures (a non-positive pivot,
// a device fault) surface when the caller waits on the output grid: a failed
// task poisons every invocation downstream of it.
//
// Geometry is validated up front, before any kernel is scheduled.
package tiled

import (
	"fmt"

	"github.com/samcharles93/trellis/internal/executor"
	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/tile"
)

// Cholesky overwrites the lower triangle of a with its blocked Cholesky
// factor, right-looking variant. The outer stage over k is strictly
// sequential; the panel solves and trailing updates within a stage are
// mutually independent and run as wide as the pool allows.
func Cholesky(p *executor.Pool, a *tile.Grid) error {
	nt, mt, tr, tc := a.Shape()
	if nt != mt || tr != tc {
		return fmt.Errorf("cholesky: %w: grid %dx%d, tile %dx%d", tile.ErrDimension, nt, mt, tr, tc)
	}
	for k := 0; k < nt; k++ {
		lkk := a.Tile(k, k)
		a.SetToken(k, k, p.Schedule("potrf", func(ks kernel.Kernels) error {
			return ks.Potrf(lkk)
		}, a.Token(k, k)))

		for m := k + 1; m < nt; m++ {
			amk := a.Tile(m, k)
			a.SetToken(m, k, p.Schedule("trsm", func(ks kernel.Kernels) error {
				return ks.Trsm(kernel.Right, kernel.Trans, lkk, amk)
			}, a.Token(k, k), a.Token(m, k)))
		}
		for m := k + 1; m < nt; m++ {
			amk, amm := a.Tile(m, k), a.Tile(m, m)
			a.SetToken(m, m, p.Schedule("syrk", func(ks kernel.Kernels) error {
				return ks.Syrk(amk, amm)
			}, a.Token(m, k), a.Token(m, m)))
			for n := k + 1; n < m; n++ {
				ank, amn := a.Tile(n, k), a.Tile(m, n)
				a.SetToken(m, n, p.Schedule("gemm", func(ks kernel.Kernels) error {
					return ks.Gemm(kernel.NoTrans, kernel.Trans, -1, amk, ank, amn)
				}, a.Token(m, k), a.Token(n, k), a.Token(m, n)))
			}
		}
	}
	return nil
}
