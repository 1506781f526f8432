// Package cpu implements the tile kernel set on the host using gonum's
// BLAS and LAPACK routines. The implementation is stateless and safe to
// share across executor lanes.
package cpu

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"

	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/tile"
)

// Kernels is the host BLAS implementation of kernel.Kernels.
type Kernels struct{}

// New returns the shared host kernel set.
func New() *Kernels {
	return &Kernels{}
}

func (*Kernels) Name() string { return "cpu" }

func general(t *tile.Tile) blas64.General {
	return blas64.General{
		Rows:   t.Rows,
		Cols:   t.Cols,
		Stride: t.Cols,
		Data:   t.Data,
	}
}

func lower(t *tile.Tile) blas64.Triangular {
	return blas64.Triangular{
		N:      t.Rows,
		Stride: t.Cols,
		Data:   t.Data,
		Uplo:   blas.Lower,
		Diag:   blas.NonUnit,
	}
}

func symmetric(t *tile.Tile) blas64.Symmetric {
	return blas64.Symmetric{
		N:      t.Rows,
		Stride: t.Cols,
		Data:   t.Data,
		Uplo:   blas.Lower,
	}
}

func column(t *tile.Tile) blas64.Vector {
	return blas64.Vector{
		N:    t.Rows,
		Inc:  1,
		Data: t.Data,
	}
}

func transpose(t kernel.Transpose) blas.Transpose {
	if t == kernel.Trans {
		return blas.Trans
	}
	return blas.NoTrans
}

// Potrf factorizes the tile in place, lower triangular. The strict upper
// triangle is left untouched; consumers read the factor through triangular
// kernels only.
func (*Kernels) Potrf(a *tile.Tile) error {
	if a.Rows != a.Cols {
		return fmt.Errorf("potrf: %w: %dx%d", kernel.ErrShape, a.Rows, a.Cols)
	}
	if _, ok := lapack64.Potrf(symmetric(a)); !ok {
		return fmt.Errorf("potrf: %w", kernel.ErrNotPositiveDefinite)
	}
	return nil
}

func (*Kernels) Trsm(side kernel.Side, trans kernel.Transpose, l, b *tile.Tile) error {
	if l.Rows != l.Cols {
		return fmt.Errorf("trsm: %w: factor %dx%d", kernel.ErrShape, l.Rows, l.Cols)
	}
	s := blas.Left
	want := b.Rows
	if side == kernel.Right {
		s = blas.Right
		want = b.Cols
	}
	if l.Rows != want {
		return fmt.Errorf("trsm: %w: factor %d, rhs %dx%d", kernel.ErrShape, l.Rows, b.Rows, b.Cols)
	}
	blas64.Trsm(s, transpose(trans), 1, lower(l), general(b))
	return nil
}

func (*Kernels) Syrk(a, c *tile.Tile) error {
	if c.Rows != c.Cols || a.Rows != c.Rows {
		return fmt.Errorf("syrk: %w: a %dx%d, c %dx%d", kernel.ErrShape, a.Rows, a.Cols, c.Rows, c.Cols)
	}
	blas64.Syrk(blas.NoTrans, -1, general(a), 1, symmetric(c))
	return nil
}

func (*Kernels) Gemm(ta, tb kernel.Transpose, alpha float64, a, b, c *tile.Tile) error {
	ar, ak := a.Rows, a.Cols
	if ta == kernel.Trans {
		ar, ak = ak, ar
	}
	bk, bc := b.Rows, b.Cols
	if tb == kernel.Trans {
		bk, bc = bc, bk
	}
	if ak != bk || c.Rows != ar || c.Cols != bc {
		return fmt.Errorf("gemm: %w: a %dx%d, b %dx%d, c %dx%d", kernel.ErrShape, a.Rows, a.Cols, b.Rows, b.Cols, c.Rows, c.Cols)
	}
	blas64.Gemm(transpose(ta), transpose(tb), alpha, general(a), general(b), 1, general(c))
	return nil
}

func (*Kernels) Trsv(trans kernel.Transpose, l, x *tile.Tile) error {
	if l.Rows != l.Cols || x.Cols != 1 || x.Rows != l.Rows {
		return fmt.Errorf("trsv: %w: factor %dx%d, x %dx%d", kernel.ErrShape, l.Rows, l.Cols, x.Rows, x.Cols)
	}
	blas64.Trsv(transpose(trans), lower(l), column(x))
	return nil
}

func (*Kernels) Gemv(trans kernel.Transpose, alpha float64, a, x, y *tile.Tile) error {
	rows, cols := a.Rows, a.Cols
	if trans == kernel.Trans {
		rows, cols = cols, rows
	}
	if x.Cols != 1 || y.Cols != 1 || x.Rows != cols || y.Rows != rows {
		return fmt.Errorf("gemv: %w: a %dx%d, x %d, y %d", kernel.ErrShape, a.Rows, a.Cols, x.Rows, y.Rows)
	}
	blas64.Gemv(transpose(trans), alpha, general(a), column(x), 1, column(y))
	return nil
}

func (*Kernels) Ger(a, x, y *tile.Tile) error {
	if x.Cols != 1 || y.Cols != 1 || a.Rows != x.Rows || a.Cols != y.Rows {
		return fmt.Errorf("ger: %w: a %dx%d, x %d, y %d", kernel.ErrShape, a.Rows, a.Cols, x.Rows, y.Rows)
	}
	blas64.Ger(-1, column(x), column(y), general(a))
	return nil
}

func (*Kernels) Dot(x, y *tile.Tile) (float64, error) {
	if x.Cols != 1 || y.Cols != 1 || x.Rows != y.Rows {
		return 0, fmt.Errorf("dot: %w: x %dx%d, y %dx%d", kernel.ErrShape, x.Rows, x.Cols, y.Rows, y.Cols)
	}
	return blas64.Dot(column(x), column(y)), nil
}

func (*Kernels) DiagSyrk(a, r *tile.Tile) error {
	if r.Cols != 1 || r.Rows != a.Cols {
		return fmt.Errorf("diagsyrk: %w: a %dx%d, r %dx%d", kernel.ErrShape, a.Rows, a.Cols, r.Rows, r.Cols)
	}
	for j := 0; j < a.Cols; j++ {
		col := blas64.Vector{N: a.Rows, Inc: a.Cols, Data: a.Data[j:]}
		r.Data[j] += blas64.Dot(col, col)
	}
	return nil
}

func (*Kernels) DiagGemm(a, b, r *tile.Tile) error {
	if r.Cols != 1 || r.Rows != a.Rows || a.Cols != b.Rows || b.Cols != a.Rows {
		return fmt.Errorf("diaggemm: %w: a %dx%d, b %dx%d, r %dx%d", kernel.ErrShape, a.Rows, a.Cols, b.Rows, b.Cols, r.Rows, r.Cols)
	}
	for i := 0; i < a.Rows; i++ {
		row := blas64.Vector{N: a.Cols, Inc: 1, Data: a.Data[i*a.Cols:]}
		col := blas64.Vector{N: b.Rows, Inc: b.Cols, Data: b.Data[i:]}
		r.Data[i] += blas64.Dot(row, col)
	}
	return nil
}

func (*Kernels) Trace(a *tile.Tile) (float64, error) {
	if a.Rows != a.Cols {
		return 0, fmt.Errorf("trace: %w: %dx%d", kernel.ErrShape, a.Rows, a.Cols)
	}
	var sum float64
	for i := 0; i < a.Rows; i++ {
		sum += a.At(i, i)
	}
	return sum, nil
}

func (k *Kernels) LogLik(l, alpha, y *tile.Tile) (float64, error) {
	if l.Rows != l.Cols || alpha.Rows != l.Rows || y.Rows != l.Rows {
		return 0, fmt.Errorf("loglik: %w", kernel.ErrShape)
	}
	var logdet float64
	for i := 0; i < l.Rows; i++ {
		logdet += math.Log(l.At(i, i))
	}
	fit, err := k.Dot(alpha, y)
	if err != nil {
		return 0, err
	}
	return logdet + 0.5*fit, nil
}

func (*Kernels) Variance(prior, acc, out *tile.Tile) error {
	if prior.Rows != prior.Cols || acc.Rows != prior.Rows || out.Rows != prior.Rows || acc.Cols != 1 || out.Cols != 1 {
		return fmt.Errorf("variance: %w", kernel.ErrShape)
	}
	for i := 0; i < prior.Rows; i++ {
		out.Data[i] = prior.At(i, i) - acc.Data[i]
	}
	return nil
}
