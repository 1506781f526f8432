// Package kernel defines the capability set every compute backend provides:
// the tile-level BLAS/LAPACK operations the tiled algorithms are written
// against. The CPU implementation lives in kernel/cpu, the device-stream
// implementation in kernel/cuda; both honour the same lower-triangular fill
// convention and identical mathematical semantics.
package kernel

import (
	"errors"

	"github.com/samcharles93/trellis/internal/tile"
)

// Transpose selects op(A) = A or Aᵗ.
type Transpose int

const (
	NoTrans Transpose = iota
	Trans
)

// Side selects whether the triangular factor multiplies from the left or
// the right in Trsm.
type Side int

const (
	Left Side = iota
	Right
)

var (
	// ErrNotPositiveDefinite is returned by Potrf when a pivot is not
	// positive. The whole decomposition is aborted; no partial factor is
	// usable.
	ErrNotPositiveDefinite = errors.New("kernel: matrix not positive definite")

	// ErrShape is returned when tile dimensions do not match the
	// operation's requirements.
	ErrShape = errors.New("kernel: tile shape mismatch")

	// ErrDeviceAlloc is returned when a device buffer or workspace
	// allocation fails. Partially allocated resources for the call are
	// released before the error is returned.
	ErrDeviceAlloc = errors.New("kernel: device allocation failed")

	// ErrDeviceRuntime is returned for any device-level launch, copy, or
	// library failure, wrapped with the failing operation.
	ErrDeviceRuntime = errors.New("kernel: device runtime error")
)

// Kernels is the backend-facing tile kernel set. All kernels mutate their
// output tile in place and operate on double precision. The factor produced
// by Potrf is lower triangular; every solve and update consuming it uses the
// same convention.
type Kernels interface {
	Name() string

	// Potrf overwrites the lower triangle of a with its Cholesky factor.
	Potrf(a *tile.Tile) error
	// Trsm solves op(L)·X = B (Left) or X·op(L) = B (Right) in place on b,
	// with L lower triangular.
	Trsm(side Side, trans Transpose, l, b *tile.Tile) error
	// Syrk applies the symmetric rank-k update C = C − A·Aᵗ to the lower
	// triangle of c.
	Syrk(a, c *tile.Tile) error
	// Gemm accumulates C = C + alpha·op(A)·op(B).
	Gemm(ta, tb Transpose, alpha float64, a, b, c *tile.Tile) error

	// Trsv solves op(L)·x = b in place on the column tile x.
	Trsv(trans Transpose, l, x *tile.Tile) error
	// Gemv accumulates y = y + alpha·op(A)·x.
	Gemv(trans Transpose, alpha float64, a, x, y *tile.Tile) error
	// Ger applies the rank-1 update A = A − x·yᵗ.
	Ger(a, x, y *tile.Tile) error
	// Dot returns xᵗ·y over two column tiles.
	Dot(x, y *tile.Tile) (float64, error)

	// DiagSyrk accumulates r = r + diag(Aᵗ·A) into a column tile.
	DiagSyrk(a, r *tile.Tile) error
	// DiagGemm accumulates r = r + diag(A·B) into a column tile.
	DiagGemm(a, b, r *tile.Tile) error
	// Trace returns the sum of the diagonal of a square tile.
	Trace(a *tile.Tile) (float64, error)

	// LogLik returns this diagonal block's contribution to the negative
	// log marginal likelihood: Σ_i log l_ii + ½·αᵏᵗ·yᵏ.
	LogLik(l, alpha, y *tile.Tile) (float64, error)
	// Variance writes out_i = prior_ii − acc_i, the predictive variance of
	// one output tile.
	Variance(prior, acc, out *tile.Tile) error
}
