//go:build cuda

package cuda

import (
	"fmt"
	"unsafe"

	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/kernel/cpu"
	"github.com/samcharles93/trellis/internal/kernel/cuda/native"
	"github.com/samcharles93/trellis/internal/tile"
)

// laneKernels is one executor lane's kernel context: a stream with its
// cuBLAS and cuSOLVER handles, sharing the session arena. Every device op
// synchronizes its stream before returning, so a resolved token means the
// tile's device buffer is stable for any other stream to consume.
type laneKernels struct {
	stream native.Stream
	blas   native.BlasHandle
	solver native.SolverHandle
	arena  *arena
	host   *cpu.Kernels
}

func newLane(a *arena) (*laneKernels, error) {
	stream, err := native.NewStream()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kernel.ErrDeviceRuntime, err)
	}
	blas, err := native.NewBlasHandle(stream)
	if err != nil {
		_ = stream.Destroy()
		return nil, fmt.Errorf("%w: %v", kernel.ErrDeviceRuntime, err)
	}
	solver, err := native.NewSolverHandle(stream)
	if err != nil {
		_ = blas.Destroy()
		_ = stream.Destroy()
		return nil, fmt.Errorf("%w: %v", kernel.ErrDeviceRuntime, err)
	}
	return &laneKernels{stream: stream, blas: blas, solver: solver, arena: a, host: cpu.New()}, nil
}

func (l *laneKernels) Name() string { return "cuda" }

func devErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", kernel.ErrDeviceRuntime, err)
}

func (l *laneKernels) sync() error {
	return devErr(l.stream.Synchronize())
}

// Potrf factors the tile on the device. Row-major lower triangular is
// column-major upper triangular, hence the upper fill mode; only the host
// lower triangle is meaningful afterwards. The workspace and the devInfo
// word are scoped to this call and freed on every path.
func (l *laneKernels) Potrf(a *tile.Tile) error {
	if a.Rows != a.Cols {
		return fmt.Errorf("potrf: %w: %dx%d", kernel.ErrShape, a.Rows, a.Cols)
	}
	n := a.Rows
	buf, err := l.arena.device(a, l.stream)
	if err != nil {
		return err
	}

	lwork, err := native.DpotrfWorkspaceSize(l.solver, native.FillUpper, n, buf, n)
	if err != nil {
		return devErr(err)
	}
	work, err := native.AllocDevice(int64(lwork+1) * 8)
	if err != nil {
		return fmt.Errorf("%w: potrf workspace: %v", kernel.ErrDeviceAlloc, err)
	}
	defer work.Free()
	info, err := native.AllocDevice(4)
	if err != nil {
		return fmt.Errorf("%w: potrf info: %v", kernel.ErrDeviceAlloc, err)
	}
	defer info.Free()

	if err := native.Dpotrf(l.solver, native.FillUpper, n, buf, n, work, lwork, info); err != nil {
		return devErr(err)
	}
	var hostInfo int32
	if err := native.MemcpyD2HAsync(unsafe.Pointer(&hostInfo), info, 4, l.stream); err != nil {
		return devErr(err)
	}
	if err := l.sync(); err != nil {
		return err
	}
	if hostInfo > 0 {
		return fmt.Errorf("potrf: %w: pivot %d", kernel.ErrNotPositiveDefinite, hostInfo)
	}
	if hostInfo < 0 {
		return fmt.Errorf("potrf: %w: argument %d", kernel.ErrDeviceRuntime, -hostInfo)
	}
	return nil
}

func (l *laneKernels) Trsm(side kernel.Side, trans kernel.Transpose, lf, b *tile.Tile) error {
	lbuf, err := l.arena.device(lf, l.stream)
	if err != nil {
		return err
	}
	bbuf, err := l.arena.device(b, l.stream)
	if err != nil {
		return err
	}
	// Column-major view: sides flip, the lower factor reads as upper, the
	// transpose flag carries over.
	devSide := native.SideRight
	if side == kernel.Right {
		devSide = native.SideLeft
	}
	devTrans := native.OpN
	if trans == kernel.Trans {
		devTrans = native.OpT
	}
	if err := native.Dtrsm(l.blas, devSide, native.FillUpper, devTrans, native.DiagNonUnit,
		b.Cols, b.Rows, 1, lbuf, lf.Cols, bbuf, b.Cols); err != nil {
		return devErr(err)
	}
	return l.sync()
}

func (l *laneKernels) Syrk(a, c *tile.Tile) error {
	abuf, err := l.arena.device(a, l.stream)
	if err != nil {
		return err
	}
	cbuf, err := l.arena.device(c, l.stream)
	if err != nil {
		return err
	}
	if err := native.Dsyrk(l.blas, native.FillUpper, native.OpT,
		c.Rows, a.Cols, -1, abuf, a.Cols, 1, cbuf, c.Cols); err != nil {
		return devErr(err)
	}
	return l.sync()
}

func (l *laneKernels) Gemm(ta, tb kernel.Transpose, alpha float64, a, b, c *tile.Tile) error {
	abuf, err := l.arena.device(a, l.stream)
	if err != nil {
		return err
	}
	bbuf, err := l.arena.device(b, l.stream)
	if err != nil {
		return err
	}
	cbuf, err := l.arena.device(c, l.stream)
	if err != nil {
		return err
	}
	k := a.Cols
	if ta == kernel.Trans {
		k = a.Rows
	}
	devA := native.OpN
	if ta == kernel.Trans {
		devA = native.OpT
	}
	devB := native.OpN
	if tb == kernel.Trans {
		devB = native.OpT
	}
	// Operand order swaps under the column-major view: C' = op(B')·op(A').
	if err := native.Dgemm(l.blas, devB, devA, c.Cols, c.Rows, k,
		alpha, bbuf, b.Cols, abuf, a.Cols, 1, cbuf, c.Cols); err != nil {
		return devErr(err)
	}
	return l.sync()
}

// The vector-level kernels run on the host against fetched tiles, the same
// split the prediction and gradient paths are built around.

func (l *laneKernels) Trsv(trans kernel.Transpose, lf, x *tile.Tile) error {
	if err := l.arena.host(lf, l.stream); err != nil {
		return err
	}
	return l.host.Trsv(trans, lf, x)
}

func (l *laneKernels) Gemv(trans kernel.Transpose, alpha float64, a, x, y *tile.Tile) error {
	if err := l.arena.host(a, l.stream); err != nil {
		return err
	}
	return l.host.Gemv(trans, alpha, a, x, y)
}

func (l *laneKernels) Ger(a, x, y *tile.Tile) error {
	if err := l.arena.hostMut(a, l.stream); err != nil {
		return err
	}
	return l.host.Ger(a, x, y)
}

func (l *laneKernels) Dot(x, y *tile.Tile) (float64, error) {
	return l.host.Dot(x, y)
}

func (l *laneKernels) DiagSyrk(a, r *tile.Tile) error {
	if err := l.arena.host(a, l.stream); err != nil {
		return err
	}
	return l.host.DiagSyrk(a, r)
}

func (l *laneKernels) DiagGemm(a, b, r *tile.Tile) error {
	if err := l.arena.host(a, l.stream); err != nil {
		return err
	}
	if err := l.arena.host(b, l.stream); err != nil {
		return err
	}
	return l.host.DiagGemm(a, b, r)
}

func (l *laneKernels) Trace(a *tile.Tile) (float64, error) {
	if err := l.arena.host(a, l.stream); err != nil {
		return 0, err
	}
	return l.host.Trace(a)
}

func (l *laneKernels) LogLik(lf, alpha, y *tile.Tile) (float64, error) {
	if err := l.arena.host(lf, l.stream); err != nil {
		return 0, err
	}
	return l.host.LogLik(lf, alpha, y)
}

func (l *laneKernels) Variance(prior, acc, out *tile.Tile) error {
	if err := l.arena.host(prior, l.stream); err != nil {
		return err
	}
	return l.host.Variance(prior, acc, out)
}
