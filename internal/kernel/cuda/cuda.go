//go:build cuda

// Package cuda implements the tile kernel set on an NVIDIA device. Level-3
// kernels run on device-resident tile buffers through cuBLAS/cuSOLVER, one
// stream and handle set per executor lane; the vector-level kernels fetch
// their tiles back and run on the host, mirroring where the work actually
// pays off. Tiles are stored row-major on the host, so every device call
// flips fill mode, side and operand order to compensate for cuBLAS's
// column-major view; the compensation lives entirely in this package.
package cuda

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/kernel/cuda/native"
	"github.com/samcharles93/trellis/internal/tile"
)

// Session owns the device resources of one compute session: streams,
// library handles and the arena of device-resident tile buffers. Everything
// is released by Close, on success and failure alike.
type Session struct {
	device int
	lanes  []*laneKernels
	arena  *arena
}

// NewSession binds the given device and creates one stream plus cuBLAS and
// cuSOLVER handles per lane.
func NewSession(device, streams int) (*Session, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kernel.ErrDeviceRuntime, err)
	}
	if device < 0 || device >= count {
		return nil, fmt.Errorf("%w: device %d of %d", kernel.ErrDeviceRuntime, device, count)
	}
	if err := native.SetDevice(device); err != nil {
		return nil, fmt.Errorf("%w: %v", kernel.ErrDeviceRuntime, err)
	}

	s := &Session{device: device, arena: newArena()}
	for i := 0; i < streams; i++ {
		ln, err := newLane(s.arena)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.lanes = append(s.lanes, ln)
	}
	return s, nil
}

func (s *Session) Name() string { return "cuda" }

func (s *Session) Lanes() ([]kernel.Kernels, error) {
	out := make([]kernel.Kernels, len(s.lanes))
	for i, ln := range s.lanes {
		out[i] = ln
	}
	return out, nil
}

// Gather downloads every device-resident tile of the grid so the host can
// read it. This is the sync boundary before any host-observable read.
func (s *Session) Gather(g *tile.Grid) error {
	rows, cols, _, _ := g.Shape()
	stream := s.lanes[0].stream
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if err := s.arena.host(g.Tile(i, j), stream); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(s.arena.release())
	for _, ln := range s.lanes {
		keep(ln.solver.Destroy())
		keep(ln.blas.Destroy())
		keep(ln.stream.Destroy())
	}
	s.lanes = nil
	return first
}

// arena maps host tiles to their device-resident buffers. Token ordering
// already serializes access per tile; the mutex only guards the map.
type arena struct {
	mu    sync.Mutex
	tiles map[*tile.Tile]native.DeviceBuffer
}

func newArena() *arena {
	return &arena{tiles: make(map[*tile.Tile]native.DeviceBuffer)}
}

func tileBytes(t *tile.Tile) int64 {
	return int64(len(t.Data)) * int64(unsafe.Sizeof(float64(0)))
}

// device returns the tile's device buffer, uploading it on first use. The
// upload is issued on the caller's stream; the caller synchronizes that
// stream before resolving its token.
func (a *arena) device(t *tile.Tile, stream native.Stream) (native.DeviceBuffer, error) {
	a.mu.Lock()
	buf, ok := a.tiles[t]
	a.mu.Unlock()
	if ok {
		return buf, nil
	}
	buf, err := native.AllocDevice(tileBytes(t))
	if err != nil {
		return native.DeviceBuffer{}, fmt.Errorf("%w: tile %dx%d: %v", kernel.ErrDeviceAlloc, t.Rows, t.Cols, err)
	}
	if err := native.MemcpyH2DAsync(buf, unsafe.Pointer(&t.Data[0]), tileBytes(t), stream); err != nil {
		_ = buf.Free()
		return native.DeviceBuffer{}, fmt.Errorf("%w: %v", kernel.ErrDeviceRuntime, err)
	}
	a.mu.Lock()
	a.tiles[t] = buf
	a.mu.Unlock()
	return buf, nil
}

// host makes the tile readable on the host, downloading it if a device copy
// exists. The device copy stays valid.
func (a *arena) host(t *tile.Tile, stream native.Stream) error {
	a.mu.Lock()
	buf, ok := a.tiles[t]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	if err := native.MemcpyD2HAsync(unsafe.Pointer(&t.Data[0]), buf, tileBytes(t), stream); err != nil {
		return fmt.Errorf("%w: %v", kernel.ErrDeviceRuntime, err)
	}
	if err := stream.Synchronize(); err != nil {
		return fmt.Errorf("%w: %v", kernel.ErrDeviceRuntime, err)
	}
	return nil
}

// hostMut is host followed by eviction: the caller is about to mutate the
// tile on the host, so a stale device copy must not survive.
func (a *arena) hostMut(t *tile.Tile, stream native.Stream) error {
	if err := a.host(t, stream); err != nil {
		return err
	}
	a.mu.Lock()
	buf, ok := a.tiles[t]
	if ok {
		delete(a.tiles, t)
	}
	a.mu.Unlock()
	if ok {
		if err := buf.Free(); err != nil {
			return fmt.Errorf("%w: %v", kernel.ErrDeviceRuntime, err)
		}
	}
	return nil
}

func (a *arena) release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var first error
	for t, buf := range a.tiles {
		if err := buf.Free(); err != nil && first == nil {
			first = err
		}
		delete(a.tiles, t)
	}
	return first
}
