// Package backend selects and configures the compute backend: the host
// BLAS kernel set running on a pool of CPU workers, or the CUDA kernel set
// running on a set of device streams. Algorithm code never sees the
// difference; it receives one kernel context per executor lane.
package backend

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/kernel/cpu"
	"github.com/samcharles93/trellis/internal/tile"
)

const (
	CPU  = "cpu"
	CUDA = "cuda"
	Auto = "auto"
)

// Backend owns the resources behind one compute session: worker contexts or
// device streams, handles and device memory. Close releases everything;
// it must run on every exit path of the overall call.
type Backend interface {
	Name() string
	// Lanes returns one kernel context per executor lane.
	Lanes() ([]kernel.Kernels, error)
	// Gather makes any device-resident tiles of the grid visible to the
	// host. A no-op on the CPU backend.
	Gather(g *tile.Grid) error
	Close() error
}

// Options configures backend construction.
type Options struct {
	Workers int // CPU lanes; defaults to GOMAXPROCS
	Streams int // CUDA streams; defaults to 4
	Device  int // CUDA device ordinal
}

// Normalize canonicalises a backend name.
func Normalize(name string) (string, error) {
	b := strings.ToLower(strings.TrimSpace(name))
	if b == "" {
		return Auto, nil
	}
	switch b {
	case CPU, CUDA, Auto:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, cpu, or cuda)", name)
	}
}

// New constructs the named backend. Auto picks CUDA when this build carries
// it, otherwise CPU.
func New(name string, opts Options) (Backend, error) {
	b, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	if b == Auto {
		if cudaEnabled {
			b = CUDA
		} else {
			b = CPU
		}
	}
	switch b {
	case CPU:
		return newCPU(opts)
	default:
		return newCUDA(opts)
	}
}

type cpuBackend struct {
	workers int
}

func newCPU(opts Options) (Backend, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &cpuBackend{workers: workers}, nil
}

func (b *cpuBackend) Name() string { return CPU }

// Lanes hands every lane the same stateless host kernel set; the tile-level
// dependency tokens already serialize access per tile, so no further
// locking is needed.
func (b *cpuBackend) Lanes() ([]kernel.Kernels, error) {
	ks := cpu.New()
	lanes := make([]kernel.Kernels, b.workers)
	for i := range lanes {
		lanes[i] = ks
	}
	return lanes, nil
}

func (b *cpuBackend) Gather(*tile.Grid) error { return nil }

func (b *cpuBackend) Close() error { return nil }
