//go:build cuda

package backend

import "github.com/samcharles93/trellis/internal/kernel/cuda"

const cudaEnabled = true

func newCUDA(opts Options) (Backend, error) {
	streams := opts.Streams
	if streams <= 0 {
		streams = 4
	}
	return cuda.NewSession(opts.Device, streams)
}
