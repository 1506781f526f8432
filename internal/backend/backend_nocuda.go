//go:build !cuda

package backend

import "errors"

const cudaEnabled = false

var errCUDAUnavailable = errors.New("cuda backend not available in this build")

func newCUDA(Options) (Backend, error) {
	return nil, errCUDAUnavailable
}
