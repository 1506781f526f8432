package backend

import "strings"

// Available returns a comma-separated list of backends in this build.
func Available() string {
	entries := []string{CPU}
	if Has(CUDA) {
		entries = append(entries, CUDA)
	}
	return strings.Join(entries, ",")
}

// Has reports whether the named backend is compiled into this binary.
func Has(name string) bool {
	switch name {
	case CPU:
		return true
	case CUDA:
		return cudaEnabled
	default:
		return false
	}
}
