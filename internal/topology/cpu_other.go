//go:build !linux

package topology

// CurrentCPU always reports CPU 0 where the kernel offers no cheap query.
func CurrentCPU() int { return 0 }
