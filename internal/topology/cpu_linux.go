//go:build linux

package topology

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// CurrentCPU returns the CPU the calling thread is running on. The answer may
// be stale by the time the caller uses it.
func CurrentCPU() int {
	var cpu, node uint32
	_, _, errno := unix.RawSyscall(unix.SYS_GETCPU,
		uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return 0
	}
	return int(cpu)
}
