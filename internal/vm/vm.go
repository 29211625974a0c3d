// Package vm wraps the operating system's virtual memory calls used by the zones:
// reserving address space, committing it, changing protection, discarding page
// contents and releasing ranges.
//
// Addresses are plain uintptr values. The memory never belongs to the Go heap, so
// the garbage collector neither scans nor moves it.
package vm

import (
	"errors"
	"os"
)

// ErrUnsupported is returned on platforms without anonymous mappings.
var ErrUnsupported = errors.New("vm: virtual memory operations not supported on this platform")

// ErrBadAlignment is returned when Reserve is asked for an alignment that is not a power of two.
var ErrBadAlignment = errors.New("vm: alignment must be a power of two")

// Prot is a page protection.
type Prot int

const (
	ProtNone Prot = iota
	ProtRead
	ProtReadWrite
)

func (p Prot) String() string {
	switch p {
	case ProtNone:
		return "none"
	case ProtRead:
		return "read"
	case ProtReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// Mapper is the set of VM operations the allocators consume. OS is the real
// implementation; tests wrap it to count or fail calls.
type Mapper interface {
	// Reserve returns size bytes of inaccessible address space aligned to align.
	Reserve(size, align uintptr) (uintptr, error)
	// Allocate maps size bytes of zeroed read-write memory anywhere.
	Allocate(size uintptr) (uintptr, error)
	// Commit makes a reserved range readable and writable.
	Commit(addr, size uintptr) error
	Protect(addr, size uintptr, prot Prot) error
	// Discard tells the kernel the contents of the range may be thrown away.
	// The range stays mapped and reads back as zero.
	Discard(addr, size uintptr) error
	Release(addr, size uintptr) error
}

// OS performs VM operations with system calls.
type OS struct{}

var _ Mapper = OS{}

var pageSize = uintptr(os.Getpagesize())

// PageSize returns the system page size.
func PageSize() uintptr { return pageSize }

// RoundPage rounds n up to a multiple of the page size.
func RoundPage(n uintptr) uintptr {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// TruncPage rounds n down to a multiple of the page size.
func TruncPage(n uintptr) uintptr {
	return n &^ (pageSize - 1)
}

func isPow2(n uintptr) bool { return n != 0 && n&(n-1) == 0 }
