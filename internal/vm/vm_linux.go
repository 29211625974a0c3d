//go:build linux

package vm

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const anonFlags = unix.MAP_PRIVATE | unix.MAP_ANONYMOUS

func (OS) Reserve(size, align uintptr) (uintptr, error) {
	if !isPow2(align) {
		return 0, ErrBadAlignment
	}
	size = RoundPage(size)
	if align < pageSize {
		align = pageSize
	}
	span := size + align
	p, err := unix.MmapPtr(-1, 0, nil, span, unix.PROT_NONE, anonFlags|unix.MAP_NORESERVE)
	if err != nil {
		return 0, fmt.Errorf("vm: reserve %d bytes: %w", span, err)
	}
	start := uintptr(p)
	base := (start + align - 1) &^ (align - 1)

	// Trim the slack on both sides so only the aligned range stays reserved.
	if head := base - start; head > 0 {
		if err := unix.MunmapPtr(p, head); err != nil {
			return 0, fmt.Errorf("vm: trim reservation head: %w", err)
		}
	}
	if tail := start + span - (base + size); tail > 0 {
		if err := unix.MunmapPtr(unsafe.Pointer(base+size), tail); err != nil {
			return 0, fmt.Errorf("vm: trim reservation tail: %w", err)
		}
	}
	return base, nil
}

func (OS) Allocate(size uintptr) (uintptr, error) {
	size = RoundPage(size)
	p, err := unix.MmapPtr(-1, 0, nil, size, unix.PROT_READ|unix.PROT_WRITE, anonFlags)
	if err != nil {
		return 0, fmt.Errorf("vm: allocate %d bytes: %w", size, err)
	}
	return uintptr(p), nil
}

func (o OS) Commit(addr, size uintptr) error {
	return o.Protect(addr, size, ProtReadWrite)
}

func (OS) Protect(addr, size uintptr, prot Prot) error {
	var flags int
	switch prot {
	case ProtNone:
		flags = unix.PROT_NONE
	case ProtRead:
		flags = unix.PROT_READ
	case ProtReadWrite:
		flags = unix.PROT_READ | unix.PROT_WRITE
	default:
		return fmt.Errorf("vm: unknown protection %d", prot)
	}
	if err := unix.Mprotect(span(addr, size), flags); err != nil {
		return fmt.Errorf("vm: mprotect %#x+%d %s: %w", addr, size, prot, err)
	}
	return nil
}

func (OS) Discard(addr, size uintptr) error {
	if err := unix.Madvise(span(addr, size), unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("vm: madvise %#x+%d: %w", addr, size, err)
	}
	return nil
}

func (OS) Release(addr, size uintptr) error {
	err := unix.MunmapPtr(unsafe.Pointer(addr), RoundPage(size))
	if errors.Is(err, unix.EINVAL) {
		// Treat double-release as no-op for callers.
		return nil
	}
	return err
}

func span(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
