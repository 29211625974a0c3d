package vm

import (
	"errors"
	"sync/atomic"
)

// ErrInjected is returned by a Counting mapper whose failure switch is set.
var ErrInjected = errors.New("vm: injected failure")

// Counting wraps a Mapper and counts each operation. Setting FailCommit,
// FailAllocate or FailRelease makes the corresponding call return ErrInjected.
type Counting struct {
	Mapper Mapper

	Reserves  atomic.Int64
	Allocates atomic.Int64
	Commits   atomic.Int64
	Protects  atomic.Int64
	Discards  atomic.Int64
	Releases  atomic.Int64

	// DiscardedBytes sums the sizes passed to Discard.
	DiscardedBytes atomic.Int64

	FailCommit   atomic.Bool
	FailAllocate atomic.Bool
	FailRelease  atomic.Bool
}

var _ Mapper = (*Counting)(nil)

// NewCounting wraps m, or OS when m is nil.
func NewCounting(m Mapper) *Counting {
	if m == nil {
		m = OS{}
	}
	return &Counting{Mapper: m}
}

func (c *Counting) Reserve(size, align uintptr) (uintptr, error) {
	c.Reserves.Add(1)
	return c.Mapper.Reserve(size, align)
}

func (c *Counting) Allocate(size uintptr) (uintptr, error) {
	c.Allocates.Add(1)
	if c.FailAllocate.Load() {
		return 0, ErrInjected
	}
	return c.Mapper.Allocate(size)
}

func (c *Counting) Commit(addr, size uintptr) error {
	c.Commits.Add(1)
	if c.FailCommit.Load() {
		return ErrInjected
	}
	return c.Mapper.Commit(addr, size)
}

func (c *Counting) Protect(addr, size uintptr, prot Prot) error {
	c.Protects.Add(1)
	return c.Mapper.Protect(addr, size, prot)
}

func (c *Counting) Discard(addr, size uintptr) error {
	c.Discards.Add(1)
	c.DiscardedBytes.Add(int64(size))
	return c.Mapper.Discard(addr, size)
}

func (c *Counting) Release(addr, size uintptr) error {
	c.Releases.Add(1)
	if c.FailRelease.Load() {
		return ErrInjected
	}
	return c.Mapper.Release(addr, size)
}
