//go:build linux

package vm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOS_ReserveAligned(t *testing.T) {
	const size = 4 << 20
	const align = 8 << 20

	base, err := OS{}.Reserve(size, align)
	require.NoError(t, err)
	t.Cleanup(func() { _ = OS{}.Release(base, size) })

	assert.Zero(t, base%align, "reservation must honor alignment")
}

func TestOS_ReserveRejectsBadAlignment(t *testing.T) {
	_, err := OS{}.Reserve(1<<20, 3)
	require.ErrorIs(t, err, ErrBadAlignment)
}

func TestOS_CommitWriteDiscard(t *testing.T) {
	size := 4 * PageSize()
	base, err := OS{}.Reserve(size, PageSize())
	require.NoError(t, err)
	t.Cleanup(func() { _ = OS{}.Release(base, size) })

	require.NoError(t, OS{}.Commit(base, size))

	p := (*uint64)(unsafe.Pointer(base + PageSize()))
	*p = 0xfeedface
	assert.Equal(t, uint64(0xfeedface), *p)

	// Discarded anonymous pages read back as zero.
	require.NoError(t, OS{}.Discard(base+PageSize(), PageSize()))
	assert.Zero(t, *p)
}

func TestOS_AllocateIsZeroed(t *testing.T) {
	size := 3 * PageSize()
	base, err := OS{}.Allocate(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = OS{}.Release(base, size) })

	mem := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	for i, b := range mem {
		if b != 0 {
			t.Fatalf("byte %d not zero: %#x", i, b)
		}
	}
	mem[size-1] = 7
	assert.Equal(t, byte(7), mem[size-1])
}

func TestOS_ProtectReadOnlyThenWritable(t *testing.T) {
	size := PageSize()
	base, err := OS{}.Allocate(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = OS{}.Release(base, size) })

	require.NoError(t, OS{}.Protect(base, size, ProtRead))
	require.NoError(t, OS{}.Protect(base, size, ProtReadWrite))
	*(*byte)(unsafe.Pointer(base)) = 1
}

func TestOS_ReleaseTwiceIsNoop(t *testing.T) {
	size := PageSize()
	base, err := OS{}.Allocate(size)
	require.NoError(t, err)
	require.NoError(t, OS{}.Release(base, size))
	require.NoError(t, OS{}.Release(base, size))
}

func TestCounting_CountsAndFails(t *testing.T) {
	c := NewCounting(nil)
	size := 2 * PageSize()

	base, err := c.Reserve(size, PageSize())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Release(base, size) })

	require.NoError(t, c.Commit(base, PageSize()))
	c.FailCommit.Store(true)
	require.ErrorIs(t, c.Commit(base+PageSize(), PageSize()), ErrInjected)
	require.NoError(t, c.Discard(base, PageSize()))

	assert.Equal(t, int64(1), c.Reserves.Load())
	assert.Equal(t, int64(2), c.Commits.Load())
	assert.Equal(t, int64(1), c.Discards.Load())
	assert.Equal(t, int64(PageSize()), c.DiscardedBytes.Load())
}

func TestRoundPage(t *testing.T) {
	ps := PageSize()
	assert.Equal(t, uintptr(0), RoundPage(0))
	assert.Equal(t, ps, RoundPage(1))
	assert.Equal(t, ps, RoundPage(ps))
	assert.Equal(t, 2*ps, RoundPage(ps+1))
	assert.Equal(t, ps, TruncPage(ps+1))
}
