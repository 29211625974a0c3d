//go:build linux

package nano

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/zonekit/zone"
)

func TestForked_LeaksNanoBlocks(t *testing.T) {
	f := newFixture(t)

	p := f.n.Malloc(32)
	r := f.n.Malloc(48)
	require.True(t, f.n.Owns(p))
	copy(zone.Bytes(r, 5), "hello")

	f.n.ForkChild()
	assert.True(t, f.n.PostFork())

	q := f.n.Malloc(32)
	require.NotNil(t, q)
	assert.False(t, f.n.Owns(q), "allocations go to the helper")

	f.n.Free(p)
	assert.Equal(t, uint64(1), f.n.Leaked())
	assert.Equal(t, uintptr(32), f.n.Size(p), "leaked block never returns to a free list")

	f.n.Free(q)
	assert.Zero(t, f.helper.Size(q))

	moved := f.n.Realloc(r, 100)
	require.NotNil(t, moved)
	assert.False(t, f.n.Owns(moved))
	assert.Equal(t, []byte("hello"), zone.Bytes(moved, 5))
	assert.Equal(t, uint64(2), f.n.Leaked())

	// A pointer nano never handed out is ignored.
	f.n.Free(unsafe.Pointer(f.n.codec.slotBase(1, 3)))
	assert.Equal(t, uint64(2), f.n.Leaked())

	assert.Zero(t, f.n.PressureRelief(0))

	var buf bytes.Buffer
	f.n.Print(&buf, false)
	assert.Contains(t, buf.String(), "post-fork leaked blocks: 2")
}

func TestForked_HelperPaths(t *testing.T) {
	f := newFixture(t)
	f.n.ForkChild()

	c := f.n.Calloc(2, 8)
	require.NotNil(t, c)
	assert.False(t, f.n.Owns(c))

	z := f.n.Realloc(nil, 8)
	require.NotNil(t, z)
	assert.False(t, f.n.Owns(z))

	ptrs := make([]unsafe.Pointer, 3)
	require.Equal(t, 3, f.n.BatchMalloc(16, ptrs))
	for _, p := range ptrs {
		assert.False(t, f.n.Owns(p))
	}
	f.n.BatchFree(ptrs)
	assert.Zero(t, f.n.Leaked())
}

func TestForked_ReallocToZero(t *testing.T) {
	f := newFixture(t)
	p := f.n.Malloc(16)
	f.n.ForkChild()

	q := f.n.Realloc(p, 0)
	require.NotNil(t, q)
	assert.False(t, f.n.Owns(q))
	assert.Equal(t, uint64(1), f.n.Leaked())
}
