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

func allocN(t *testing.T, f *fixture, n int, size uintptr) []unsafe.Pointer {
	t.Helper()
	ptrs := make([]unsafe.Pointer, n)
	for i := range ptrs {
		ptrs[i] = f.n.Malloc(size)
		require.NotNil(t, ptrs[i])
	}
	return ptrs
}

func TestIntrospect_Statistics(t *testing.T) {
	f := newFixture(t)
	small := allocN(t, f, 10, 16)
	allocN(t, f, 5, 32)

	s := f.n.Statistics()
	assert.Equal(t, uint64(15), s.BlocksInUse)
	assert.Equal(t, uint64(10*16+5*32), s.SizeInUse)
	assert.Equal(t, s.SizeInUse, s.MaxSizeInUse)
	assert.Equal(t, uint64(2*SlotInBandSize), s.SizeAllocated)

	for _, p := range small[:5] {
		f.n.Free(p)
	}
	s = f.n.Statistics()
	assert.Equal(t, uint64(10), s.BlocksInUse)
	assert.Equal(t, uint64(5*16+5*32), s.SizeInUse)
	assert.Equal(t, uint64(10*16+5*32), s.MaxSizeInUse, "high-water mark kept")
}

func TestIntrospect_Slots(t *testing.T) {
	f := newFixture(t)
	ptrs := allocN(t, f, 4, 200)
	f.n.Free(ptrs[1])

	info := f.n.Slots()
	require.Len(t, info, 1)
	si := info[0]
	assert.Equal(t, 0, si.Magazine)
	assert.Equal(t, 12, si.Class)
	assert.Equal(t, uintptr(208), si.SlotBytes)
	assert.Equal(t, uintptr(SlotInBandSize/208), si.Mapped)
	assert.Equal(t, uintptr(4), si.Touched)
	assert.Equal(t, uintptr(1), si.Free)
	assert.Equal(t, uintptr(3), si.InUse)
	assert.False(t, si.Exhausted)
}

func TestIntrospect_Enumerate(t *testing.T) {
	f := newFixture(t)
	small := allocN(t, f, 10, 16)
	allocN(t, f, 5, 32)
	for _, p := range small[:5] {
		f.n.Free(p)
	}

	var regions, inUse []zone.Range
	f.n.Enumerate(zone.RangeAll, func(kind zone.RangeType, r []zone.Range) {
		switch kind {
		case zone.RangeRegion:
			regions = append(regions, r...)
		case zone.RangeInUse:
			inUse = append(inUse, r...)
		}
	})

	require.Len(t, regions, 1)
	assert.Equal(t, f.n.Region().Addr, regions[0].Addr)
	assert.Equal(t, uintptr(BandSize), regions[0].Size)

	require.Len(t, inUse, 10)
	for _, p := range small[5:] {
		assert.Contains(t, inUse, zone.Range{Addr: uintptr(p), Size: 16})
	}
	for _, p := range small[:5] {
		assert.NotContains(t, inUse, zone.Range{Addr: uintptr(p), Size: 16})
	}

	var calls int
	f.n.Enumerate(zone.RangeRegion, func(kind zone.RangeType, _ []zone.Range) {
		assert.Equal(t, zone.RangeRegion, kind)
		calls++
	})
	assert.Equal(t, 1, calls)
}

func TestIntrospect_Print(t *testing.T) {
	f := newFixture(t)
	ptrs := allocN(t, f, 10, 16)
	for _, p := range ptrs[:5] {
		f.n.Free(p)
	}

	var buf bytes.Buffer
	f.n.Print(&buf, false)
	out := buf.String()
	assert.Contains(t, out, "Nanozone nano")
	assert.Contains(t, out, "Magazine  0( 16)")
	assert.NotContains(t, out, "Unrealized")

	buf.Reset()
	f.n.Print(&buf, true)
	out = buf.String()
	assert.Contains(t, out, "Unrealized")
	assert.Contains(t, out, "FFFFF.....")
}

func TestIntrospect_GoodSize(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, uintptr(16), f.n.GoodSize(0))
	assert.Equal(t, uintptr(256), f.n.GoodSize(250))
	assert.Equal(t, f.helper.GoodSize(300), f.n.GoodSize(300))
}

func TestIntrospect_Check(t *testing.T) {
	f := newFixture(t)
	ptrs := allocN(t, f, 50, 80)
	for _, p := range ptrs[10:40] {
		f.n.Free(p)
	}
	assert.True(t, f.n.Check())
	assert.Zero(t, f.rec.count(zone.KindCorruption))
}

func TestIntrospect_Locks(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.n.Locked())

	f.n.ForceLock()
	assert.True(t, f.n.Locked())
	f.n.ForceUnlock()
	assert.False(t, f.n.Locked())

	f.helper.ForceLock()
	assert.True(t, f.n.Locked(), "helper lock counts")
	f.helper.ForceUnlock()

	f.n.ForceLock()
	f.n.ReinitLock()
	assert.False(t, f.n.Locked())
	assert.NotNil(t, f.n.Malloc(16))
}
