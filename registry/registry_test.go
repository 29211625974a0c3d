package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/zonekit/zone"
)

// fakeZone owns the addresses of its buffer. Only Size matters to the registry.
type fakeZone struct {
	zone.Named
	buf []byte

	destroyed atomic.Bool
	misprobed atomic.Bool // Size called after Destroy

	// When block is set, Size signals entered and waits for release.
	block   bool
	entered chan struct{}
	release chan struct{}
}

func newFake(name string) *fakeZone {
	f := &fakeZone{buf: make([]byte, 64)}
	f.SetName(name)
	return f
}

func (f *fakeZone) ptr() unsafe.Pointer { return unsafe.Pointer(&f.buf[16]) }

func (f *fakeZone) Size(ptr unsafe.Pointer) uintptr {
	if f.destroyed.Load() {
		f.misprobed.Store(true)
		return 0
	}
	if f.block {
		f.entered <- struct{}{}
		<-f.release
	}
	lo := uintptr(unsafe.Pointer(&f.buf[0]))
	p := uintptr(ptr)
	if p >= lo && p < lo+uintptr(len(f.buf)) {
		return 16
	}
	return 0
}

func (f *fakeZone) Version() int                                   { return zone.Version }
func (f *fakeZone) Malloc(uintptr) unsafe.Pointer                  { return nil }
func (f *fakeZone) Calloc(uintptr, uintptr) unsafe.Pointer         { return nil }
func (f *fakeZone) Valloc(uintptr) unsafe.Pointer                  { return nil }
func (f *fakeZone) Memalign(uintptr, uintptr) unsafe.Pointer       { return nil }
func (f *fakeZone) Free(unsafe.Pointer)                            {}
func (f *fakeZone) FreeDefiniteSize(unsafe.Pointer, uintptr)       {}
func (f *fakeZone) Realloc(unsafe.Pointer, uintptr) unsafe.Pointer { return nil }
func (f *fakeZone) BatchMalloc(uintptr, []unsafe.Pointer) int      { return 0 }
func (f *fakeZone) BatchFree([]unsafe.Pointer)                     {}
func (f *fakeZone) PressureRelief(uintptr) uintptr                 { return 0 }
func (f *fakeZone) Destroy()                                       { f.destroyed.Store(true) }
func (f *fakeZone) Introspect() zone.Introspector                  { return nil }

func names(zs []zone.Zone) []string {
	out := make([]string, len(zs))
	for i, z := range zs {
		out[i] = z.Name()
	}
	return out
}

func TestRegistry_RegisterFind(t *testing.T) {
	r := New()
	assert.Nil(t, r.Default())

	a, b := newFake("a"), newFake("b")
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	assert.Equal(t, 2, r.Len())
	assert.Same(t, a, r.Default())

	z, size := r.Find(b.ptr())
	assert.Same(t, b, z)
	assert.Equal(t, uintptr(16), size)

	z, size = r.Find(a.ptr())
	assert.Same(t, a, z)
	assert.Equal(t, uintptr(16), size)

	var local int
	z, size = r.Find(unsafe.Pointer(&local))
	assert.Nil(t, z)
	assert.Zero(t, size)

	z, _ = r.Find(nil)
	assert.Nil(t, z)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := New()
	a := newFake("a")
	require.NoError(t, r.Register(a))
	require.ErrorIs(t, r.Register(a), ErrAlreadyRegistered)
	require.ErrorIs(t, r.Register(nil), ErrNilZone)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_GrowsTable(t *testing.T) {
	r := New()
	zones := make([]*fakeZone, 3*initialCapacity+1)
	for i := range zones {
		zones[i] = newFake(fmt.Sprintf("z%d", i))
		require.NoError(t, r.Register(zones[i]))
	}
	assert.Equal(t, len(zones), r.Len())
	for _, f := range zones {
		z, _ := r.Find(f.ptr())
		assert.Same(t, f, z)
	}
}

func TestRegistry_UnregisterMovesLast(t *testing.T) {
	r := New()
	a, b, c, d := newFake("a"), newFake("b"), newFake("c"), newFake("d")
	for _, z := range []*fakeZone{a, b, c, d} {
		require.NoError(t, r.Register(z))
	}

	require.NoError(t, r.Unregister(b))
	assert.Equal(t, []string{"a", "d", "c"}, names(r.Zones()))

	z, _ := r.Find(b.ptr())
	assert.Nil(t, z)

	require.ErrorIs(t, r.Unregister(b), ErrNotRegistered)
	require.ErrorIs(t, r.Unregister(a), ErrDefaultZone)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_SetDefault(t *testing.T) {
	r := New()
	a, b, c := newFake("a"), newFake("b"), newFake("c")
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	require.NoError(t, r.SetDefault(c))
	assert.Equal(t, []string{"c", "b", "a"}, names(r.Zones()))
	assert.Same(t, c, r.Default())

	require.NoError(t, r.SetDefault(b))
	assert.Equal(t, []string{"b", "c", "a"}, names(r.Zones()))
	require.NoError(t, r.SetDefault(b), "already default")

	// The demoted default can now be removed.
	require.NoError(t, r.Unregister(c))
	assert.Equal(t, []string{"b", "a"}, names(r.Zones()))
	require.ErrorIs(t, r.SetDefault(nil), ErrNilZone)
}

func TestRegistry_Lite(t *testing.T) {
	r := New()
	a, lite := newFake("a"), newFake("lite")
	require.NoError(t, r.Register(a))

	z, _ := r.Find(lite.ptr())
	assert.Nil(t, z)

	r.SetLite(lite)
	z, _ = r.Find(lite.ptr())
	assert.Same(t, lite, z)

	z, _ = r.Find(a.ptr())
	assert.Same(t, a, z, "table still scanned when the lite zone misses")

	r.SetLite(nil)
	z, _ = r.Find(lite.ptr())
	assert.Nil(t, z)
}

// TestRegistry_UnregisterWaitsForReader blocks a lookup inside a zone's Size
// probe and checks Unregister does not return until the lookup finishes.
func TestRegistry_UnregisterWaitsForReader(t *testing.T) {
	r := New()
	def := newFake("default")
	x := newFake("x")
	require.NoError(t, r.Register(def))
	require.NoError(t, r.Register(x))

	x.block = true
	x.entered = make(chan struct{})
	x.release = make(chan struct{})

	var released atomic.Bool
	found := make(chan zone.Zone, 1)
	go func() {
		z, _ := r.Find(x.ptr())
		found <- z
	}()
	<-x.entered

	unregistered := make(chan bool, 1)
	go func() {
		assert.NoError(t, r.Unregister(x))
		unregistered <- released.Load()
		x.Destroy()
	}()

	select {
	case <-unregistered:
		t.Fatal("unregister returned while a lookup was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	released.Store(true)
	close(x.release)
	assert.Same(t, x, <-found, "lookup completes against its snapshot")
	assert.True(t, <-unregistered, "unregister returned after the lookup")
	assert.False(t, x.misprobed.Load())
}

// TestRegistry_ConcurrentLookups checks lookups never miss a zone registered
// before they began and never probe a zone after it is destroyed.
func TestRegistry_ConcurrentLookups(t *testing.T) {
	r := New()
	stable := make([]*fakeZone, 6)
	for i := range stable {
		stable[i] = newFake(fmt.Sprintf("stable%d", i))
		require.NoError(t, r.Register(stable[i]))
	}

	stop := make(chan struct{})
	var (
		churnMu sync.Mutex
		churned []*fakeZone
	)
	var writers sync.WaitGroup
	for w := range 2 {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				f := newFake(fmt.Sprintf("tmp%d-%d", w, i))
				if err := r.Register(f); err != nil {
					t.Error(err)
					return
				}
				if err := r.Unregister(f); err != nil {
					t.Error(err)
					return
				}
				f.Destroy()
				if i%64 == 0 {
					churnMu.Lock()
					churned = append(churned, f)
					churnMu.Unlock()
				}
			}
		}()
	}

	var readers sync.WaitGroup
	for g := range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := range 5000 {
				want := stable[(i+g)%len(stable)]
				z, size := r.Find(want.ptr())
				if z != zone.Zone(want) || size != 16 {
					t.Errorf("lookup for %s returned %v", want.Name(), z)
					return
				}
			}
		}()
	}
	readers.Wait()
	close(stop)
	writers.Wait()

	for _, f := range churned {
		assert.False(t, f.misprobed.Load(), "%s probed after destroy", f.Name())
	}
	assert.Equal(t, len(stable), r.Len())
}

func TestRegistry_ForkLocks(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newFake("a")))

	r.Lock()
	r.Reinit()
	require.NoError(t, r.Register(newFake("b")), "usable after reinit")
	assert.Equal(t, 2, r.Len())

	r.Lock()
	r.Unlock()
}
