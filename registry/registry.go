// Package registry keeps the process's ordered table of zones and answers
// "which zone owns this pointer" without taking a lock.
//
// Index 0 is the default zone. Writers serialize on one mutex. Readers scan
// the table inside a reader epoch; Unregister swaps the live and drain epoch
// counters and waits for the drained one to reach zero, so when it returns no
// reader can still hold the removed zone and the caller may destroy it.
package registry

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/zonekit/internal/logger"
	"github.com/joshuapare/zonekit/zone"
)

var (
	// ErrAlreadyRegistered is returned when a zone is registered twice.
	ErrAlreadyRegistered = errors.New("registry: zone already registered")

	// ErrNotRegistered is returned when unregistering a zone the registry does not hold.
	ErrNotRegistered = errors.New("registry: zone not registered")

	// ErrDefaultZone is returned when unregistering the zone at index 0.
	ErrDefaultZone = errors.New("registry: default zone cannot be unregistered")

	// ErrNilZone is returned for a nil zone.
	ErrNilZone = errors.New("registry: nil zone")
)

const initialCapacity = 4

type entry struct {
	z zone.Zone
}

// table is replaced whole when it grows. Its slots are written only under
// the registry mutex.
type table struct {
	slots []atomic.Pointer[entry]
}

// Registry is the zone table. The zero value is not usable; call New.
type Registry struct {
	mu sync.Mutex

	tab   atomic.Pointer[table]
	count atomic.Int32
	// gen changes on every mutation. A scan that found nothing retries if it
	// moved, since Unregister reorders the table under the reader.
	gen atomic.Uint64

	epochs [2]atomic.Int32
	live   atomic.Pointer[atomic.Int32]

	lite atomic.Pointer[entry]
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	r.live.Store(&r.epochs[0])
	r.tab.Store(&table{slots: make([]atomic.Pointer[entry], initialCapacity)})
	return r
}

// enter joins the current reader epoch. The counter is rechecked after the
// increment; if Unregister swapped epochs in between, the reader backs out
// and joins the new one.
func (r *Registry) enter() *atomic.Int32 {
	for {
		c := r.live.Load()
		c.Add(1)
		if r.live.Load() == c {
			return c
		}
		c.Add(-1)
	}
}

// drain swaps the epochs and waits for readers of the old one. Called with mu held.
func (r *Registry) drain() {
	old := r.live.Load()
	next := &r.epochs[0]
	if old == next {
		next = &r.epochs[1]
	}
	r.live.Store(next)
	for old.Load() != 0 {
		runtime.Gosched()
	}
}

// indexLocked returns the slot holding z, or -1.
func (r *Registry) indexLocked(z zone.Zone) int {
	t := r.tab.Load()
	n := int(r.count.Load())
	for i := range n {
		if e := t.slots[i].Load(); e != nil && e.z == z {
			return i
		}
	}
	return -1
}

// appendLocked stores z after the last entry, growing the table if needed.
// The slot is published before the count so a reader that sees the new count
// also sees the zone.
func (r *Registry) appendLocked(z zone.Zone) {
	t := r.tab.Load()
	n := int(r.count.Load())
	if n == len(t.slots) {
		grown := &table{slots: make([]atomic.Pointer[entry], 2*len(t.slots))}
		for i := range n {
			grown.slots[i].Store(t.slots[i].Load())
		}
		r.tab.Store(grown)
		t = grown
	}
	t.slots[n].Store(&entry{z: z})
	r.count.Store(int32(n + 1))
	r.gen.Add(1)
}

// Register appends z to the table.
func (r *Registry) Register(z zone.Zone) error {
	if z == nil {
		return ErrNilZone
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(z) >= 0 {
		logger.Warn("malloc_zone_register() failed: zone already registered", "zone", z.Name())
		return ErrAlreadyRegistered
	}
	r.appendLocked(z)
	logger.Debug("zone registered", "zone", z.Name(), "count", r.count.Load())
	return nil
}

// Unregister removes z. The last entry moves into its slot. On return no
// lookup can still reach z.
func (r *Registry) Unregister(z zone.Zone) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(z)
	switch {
	case i < 0:
		logger.Warn("malloc_zone_unregister() failed", "zone", zoneName(z))
		return ErrNotRegistered
	case i == 0:
		logger.Warn("malloc_zone_unregister() failed: default zone", "zone", zoneName(z))
		return ErrDefaultZone
	}

	t := r.tab.Load()
	last := int(r.count.Load()) - 1
	t.slots[i].Store(t.slots[last].Load())
	t.slots[last].Store(nil)
	r.count.Store(int32(last))
	r.gen.Add(1)

	if r.lite.Load() != nil && r.lite.Load().z == z {
		r.lite.Store(nil)
	}

	r.drain()
	logger.Debug("zone unregistered", "zone", zoneName(z), "count", last)
	return nil
}

func zoneName(z zone.Zone) string {
	if z == nil {
		return ""
	}
	return z.Name()
}

// SetDefault moves z to index 0, registering it first if needed. The previous
// default stays registered.
func (r *Registry) SetDefault(z zone.Zone) error {
	if z == nil {
		return ErrNilZone
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(z)
	if i < 0 {
		r.appendLocked(z)
		i = int(r.count.Load()) - 1
	}
	if i == 0 {
		return nil
	}
	t := r.tab.Load()
	prev := t.slots[0].Load()
	t.slots[0].Store(t.slots[i].Load())
	t.slots[i].Store(prev)
	r.gen.Add(1)
	logger.Debug("default zone set", "zone", z.Name())
	return nil
}

// SetLite installs a zone probed before the table, or clears it with nil.
func (r *Registry) SetLite(z zone.Zone) {
	if z == nil {
		r.lite.Store(nil)
		return
	}
	r.lite.Store(&entry{z: z})
}

// Find returns the zone owning ptr and the block's size, or nil and 0.
// Each zone's Size is the ownership probe.
func (r *Registry) Find(ptr unsafe.Pointer) (zone.Zone, uintptr) {
	if ptr == nil {
		return nil, 0
	}
	epoch := r.enter()
	defer epoch.Add(-1)

	if e := r.lite.Load(); e != nil {
		if size := e.z.Size(ptr); size != 0 {
			return e.z, size
		}
	}

	for {
		gen := r.gen.Load()
		t := r.tab.Load()
		n := min(int(r.count.Load()), len(t.slots))
		for i := range n {
			e := t.slots[i].Load()
			if e == nil {
				continue
			}
			if size := e.z.Size(ptr); size != 0 {
				return e.z, size
			}
		}
		if r.gen.Load() == gen {
			return nil, 0
		}
	}
}

// Default returns the zone at index 0, or nil when the table is empty.
func (r *Registry) Default() zone.Zone {
	if r.count.Load() == 0 {
		return nil
	}
	if e := r.tab.Load().slots[0].Load(); e != nil {
		return e.z
	}
	return nil
}

// Zones returns a snapshot of the table in index order.
func (r *Registry) Zones() []zone.Zone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Snapshot()
}

// Snapshot is Zones without taking the writer lock, for callers that already
// hold Lock.
func (r *Registry) Snapshot() []zone.Zone {
	t := r.tab.Load()
	n := int(r.count.Load())
	out := make([]zone.Zone, 0, n)
	for i := range n {
		if e := t.slots[i].Load(); e != nil {
			out = append(out, e.z)
		}
	}
	return out
}

// Len returns the number of registered zones.
func (r *Registry) Len() int { return int(r.count.Load()) }

// Lock blocks table mutation. Used before fork.
func (r *Registry) Lock() { r.mu.Lock() }

// Unlock releases Lock.
func (r *Registry) Unlock() { r.mu.Unlock() }

// Reinit resets the writer lock and the reader epochs in a forked child,
// where the threads that held them no longer exist.
func (r *Registry) Reinit() {
	r.mu = sync.Mutex{} //nolint:govet // resetting a lock whose holder no longer exists
	r.epochs[0].Store(0)
	r.epochs[1].Store(0)
	r.live.Store(&r.epochs[0])
}
