package malloc

import (
	"fmt"
	"io"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/zonekit/internal/logger"
	"github.com/joshuapare/zonekit/nano"
	"github.com/joshuapare/zonekit/registry"
	"github.com/joshuapare/zonekit/scalable"
	"github.com/joshuapare/zonekit/zone"
)

// Names given to the zones a Heap creates at startup.
const (
	DefaultZoneName = "DefaultMallocZone"
	HelperZoneName  = "MallocHelperZone"
)

// Heap is a process heap: a registry of zones with generic entry points that
// allocate from the default zone and route frees to the owning zone.
type Heap struct {
	opts     Options
	reg      *registry.Registry
	reporter *zone.Reporter

	nano   *nano.Allocator // nil when nano is disabled or unavailable
	helper *scalable.Zone

	ops       atomic.Uint64 // operations counted for heap checking
	forkZones []zone.Zone   // zones locked by ForkPrepare
}

// NewHeap creates the default zones and registers them. If the nano zone
// cannot be created the helper becomes the default.
func NewHeap(opts Options) (*Heap, error) {
	reporter := zone.NewReporter(zone.Policy{
		AbortOnCorruption: opts.AbortOnCorruption,
		AbortOnError:      opts.AbortOnError,
		Pause:             opts.CorruptionPause,
	})

	hcfg := opts.Helper
	if hcfg.Reporter == nil {
		hcfg.Reporter = reporter
	}
	hcfg.Scribble = hcfg.Scribble || opts.Scribble
	helper := scalable.New(hcfg)

	h := &Heap{
		opts:     opts,
		reg:      registry.New(),
		reporter: reporter,
		helper:   helper,
	}

	if !opts.DisableNano {
		ncfg := opts.Nano
		if ncfg.Reporter == nil {
			ncfg.Reporter = reporter
		}
		ncfg.Scribble = ncfg.Scribble || opts.Scribble
		n, err := nano.New(helper, ncfg)
		if err != nil {
			logger.Warn("nano zone unavailable, helper zone is the default", "error", err)
		} else {
			h.nano = n
		}
	}

	if h.nano != nil {
		h.nano.SetName(DefaultZoneName)
		helper.SetName(HelperZoneName)
		if err := h.reg.Register(h.nano); err != nil {
			return nil, fmt.Errorf("malloc: register default zone: %w", err)
		}
	} else {
		helper.SetName(DefaultZoneName)
	}
	if err := h.reg.Register(helper); err != nil {
		return nil, fmt.Errorf("malloc: register helper zone: %w", err)
	}

	logger.Debug("heap initialized", "nano", h.nano != nil, "zones", h.reg.Len())
	return h, nil
}

// Registry exposes the zone table.
func (h *Heap) Registry() *registry.Registry { return h.reg }

// Reporter returns the heap's diagnostic channel.
func (h *Heap) Reporter() *zone.Reporter { return h.reporter }

// Nano returns the nano zone, or nil when the heap runs without one.
func (h *Heap) Nano() *nano.Allocator { return h.nano }

// Helper returns the general-purpose zone created with the heap.
func (h *Heap) Helper() *scalable.Zone { return h.helper }

// DefaultZone returns the zone at index 0.
func (h *Heap) DefaultZone() zone.Zone { return h.reg.Default() }

// Zones returns the registered zones in index order.
func (h *Heap) Zones() []zone.Zone { return h.reg.Zones() }

// SetDefault makes z the default zone, registering it if needed.
func (h *Heap) SetDefault(z zone.Zone) error { return h.reg.SetDefault(z) }

func (h *Heap) Malloc(size uintptr) unsafe.Pointer {
	return h.ZoneMalloc(nil, size)
}

func (h *Heap) Calloc(count, size uintptr) unsafe.Pointer {
	return h.ZoneCalloc(nil, count, size)
}

func (h *Heap) Valloc(size uintptr) unsafe.Pointer {
	return h.ZoneValloc(nil, size)
}

func (h *Heap) Memalign(alignment, size uintptr) unsafe.Pointer {
	return h.ZoneMemalign(nil, alignment, size)
}

// PosixMemalign allocates size bytes aligned to alignment, reporting why it failed.
func (h *Heap) PosixMemalign(alignment, size uintptr) (unsafe.Pointer, error) {
	if !zone.ValidAlignment(alignment) {
		return nil, zone.ErrInvalidAlignment
	}
	p := h.Memalign(alignment, size)
	if p == nil {
		return nil, zone.ErrNoMemory
	}
	return p, nil
}

// Free returns ptr to the zone that owns it. A pointer no zone owns is
// reported as a caller error and otherwise ignored.
func (h *Heap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	h.tick()
	z, _ := h.reg.Find(ptr)
	if z == nil {
		h.reporter.CallerError("", "free", uintptr(ptr), "pointer being freed was not allocated")
		return
	}
	z.Free(ptr)
}

// Realloc resizes ptr in its owning zone. Size 0 allocates a minimal block
// from the default zone and frees ptr.
func (h *Heap) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if ptr == nil {
		return h.Malloc(size)
	}
	h.tick()
	z, _ := h.reg.Find(ptr)
	if z == nil {
		h.reporter.CallerError("", "realloc", uintptr(ptr), "pointer being realloc'd was not allocated")
		return nil
	}
	return h.reallocIn(z, ptr, size)
}

func (h *Heap) reallocIn(z zone.Zone, ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if size == 0 {
		q := h.DefaultZone().Malloc(0)
		if q == nil {
			return nil
		}
		z.Free(ptr)
		return q
	}
	if zone.TooLarge(size) {
		return nil
	}
	return z.Realloc(ptr, size)
}

// Reallocf is Realloc that frees ptr when the resize fails.
func (h *Heap) Reallocf(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	q := h.Realloc(ptr, size)
	if q == nil && ptr != nil {
		if z, _ := h.reg.Find(ptr); z != nil {
			z.Free(ptr)
		}
	}
	return q
}

// Size returns the usable size of ptr, or 0 if no zone owns it.
func (h *Heap) Size(ptr unsafe.Pointer) uintptr {
	_, size := h.reg.Find(ptr)
	return size
}

// GoodSize returns the size the default zone would actually hand out for size.
func (h *Heap) GoodSize(size uintptr) uintptr {
	return h.DefaultZone().Introspect().GoodSize(size)
}

// ZoneFromPtr returns the zone owning ptr, or nil.
func (h *Heap) ZoneFromPtr(ptr unsafe.Pointer) zone.Zone {
	z, _ := h.reg.Find(ptr)
	return z
}

func (h *Heap) zoneOrDefault(z zone.Zone) zone.Zone {
	if z == nil {
		return h.DefaultZone()
	}
	return z
}

// ZoneMalloc allocates from z, or the default zone when z is nil.
func (h *Heap) ZoneMalloc(z zone.Zone, size uintptr) unsafe.Pointer {
	if zone.TooLarge(size) {
		return nil
	}
	h.tick()
	return h.zoneOrDefault(z).Malloc(size)
}

func (h *Heap) ZoneCalloc(z zone.Zone, count, size uintptr) unsafe.Pointer {
	total, overflow := zone.MulOverflow(count, size)
	if overflow || zone.TooLarge(total) {
		return nil
	}
	h.tick()
	return h.zoneOrDefault(z).Calloc(count, size)
}

func (h *Heap) ZoneValloc(z zone.Zone, size uintptr) unsafe.Pointer {
	if zone.TooLarge(size) {
		return nil
	}
	h.tick()
	return h.zoneOrDefault(z).Valloc(size)
}

func (h *Heap) ZoneMemalign(z zone.Zone, alignment, size uintptr) unsafe.Pointer {
	if !zone.ValidAlignment(alignment) || zone.TooLarge(size) {
		return nil
	}
	h.tick()
	return h.zoneOrDefault(z).Memalign(alignment, size)
}

// ZoneFree frees ptr into z directly, skipping the ownership lookup.
func (h *Heap) ZoneFree(z zone.Zone, ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	h.tick()
	h.zoneOrDefault(z).Free(ptr)
}

func (h *Heap) ZoneRealloc(z zone.Zone, ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	z = h.zoneOrDefault(z)
	if ptr == nil {
		return h.ZoneMalloc(z, size)
	}
	h.tick()
	return h.reallocIn(z, ptr, size)
}

// BatchMalloc fills results from z (or the default zone) and returns the count.
func (h *Heap) BatchMalloc(z zone.Zone, size uintptr, results []unsafe.Pointer) int {
	if zone.TooLarge(size) {
		return 0
	}
	h.tick()
	return h.zoneOrDefault(z).BatchMalloc(size, results)
}

func (h *Heap) BatchFree(z zone.Zone, ptrs []unsafe.Pointer) {
	h.tick()
	h.zoneOrDefault(z).BatchFree(ptrs)
}

// CreateZone builds a scalable zone named name and registers it.
func (h *Heap) CreateZone(name string, cfg scalable.Config) (*scalable.Zone, error) {
	if cfg.Reporter == nil {
		cfg.Reporter = h.reporter
	}
	cfg.Scribble = cfg.Scribble || h.opts.Scribble
	z := scalable.New(cfg)
	z.SetName(name)
	if err := h.reg.Register(z); err != nil {
		z.Destroy()
		return nil, err
	}
	return z, nil
}

// DestroyZone unregisters z and then destroys it.
func (h *Heap) DestroyZone(z zone.Zone) error {
	if err := h.reg.Unregister(z); err != nil {
		return fmt.Errorf("malloc: destroy zone %q: %w", z.Name(), err)
	}
	z.Destroy()
	return nil
}

// PressureRelief asks z, or every zone when z is nil, to return memory to
// the OS. It stops once goal bytes are released; goal 0 means all it can.
func (h *Heap) PressureRelief(z zone.Zone, goal uintptr) uintptr {
	if z != nil {
		return z.PressureRelief(goal)
	}
	var total uintptr
	for _, zz := range h.reg.Zones() {
		var want uintptr
		if goal != 0 {
			want = goal - total
		}
		total += zz.PressureRelief(want)
		if goal != 0 && total >= goal {
			break
		}
	}
	return total
}

// Statistics returns z's statistics, or the sum over every zone when z is nil.
func (h *Heap) Statistics(z zone.Zone) zone.Statistics {
	if z != nil {
		return z.Introspect().Statistics()
	}
	var s zone.Statistics
	for _, zz := range h.reg.Zones() {
		s.Add(zz.Introspect().Statistics())
	}
	return s
}

// Locked reports whether any zone holds a lock.
func (h *Heap) Locked() bool {
	for _, z := range h.reg.Zones() {
		if z.Introspect().Locked() {
			return true
		}
	}
	return false
}

// Print writes every zone's report to w.
func (h *Heap) Print(w io.Writer, verbose bool) {
	for i, z := range h.reg.Zones() {
		fmt.Fprintf(w, "zone %d: %s\n", i, z.Name())
		z.Introspect().Print(w, verbose)
	}
}

// Destroy tears down every zone. The heap must not be used afterwards.
func (h *Heap) Destroy() {
	zones := h.reg.Zones()
	for i := len(zones) - 1; i >= 1; i-- {
		if err := h.reg.Unregister(zones[i]); err != nil {
			logger.Warn("heap destroy: unregister", "zone", zones[i].Name(), "error", err)
		}
	}
	for _, z := range zones {
		if !h.ownZone(z) {
			z.Destroy()
		}
	}
	// nano destroys its helper.
	if h.nano != nil {
		h.nano.Destroy()
		return
	}
	h.helper.Destroy()
}

func (h *Heap) ownZone(z zone.Zone) bool {
	if z == zone.Zone(h.helper) {
		return true
	}
	return h.nano != nil && z == zone.Zone(h.nano)
}
