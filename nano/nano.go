package nano

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/zonekit/internal/entropy"
	"github.com/joshuapare/zonekit/internal/logger"
	"github.com/joshuapare/zonekit/internal/topology"
	"github.com/joshuapare/zonekit/internal/vm"
	"github.com/joshuapare/zonekit/zone"
)

var (
	// ErrNoHelper is returned when New is called without a helper zone.
	ErrNoHelper = errors.New("nano: helper zone required")

	// ErrTooManyMagazines is returned when the machine has more physical CPUs than nano supports.
	ErrTooManyMagazines = errors.New("nano: physical cpu count exceeds magazine capacity")

	// ErrGeometry is returned for an unusable band configuration.
	ErrGeometry = errors.New("nano: invalid band geometry")
)

// Config configures an Allocator. The zero value detects everything.
type Config struct {
	// Topology overrides CPU detection.
	Topology *topology.Topology
	// CPU returns the current logical CPU. Defaults to topology.CurrentCPU.
	CPU func() int
	// BandBits sets the number of 2 MiB bands per magazine (1<<BandBits).
	BandBits uint
	// Secret overrides the process secret.
	Secret *entropy.Secret
	Mapper vm.Mapper
	// Reporter receives corruption and misuse reports.
	Reporter *zone.Reporter
	// Scribble fills fresh blocks with 0xaa and freed blocks with 0x55.
	Scribble bool
}

const (
	stateNormal uint32 = iota
	statePostFork
)

// Allocator is the nano zone.
type Allocator struct {
	zone.Named

	helper   zone.Zone
	codec    codec
	mags     []magazine
	topo     topology.Topology
	cpu      func() int
	mapper   vm.Mapper
	reporter *zone.Reporter
	secret   entropy.Secret
	guard    uint64
	scribble bool

	state     atomic.Uint32
	destroyed atomic.Bool
	leaked    atomic.Uint64 // nano blocks abandoned after fork

	reliefMu sync.Mutex
}

var (
	_ zone.Zone         = (*Allocator)(nil)
	_ zone.Introspector = (*Allocator)(nil)
)

// New reserves the nano region and returns an allocator that forwards anything
// it cannot serve to helper.
func New(helper zone.Zone, cfg Config) (*Allocator, error) {
	if helper == nil {
		return nil, ErrNoHelper
	}

	topo := cfg.Topology
	if topo == nil {
		t, err := topology.Detect()
		if err != nil {
			return nil, fmt.Errorf("nano: %w: %w", zone.ErrConfiguration, err)
		}
		topo = &t
	}
	if topo.Physical > MaxMagazines {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyMagazines, topo.Physical, MaxMagazines)
	}
	if topo.Physical <= 0 {
		return nil, fmt.Errorf("nano: %w", topology.ErrInvalid)
	}

	bandBits := cfg.BandBits
	if bandBits == 0 {
		bandBits = DefaultBandBits
	}
	if bandBits > maxBandBits {
		return nil, fmt.Errorf("%w: %d band bits", ErrGeometry, bandBits)
	}
	shift := regionShift(bandBits, magBitsFor(topo.Physical))
	if 64-shift < minTagBits || shift >= uint(unsafe.Sizeof(uintptr(0))*8) {
		return nil, fmt.Errorf("%w: region of %d bits", ErrGeometry, shift)
	}

	mapper := cfg.Mapper
	if mapper == nil {
		mapper = vm.OS{}
	}

	var secret entropy.Secret
	if cfg.Secret != nil {
		secret = *cfg.Secret
	} else {
		s, err := entropy.Read()
		if err != nil {
			return nil, err
		}
		secret = s
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = zone.NewReporter(zone.DefaultPolicy())
	}

	size := uintptr(1) << shift
	base, err := mapper.Reserve(size, size)
	if err != nil {
		return nil, fmt.Errorf("nano: reserve region: %w", err)
	}

	n := &Allocator{
		helper:   helper,
		codec:    newCodec(base, bandBits, topo.Physical),
		mags:     make([]magazine, topo.Physical),
		topo:     *topo,
		cpu:      cfg.CPU,
		mapper:   mapper,
		reporter: reporter,
		secret:   secret,
		guard:    Canary ^ secret.Cookie(),
		scribble: cfg.Scribble,
	}
	if n.cpu == nil {
		n.cpu = topology.CurrentCPU
	}
	for m := range n.mags {
		for c := range n.mags[m].slots {
			n.mags[m].slots[c].init(m, c)
		}
	}

	logger.Debug("nano: region reserved",
		"base", base, "size", size, "magazines", topo.Physical, "bands", 1<<bandBits)
	return n, nil
}

// Helper returns the zone nano forwards to.
func (n *Allocator) Helper() zone.Zone { return n.helper }

// Decode exposes the address layout of p.
func (n *Allocator) Decode(ptr unsafe.Pointer) (Fields, bool) {
	return n.codec.decode(uintptr(ptr))
}

// Owns reports whether ptr lies in the nano region, live or not.
func (n *Allocator) Owns(ptr unsafe.Pointer) bool {
	return n.codec.owns(uintptr(ptr))
}

// Region returns the reserved address range.
func (n *Allocator) Region() zone.Range {
	return zone.Range{Addr: n.codec.base, Size: n.codec.regionSize()}
}

func (n *Allocator) Version() int { return zone.Version }

func (n *Allocator) forked() bool { return n.state.Load() == statePostFork }

func (n *Allocator) magazine() int {
	m := n.topo.Magazine(n.cpu())
	if m >= len(n.mags) {
		m %= len(n.mags)
	}
	return m
}

func (n *Allocator) corrupt(op string, p uintptr, msg string) {
	n.reporter.Corruption(n.Name(), op, p, msg)
}

func (n *Allocator) misuse(op string, p uintptr, msg string) {
	n.reporter.CallerError(n.Name(), op, p, msg)
}

// allocate pops a block from the free list, falling back to the bump cursor.
// Returns 0 when the admin has nothing left.
func (n *Allocator) allocate(size uintptr, clear bool) uintptr {
	_, class := SizeClass(size)
	m := &n.mags[n.magazine()]
	a := &m.slots[class]

	for {
		p, ok := n.pop(a)
		if p == 0 {
			break
		}
		if !ok {
			n.corrupt("malloc", p, "free list damaged, entry does not belong to its slot")
			break
		}
		if loadGuard(p) != n.guard {
			n.corrupt("malloc", p, "incorrect checksum for freed object - object was probably modified after being freed")
			continue
		}
		storeNext(p, 0)
		storeGuard(p, 0)
		switch {
		case clear:
			zone.Fill(unsafe.Pointer(p), a.slotBytes, 0)
		case n.scribble:
			zone.Fill(unsafe.Pointer(p), a.slotBytes, zone.ScribbleAlloc)
		}
		return p
	}

	p := n.nextBlock(a, m)
	if p != 0 && n.scribble && !clear {
		zone.Fill(unsafe.Pointer(p), a.slotBytes, zone.ScribbleAlloc)
	}
	return p
}

// release puts a vetted live block back on its free list.
func (n *Allocator) release(a *slotAdmin, p uintptr) {
	if n.scribble {
		zone.Fill(unsafe.Pointer(p), a.slotBytes, zone.ScribbleFree)
	}
	storeGuard(p, n.guard)
	n.push(a, p)
}

func (n *Allocator) Size(ptr unsafe.Pointer) uintptr {
	p := uintptr(ptr)
	if n.codec.owns(p) {
		if a, ok := n.vetLive(p); ok {
			return a.slotBytes
		}
		return 0
	}
	return n.helper.Size(ptr)
}

func (n *Allocator) Malloc(size uintptr) unsafe.Pointer {
	if n.forked() {
		return n.helper.Malloc(size)
	}
	if size <= MaxSize {
		if p := n.allocate(size, false); p != 0 {
			return unsafe.Pointer(p)
		}
	}
	return n.helper.Malloc(size)
}

func (n *Allocator) Calloc(count, size uintptr) unsafe.Pointer {
	total, overflow := zone.MulOverflow(count, size)
	if overflow || zone.TooLarge(total) {
		return nil
	}
	if n.forked() {
		return n.helper.Calloc(1, total)
	}
	if total <= MaxSize {
		if p := n.allocate(total, true); p != 0 {
			return unsafe.Pointer(p)
		}
	}
	return n.helper.Calloc(1, total)
}

func (n *Allocator) Valloc(size uintptr) unsafe.Pointer {
	return n.helper.Valloc(size)
}

func (n *Allocator) Memalign(alignment, size uintptr) unsafe.Pointer {
	return n.helper.Memalign(alignment, size)
}

func (n *Allocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if n.forked() {
		n.forkedFree(ptr)
		return
	}
	p := uintptr(ptr)
	if !n.codec.owns(p) {
		n.helper.Free(ptr)
		return
	}
	a, ok := n.vetLive(p)
	if !ok {
		n.misuse("free", p, "pointer being freed was not allocated")
		return
	}
	n.release(a, p)
}

func (n *Allocator) FreeDefiniteSize(ptr unsafe.Pointer, size uintptr) {
	if ptr == nil {
		return
	}
	if n.forked() {
		n.forkedFree(ptr)
		return
	}
	p := uintptr(ptr)
	if !n.codec.owns(p) {
		n.helper.FreeDefiniteSize(ptr, size)
		return
	}
	a, ok := n.vetLive(p)
	if !ok {
		n.misuse("free", p, "pointer being freed was not allocated")
		return
	}
	if _, class := SizeClass(size); size > MaxSize || class != a.class {
		n.misuse("free", p, "Freeing pointer whose size was misdeclared")
		return
	}
	n.release(a, p)
}

func (n *Allocator) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if n.forked() {
		return n.forkedRealloc(ptr, size)
	}
	if ptr == nil {
		return n.Malloc(size)
	}
	p := uintptr(ptr)
	if !n.codec.owns(p) {
		return n.helper.Realloc(ptr, size)
	}
	a, ok := n.vetLive(p)
	if !ok {
		n.misuse("realloc", p, "pointer being reallocated was not allocated")
		return nil
	}

	if size <= MaxSize {
		if q := n.reallocSmall(a, p, size); q != 0 {
			return unsafe.Pointer(q)
		}
	}

	q := n.helper.Malloc(size)
	if q == nil {
		// The original block is left intact.
		return nil
	}
	zone.Copy(q, ptr, min(a.slotBytes, size))
	n.release(a, p)
	return q
}

// reallocSmall keeps the block when the new size still fits without wasting
// more than half of it; otherwise it moves to a fresh nano block. Returns 0 if
// nano cannot supply one.
func (n *Allocator) reallocSmall(a *slotAdmin, p, size uintptr) uintptr {
	if size == 0 {
		// A fresh minimal block, allocated before the release so it can never
		// be the old address.
		q := n.allocate(1, false)
		if q == 0 {
			return 0
		}
		n.release(a, p)
		return q
	}

	want := GoodSize(size)
	if want <= a.slotBytes && want > a.slotBytes/2 {
		if n.scribble && size < a.slotBytes {
			zone.Fill(unsafe.Pointer(p+size), a.slotBytes-size, zone.ScribbleFree)
		}
		return p
	}

	q := n.allocate(size, false)
	if q == 0 {
		return 0
	}
	zone.Copy(unsafe.Pointer(q), unsafe.Pointer(p), min(a.slotBytes, size))
	n.release(a, p)
	return q
}

func (n *Allocator) BatchMalloc(size uintptr, results []unsafe.Pointer) int {
	if n.forked() {
		return n.helper.BatchMalloc(size, results)
	}
	found := 0
	if size <= MaxSize {
		for found < len(results) {
			p := n.allocate(size, false)
			if p == 0 {
				break
			}
			results[found] = unsafe.Pointer(p)
			found++
		}
	}
	if found < len(results) {
		found += n.helper.BatchMalloc(size, results[found:])
	}
	return found
}

func (n *Allocator) BatchFree(ptrs []unsafe.Pointer) {
	zone.FreeEach(n, ptrs)
}

func (n *Allocator) PressureRelief(goal uintptr) uintptr {
	if n.forked() {
		return 0
	}
	return n.relieve(goal)
}

// Destroy tears down the helper zone and then releases the nano region.
func (n *Allocator) Destroy() {
	if !n.destroyed.CompareAndSwap(false, true) {
		return
	}
	n.helper.Destroy()
	if err := n.mapper.Release(n.codec.base, n.codec.regionSize()); err != nil {
		logger.Warn("nano: release region", "error", err)
	}
}

func (n *Allocator) Introspect() zone.Introspector { return n }
