package scalable

import (
	"container/heap"
	"sync"
	"unsafe"

	"github.com/joshuapare/zonekit/internal/logger"
	"github.com/joshuapare/zonekit/internal/vm"
	"github.com/joshuapare/zonekit/zone"
)

const (
	// quantum is the granularity of every block; blocks are 16-byte aligned.
	quantum = 16

	// DefaultRegionSize is the size of each mapping carved into small and medium blocks.
	DefaultRegionSize = 1 << 20

	// maxSlowPathScan bounds the linear scan when the heap top is too small.
	maxSlowPathScan = 32
)

// Config controls a Zone.
type Config struct {
	SizeClasses SizeClassConfig
	// RegionSize is rounded up to a page. Zero means DefaultRegionSize.
	RegionSize uintptr
	Mapper     vm.Mapper
	Reporter   *zone.Reporter
	// Scribble fills fresh blocks with 0xaa and freed blocks with 0x55.
	Scribble bool
}

// block describes a live allocation. mapLen is non-zero when the block owns a
// dedicated mapping starting at mapBase.
type block struct {
	size    uintptr
	mapBase uintptr
	mapLen  uintptr
}

type region struct {
	base, size uintptr
}

// AllocatorStats holds counters for testing and instrumentation.
type AllocatorStats struct {
	AllocCalls       int
	AllocFastPath    int // served from a free list
	AllocSlowPath    int // served by bumping a region or a new mapping
	FreeCalls        int
	BytesAllocated   uint64
	BytesFreed       uint64
	SplitCount       int
	CoalesceForward  int
	CoalesceBackward int
	HeapPushes       int
	HeapRemoves      int
	RegionGrows      int
	DedicatedMaps    int
}

// Zone is a general-purpose allocator built from segregated free lists kept
// as min-heaps per size class. Every operation holds one mutex.
//
// Block metadata lives in Go maps rather than in headers, so free spans can
// be discarded whole and a pointer's size is an exact lookup.
type Zone struct {
	zone.Named

	mu       sync.Mutex
	mapper   vm.Mapper
	reporter *zone.Reporter
	scribble bool

	sizeTable  *sizeClassTable
	freeLists  []freeList
	regionSize uintptr

	// byOff and endIdx index free cells by start and end address for O(1)
	// coalescing.
	byOff  map[uintptr]*freeCell
	endIdx map[uintptr]*freeCell

	live      map[uintptr]block
	regions   []region
	bump, end uintptr // unused tail of the newest region

	freeCellPool sync.Pool

	inUse, maxInUse uint64
	dedicated       uint64 // bytes in dedicated mappings
	destroyed       bool

	stats AllocatorStats
}

var _ zone.Zone = (*Zone)(nil)

// New creates an empty Zone. No memory is mapped until the first allocation.
func New(cfg Config) *Zone {
	sc := cfg.SizeClasses
	if sc.SmallIncrement == 0 {
		sc = DefaultConfig
	}
	if cfg.Mapper == nil {
		cfg.Mapper = vm.OS{}
	}
	rs := cfg.RegionSize
	if rs == 0 {
		rs = DefaultRegionSize
	}
	table := newSizeClassTable(sc)
	z := &Zone{
		mapper:     cfg.Mapper,
		reporter:   cfg.Reporter,
		scribble:   cfg.Scribble,
		sizeTable:  table,
		freeLists:  make([]freeList, table.NumClasses()),
		regionSize: vm.RoundPage(rs),
		byOff:      make(map[uintptr]*freeCell),
		endIdx:     make(map[uintptr]*freeCell),
		live:       make(map[uintptr]block),
	}
	z.freeCellPool.New = func() any { return &freeCell{} }
	logger.Debug("scalable zone created", "classes", table.NumClasses(), "config", table.String())
	return z
}

func (z *Zone) Version() int { return zone.Version }

// Stats returns a copy of the instrumentation counters.
func (z *Zone) Stats() AllocatorStats {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.stats
}

func (z *Zone) misuse(op string, ptr unsafe.Pointer, msg string) {
	z.reporter.CallerError(z.Name(), op, uintptr(ptr), msg)
}

// blockSize returns the usable size a request of n bytes receives.
func blockSize(n uintptr) uintptr {
	if n == 0 {
		return quantum
	}
	return zone.RoundUp(n, quantum)
}

func (z *Zone) Size(ptr unsafe.Pointer) uintptr {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.live[uintptr(ptr)].size
}

func (z *Zone) Malloc(size uintptr) unsafe.Pointer {
	if zone.TooLarge(size) {
		return nil
	}
	z.mu.Lock()
	p := z.allocLocked(blockSize(size))
	z.mu.Unlock()
	if p != 0 && z.scribble {
		zone.Fill(unsafe.Pointer(p), size, zone.ScribbleAlloc)
	}
	return unsafe.Pointer(p)
}

func (z *Zone) Calloc(count, size uintptr) unsafe.Pointer {
	total, overflow := zone.MulOverflow(count, size)
	if overflow || zone.TooLarge(total) {
		return nil
	}
	z.mu.Lock()
	need := blockSize(total)
	p := z.allocLocked(need)
	z.mu.Unlock()
	if p != 0 {
		zone.Fill(unsafe.Pointer(p), need, 0)
	}
	return unsafe.Pointer(p)
}

func (z *Zone) Valloc(size uintptr) unsafe.Pointer {
	return z.Memalign(vm.PageSize(), size)
}

func (z *Zone) Memalign(alignment, size uintptr) unsafe.Pointer {
	if !zone.ValidAlignment(alignment) || zone.TooLarge(size) {
		return nil
	}
	if alignment <= quantum {
		return z.Malloc(size)
	}
	need := vm.RoundPage(blockSize(size))
	z.mu.Lock()
	p := z.mapDedicated(need, alignment)
	z.mu.Unlock()
	if p != 0 && z.scribble {
		zone.Fill(unsafe.Pointer(p), size, zone.ScribbleAlloc)
	}
	return unsafe.Pointer(p)
}

// allocLocked returns a block of exactly need bytes. Caller holds mu.
func (z *Zone) allocLocked(need uintptr) uintptr {
	if z.destroyed {
		return 0
	}
	z.stats.AllocCalls++

	if z.isLarge(need) {
		return z.mapDedicated(vm.RoundPage(need), vm.PageSize())
	}
	sc := z.sizeTable.getSizeClass(need)

	var cell *freeCell
	for c := sc; c < len(z.freeLists); c++ {
		cell = z.allocFromSizeClass(c, need)
		if cell != nil {
			break
		}
	}

	var p uintptr
	if cell != nil {
		z.stats.AllocFastPath++
		p = cell.off
		if rest := cell.size - need; rest >= quantum {
			z.stats.SplitCount++
			z.insertFreeCell(p+need, rest, cell.discarded)
		} else {
			need = cell.size
		}
		z.putFreeCell(cell)
	} else {
		z.stats.AllocSlowPath++
		if p = z.bumpAlloc(need); p == 0 {
			return 0
		}
	}

	z.track(p, block{size: need})
	return p
}

func (z *Zone) track(p uintptr, b block) {
	z.live[p] = b
	z.stats.BytesAllocated += uint64(b.size)
	z.inUse += uint64(b.size)
	z.maxInUse = max(z.maxInUse, z.inUse)
}

// isLarge reports whether a block of need bytes gets a dedicated mapping.
func (z *Zone) isLarge(need uintptr) bool {
	return need >= z.sizeTable.config.MediumMax || need > z.regionSize ||
		z.sizeTable.getSizeClass(need) >= z.sizeTable.NumClasses()
}

// bumpAlloc carves need bytes from the newest region, mapping another one
// when the tail is too short. The old tail becomes a free cell.
func (z *Zone) bumpAlloc(need uintptr) uintptr {
	if z.end-z.bump < need {
		base, err := z.mapper.Allocate(z.regionSize)
		if err != nil {
			logger.Debug("scalable region allocation failed", "size", z.regionSize, "error", err)
			return 0
		}
		if tail := z.end - z.bump; tail >= quantum {
			z.insertFreeCell(z.bump, tail, false)
		}
		z.regions = append(z.regions, region{base: base, size: z.regionSize})
		z.bump, z.end = base, base+z.regionSize
		z.stats.RegionGrows++
	}
	p := z.bump
	z.bump += need
	return p
}

// mapDedicated gives a block its own mapping. Alignments above a page are
// met by over-allocating and recording the mapping base.
func (z *Zone) mapDedicated(size, alignment uintptr) uintptr {
	if z.destroyed {
		return 0
	}
	length := size
	if alignment > vm.PageSize() {
		length += alignment
	}
	base, err := z.mapper.Allocate(length)
	if err != nil {
		logger.Debug("scalable dedicated mapping failed", "size", length, "error", err)
		return 0
	}
	p := zone.RoundUp(base, max(alignment, vm.PageSize()))
	z.stats.AllocSlowPath++
	z.stats.DedicatedMaps++
	z.dedicated += uint64(length)
	z.track(p, block{size: size, mapBase: base, mapLen: length})
	return p
}

// allocFromSizeClass allocates from a size class heap using best-fit.
// Returns the smallest cell >= need, or nil if no suitable cell exists.
//
// Fast path: heap[0] is the smallest cell in this class. If it fits it is the
// best fit. Otherwise a bounded scan looks for the smallest cell that fits.
func (z *Zone) allocFromSizeClass(sc int, need uintptr) *freeCell {
	list := &z.freeLists[sc]
	if list.heap.Len() == 0 {
		return nil
	}

	if list.heap[0].size >= need {
		z.stats.HeapRemoves++
		cell := heap.Pop(&list.heap).(*freeCell) //nolint:errcheck // heap contains only *freeCell
		list.count--
		z.unindex(cell)
		return cell
	}

	best := -1
	for i := 1; i < list.heap.Len() && i <= maxSlowPathScan; i++ {
		c := list.heap[i]
		if c.size >= need && (best < 0 || c.size < list.heap[best].size) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	z.stats.HeapRemoves++
	cell := heap.Remove(&list.heap, best).(*freeCell) //nolint:errcheck // heap contains only *freeCell
	list.count--
	z.unindex(cell)
	return cell
}

func (z *Zone) unindex(cell *freeCell) {
	delete(z.byOff, cell.off)
	delete(z.endIdx, cell.off+cell.size)
}

// insertFreeCell files a free span under its size class. Spans too large for
// any class go into the last one.
func (z *Zone) insertFreeCell(off, size uintptr, discarded bool) {
	sc := min(z.sizeTable.getSizeClass(size), len(z.freeLists)-1)

	cell := z.getFreeCell()
	cell.off = off
	cell.size = size
	cell.sc = sc
	cell.discarded = discarded

	z.stats.HeapPushes++
	heap.Push(&z.freeLists[sc].heap, cell)
	z.freeLists[sc].count++

	z.byOff[off] = cell
	z.endIdx[off+size] = cell
}

func (z *Zone) removeFreeCell(cell *freeCell) {
	z.stats.HeapRemoves++
	heap.Remove(&z.freeLists[cell.sc].heap, cell.heapIndex)
	z.freeLists[cell.sc].count--
	z.unindex(cell)
}

func (z *Zone) getFreeCell() *freeCell {
	return z.freeCellPool.Get().(*freeCell) //nolint:errcheck // pool only holds *freeCell
}

func (z *Zone) putFreeCell(cell *freeCell) {
	*cell = freeCell{}
	z.freeCellPool.Put(cell)
}

func (z *Zone) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	z.mu.Lock()
	b, ok := z.live[uintptr(ptr)]
	if !ok {
		z.mu.Unlock()
		z.misuse("free", ptr, "pointer being freed was not allocated")
		return
	}
	z.freeLocked(uintptr(ptr), b)
	z.mu.Unlock()
}

// freeLocked returns b to the zone, coalescing with free neighbours. Caller holds mu.
func (z *Zone) freeLocked(p uintptr, b block) {
	delete(z.live, p)
	z.stats.FreeCalls++
	z.stats.BytesFreed += uint64(b.size)
	z.inUse -= uint64(b.size)

	if z.scribble {
		zone.Fill(unsafe.Pointer(p), b.size, zone.ScribbleFree)
	}

	if b.mapLen != 0 {
		z.dedicated -= uint64(b.mapLen)
		if err := z.mapper.Release(b.mapBase, b.mapLen); err != nil {
			logger.Warn("scalable release failed", "addr", b.mapBase, "size", b.mapLen, "error", err)
		}
		return
	}

	off, size := p, b.size
	if next := z.byOff[off+size]; next != nil {
		z.stats.CoalesceForward++
		z.removeFreeCell(next)
		size += next.size
		z.putFreeCell(next)
	}
	if prev := z.endIdx[off]; prev != nil {
		z.stats.CoalesceBackward++
		z.removeFreeCell(prev)
		off = prev.off
		size += prev.size
		z.putFreeCell(prev)
	}
	z.insertFreeCell(off, size, false)
}

// FreeDefiniteSize frees ptr after checking the declared size fits the block.
func (z *Zone) FreeDefiniteSize(ptr unsafe.Pointer, size uintptr) {
	if ptr == nil {
		return
	}
	z.mu.Lock()
	b, ok := z.live[uintptr(ptr)]
	if !ok {
		z.mu.Unlock()
		z.misuse("free_definite_size", ptr, "pointer being freed was not allocated")
		return
	}
	if size > b.size {
		z.mu.Unlock()
		z.misuse("free_definite_size", ptr, "Freeing pointer whose size was misdeclared")
		return
	}
	z.freeLocked(uintptr(ptr), b)
	z.mu.Unlock()
}

// Realloc keeps the block when it is large enough and no more than twice the
// request; otherwise it moves the contents to a new block.
func (z *Zone) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if ptr == nil {
		return z.Malloc(size)
	}
	if zone.TooLarge(size) {
		return nil
	}
	z.mu.Lock()
	b, ok := z.live[uintptr(ptr)]
	z.mu.Unlock()
	if !ok {
		z.misuse("realloc", ptr, "pointer being realloc'd was not allocated")
		return nil
	}

	need := blockSize(size)
	if need <= b.size && need*2 > b.size {
		return ptr
	}
	q := z.Malloc(size)
	if q == nil {
		return nil
	}
	zone.Copy(q, ptr, min(b.size, size))
	z.Free(ptr)
	return q
}

func (z *Zone) BatchMalloc(size uintptr, results []unsafe.Pointer) int {
	return zone.MallocEach(z, size, results)
}

func (z *Zone) BatchFree(ptrs []unsafe.Pointer) {
	zone.FreeEach(z, ptrs)
}

// PressureRelief discards the whole pages inside free cells that have not
// been discarded since they last changed.
func (z *Zone) PressureRelief(goal uintptr) uintptr {
	z.mu.Lock()
	defer z.mu.Unlock()

	var total uintptr
	for _, cell := range z.byOff {
		if goal != 0 && total >= goal {
			break
		}
		if cell.discarded {
			continue
		}
		lo, hi := vm.RoundPage(cell.off), vm.TruncPage(cell.off+cell.size)
		cell.discarded = true
		if hi <= lo {
			continue
		}
		if err := z.mapper.Discard(lo, hi-lo); err != nil {
			logger.Debug("scalable discard failed", "addr", lo, "size", hi-lo, "error", err)
			continue
		}
		total += hi - lo
	}
	if total > 0 {
		logger.Debug("scalable pressure relief", "zone", z.Name(), "bytes", total)
	}
	return total
}

// Destroy releases every mapping. The zone must not be used afterwards.
func (z *Zone) Destroy() {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.destroyed {
		return
	}
	z.destroyed = true

	for p, b := range z.live {
		if b.mapLen != 0 {
			if err := z.mapper.Release(b.mapBase, b.mapLen); err != nil {
				logger.Warn("scalable release failed", "addr", b.mapBase, "size", b.mapLen, "error", err)
			}
		}
		delete(z.live, p)
	}
	for _, r := range z.regions {
		if err := z.mapper.Release(r.base, r.size); err != nil {
			logger.Warn("scalable region release failed", "addr", r.base, "error", err)
		}
	}
	z.regions = nil
	clear(z.byOff)
	clear(z.endIdx)
	for i := range z.freeLists {
		z.freeLists[i] = freeList{}
	}
	z.bump, z.end = 0, 0
	z.inUse, z.dedicated = 0, 0
}

func (z *Zone) Introspect() zone.Introspector { return z }
