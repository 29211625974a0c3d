package malloc

import "github.com/joshuapare/zonekit/zone"

// tick counts an operation and runs a heap check when the schedule in
// Options says one is due.
func (h *Heap) tick() {
	start := h.opts.CheckHeapStart
	if start == 0 {
		return
	}
	n := h.ops.Add(1)
	switch {
	case n < start:
		return
	case n == start:
	case h.opts.CheckHeapEach == 0 || (n-start)%h.opts.CheckHeapEach != 0:
		return
	}
	h.CheckHeap()
}

// Check runs every zone's consistency check.
func (h *Heap) Check() bool {
	ok := true
	for _, z := range h.reg.Zones() {
		if !z.Introspect().Check() {
			ok = false
		}
	}
	return ok
}

// CheckHeap runs Check and reports a failure as corruption. With
// CheckHeapAbort set a failure panics even if the reporter's policy would
// carry on.
func (h *Heap) CheckHeap() bool {
	if h.Check() {
		return true
	}
	e := &zone.Error{
		Kind: zone.KindCorruption,
		Op:   "check",
		Msg:  "heap check failed",
	}
	h.reporter.Report(e)
	if h.opts.CheckHeapAbort {
		panic(e)
	}
	return false
}

// Operations returns how many operations have been counted for heap checking.
func (h *Heap) Operations() uint64 { return h.ops.Load() }
