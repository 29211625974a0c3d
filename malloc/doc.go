// Package malloc provides the generic allocation entry points over a
// registry of zones.
//
// A Heap starts with two zones: the nano zone as the default, named
// "DefaultMallocZone", and the scalable helper zone behind it, named
// "MallocHelperZone". Allocations go to the default zone; Free, Realloc and
// Size ask the registry which zone owns the pointer.
//
//	h, err := malloc.NewHeap(malloc.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	p := h.Malloc(48)
//	defer h.Free(p)
//
// Std returns a lazily created process heap, and the package-level
// functions call into it.
//
// The memory never belongs to the Go heap: the garbage collector does not
// scan it, so it must not hold the only reference to a Go object.
package malloc
