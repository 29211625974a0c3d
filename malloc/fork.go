package malloc

// ForkPrepare takes the registry lock and then every zone's locks in index
// order, so a child inherits a consistent heap. Call it immediately before
// fork, then ForkParent in the parent and ForkChild in the child.
func (h *Heap) ForkPrepare() {
	h.reg.Lock()
	h.forkZones = h.reg.Snapshot()
	for _, z := range h.forkZones {
		z.Introspect().ForceLock()
	}
}

// ForkParent releases the locks ForkPrepare took, in reverse order.
func (h *Heap) ForkParent() {
	for i := len(h.forkZones) - 1; i >= 0; i-- {
		h.forkZones[i].Introspect().ForceUnlock()
	}
	h.forkZones = nil
	h.reg.Unlock()
}

// ForkChild switches nano to post-fork mode and reinitializes every lock,
// since the threads that held them do not exist in the child.
func (h *Heap) ForkChild() {
	if h.nano != nil {
		h.nano.ForkChild()
	}
	for _, z := range h.forkZones {
		z.Introspect().ReinitLock()
	}
	h.forkZones = nil
	h.reg.Reinit()
}
