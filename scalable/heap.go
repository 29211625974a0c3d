package scalable

// freeList is a size-class-specific free list using a min-heap.
type freeList struct {
	heap  freeCellHeap // Min-heap keyed on size
	count int
}

// freeCell is a free span inside a region. Metadata lives here, never in the
// span itself, so the span's bytes can be discarded.
type freeCell struct {
	off       uintptr // start address
	size      uintptr
	sc        int  // Size class (which heap this belongs to)
	heapIndex int  // Position in heap (for heap.Remove)
	discarded bool // interior pages already returned to the OS
}

// freeCellHeap implements heap.Interface for min-heap keyed on cell size.
// Smallest cells are at the top, giving us best-fit allocation.
type freeCellHeap []*freeCell

func (h *freeCellHeap) Len() int { return len(*h) }

func (h *freeCellHeap) Less(i, j int) bool {
	return (*h)[i].size < (*h)[j].size
}

func (h *freeCellHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
	(*h)[i].heapIndex = i
	(*h)[j].heapIndex = j
}

func (h *freeCellHeap) Push(x any) {
	cell := x.(*freeCell) //nolint:errcheck // heap.Interface contract guarantees type
	cell.heapIndex = len(*h)
	*h = append(*h, cell)
}

func (h *freeCellHeap) Pop() any {
	old := *h
	n := len(old)
	cell := old[n-1]
	cell.heapIndex = -1
	*h = old[0 : n-1]
	return cell
}
