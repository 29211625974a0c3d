package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
	"unsafe"

	"github.com/joshuapare/zonekit/malloc"
	"github.com/joshuapare/zonekit/zone"
)

// workload drives a random mix of malloc, realloc and free through a heap.
type workload struct {
	Workers  int
	Ops      int     // per worker
	MinSize  uintptr // inclusive
	MaxSize  uintptr // inclusive
	Keep     int     // live blocks each worker holds before it starts freeing
	Realloc  float64 // fraction of steps that realloc a held block
	Seed     uint64
	FreeLast bool // free everything still held when done
}

type workloadResult struct {
	Workers   int           `json:"workers"`
	Mallocs   uint64        `json:"mallocs"`
	Reallocs  uint64        `json:"reallocs"`
	Frees     uint64        `json:"frees"`
	Failures  uint64        `json:"failures"`
	Held      int           `json:"held"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	OpsPerSec float64       `json:"ops_per_sec"`
}

var errBadWorkload = errors.New("invalid workload")

func (w workload) validate() error {
	switch {
	case w.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", errBadWorkload)
	case w.Ops < 0:
		return fmt.Errorf("%w: ops must not be negative", errBadWorkload)
	case w.MinSize > w.MaxSize:
		return fmt.Errorf("%w: min size above max size", errBadWorkload)
	case w.Keep <= 0:
		return fmt.Errorf("%w: keep must be positive", errBadWorkload)
	}
	return nil
}

type workerCounts struct {
	mallocs, reallocs, frees, failures uint64
	held                               []unsafe.Pointer
}

// run executes the workload. Blocks still held afterwards are returned so
// callers can inspect the heap before releasing them.
func (w workload) run(h *malloc.Heap) (workloadResult, [][]unsafe.Pointer) {
	counts := make([]workerCounts, w.Workers)
	start := time.Now()

	var wg sync.WaitGroup
	for i := range w.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counts[i] = w.worker(h, rand.New(rand.NewPCG(w.Seed, uint64(i))))
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	res := workloadResult{Workers: w.Workers, Elapsed: elapsed}
	held := make([][]unsafe.Pointer, w.Workers)
	for i, c := range counts {
		res.Mallocs += c.mallocs
		res.Reallocs += c.reallocs
		res.Frees += c.frees
		res.Failures += c.failures
		res.Held += len(c.held)
		held[i] = c.held
	}
	if secs := elapsed.Seconds(); secs > 0 {
		res.OpsPerSec = float64(res.Mallocs+res.Reallocs+res.Frees) / secs
	}
	return res, held
}

func (w workload) size(r *rand.Rand) uintptr {
	span := uint64(w.MaxSize - w.MinSize + 1)
	return w.MinSize + uintptr(r.Uint64N(span))
}

func (w workload) worker(h *malloc.Heap, r *rand.Rand) workerCounts {
	var c workerCounts
	held := make([]unsafe.Pointer, 0, w.Keep)
	for range w.Ops {
		if len(held) > 0 && r.Float64() < w.Realloc {
			i := r.IntN(len(held))
			size := w.size(r)
			q := h.Realloc(held[i], size)
			c.reallocs++
			if q == nil && size != 0 {
				c.failures++
				continue
			}
			held[i] = q
			continue
		}
		if len(held) == w.Keep {
			i := r.IntN(len(held))
			h.Free(held[i])
			c.frees++
			held[i] = held[len(held)-1]
			held = held[:len(held)-1]
			continue
		}
		size := w.size(r)
		p := h.Malloc(size)
		c.mallocs++
		if p == nil {
			c.failures++
			continue
		}
		if size > 0 {
			zone.Bytes(p, size)[0] = byte(size)
		}
		held = append(held, p)
	}
	if w.FreeLast {
		for _, p := range held {
			h.Free(p)
			c.frees++
		}
		held = nil
	}
	c.held = held
	return c
}

func releaseAll(h *malloc.Heap, held [][]unsafe.Pointer) {
	for _, ps := range held {
		for _, p := range ps {
			h.Free(p)
		}
	}
}
