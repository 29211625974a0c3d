package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/zonekit/malloc"
)

func testHeap(t *testing.T) *malloc.Heap {
	t.Helper()
	o := malloc.DefaultOptions()
	o.AbortOnCorruption = false
	h, err := malloc.NewHeap(o)
	require.NoError(t, err)
	t.Cleanup(h.Destroy)
	return h
}

func TestWorkload_Validate(t *testing.T) {
	require.NoError(t, defaultWorkload().validate())

	bad := []func(*workload){
		func(w *workload) { w.Workers = 0 },
		func(w *workload) { w.Ops = -1 },
		func(w *workload) { w.MinSize, w.MaxSize = 10, 5 },
		func(w *workload) { w.Keep = 0 },
	}
	for _, mutate := range bad {
		w := defaultWorkload()
		mutate(&w)
		require.ErrorIs(t, w.validate(), errBadWorkload)
	}
}

func TestWorkload_RunHoldsBlocks(t *testing.T) {
	h := testHeap(t)
	w := smallWorkload()

	res, held := w.run(h)
	assert.Equal(t, uint64(w.Workers*w.Ops), res.Mallocs+res.Reallocs+res.Frees)
	assert.Zero(t, res.Failures)
	assert.Len(t, held, w.Workers)
	assert.Equal(t, uint64(res.Held), h.Statistics(nil).BlocksInUse)
	for _, ps := range held {
		assert.LessOrEqual(t, len(ps), w.Keep)
	}

	releaseAll(h, held)
	assert.Zero(t, h.Statistics(nil).BlocksInUse)
	assert.True(t, h.Check())
}

func TestWorkload_FreeLast(t *testing.T) {
	h := testHeap(t)
	w := smallWorkload()
	w.FreeLast = true

	res, held := w.run(h)
	assert.Zero(t, res.Held)
	for _, ps := range held {
		assert.Empty(t, ps)
	}
	assert.Zero(t, h.Statistics(nil).BlocksInUse)
}

func TestWorkload_Deterministic(t *testing.T) {
	w := smallWorkload()
	w.Workers = 1
	w.FreeLast = true

	a, _ := w.run(testHeap(t))
	b, _ := w.run(testHeap(t))
	assert.Equal(t, a.Mallocs, b.Mallocs)
	assert.Equal(t, a.Reallocs, b.Reallocs)
	assert.Equal(t, a.Frees, b.Frees)
}
