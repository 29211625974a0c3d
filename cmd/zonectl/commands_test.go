package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/zonekit/internal/topology"
	"github.com/joshuapare/zonekit/malloc"
)

func TestStress_Text(t *testing.T) {
	withFlags(t, false, true)
	out, err := captureOutput(t, func() error { return runStress(smallWorkload()) })
	require.NoError(t, err)
	assertContains(t, out, []string{"Stress Results:", "Mallocs:", "Heap check: true", "Blocks left in use: 0"})
}

func TestStress_JSON(t *testing.T) {
	withFlags(t, true, false)
	out, err := captureOutput(t, func() error { return runStress(smallWorkload()) })
	require.NoError(t, err)

	var rep stressReport
	decodeJSON(t, out, &rep)
	assert.True(t, rep.Check)
	assert.Zero(t, rep.BlocksInUse)
	assert.Equal(t, 2, rep.Workers)
}

func TestStress_InvalidWorkload(t *testing.T) {
	withFlags(t, false, true)
	w := smallWorkload()
	w.Workers = 0
	_, err := captureOutput(t, func() error { return runStress(w) })
	require.ErrorIs(t, err, errBadWorkload)
}

func TestStats_JSON(t *testing.T) {
	withFlags(t, true, true)
	out, err := captureOutput(t, func() error { return runStats(smallWorkload()) })
	require.NoError(t, err)

	var rep statsReport
	decodeJSON(t, out, &rep)
	require.NotEmpty(t, rep.Zones)
	assert.Equal(t, malloc.DefaultZoneName, rep.Zones[0].Name)
	assert.Equal(t, uint64(rep.Workload.Held), rep.Total.BlocksInUse)
}

func TestZones_Text(t *testing.T) {
	withFlags(t, false, false)
	out, err := captureOutput(t, runZones)
	require.NoError(t, err)
	assertContains(t, out, []string{"Registered Zones:", "0: " + malloc.DefaultZoneName, "(default)"})
}

func TestZones_JSON(t *testing.T) {
	withFlags(t, true, false)
	out, err := captureOutput(t, runZones)
	require.NoError(t, err)

	var infos []zoneInfo
	decodeJSON(t, out, &infos)
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Default)
}

func TestRelief_JSON(t *testing.T) {
	withFlags(t, true, true)
	w := smallWorkload()
	w.MinSize, w.MaxSize = 4096, 16384
	out, err := captureOutput(t, func() error { return runRelief(w, 0) })
	require.NoError(t, err)

	var rep reliefReport
	decodeJSON(t, out, &rep)
	assert.Positive(t, rep.Released)
	assert.Zero(t, rep.Again)
}

func TestTopology_JSON(t *testing.T) {
	if _, err := topology.Detect(); err != nil {
		t.Skipf("cpu layout not supported here: %v", err)
	}
	withFlags(t, true, true)
	out, err := captureOutput(t, runTopology)
	require.NoError(t, err)

	var rep topologyReport
	decodeJSON(t, out, &rep)
	assert.Positive(t, rep.Physical)
	assert.GreaterOrEqual(t, rep.Logical, rep.Physical)
	assert.Len(t, rep.Magazines, rep.Logical)
	if rep.NanoEnabled {
		assert.NotZero(t, rep.RegionSize)
	}
}

func TestPrint_Text(t *testing.T) {
	withFlags(t, false, false)
	w := smallWorkload()
	w.Workers = 1
	out, err := captureOutput(t, func() error { return runPrint(w) })
	require.NoError(t, err)
	assertContains(t, out, []string{"zone 0: " + malloc.DefaultZoneName, "Scalable zone"})
}

func TestVersion_Text(t *testing.T) {
	withFlags(t, false, true)
	out, err := captureOutput(t, runVersion)
	require.NoError(t, err)
	assertContains(t, out, []string{"zonectl dev", "zone interface: v", "16 size classes of 16 bytes up to 256", "2.0 MB bands"})
}

func TestVersion_JSON(t *testing.T) {
	withFlags(t, true, true)
	out, err := captureOutput(t, runVersion)
	require.NoError(t, err)

	var rep versionReport
	decodeJSON(t, out, &rep)
	assert.Equal(t, 16, rep.Quantum)
	assert.Equal(t, 256, rep.MaxSize)
	assert.Equal(t, 16, rep.SlotCount)
	assert.Equal(t, 2<<20, rep.BandSize)
}
