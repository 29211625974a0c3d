package scalable

import "math"

// SizeClassConfig defines the segregated free-list strategy.
// Different configurations trade heap count against internal fragmentation.
type SizeClassConfig struct {
	// Name for this configuration (for benchmarking)
	Name string

	// Small allocation settings (linear increments)
	SmallMin       uintptr // Minimum block size (the quantum)
	SmallMax       uintptr // Max for linear increments
	SmallIncrement uintptr // Increment size for small blocks

	// Medium allocation settings (logarithmic growth). Requests at or above
	// MediumMax get a dedicated mapping.
	MediumMax    uintptr
	GrowthFactor float64
}

// Predefined configurations.
var (
	// FineGrained: 16-512 step 16 (31 classes) + 512-64K log growth.
	ConfigFineGrained = SizeClassConfig{
		Name:           "FineGrained",
		SmallMin:       16,
		SmallMax:       512,
		SmallIncrement: 16,
		MediumMax:      64 << 10,
		GrowthFactor:   1.25,
	}

	// Balanced: 16-1024 step 32 (32 classes) + 1K-64K log growth.
	ConfigBalanced = SizeClassConfig{
		Name:           "Balanced",
		SmallMin:       16,
		SmallMax:       1024,
		SmallIncrement: 32,
		MediumMax:      64 << 10,
		GrowthFactor:   1.5,
	}

	// Coarse: fewer buckets, faster operations but more internal fragmentation.
	ConfigCoarse = SizeClassConfig{
		Name:           "Coarse",
		SmallMin:       16,
		SmallMax:       1024,
		SmallIncrement: 64,
		MediumMax:      64 << 10,
		GrowthFactor:   2.0,
	}

	// Default configuration (used if none specified).
	DefaultConfig = ConfigBalanced
)

// sizeClassTable holds the computed size class boundaries.
type sizeClassTable struct {
	config     SizeClassConfig
	boundaries []uintptr // Upper bound for each size class
	numClasses int
}

// newSizeClassTable computes size class boundaries from config.
func newSizeClassTable(config SizeClassConfig) *sizeClassTable {
	table := &sizeClassTable{
		config:     config,
		boundaries: make([]uintptr, 0, 64),
	}

	// Phase 1: Small allocations (linear increments)
	for size := config.SmallMin; size < config.SmallMax; size += config.SmallIncrement {
		table.boundaries = append(table.boundaries, size+config.SmallIncrement-1)
	}

	// Phase 2: Medium allocations (logarithmic growth)
	if config.SmallMax < config.MediumMax {
		size := config.SmallMax
		for size < config.MediumMax {
			nextSize := uintptr(math.Ceil(float64(size) * config.GrowthFactor))
			if nextSize <= size {
				nextSize = size + 1 // Ensure progress
			}
			table.boundaries = append(table.boundaries, nextSize-1)
			size = nextSize
		}
	}

	table.numClasses = len(table.boundaries)
	return table
}

// getSizeClass returns the size class index for a given block size.
// Returns table.numClasses for sizes beyond every boundary (dedicated mapping).
func (t *sizeClassTable) getSizeClass(size uintptr) int {
	lo, hi := 0, t.numClasses-1

	for lo <= hi {
		mid := (lo + hi) / 2
		if size <= t.boundaries[mid] {
			if mid == 0 || size > t.boundaries[mid-1] {
				return mid
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	return t.numClasses
}

// String returns a human-readable description of the size class table.
func (t *sizeClassTable) String() string {
	return t.config.Name
}

// NumClasses returns the number of size classes (excluding dedicated mappings).
func (t *sizeClassTable) NumClasses() int {
	return t.numClasses
}
