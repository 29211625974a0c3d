package malloc

import (
	"time"

	"github.com/joshuapare/zonekit/nano"
	"github.com/joshuapare/zonekit/scalable"
)

// Options configures a Heap.
type Options struct {
	// DisableNano makes the helper zone the default.
	DisableNano bool
	// Scribble fills fresh blocks with 0xaa and freed blocks with 0x55 in
	// every zone the heap creates.
	Scribble bool

	AbortOnCorruption bool
	AbortOnError      bool
	// CorruptionPause is how long to sleep after a corruption report that
	// does not abort.
	CorruptionPause time.Duration

	// CheckHeapStart is the operation count at which heap checking begins;
	// 0 disables it. After that every CheckHeapEach operations trigger a
	// check (0 means check only once).
	CheckHeapStart uint64
	CheckHeapEach  uint64
	// CheckHeapAbort panics when a heap check fails.
	CheckHeapAbort bool

	Nano   nano.Config
	Helper scalable.Config
}

// DefaultOptions returns the production configuration: nano enabled and an
// abort on detected corruption.
func DefaultOptions() Options {
	return Options{
		AbortOnCorruption: true,
		Helper: scalable.Config{
			SizeClasses: scalable.DefaultConfig,
			RegionSize:  scalable.DefaultRegionSize,
		},
	}
}
