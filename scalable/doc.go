// Package scalable implements the general-purpose helper zone.
//
// Small and medium requests are carved from 1 MiB regions and recycled
// through segregated free lists, one min-heap per size class, so allocation
// takes the best-fitting free cell. Freed cells coalesce with their free
// neighbours. Requests of 64 KiB or more, and requests aligned above 16
// bytes, get a dedicated mapping that is released on free.
//
// Size classes are tunable through SizeClassConfig:
//
//	z := scalable.New(scalable.Config{SizeClasses: scalable.ConfigFineGrained})
//	p := z.Malloc(100)
//	defer z.Free(p)
package scalable
