// Package zone defines the contract every allocator zone implements and the
// small shared vocabulary the zones, the registry and the process heap use.
//
// # Overview
//
// A zone is an allocator instance that hands out memory living outside the Go
// heap. Zones are pluggable: the nano zone serves small fixed-size classes on a
// per-CPU fast path and forwards everything else to a helper zone, and the
// registry can locate the owning zone of any pointer by asking each zone for
// the pointer's size.
//
// # Zone Interface
//
// The operation set mirrors the classic malloc family:
//
//   - Size(ptr): size of a block this zone owns, or 0 when it does not own ptr
//   - Malloc, Calloc, Valloc, Memalign: allocation variants
//   - Free, FreeDefiniteSize, Realloc: release and resize
//   - BatchMalloc, BatchFree: bulk variants, never partial corruption
//   - PressureRelief(goal): return unused pages to the OS
//   - Destroy: release every byte; no further calls are permitted
//
// Introspect returns the debugging surface: enumeration of live blocks,
// consistency checks, printing, the fork lock protocol and statistics.
//
// # Failure Signals
//
// Allocation failure is a nil pointer. Callers that need an error value wrap
// it as ErrNoMemory. Misuse and corruption are routed through a Reporter,
// which logs and, depending on its Policy, aborts.
//
// # Size Ceiling
//
// Every allocation entry point rejects sizes above MaxRequestSize before doing
// arithmetic on them, and Calloc rejects count*size products that overflow.
package zone
