package zone

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMemory indicates the request could not be satisfied.
	ErrNoMemory = errors.New("zone: out of memory")

	// ErrNotAllocated indicates a pointer that no zone owns.
	ErrNotAllocated = errors.New("zone: pointer being freed was not allocated")

	// ErrInvalidAlignment indicates an alignment that is not a power of two or
	// is smaller than a pointer.
	ErrInvalidAlignment = errors.New("zone: invalid alignment")

	// ErrCallerError is the kind sentinel for misuse by the caller.
	ErrCallerError = errors.New("zone: caller error")

	// ErrCorruption is the kind sentinel for damaged allocator state.
	ErrCorruption = errors.New("zone: heap corruption")

	// ErrConfiguration is the kind sentinel for unusable configuration.
	ErrConfiguration = errors.New("zone: configuration error")
)

// Kind classifies a report.
type Kind int

const (
	KindCallerError Kind = iota
	KindCorruption
	KindExhaustion
	KindConfiguration
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindCallerError:
		return "caller-error"
	case KindCorruption:
		return "corruption"
	case KindExhaustion:
		return "exhaustion"
	case KindConfiguration:
		return "configuration"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindCallerError:
		return ErrCallerError
	case KindCorruption:
		return ErrCorruption
	case KindExhaustion:
		return ErrNoMemory
	default:
		return ErrConfiguration
	}
}

// Error describes one reported problem.
type Error struct {
	Kind Kind
	Op   string  // operation, e.g. "free"
	Zone string  // zone name, may be empty
	Ptr  uintptr // offending address, 0 if none
	Msg  string
}

func (e *Error) Error() string {
	prefix := "zone"
	if e.Zone != "" {
		prefix = e.Zone
	}
	if e.Ptr != 0 {
		return fmt.Sprintf("%s: *** %s: error for object %#x: %s", prefix, e.Op, e.Ptr, e.Msg)
	}
	return fmt.Sprintf("%s: *** %s: %s", prefix, e.Op, e.Msg)
}

// Unwrap lets errors.Is match the kind sentinel.
func (e *Error) Unwrap() error { return e.Kind.sentinel() }
