//go:build !linux

package vm

func (OS) Reserve(size, align uintptr) (uintptr, error) { return 0, ErrUnsupported }
func (OS) Allocate(size uintptr) (uintptr, error)       { return 0, ErrUnsupported }
func (OS) Commit(addr, size uintptr) error              { return ErrUnsupported }
func (OS) Protect(addr, size uintptr, prot Prot) error  { return ErrUnsupported }
func (OS) Discard(addr, size uintptr) error             { return ErrUnsupported }
func (OS) Release(addr, size uintptr) error             { return ErrUnsupported }
