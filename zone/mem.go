package zone

import "unsafe"

// Bytes views n bytes at ptr as a slice.
func Bytes(ptr unsafe.Pointer, n uintptr) []byte {
	return unsafe.Slice((*byte)(ptr), n)
}

// Fill sets n bytes at ptr to b.
func Fill(ptr unsafe.Pointer, n uintptr, b byte) {
	if n == 0 {
		return
	}
	mem := Bytes(ptr, n)
	if b == 0 {
		clear(mem)
		return
	}
	for i := range mem {
		mem[i] = b
	}
}

// Copy copies n bytes from src to dst. The ranges may overlap.
func Copy(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	copy(Bytes(dst, n), Bytes(src, n))
}
