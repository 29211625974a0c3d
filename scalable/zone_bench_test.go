//go:build linux

package scalable

import (
	"testing"
	"unsafe"
)

func Benchmark_Scalable_SmallCells(b *testing.B) {
	z := New(Config{})
	defer z.Destroy()

	b.ReportAllocs()
	for i := range b.N {
		size := uintptr(64 + (i%64)*2)
		p := z.Malloc(size)
		if p == nil {
			b.Fatal("malloc failed")
		}
		z.Free(p)
	}
}

func Benchmark_Scalable_Churn(b *testing.B) {
	for _, cfg := range []SizeClassConfig{ConfigFineGrained, ConfigBalanced, ConfigCoarse} {
		b.Run(cfg.Name, func(b *testing.B) {
			z := New(Config{SizeClasses: cfg})
			defer z.Destroy()
			held := make([]unsafe.Pointer, 256)

			b.ReportAllocs()
			for i := range b.N {
				j := i % len(held)
				if held[j] != nil {
					z.Free(held[j])
				}
				held[j] = z.Malloc(uintptr(16 + (i*37)%4000))
			}
			z.BatchFree(held)
		})
	}
}
