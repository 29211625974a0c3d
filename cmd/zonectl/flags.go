package main

import "github.com/spf13/cobra"

func defaultWorkload() workload {
	return workload{
		Workers: 4,
		Ops:     100000,
		MinSize: 1,
		MaxSize: 256,
		Keep:    1024,
		Realloc: 0.1,
		Seed:    1,
	}
}

// addWorkloadFlags binds the workload shape to cmd's flags.
func addWorkloadFlags(cmd *cobra.Command, w *workload) {
	f := cmd.Flags()
	f.IntVarP(&w.Workers, "workers", "w", w.Workers, "Concurrent goroutines")
	f.IntVarP(&w.Ops, "ops", "n", w.Ops, "Operations per worker")
	f.UintptrVar(&w.MinSize, "min-size", w.MinSize, "Smallest request in bytes")
	f.UintptrVar(&w.MaxSize, "max-size", w.MaxSize, "Largest request in bytes")
	f.IntVar(&w.Keep, "keep", w.Keep, "Live blocks each worker holds")
	f.Float64Var(&w.Realloc, "realloc", w.Realloc, "Fraction of operations that realloc")
	f.Uint64Var(&w.Seed, "seed", w.Seed, "Random seed")
}
