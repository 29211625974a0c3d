package main

import (
	"os"

	"github.com/spf13/cobra"
)

var printWorkload = defaultWorkload()

func init() {
	cmd := newPrintCmd()
	addWorkloadFlags(cmd, &printWorkload)
	rootCmd.AddCommand(cmd)
}

func newPrintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Dump every zone's internal state after a workload",
		Long: `The print command runs a workload, keeps the blocks it holds, and
prints each zone's own description of its state. With --verbose the zones
include per-slot and per-class detail.

Example:
  zonectl print --ops 1000
  zonectl print --verbose --workers 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrint(printWorkload)
		},
	}
	return cmd
}

func runPrint(w workload) error {
	if err := w.validate(); err != nil {
		return err
	}
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Destroy()

	w.FreeLast = false
	_, held := w.run(h)
	defer releaseAll(h, held)

	if !quiet {
		h.Print(os.Stdout, verbose)
	}
	return nil
}
