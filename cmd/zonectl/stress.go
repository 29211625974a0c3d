package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/zonekit/zone"
)

var stressWorkload = defaultWorkload()

func init() {
	cmd := newStressCmd()
	addWorkloadFlags(cmd, &stressWorkload)
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a concurrent allocation workload and check the heap",
		Long: `The stress command runs a random malloc/realloc/free mix on several
goroutines, frees everything, then runs every zone's consistency check.
It fails when the check fails or any error was reported.

Example:
  zonectl stress
  zonectl stress --workers 16 --ops 1000000 --max-size 4096
  zonectl stress --no-nano --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(stressWorkload)
		},
	}
	return cmd
}

type stressReport struct {
	workloadResult
	Check        bool   `json:"check"`
	Corruption   uint64 `json:"corruption_reports"`
	CallerErrors uint64 `json:"caller_error_reports"`
	BlocksInUse  uint64 `json:"blocks_in_use"`
}

func runStress(w workload) error {
	if err := w.validate(); err != nil {
		return err
	}
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Destroy()

	w.FreeLast = true
	printVerbose("Running %d workers x %d ops, sizes %d-%d\n", w.Workers, w.Ops, w.MinSize, w.MaxSize)
	res, _ := w.run(h)

	rep := stressReport{
		workloadResult: res,
		Check:          h.Check(),
		Corruption:     h.Reporter().Count(zone.KindCorruption),
		CallerErrors:   h.Reporter().Count(zone.KindCallerError),
		BlocksInUse:    h.Statistics(nil).BlocksInUse,
	}

	if jsonOut {
		if err := printJSON(rep); err != nil {
			return err
		}
	} else {
		printInfo("\nStress Results:\n")
		printInfo("  Workers: %d\n", rep.Workers)
		printInfo("  Mallocs: %d\n", rep.Mallocs)
		printInfo("  Reallocs: %d\n", rep.Reallocs)
		printInfo("  Frees: %d\n", rep.Frees)
		printInfo("  Failures: %d\n", rep.Failures)
		printInfo("  Elapsed: %s (%.0f ops/s)\n", rep.Elapsed, rep.OpsPerSec)
		printInfo("  Blocks left in use: %d\n", rep.BlocksInUse)
		printInfo("  Heap check: %v\n", rep.Check)
	}

	if !rep.Check || rep.Corruption > 0 || rep.CallerErrors > 0 {
		return fmt.Errorf("heap unhealthy: check=%v corruption=%d caller errors=%d",
			rep.Check, rep.Corruption, rep.CallerErrors)
	}
	return nil
}
