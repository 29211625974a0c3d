package main

import (
	"github.com/spf13/cobra"
)

var (
	reliefWorkload = defaultWorkload()
	reliefGoal     uintptr
)

func init() {
	cmd := newReliefCmd()
	addWorkloadFlags(cmd, &reliefWorkload)
	cmd.Flags().UintptrVar(&reliefGoal, "goal", 0, "Bytes to release (0 = everything possible)")
	rootCmd.AddCommand(cmd)
}

func newReliefCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relief",
		Short: "Return free pages to the OS after a workload",
		Long: `The relief command runs a workload, frees every block, and asks the
zones to hand their free pages back to the operating system.

Example:
  zonectl relief
  zonectl relief --goal 1048576
  zonectl relief --max-size 8192 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelief(reliefWorkload, reliefGoal)
		},
	}
	return cmd
}

type reliefReport struct {
	Workload workloadResult `json:"workload"`
	Goal     uintptr        `json:"goal"`
	Released uintptr        `json:"released"`
	Again    uintptr        `json:"released_second_pass"`
}

func runRelief(w workload, goal uintptr) error {
	if err := w.validate(); err != nil {
		return err
	}
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Destroy()

	w.FreeLast = true
	res, _ := w.run(h)

	rep := reliefReport{Workload: res, Goal: goal}
	rep.Released = h.PressureRelief(nil, goal)
	rep.Again = h.PressureRelief(nil, goal)

	if jsonOut {
		return printJSON(rep)
	}

	printInfo("\nPressure Relief:\n")
	if goal == 0 {
		printInfo("  Goal: everything\n")
	} else {
		printInfo("  Goal: %s\n", formatBytes(uint64(goal)))
	}
	printInfo("  Released: %s (%d bytes)\n", formatBytes(uint64(rep.Released)), rep.Released)
	printVerbose("  Second pass: %d bytes\n", rep.Again)
	return nil
}
