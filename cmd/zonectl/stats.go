package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/zonekit/zone"
)

var statsWorkload = defaultWorkload()

func init() {
	cmd := newStatsCmd()
	addWorkloadFlags(cmd, &statsWorkload)
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-zone statistics after a workload",
		Long: `The stats command runs a workload, keeps the blocks it ends up holding,
and shows the statistics every registered zone reports at that point.

Example:
  zonectl stats
  zonectl stats --max-size 2048 --keep 10000
  zonectl stats --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(statsWorkload)
		},
	}
	return cmd
}

type zoneStats struct {
	Name string `json:"name"`
	zone.Statistics
}

type statsReport struct {
	Workload workloadResult  `json:"workload"`
	Zones    []zoneStats     `json:"zones"`
	Total    zone.Statistics `json:"total"`
}

func collectStats(z []zone.Zone) ([]zoneStats, zone.Statistics) {
	var total zone.Statistics
	out := make([]zoneStats, 0, len(z))
	for _, zz := range z {
		s := zz.Introspect().Statistics()
		out = append(out, zoneStats{Name: zz.Name(), Statistics: s})
		total.Add(s)
	}
	return out, total
}

func runStats(w workload) error {
	if err := w.validate(); err != nil {
		return err
	}
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Destroy()

	w.FreeLast = false
	res, held := w.run(h)
	defer releaseAll(h, held)

	zs, total := collectStats(h.Zones())
	rep := statsReport{Workload: res, Zones: zs, Total: total}

	if jsonOut {
		return printJSON(rep)
	}

	printInfo("\nHeap Statistics (%d blocks held)\n", res.Held)
	for _, z := range rep.Zones {
		printZoneStats(z.Name, z.Statistics)
	}
	printZoneStats("total", rep.Total)
	return nil
}

func printZoneStats(name string, s zone.Statistics) {
	printInfo("\n%s:\n", name)
	printInfo("  Blocks in use: %d\n", s.BlocksInUse)
	printInfo("  Size in use: %s (%d bytes)\n", formatBytes(s.SizeInUse), s.SizeInUse)
	printInfo("  Max size in use: %s\n", formatBytes(s.MaxSizeInUse))
	printInfo("  Size allocated: %s\n", formatBytes(s.SizeAllocated))
}
