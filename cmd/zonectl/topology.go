package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/zonekit/internal/topology"
)

func init() {
	rootCmd.AddCommand(newTopologyCmd())
}

func newTopologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Show the CPU layout and the nano region it produces",
		Long: `The topology command shows the physical and logical CPU counts nano
partitions its magazines over, which magazine each logical CPU uses, and the
address range the nano region reserved.

Example:
  zonectl topology
  zonectl topology --band-bits 4 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopology()
		},
	}
	return cmd
}

type topologyReport struct {
	Physical    int     `json:"physical"`
	Logical     int     `json:"logical"`
	HyperShift  uint    `json:"hyper_shift"`
	Magazines   []int   `json:"magazines"`
	NanoEnabled bool    `json:"nano_enabled"`
	RegionBase  uintptr `json:"region_base,omitempty"`
	RegionSize  uintptr `json:"region_size,omitempty"`
}

func runTopology() error {
	topo, err := topology.Detect()
	if err != nil {
		return fmt.Errorf("failed to detect topology: %w", err)
	}

	rep := topologyReport{
		Physical:   topo.Physical,
		Logical:    topo.Logical,
		HyperShift: topo.HyperShift(),
		Magazines:  make([]int, topo.Logical),
	}
	for cpu := range rep.Magazines {
		rep.Magazines[cpu] = topo.Magazine(cpu)
	}

	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Destroy()
	if n := h.Nano(); n != nil {
		r := n.Region()
		rep.NanoEnabled = true
		rep.RegionBase = r.Addr
		rep.RegionSize = r.Size
	}

	if jsonOut {
		return printJSON(rep)
	}

	printInfo("\nCPU Topology:\n")
	printInfo("  %s\n", topo)
	printVerbose("  Magazine by logical cpu:\n")
	for cpu, mag := range rep.Magazines {
		printVerbose("    cpu %d -> magazine %d\n", cpu, mag)
	}
	if rep.NanoEnabled {
		printInfo("\nNano Region:\n")
		printInfo("  Base: %#x\n", rep.RegionBase)
		printInfo("  Size: %s\n", formatBytes(uint64(rep.RegionSize)))
	} else {
		printInfo("\nNano: disabled\n")
	}
	return nil
}
