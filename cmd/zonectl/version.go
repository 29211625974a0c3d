package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/zonekit/nano"
	"github.com/joshuapare/zonekit/zone"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information and the nano geometry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

type versionReport struct {
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	Built        string `json:"built"`
	ZoneVersion  int    `json:"zone_version"`
	Quantum      int    `json:"quantum"`
	MaxSize      int    `json:"max_size"`
	SlotCount    int    `json:"slot_count"`
	BandSize     int    `json:"band_size"`
	MaxMagazines int    `json:"max_magazines"`
}

func runVersion() error {
	rep := versionReport{
		Version:      version,
		Commit:       commit,
		Built:        date,
		ZoneVersion:  zone.Version,
		Quantum:      nano.Quantum,
		MaxSize:      nano.MaxSize,
		SlotCount:    nano.SlotCount,
		BandSize:     nano.BandSize,
		MaxMagazines: nano.MaxMagazines,
	}
	if jsonOut {
		return printJSON(rep)
	}

	printInfo("zonectl %s\n", rep.Version)
	printInfo("  commit: %s\n", rep.Commit)
	printInfo("  built: %s\n", rep.Built)
	printInfo("  zone interface: v%d\n", rep.ZoneVersion)
	printInfo("  nano: %d size classes of %d bytes up to %d, %s bands, at most %d magazines\n",
		rep.SlotCount, rep.Quantum, rep.MaxSize, formatBytes(uint64(rep.BandSize)), rep.MaxMagazines)
	return nil
}
