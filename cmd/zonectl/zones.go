package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newZonesCmd())
}

func newZonesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zones",
		Short: "List the zones a fresh heap registers",
		Long: `The zones command builds a heap and lists its registered zones in
lookup order. Zone 0 is the default zone.

Example:
  zonectl zones
  zonectl zones --no-nano
  zonectl zones --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runZones()
		},
	}
	return cmd
}

type zoneInfo struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Version int    `json:"version"`
	Default bool   `json:"default"`
}

func runZones() error {
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Destroy()

	def := h.DefaultZone()
	var infos []zoneInfo
	for i, z := range h.Zones() {
		infos = append(infos, zoneInfo{
			Index:   i,
			Name:    z.Name(),
			Version: z.Version(),
			Default: z == def,
		})
	}

	if jsonOut {
		return printJSON(infos)
	}

	printInfo("\nRegistered Zones:\n")
	for _, zi := range infos {
		marker := ""
		if zi.Default {
			marker = " (default)"
		}
		printInfo("  %d: %s v%d%s\n", zi.Index, zi.Name, zi.Version, marker)
	}
	return nil
}
