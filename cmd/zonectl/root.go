package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/zonekit/internal/logger"
	"github.com/joshuapare/zonekit/malloc"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
	logDir  string

	// Heap flags
	noNano   bool
	bandBits uint
	scribble bool
)

var rootCmd = &cobra.Command{
	Use:   "zonectl",
	Short: "Exercise and inspect the zonekit allocator",
	Long: `zonectl builds a zonekit heap (the nano allocator in front of a scalable
helper zone), drives workloads through it, and reports what the zones see:
statistics, registered zones, pressure relief and the CPU layout nano uses.`,
	Version:       "0.1.0",
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Write allocator logs to daily files in this directory")

	rootCmd.PersistentFlags().BoolVar(&noNano, "no-nano", false, "Use the scalable zone as the default")
	rootCmd.PersistentFlags().UintVar(&bandBits, "band-bits", 0, "log2 of the 2 MiB bands per magazine (0 = default)")
	rootCmd.PersistentFlags().BoolVar(&scribble, "scribble", false, "Scribble fresh and freed blocks")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

func initLogging() error {
	if logDir == "" {
		return nil
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return logger.Init(logger.Options{Enabled: true, LogDir: logDir, Level: level})
}

// heapOptions turns the heap flags into malloc options. Corruption is
// reported rather than fatal so a workload can finish and print its findings.
func heapOptions() malloc.Options {
	o := malloc.DefaultOptions()
	o.DisableNano = noNano
	o.Scribble = scribble
	o.AbortOnCorruption = false
	o.Nano.BandBits = bandBits
	return o
}

func newHeap() (*malloc.Heap, error) {
	h, err := malloc.NewHeap(heapOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create heap: %w", err)
	}
	if h.Nano() == nil && !noNano {
		printVerbose("nano unavailable, using the helper zone as default\n")
	}
	return h, nil
}

var numbers = message.NewPrinter(language.English)

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		numbers.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		numbers.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
