package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Commands keep their flag values in
// per-invocation structs so the tree can be rebuilt for every test.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gattc",
		Short: "Bluetooth Low Energy GATT client",
		Long: `Bluetooth Low Energy (BLE) central client that provides:

- Scan for nearby peripherals and decode their advertising data
- Discover GATT services, characteristics, and descriptors
- Read and write attributes by handle, including handle range sweeps
- Read Flower Care plant sensors
- Lua scripting over the blocking device API; see the run command.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	// Global flags
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level debug")
	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().String("addr-type", "", "Peer address type (public, random)")
	root.PersistentFlags().StringP("format", "f", "", "Output format (table, json, yaml)")

	root.AddCommand(newScanCmd())
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newWriteCmd())
	root.AddCommand(newSensorCmd())
	root.AddCommand(newRunCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
