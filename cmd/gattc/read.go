package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/device"
	"github.com/srg/gattc/internal/hexdump"
)

// maxSweepTimeouts aborts a sweep once this many reads in a row time out.
// The radio serves requests in order, so reads behind a hung one stall too.
const maxSweepTimeouts = 2

type readOptions struct {
	handleRange string
	skip        []string
	hex         bool
}

func newReadCmd() *cobra.Command {
	opts := &readOptions{}
	cmd := &cobra.Command{
		Use:   "read <device-address> [handle...]",
		Short: "Read attribute values by handle",
		Long: `Reads attribute values by handle. Handles are decimal or 0x-prefixed.

With --range every handle in the inclusive range is read in order, skipping
the handles listed in --skip. Sweeps continue past handles that fail and
report them.

Examples:
  # Read the Flower Care firmware/battery attribute
  gattc read C4:7C:8D:6A:3A:27 0x38

  # Sweep the attribute database, skipping handles that are not readable
  gattc read C4:7C:8D:6A:3A:27 --range 0x01-0x41 --skip 0x0a,0x0b,0x12,0x1b`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.handleRange, "range", "", "Inclusive handle range to sweep (e.g. 0x01-0x41)")
	cmd.Flags().StringSliceVar(&opts.skip, "skip", nil, "Handles to leave out of a --range sweep")
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Print values as hex strings instead of hexdumps")
	return cmd
}

// readResult is the structured form of one read.
type readResult struct {
	Handle uint16 `json:"handle" yaml:"handle"`
	Value  string `json:"value,omitempty" yaml:"value,omitempty"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (o *readOptions) handles(args []string) ([]uint16, error) {
	handles, err := parseHandles(args)
	if err != nil {
		return nil, err
	}
	if o.handleRange == "" {
		if len(handles) == 0 {
			return nil, errors.New("handle required: provide handles as arguments or use --range")
		}
		return handles, nil
	}

	start, end, err := parseHandleRange(o.handleRange)
	if err != nil {
		return nil, err
	}
	skip, err := parseHandles(o.skip)
	if err != nil {
		return nil, err
	}
	skipped := make(map[uint16]bool, len(skip))
	for _, h := range skip {
		skipped[h] = true
	}
	for h := uint32(start); h <= uint32(end); h++ {
		if !skipped[uint16(h)] {
			handles = append(handles, uint16(h))
		}
	}
	return handles, nil
}

func runRead(cmd *cobra.Command, args []string, opts *readOptions) error {
	handles, err := opts.handles(args[1:])
	if err != nil {
		return err
	}

	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	dev, err := sess.connect(ctx, args[0])
	if err != nil {
		return err
	}

	sweep := opts.handleRange != "" || len(handles) > 1
	results := make([]readResult, 0, len(handles))
	failed, timeouts := 0, 0
	for _, h := range handles {
		data, err := dev.ReadHandle(ctx, h, sess.cfg.OperationTimeout)
		if errors.Is(err, device.ErrTimeout) {
			timeouts++
		} else {
			timeouts = 0
		}
		switch {
		case timeouts >= maxSweepTimeouts:
			return fmt.Errorf("aborting sweep at 0x%04x after %d consecutive timeouts: %w", h, timeouts, err)
		case err == nil:
			results = append(results, readResult{Handle: h, Value: hex.EncodeToString(data)})
			if sess.cfg.OutputFormat == "table" {
				writeReadValue(cmd.OutOrStdout(), h, data, opts.hex, sweep)
			}
		case !sweep || ctx.Err() != nil || errors.Is(err, device.ErrConnectionLost) || errors.Is(err, device.ErrNotConnected):
			return err
		default:
			failed++
			results = append(results, readResult{Handle: h, Error: err.Error()})
			sess.logger.WithField("handle", fmt.Sprintf("0x%04x", h)).WithError(err).Warn("Read failed")
			if sess.cfg.OutputFormat == "table" {
				fmt.Fprintf(cmd.OutOrStdout(), "0x%04x: error: %s\n", h, FormatUserError(err))
			}
		}
	}

	if sess.cfg.OutputFormat != "table" {
		if err := writeStructured(cmd.OutOrStdout(), sess.cfg.OutputFormat, results); err != nil {
			return err
		}
	}
	if failed == len(handles) {
		return fmt.Errorf("all %d reads failed", failed)
	}
	return nil
}

func writeReadValue(w io.Writer, handle uint16, data []byte, asHex, prefix bool) {
	switch {
	case asHex && prefix:
		fmt.Fprintf(w, "0x%04x: %s\n", handle, hex.EncodeToString(data))
	case asHex:
		fmt.Fprintln(w, hex.EncodeToString(data))
	case prefix:
		fmt.Fprintf(w, "0x%04x:\n%s\n", handle, hexdump.Dump(data))
	default:
		fmt.Fprintln(w, hexdump.Dump(data))
	}
}
