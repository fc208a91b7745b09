package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type writeOptions struct {
	noResponse bool
}

func newWriteCmd() *cobra.Command {
	opts := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "write <device-address> <handle> <hex-data>",
		Short: "Write an attribute value by handle",
		Long: `Writes hex-encoded data to the attribute at handle.

Examples:
  # Switch a Flower Care sensor to real-time data mode
  gattc write C4:7C:8D:6A:3A:27 0x33 a01f

  # Write without waiting for the peripheral's response
  gattc write C4:7C:8D:6A:3A:27 0x33 a01f --no-response`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.noResponse, "no-response", false, "Use write without response")
	return cmd
}

func runWrite(cmd *cobra.Command, args []string, opts *writeOptions) error {
	handle, err := parseHandle(args[1])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(args[2], " ", ""), "0x"))
	if err != nil {
		return fmt.Errorf("invalid hex data %q: %w", args[2], err)
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
	if err := dev.WriteHandle(ctx, handle, data, !opts.noResponse, sess.cfg.OperationTimeout); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to 0x%04x\n", len(data), handle)
	return nil
}
