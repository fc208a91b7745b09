package main

import (
	"encoding/hex"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/profile"
)

func newSensorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sensor <device-address> [field]",
		Short: "Read a Flower Care plant sensor",
		Long: `Reads the Flower Care (HHCCJCY01) device name, firmware version, battery
level and device clock. A single field can be named: name, firmware,
battery or time.

Example:
  gattc sensor C4:7C:8D:6A:3A:27
  gattc sensor C4:7C:8D:6A:3A:27 battery -f json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runSensor,
	}
}

func runSensor(cmd *cobra.Command, args []string) error {
	var field profile.AnyField
	if len(args) == 2 {
		f, err := profile.Lookup(args[1])
		if err != nil {
			return err
		}
		field = f
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
	out := cmd.OutOrStdout()

	if field != nil {
		v, err := field.ReadAny(ctx, dev, sess.cfg.OperationTimeout)
		if err != nil {
			return err
		}
		if raw, ok := v.([]byte); ok {
			v = hex.EncodeToString(raw)
		}
		if sess.cfg.OutputFormat != "table" {
			return writeStructured(out, sess.cfg.OutputFormat, map[string]any{field.Info().Name: v})
		}
		_, err = fmt.Fprintln(out, v)
		return err
	}

	reading, err := profile.NewFlowerCare(dev, sess.cfg.OperationTimeout).ReadAll(ctx)
	if err != nil {
		return err
	}
	if sess.cfg.OutputFormat != "table" {
		return writeStructured(out, sess.cfg.OutputFormat, reading)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", reading.Name)
	fmt.Fprintf(tw, "Firmware:\t%s\n", reading.Firmware)
	fmt.Fprintf(tw, "Battery:\t%d%%\n", reading.Battery)
	fmt.Fprintf(tw, "Time:\t%s\n", hex.EncodeToString(reading.Time))
	return tw.Flush()
}
