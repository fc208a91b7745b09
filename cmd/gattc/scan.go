package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-ble/ble"
	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/central"
	"github.com/srg/gattc/internal/device"
)

type scanOptions struct {
	duration  time.Duration
	services  []string
	allowList []string
	blockList []string
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

This command will scan for BLE devices and display information about
discovered devices, including their names, addresses, RSSI values, and
advertised services.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (defaults to scan_duration from config)")
	cmd.Flags().StringSliceVarP(&opts.services, "services", "s", nil, "Filter by service UUIDs")
	cmd.Flags().StringSliceVar(&opts.allowList, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&opts.blockList, "block", nil, "Hide devices with these addresses")
	return cmd
}

// scannedDevice is the structured form of one scan result.
type scannedDevice struct {
	Address          string   `json:"address" yaml:"address"`
	AddrType         string   `json:"addr_type" yaml:"addr_type"`
	Name             string   `json:"name,omitempty" yaml:"name,omitempty"`
	RSSI             int      `json:"rssi" yaml:"rssi"`
	Connectable      bool     `json:"connectable" yaml:"connectable"`
	Services         []string `json:"services,omitempty" yaml:"services,omitempty"`
	ManufacturerData string   `json:"manufacturer_data,omitempty" yaml:"manufacturer_data,omitempty"`
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	uuids := make([]ble.UUID, 0, len(opts.services))
	for _, s := range opts.services {
		u, err := ble.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid service UUID %q: %w", s, err)
		}
		uuids = append(uuids, u)
	}

	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	duration := opts.duration
	if duration <= 0 {
		duration = sess.cfg.ScanDuration
	}
	devs, err := sess.central.Scan(ctx, &central.ScanOptions{
		Duration:     duration,
		ServiceUUIDs: uuids,
		AllowList:    opts.allowList,
		BlockList:    opts.blockList,
	})
	if err != nil {
		return err
	}

	results := make([]scannedDevice, 0, len(devs))
	for _, d := range devs {
		results = append(results, describeScanned(d))
	}
	if sess.cfg.OutputFormat != "table" {
		return writeStructured(cmd.OutOrStdout(), sess.cfg.OutputFormat, results)
	}
	return writeScanTable(cmd.OutOrStdout(), results)
}

func describeScanned(d *device.Device) scannedDevice {
	adv := d.Advertisement()
	out := scannedDevice{
		Address:     d.Identity().Addr.String(),
		AddrType:    d.Identity().AddrType.String(),
		Name:        adv.LocalName,
		RSSI:        adv.RSSI,
		Connectable: adv.AdvType.Connectable(),
	}
	for _, u := range adv.Services {
		out.Services = append(out.Services, u.String())
	}
	if len(adv.ManufacturerData) > 0 {
		out.ManufacturerData = hex.EncodeToString(adv.ManufacturerData)
	}
	return out
}

func writeScanTable(w io.Writer, results []scannedDevice) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No devices found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tTYPE\tRSSI\tNAME\tSERVICES")
	for _, r := range results {
		name := r.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Address, r.AddrType, r.RSSI, name, strings.Join(r.Services, ","))
	}
	return tw.Flush()
}
