package main

import (
	"fmt"
	"io"

	"github.com/go-ble/ble"
	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/bledb"
	"github.com/srg/gattc/internal/device"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <device-address>",
		Short: "Discover GATT services, characteristics, and descriptors",
		Long: `Connects to a device and walks its attribute database: primary services,
then the characteristics of each service, then the descriptors of each
characteristic.

Example:
  gattc discover C4:7C:8D:6A:3A:27`,
		Args: cobra.ExactArgs(1),
		RunE: runDiscover,
	}
}

type discoveredDescriptor struct {
	Handle uint16 `json:"handle" yaml:"handle"`
	UUID   string `json:"uuid" yaml:"uuid"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
}

type discoveredCharacteristic struct {
	Handle      uint16                 `json:"handle" yaml:"handle"`
	ValueHandle uint16                 `json:"value_handle" yaml:"value_handle"`
	UUID        string                 `json:"uuid" yaml:"uuid"`
	Name        string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Properties  []string               `json:"properties" yaml:"properties"`
	Descriptors []discoveredDescriptor `json:"descriptors,omitempty" yaml:"descriptors,omitempty"`
}

type discoveredService struct {
	StartHandle     uint16                     `json:"start_handle" yaml:"start_handle"`
	EndHandle       uint16                     `json:"end_handle" yaml:"end_handle"`
	UUID            string                     `json:"uuid" yaml:"uuid"`
	Name            string                     `json:"name,omitempty" yaml:"name,omitempty"`
	Characteristics []discoveredCharacteristic `json:"characteristics" yaml:"characteristics"`
}

func runDiscover(cmd *cobra.Command, args []string) error {
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
	profile, err := dev.DiscoverAll(ctx, sess.cfg.OperationTimeout)
	if err != nil {
		return err
	}

	services := describeProfile(profile)
	if sess.cfg.OutputFormat != "table" {
		return writeStructured(cmd.OutOrStdout(), sess.cfg.OutputFormat, services)
	}
	return writeProfileTree(cmd.OutOrStdout(), services)
}

func describeProfile(profile []device.ServiceProfile) []discoveredService {
	out := make([]discoveredService, 0, len(profile))
	for _, s := range profile {
		svc := discoveredService{
			StartHandle: s.StartHandle,
			EndHandle:   s.EndHandle,
			UUID:        s.UUID.String(),
			Name:        bledb.LookupService(s.UUID.String()),
		}
		for _, c := range s.Characteristics {
			char := discoveredCharacteristic{
				Handle:      c.DefHandle,
				ValueHandle: c.ValueHandle,
				UUID:        c.UUID.String(),
				Name:        bledb.LookupCharacteristic(c.UUID.String()),
				Properties:  propertyNames(c.Properties),
			}
			for _, d := range c.Descriptors {
				char.Descriptors = append(char.Descriptors, discoveredDescriptor{
					Handle: d.Handle,
					UUID:   d.UUID.String(),
					Name:   bledb.LookupDescriptor(d.UUID.String()),
				})
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		out = append(out, svc)
	}
	return out
}

var propertyLabels = []struct {
	prop ble.Property
	name string
}{
	{ble.CharBroadcast, "broadcast"},
	{ble.CharRead, "read"},
	{ble.CharWriteNR, "write-without-response"},
	{ble.CharWrite, "write"},
	{ble.CharNotify, "notify"},
	{ble.CharIndicate, "indicate"},
	{ble.CharSignedWrite, "signed-write"},
	{ble.CharExtended, "extended"},
}

func propertyNames(p ble.Property) []string {
	names := []string{}
	for _, l := range propertyLabels {
		if p&l.prop != 0 {
			names = append(names, l.name)
		}
	}
	return names
}

// named appends the assigned name, if any, to a UUID.
func named(uuid, name string) string {
	if name == "" {
		return uuid
	}
	return fmt.Sprintf("%s (%s)", uuid, name)
}

func writeProfileTree(w io.Writer, services []discoveredService) error {
	for _, s := range services {
		if _, err := fmt.Fprintf(w, "service %s [0x%04x-0x%04x]\n", named(s.UUID, s.Name), s.StartHandle, s.EndHandle); err != nil {
			return err
		}
		for _, c := range s.Characteristics {
			fmt.Fprintf(w, "  characteristic %s handle=0x%04x value=0x%04x %v\n",
				named(c.UUID, c.Name), c.Handle, c.ValueHandle, c.Properties)
			for _, d := range c.Descriptors {
				fmt.Fprintf(w, "    descriptor %s handle=0x%04x\n", named(d.UUID, d.Name), d.Handle)
			}
		}
	}
	return nil
}
