// Package bledb maps assigned GATT UUIDs to human readable names.
//
// Only the services, characteristics and descriptors a plant sensor or a
// typical peripheral exposes are listed; unknown UUIDs resolve to "".
package bledb

import "strings"

// sigSuffix is the tail of the Bluetooth base UUID in normalized form.
const sigSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	"1800":                             "Generic Access",
	"1801":                             "Generic Attribute",
	"180a":                             "Device Information",
	"180d":                             "Heart Rate",
	"180f":                             "Battery Service",
	"181a":                             "Environmental Sensing",
	"fe95":                             "Xiaomi Inc.",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00":                             "Device Name",
	"2a01":                             "Appearance",
	"2a04":                             "Peripheral Preferred Connection Parameters",
	"2a05":                             "Service Changed",
	"2a19":                             "Battery Level",
	"2a24":                             "Model Number String",
	"2a25":                             "Serial Number String",
	"2a26":                             "Firmware Revision String",
	"2a27":                             "Hardware Revision String",
	"2a28":                             "Software Revision String",
	"2a29":                             "Manufacturer Name String",
	"2a37":                             "Heart Rate Measurement",
	"2a6e":                             "Temperature",
	"2a6f":                             "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "UART TX",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Descriptor",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
}

// NormalizeUUID lowercases uuid and strips braces, dashes and a 0x prefix.
// UUIDs on the Bluetooth base collapse to their 16-bit form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.Trim(s, "{}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigSuffix) {
		return s[4:8]
	}
	return s
}

// LookupService returns the assigned name of a service UUID.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the assigned name of a characteristic UUID.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the assigned name of a descriptor UUID.
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}
