package central

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/device"
	"github.com/srg/gattc/internal/radio"
)

// Dispatch is the single entry point for radio events. Events naming a
// connection handle that is not bound are dropped with a diagnostic.
func (c *Central) Dispatch(ev radio.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"event": fmt.Sprintf("%T", ev),
				"panic": r,
			}).Error("Recovered from panic while dispatching radio event")
		}
	}()

	switch e := ev.(type) {
	case radio.ScanResult:
		c.onScanResult(e)
	case radio.ScanDone:
		c.onScanDone()
	case radio.PeripheralConnect:
		c.registry.HandleConnect(e)
	case radio.PeripheralDisconnect:
		if err := c.registry.HandleDisconnect(e); err != nil {
			c.drop(e, err)
		}
	case radio.ServiceResult:
		c.route(e, func(d *device.Device) { d.HandleServiceResult(e) })
	case radio.ServiceDone:
		c.route(e, func(d *device.Device) { d.HandleServiceDone(e) })
	case radio.CharacteristicResult:
		c.route(e, func(d *device.Device) { d.HandleCharacteristicResult(e) })
	case radio.CharacteristicDone:
		c.route(e, func(d *device.Device) { d.HandleCharacteristicDone(e) })
	case radio.DescriptorResult:
		c.route(e, func(d *device.Device) { d.HandleDescriptorResult(e) })
	case radio.DescriptorDone:
		c.route(e, func(d *device.Device) { d.HandleDescriptorDone(e) })
	case radio.ReadResult:
		c.route(e, func(d *device.Device) { d.HandleReadResult(e) })
	case radio.ReadDone:
		c.route(e, func(d *device.Device) { d.HandleReadDone(e) })
	case radio.WriteDone:
		c.route(e, func(d *device.Device) { d.HandleWriteDone(e) })
	case radio.Notify:
		c.route(e, func(d *device.Device) { d.HandleNotification(e.ValueHandle, e.Data, false) })
	case radio.Indicate:
		c.route(e, func(d *device.Device) { d.HandleNotification(e.ValueHandle, e.Data, true) })
	default:
		c.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Unhandled radio event")
	}
}

func (c *Central) route(ev radio.GATTEvent, fn func(*device.Device)) {
	if err := c.registry.Route(ev.ConnHandle(), fn); err != nil {
		c.drop(ev, err)
	}
}

func (c *Central) drop(ev radio.GATTEvent, err error) {
	c.logger.WithFields(logrus.Fields{
		"event": ev.Kind().String(),
		"conn":  ev.ConnHandle(),
	}).WithError(err).Debug("Dropping radio event")
}
