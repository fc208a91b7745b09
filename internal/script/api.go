package script

import (
	"fmt"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/srg/gattc/internal/central"
	"github.com/srg/gattc/internal/device"
	"github.com/srg/gattc/internal/hexdump"
	"github.com/srg/gattc/internal/profile"
	"github.com/srg/gattc/internal/radio"
)

// registerAPI installs the global ble table.
//
//	ble.scan([seconds])             -> { {address=, addr_type=, name=, rssi=}, ... }
//	ble.connect(address[, type])    -> device | nil, err
//	ble.hexdump(data)               -> string
//	ble.sleep(ms)
//
// Device methods accept both dev.fn(...) and dev:fn(...). Operation
// failures return nil plus an error message; bad arguments raise.
func (e *Engine) registerAPI() {
	L := e.state
	L.NewTable()
	e.setFunction(L, "scan", e.luaScan)
	e.setFunction(L, "connect", e.luaConnect)
	e.setFunction(L, "hexdump", func(L *lua.State) int {
		L.PushString(hexdump.Dump(checkBytes(L, 1, "hexdump")))
		return 1
	})
	e.setFunction(L, "sleep", func(L *lua.State) int {
		ms := checkInteger(L, 1, "sleep")
		t := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer t.Stop()
		select {
		case <-t.C:
		case <-e.ctx.Done():
			L.RaiseError("sleep: " + e.ctx.Err().Error())
		}
		return 0
	})
	L.SetGlobal("ble")
}

func (e *Engine) setFunction(L *lua.State, name string, fn func(*lua.State) int) {
	L.PushString(name)
	L.PushGoFunction(fn)
	L.SetTable(-3)
}

// setMethod registers fn so that arguments start at base regardless of
// whether it was called with a colon.
func (e *Engine) setMethod(L *lua.State, name string, fn func(L *lua.State, base int) int) {
	e.setFunction(L, name, func(L *lua.State) int {
		base := 1
		if L.GetTop() >= 1 && L.IsTable(1) {
			base = 2
		}
		return fn(L, base)
	})
}

func (e *Engine) luaScan(L *lua.State) int {
	d := e.opts.ScanDuration
	if L.GetTop() >= 1 && !L.IsNil(1) {
		d = time.Duration(checkNumber(L, 1, "scan") * float64(time.Second))
	}
	devs, err := e.central.Scan(e.ctx, &central.ScanOptions{Duration: d})
	if err != nil {
		return pushError(L, err)
	}

	L.NewTable()
	for i, dev := range devs {
		adv := dev.Advertisement()
		L.PushInteger(int64(i + 1))
		L.NewTable()
		setString(L, "address", dev.Identity().Addr.String())
		setString(L, "addr_type", dev.Identity().AddrType.String())
		setString(L, "name", adv.LocalName)
		setInteger(L, "rssi", int64(adv.RSSI))
		L.SetTable(-3)
	}
	return 1
}

func (e *Engine) luaConnect(L *lua.State) int {
	addr, err := radio.ParseAddress(checkString(L, 1, "connect"))
	if err != nil {
		L.RaiseError("connect: " + err.Error())
	}
	addrType := e.opts.AddrType
	if L.GetTop() >= 2 && !L.IsNil(2) {
		if addrType, err = radio.ParseAddrType(checkString(L, 2, "connect")); err != nil {
			L.RaiseError("connect: " + err.Error())
		}
	}

	dev, err := e.central.Connect(e.ctx, radio.PeerIdentity{AddrType: addrType, Addr: addr}, e.opts.ConnectTimeout)
	if err != nil {
		return pushError(L, err)
	}
	e.pushDevice(L, dev)
	return 1
}

// pushDevice pushes a table bound to dev.
func (e *Engine) pushDevice(L *lua.State, dev *device.Device) {
	timeout := e.opts.OperationTimeout

	L.NewTable()
	setString(L, "address", dev.Identity().Addr.String())
	setString(L, "addr_type", dev.Identity().AddrType.String())

	e.setMethod(L, "state", func(L *lua.State, _ int) int {
		L.PushString(dev.State().String())
		return 1
	})
	e.setMethod(L, "is_busy", func(L *lua.State, _ int) int {
		L.PushBoolean(dev.IsBusy())
		return 1
	})
	e.setMethod(L, "is_connected", func(L *lua.State, _ int) int {
		L.PushBoolean(dev.IsConnected())
		return 1
	})
	e.setMethod(L, "read_handle", func(L *lua.State, base int) int {
		h := checkHandle(L, base, "read_handle")
		data, err := dev.ReadHandle(e.ctx, h, timeout)
		if err != nil {
			return pushError(L, err)
		}
		L.PushBytes(data)
		return 1
	})
	e.setMethod(L, "write_handle", func(L *lua.State, base int) int {
		h := checkHandle(L, base, "write_handle")
		data := checkBytes(L, base+1, "write_handle")
		withResponse := true
		if L.GetTop() >= base+2 && !L.IsNil(base+2) {
			withResponse = L.ToBoolean(base + 2)
		}
		if err := dev.WriteHandle(e.ctx, h, data, withResponse, timeout); err != nil {
			return pushError(L, err)
		}
		L.PushBoolean(true)
		return 1
	})
	e.setMethod(L, "subscribe", func(L *lua.State, base int) int {
		h := checkHandle(L, base, "subscribe")
		indicate := L.GetTop() >= base+1 && L.ToBoolean(base+1)
		if err := dev.Subscribe(e.ctx, h, indicate, timeout); err != nil {
			return pushError(L, err)
		}
		L.PushBoolean(true)
		return 1
	})
	e.setMethod(L, "notifications", func(L *lua.State, base int) int {
		limit := -1
		if L.GetTop() >= base && !L.IsNil(base) {
			limit = checkInteger(L, base, "notifications")
		}
		pushNotifications(L, dev.Notifications(), limit)
		return 1
	})
	e.setMethod(L, "discover", func(L *lua.State, _ int) int {
		services, err := dev.DiscoverAll(e.ctx, timeout)
		if err != nil {
			return pushError(L, err)
		}
		pushServices(L, services)
		return 1
	})
	e.setMethod(L, "wait_for_state_change", func(L *lua.State, base int) int {
		from, err := device.ParseState(checkString(L, base, "wait_for_state_change"))
		if err != nil {
			L.RaiseError("wait_for_state_change: " + err.Error())
		}
		wait := time.Duration(checkInteger(L, base+1, "wait_for_state_change")) * time.Millisecond
		st, err := dev.WaitForStateChange(e.ctx, from, wait)
		if err != nil {
			return pushError(L, err)
		}
		L.PushString(st.String())
		return 1
	})
	e.setMethod(L, "disconnect", func(L *lua.State, _ int) int {
		if err := dev.Disconnect(e.ctx, timeout); err != nil {
			return pushError(L, err)
		}
		L.PushBoolean(true)
		return 1
	})
	e.setMethod(L, "read", func(L *lua.State, base int) int {
		field, err := profile.Lookup(checkString(L, base, "read"))
		if err != nil {
			L.RaiseError("read: " + err.Error())
		}
		v, err := field.ReadAny(e.ctx, dev, timeout)
		if err != nil {
			return pushError(L, err)
		}
		pushValue(L, v)
		return 1
	})
	e.setMethod(L, "sensor", func(L *lua.State, _ int) int {
		r, err := profile.NewFlowerCare(dev, timeout).ReadAll(e.ctx)
		if err != nil {
			return pushError(L, err)
		}
		L.NewTable()
		setString(L, "name", r.Name)
		setString(L, "firmware", r.Firmware)
		setInteger(L, "battery", int64(r.Battery))
		L.PushString("time")
		L.PushBytes(r.Time)
		L.SetTable(-3)
		return 1
	})
}

func pushNotifications(L *lua.State, ch <-chan device.Notification, limit int) {
	L.NewTable()
	for i := 1; limit < 0 || i <= limit; i++ {
		var n device.Notification
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			n = v
		default:
			return
		}
		L.PushInteger(int64(i))
		L.NewTable()
		setInteger(L, "handle", int64(n.ValueHandle))
		L.PushString("data")
		L.PushBytes(n.Data)
		L.SetTable(-3)
		L.PushString("indication")
		L.PushBoolean(n.Indication)
		L.SetTable(-3)
		L.SetTable(-3)
	}
}

func pushServices(L *lua.State, services []device.ServiceProfile) {
	L.NewTable()
	for i, s := range services {
		L.PushInteger(int64(i + 1))
		L.NewTable()
		setString(L, "uuid", s.UUID.String())
		setInteger(L, "start_handle", int64(s.StartHandle))
		setInteger(L, "end_handle", int64(s.EndHandle))

		L.PushString("characteristics")
		L.NewTable()
		for j, c := range s.Characteristics {
			L.PushInteger(int64(j + 1))
			L.NewTable()
			setString(L, "uuid", c.UUID.String())
			setInteger(L, "handle", int64(c.DefHandle))
			setInteger(L, "value_handle", int64(c.ValueHandle))
			setInteger(L, "properties", int64(c.Properties))

			L.PushString("descriptors")
			L.NewTable()
			for k, d := range c.Descriptors {
				L.PushInteger(int64(k + 1))
				L.NewTable()
				setString(L, "uuid", d.UUID.String())
				setInteger(L, "handle", int64(d.Handle))
				L.SetTable(-3)
			}
			L.SetTable(-3)

			L.SetTable(-3)
		}
		L.SetTable(-3)

		L.SetTable(-3)
	}
}

func pushValue(L *lua.State, v any) {
	switch x := v.(type) {
	case string:
		L.PushString(x)
	case uint8:
		L.PushInteger(int64(x))
	case []byte:
		L.PushBytes(x)
	default:
		L.PushString(fmt.Sprint(x))
	}
}

func pushError(L *lua.State, err error) int {
	L.PushNil()
	L.PushString(err.Error())
	return 2
}

func setString(L *lua.State, key, value string) {
	L.PushString(key)
	L.PushString(value)
	L.SetTable(-3)
}

func setInteger(L *lua.State, key string, value int64) {
	L.PushString(key)
	L.PushInteger(value)
	L.SetTable(-3)
}

func checkString(L *lua.State, idx int, fn string) string {
	if L.Type(idx) != lua.LUA_TSTRING {
		L.RaiseError(fmt.Sprintf("%s: argument #%d must be a string", fn, idx))
	}
	return L.ToString(idx)
}

func checkBytes(L *lua.State, idx int, fn string) []byte {
	if L.Type(idx) != lua.LUA_TSTRING {
		L.RaiseError(fmt.Sprintf("%s: argument #%d must be a string", fn, idx))
	}
	return L.ToBytes(idx)
}

func checkNumber(L *lua.State, idx int, fn string) float64 {
	if L.Type(idx) != lua.LUA_TNUMBER {
		L.RaiseError(fmt.Sprintf("%s: argument #%d must be a number", fn, idx))
	}
	return L.ToNumber(idx)
}

func checkInteger(L *lua.State, idx int, fn string) int {
	return int(checkNumber(L, idx, fn))
}

func checkHandle(L *lua.State, idx int, fn string) uint16 {
	n := checkInteger(L, idx, fn)
	if n < int(radio.MinHandle) || n > int(radio.MaxHandle) {
		L.RaiseError(fmt.Sprintf("%s: handle %d out of range", fn, n))
	}
	return uint16(n)
}
