package goble

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/advdata"
	"github.com/srg/gattc/internal/groutine"
	"github.com/srg/gattc/internal/radio"
)

const (
	// DefaultDialTimeout bounds a single Dial when Options.DialTimeout is unset.
	DefaultDialTimeout = 10 * time.Second
	// DefaultEventBuffer is the capacity of the queue between workers and the pump.
	DefaultEventBuffer = 100

	attAttributeNotFound = 0x0a
	attUnlikelyError     = 0x0e
)

var cccdUUID = ble.UUID16(0x2902)

// Options configures a Transport.
type Options struct {
	Logger *logrus.Logger
	// AddrType is reported for scanned peers; go-ble does not expose it.
	AddrType        radio.AddrType
	DialTimeout     time.Duration
	AllowDuplicates bool
	EventBuffer     int
}

// Transport is a radio.Transport backed by a go-ble Radio.
type Transport struct {
	radio  Radio
	opts   Options
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  groutine.Group
	events chan radio.Event

	handlerMu sync.RWMutex
	handler   radio.Handler

	mu       sync.Mutex
	closed   bool
	nextConn uint16
	conns    map[uint16]*link
	addrs    map[radio.Address]ble.Addr
}

// link is one established connection. GATT requests on a link are serialized.
type link struct {
	conn   uint16
	peer   radio.PeerIdentity
	client Client

	mu       sync.Mutex
	services []*ble.Service
	chars    map[uint16]*ble.Characteristic

	gone sync.Once
}

// New wraps r and starts the event pump.
func New(r Radio, opts Options) *Transport {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		radio:  r,
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan radio.Event, opts.EventBuffer),
		conns:  make(map[uint16]*link),
		addrs:  make(map[radio.Address]ble.Addr),
	}
	t.group.Go(ctx, "radio-event-pump", t.pump)
	return t
}

func (t *Transport) SetHandler(h radio.Handler) {
	t.handlerMu.Lock()
	t.handler = h
	t.handlerMu.Unlock()
}

func (t *Transport) pump(ctx context.Context) {
	for {
		select {
		case ev := <-t.events:
			t.handlerMu.RLock()
			h := t.handler
			t.handlerMu.RUnlock()
			if h != nil {
				h(ev)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) emit(ev radio.Event) {
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

// spawn runs a command on its own goroutine.
func (t *Transport) spawn(name string, fn func(ctx context.Context)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return radio.ErrTransportClosed
	}
	t.group.Go(t.ctx, name, fn)
	return nil
}

func (t *Transport) lookup(conn uint16) (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, radio.ErrTransportClosed
	}
	l, ok := t.conns[conn]
	if !ok {
		return nil, fmt.Errorf("%w: %d", radio.ErrUnknownConn, conn)
	}
	return l, nil
}

// resolve maps a go-ble address to a 6-byte address. Platforms that hide
// the MAC (CoreBluetooth hands out UUIDs) get a stable synthetic random
// static address derived from the identifier.
func (t *Transport) resolve(a ble.Addr) radio.Address {
	s := a.String()
	addr, err := radio.ParseAddress(s)
	if err != nil {
		h := fnv.New64a()
		_, _ = h.Write([]byte(strings.ToLower(s)))
		sum := h.Sum(nil)
		copy(addr[:], sum[:6])
		addr[0] |= 0xc0
	}

	t.mu.Lock()
	t.addrs[addr] = a
	t.mu.Unlock()
	return addr
}

func (t *Transport) dialAddr(peer radio.PeerIdentity) ble.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.addrs[peer.Addr]; ok {
		return a
	}
	return ble.NewAddr(strings.ToLower(peer.Addr.String()))
}

func (t *Transport) Scan(duration time.Duration) error {
	return t.spawn("radio-scan", func(ctx context.Context) {
		sctx, cancel := context.WithTimeout(ctx, duration)
		defer cancel()

		err := t.radio.Scan(sctx, t.opts.AllowDuplicates, t.onAdvertisement)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			t.logger.WithError(err).Warn("Scan ended with error")
		}
		t.emit(radio.ScanDone{})
	})
}

func (t *Transport) onAdvertisement(a Advertisement) {
	data, err := advdata.FromAdvertisement(a)
	if err != nil {
		t.logger.WithField("addr", a.Addr().String()).WithError(err).Debug("Advertisement re-encoded partially")
	}
	advType := radio.AdvNonconnInd
	if a.Connectable() {
		advType = radio.AdvInd
	}
	t.emit(radio.ScanResult{
		Peer:    radio.PeerIdentity{AddrType: t.opts.AddrType, Addr: t.resolve(a.Addr())},
		AdvType: advType,
		RSSI:    a.RSSI(),
		Data:    data,
	})
}

func (t *Transport) Connect(peer radio.PeerIdentity) error {
	addr := t.dialAddr(peer)
	return t.spawn("radio-dial", func(ctx context.Context) {
		dctx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
		defer cancel()

		client, err := t.radio.Dial(dctx, addr)
		if err != nil {
			t.logger.WithField("device", peer.String()).WithError(err).Warn("Dial failed")
			t.emit(radio.PeripheralDisconnect{Conn: radio.InvalidConn, Peer: peer})
			return
		}

		l := t.register(peer, client)
		if l == nil {
			_ = client.CancelConnection()
			return
		}
		t.emit(radio.PeripheralConnect{Conn: l.conn, Peer: peer})
		t.watch(l)
	})
}

func (t *Transport) register(peer radio.PeerIdentity, client Client) *link {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	for {
		t.nextConn++
		if t.nextConn == 0 || t.nextConn == radio.InvalidConn {
			continue
		}
		if _, taken := t.conns[t.nextConn]; !taken {
			break
		}
	}
	l := &link{
		conn:   t.nextConn,
		peer:   peer,
		client: client,
		chars:  make(map[uint16]*ble.Characteristic),
	}
	t.conns[l.conn] = l
	return l
}

// watch reports link loss for clients that expose it.
func (t *Transport) watch(l *link) {
	dc, ok := l.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		return
	}
	t.group.Go(t.ctx, "radio-link-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			t.drop(l)
		case <-ctx.Done():
		}
	})
}

// drop forgets the link and reports its disconnection exactly once.
func (t *Transport) drop(l *link) {
	l.gone.Do(func() {
		t.mu.Lock()
		delete(t.conns, l.conn)
		t.mu.Unlock()
		t.emit(radio.PeripheralDisconnect{Conn: l.conn, Peer: l.peer})
	})
}

func (t *Transport) Disconnect(conn uint16) error {
	l, err := t.lookup(conn)
	if err != nil {
		return err
	}
	return t.spawn("radio-disconnect", func(context.Context) {
		if err := l.client.CancelConnection(); err != nil {
			t.logger.WithField("conn", conn).WithError(err).Warn("Cancel connection failed")
		}
		t.drop(l)
	})
}

func (t *Transport) DiscoverServices(conn uint16) error {
	l, err := t.lookup(conn)
	if err != nil {
		return err
	}
	return t.spawn("radio-discover-services", func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()

		svcs, err := l.client.DiscoverServices(nil)
		if err != nil {
			t.emit(radio.ServiceDone{Conn: conn, Status: t.status(conn, "discover services", err)})
			return
		}
		l.services = svcs
		for _, s := range svcs {
			t.emit(radio.ServiceResult{Conn: conn, StartHandle: s.Handle, EndHandle: s.EndHandle, UUID: s.UUID})
		}
		t.emit(radio.ServiceDone{Conn: conn})
	})
}

func (t *Transport) DiscoverCharacteristics(conn uint16, start, end uint16) error {
	l, err := t.lookup(conn)
	if err != nil {
		return err
	}
	return t.spawn("radio-discover-characteristics", func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()

		for _, s := range l.servicesIn(start, end) {
			chars, err := l.client.DiscoverCharacteristics(nil, s)
			if err != nil {
				t.emit(radio.CharacteristicDone{Conn: conn, Status: t.status(conn, "discover characteristics", err)})
				return
			}
			for _, c := range chars {
				if c.Handle < start || c.Handle > end {
					continue
				}
				l.chars[c.ValueHandle] = c
				t.emit(radio.CharacteristicResult{
					Conn:        conn,
					DefHandle:   c.Handle,
					ValueHandle: c.ValueHandle,
					Properties:  c.Property,
					UUID:        c.UUID,
				})
			}
		}
		t.emit(radio.CharacteristicDone{Conn: conn})
	})
}

// servicesIn returns the cached services overlapping [start, end]. Without
// a cached service the range itself is treated as one.
func (l *link) servicesIn(start, end uint16) []*ble.Service {
	var out []*ble.Service
	for _, s := range l.services {
		if s.EndHandle >= start && s.Handle <= end {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = append(out, &ble.Service{Handle: start, EndHandle: end})
	}
	return out
}

func (t *Transport) DiscoverDescriptors(conn uint16, start, end uint16) error {
	l, err := t.lookup(conn)
	if err != nil {
		return err
	}
	return t.spawn("radio-discover-descriptors", func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()

		c := l.owner(start)
		if c == nil {
			t.emit(radio.DescriptorDone{Conn: conn, Status: attAttributeNotFound})
			return
		}
		if c.EndHandle == 0 || c.EndHandle > end {
			c.EndHandle = end
		}
		descs, err := l.client.DiscoverDescriptors(nil, c)
		if err != nil {
			t.emit(radio.DescriptorDone{Conn: conn, Status: t.status(conn, "discover descriptors", err)})
			return
		}
		for _, d := range descs {
			if d.Handle < start || d.Handle > end {
				continue
			}
			if d.UUID.Equal(cccdUUID) {
				c.CCCD = d
			}
			t.emit(radio.DescriptorResult{Conn: conn, Handle: d.Handle, UUID: d.UUID})
		}
		t.emit(radio.DescriptorDone{Conn: conn})
	})
}

// owner returns the characteristic whose descriptors may start at handle.
func (l *link) owner(handle uint16) *ble.Characteristic {
	var best *ble.Characteristic
	for vh, c := range l.chars {
		if vh < handle && (best == nil || vh > best.ValueHandle) {
			best = c
		}
	}
	return best
}

// characteristic returns the cached characteristic for vh, or a bare one
// carrying just the handle for reads of undiscovered attributes.
func (l *link) characteristic(vh uint16) *ble.Characteristic {
	if c, ok := l.chars[vh]; ok {
		return c
	}
	return &ble.Characteristic{Handle: vh - 1, ValueHandle: vh}
}

func (t *Transport) Read(conn uint16, valueHandle uint16) error {
	l, err := t.lookup(conn)
	if err != nil {
		return err
	}
	return t.spawn("radio-read", func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()

		data, err := l.client.ReadCharacteristic(l.characteristic(valueHandle))
		if err != nil {
			t.emit(radio.ReadDone{Conn: conn, ValueHandle: valueHandle, Status: t.status(conn, "read", err)})
			return
		}
		t.emit(radio.ReadResult{Conn: conn, ValueHandle: valueHandle, Data: data})
		t.emit(radio.ReadDone{Conn: conn, ValueHandle: valueHandle})
	})
}

func (t *Transport) Write(conn uint16, valueHandle uint16, data []byte, withResponse bool) error {
	l, err := t.lookup(conn)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)
	return t.spawn("radio-write", func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()

		err := l.client.WriteCharacteristic(l.characteristic(valueHandle), payload, !withResponse)
		if !withResponse {
			if err != nil {
				t.logger.WithFields(logrus.Fields{
					"conn":   conn,
					"handle": fmt.Sprintf("0x%04x", valueHandle),
				}).WithError(err).Warn("Write without response failed")
			}
			return
		}
		status := 0
		if err != nil {
			status = t.status(conn, "write", err)
		}
		t.emit(radio.WriteDone{Conn: conn, ValueHandle: valueHandle, Status: status})
	})
}

func (t *Transport) Subscribe(conn uint16, valueHandle, cccdHandle uint16, indicate bool) error {
	l, err := t.lookup(conn)
	if err != nil {
		return err
	}
	return t.spawn("radio-subscribe", func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()

		c := l.characteristic(valueHandle)
		if c.CCCD == nil {
			c.CCCD = &ble.Descriptor{UUID: cccdUUID, Handle: cccdHandle}
		}
		err := l.client.Subscribe(c, indicate, func(data []byte) {
			value := append([]byte(nil), data...)
			if indicate {
				t.emit(radio.Indicate{Conn: conn, ValueHandle: valueHandle, Data: value})
				return
			}
			t.emit(radio.Notify{Conn: conn, ValueHandle: valueHandle, Data: value})
		})
		status := 0
		if err != nil {
			status = t.status(conn, "subscribe", err)
		}
		t.emit(radio.WriteDone{Conn: conn, ValueHandle: cccdHandle, Status: status})
	})
}

// status maps a go-ble error to an ATT status code.
func (t *Transport) status(conn uint16, op string, err error) int {
	var attErr ble.ATTError
	if errors.As(err, &attErr) && attErr != 0 {
		return int(attErr)
	}
	t.logger.WithFields(logrus.Fields{
		"conn": conn,
		"op":   op,
	}).WithError(err).Debug("Non-ATT error reported as unlikely error")
	return attUnlikelyError
}

// Close cancels every link, stops all workers and the pump.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	links := make([]*link, 0, len(t.conns))
	for _, l := range t.conns {
		links = append(links, l)
	}
	t.mu.Unlock()

	for _, l := range links {
		if err := l.client.CancelConnection(); err != nil {
			t.logger.WithField("conn", l.conn).WithError(err).Debug("Cancel connection on close failed")
		}
	}
	t.cancel()
	t.group.Wait()
	return nil
}
