/*
Copyright 2026 The KubeEdge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

   http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gatt implements transport.Transport on a local HCI adapter.
package gatt

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paypal/gatt"
	"github.com/paypal/gatt/examples/option"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/transport"
)

const (
	eventBuffer = 256
	// bluetoothBase is the tail shared by all 16-bit assigned numbers.
	bluetoothBase = "00001000800000805f9b34fb"

	batteryService = "0000180f" + bluetoothBase
	batteryLevel   = "00002a19" + bluetoothBase

	attOpReadReq = 0x0a
)

// Options configures the adapter.
type Options struct {
	// RSSIInterval is how often the signal strength of each link is sampled.
	// Zero disables sampling.
	RSSIInterval time.Duration
}

type connectResult struct {
	link *link
	err  error
}

type link struct {
	peripheral gatt.Peripheral
	session    uint64
	chars      map[string]*gatt.Characteristic
	closing    bool
	stopCh     chan struct{}
}

// Transport drives peripherals through a paypal/gatt device.
type Transport struct {
	device  gatt.Device
	options Options

	mu          sync.Mutex
	pending     map[string][]chan connectResult
	connecting  map[string]bool
	links       map[string]*link
	nextSession uint64
	poweredOn   bool
	closed      bool

	events chan transport.Event
}

var _ transport.Transport = &Transport{}

// New opens the default HCI device and starts listening for adapter state.
func New(opts Options) (*Transport, error) {
	device, err := gatt.NewDevice(option.DefaultClientOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open HCI device")
	}
	t := &Transport{
		device:     device,
		options:    opts,
		pending:    map[string][]chan connectResult{},
		connecting: map[string]bool{},
		links:      map[string]*link{},
		events:     make(chan transport.Event, eventBuffer),
	}
	device.Handle(
		gatt.PeripheralDiscovered(t.onPeripheralDiscovered),
		gatt.PeripheralConnected(t.onPeripheralConnected),
		gatt.PeripheralDisconnected(t.onPeripheralDisconnected),
	)
	if err := device.Init(t.onStateChanged); err != nil {
		return nil, errors.Wrap(err, "failed to init HCI device")
	}
	return t, nil
}

func (t *Transport) onStateChanged(device gatt.Device, s gatt.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	klog.Infof("Bluetooth adapter state changed to %v", s)
	t.poweredOn = s == gatt.StatePoweredOn
	if t.poweredOn && len(t.pending) > 0 {
		klog.Infof("Scanning for BLE device broadcasts...")
		device.Scan([]gatt.UUID{}, true)
		return
	}
	if !t.poweredOn {
		device.StopScanning()
		for addr, l := range t.links {
			t.dropLocked(addr, l, errors.New("adapter powered off"))
		}
	}
}

func (t *Transport) onPeripheralDiscovered(p gatt.Peripheral, a *gatt.Advertisement, rssi int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr, ok := t.pendingAddressLocked(p.ID())
	if !ok || t.connecting[addr] {
		return
	}
	t.connecting[addr] = true
	klog.Infof("Device %s (%s) found with rssi %d, connecting", addr, a.LocalName, rssi)
	if len(t.pending) == 1 {
		p.Device().StopScanning()
	}
	p.Device().Connect(p)
}

func (t *Transport) onPeripheralConnected(p gatt.Peripheral, err error) {
	t.mu.Lock()
	addr, ok := t.pendingAddressLocked(p.ID())
	t.mu.Unlock()
	if !ok {
		p.Device().CancelConnection(p)
		return
	}
	if err != nil {
		t.resolve(addr, connectResult{err: &mappercommon.TransportError{Address: addr, Cause: mappercommon.CauseDisconnected, Err: errors.Wrap(err, "connect")}})
		return
	}
	// Discovery issues ATT requests, which must not run on the HCI event loop.
	go func() {
		chars, err := discover(p)
		if err != nil {
			p.Device().CancelConnection(p)
			t.resolve(addr, connectResult{err: &mappercommon.TransportError{Address: addr, Cause: mappercommon.CauseNotFound, Err: err}})
			return
		}
		t.mu.Lock()
		t.nextSession++
		l := &link{peripheral: p, session: t.nextSession, chars: chars, stopCh: make(chan struct{})}
		t.links[addr] = l
		t.mu.Unlock()

		klog.Infof("Connected to %s, %d characteristics discovered", addr, len(chars))
		t.startTelemetry(addr, l)
		t.resolve(addr, connectResult{link: l})
	}()
}

func (t *Transport) onPeripheralDisconnected(p gatt.Peripheral, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, l := range t.links {
		if l.peripheral.ID() == p.ID() {
			if err == nil {
				err = errors.New("peripheral disconnected")
			}
			t.dropLocked(addr, l, err)
			return
		}
	}
}

// dropLocked forgets a link and reports it lost unless Disconnect was called.
func (t *Transport) dropLocked(addr string, l *link, err error) {
	delete(t.links, addr)
	close(l.stopCh)
	if l.closing {
		klog.Infof("Disconnected from %s", addr)
		return
	}
	klog.Warningf("Link to %s lost: %v", addr, err)
	t.emitLocked(transport.Event{Address: addr, Type: transport.EventLinkLost, Err: err})
}

func (t *Transport) pendingAddressLocked(id string) (string, bool) {
	for addr := range t.pending {
		if strings.EqualFold(addr, id) {
			return addr, true
		}
	}
	return "", false
}

func (t *Transport) resolve(addr string, res connectResult) {
	t.mu.Lock()
	waiters := t.pending[addr]
	delete(t.pending, addr)
	delete(t.connecting, addr)
	t.mu.Unlock()
	for _, w := range waiters {
		w <- res
	}
}

// Connect scans for the peripheral whose ID equals address and connects to it.
func (t *Transport) Connect(ctx context.Context, address string) (transport.Handle, error) {
	waiter := make(chan connectResult, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.Handle{}, &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseDisconnected, Err: errors.New("transport closed")}
	}
	if l, ok := t.links[address]; ok {
		t.mu.Unlock()
		return transport.Handle{Address: address, Session: l.session}, nil
	}
	first := len(t.pending) == 0
	t.pending[address] = append(t.pending[address], waiter)
	if first && t.poweredOn {
		klog.Infof("Scanning for BLE device broadcasts...")
		t.device.Scan([]gatt.UUID{}, true)
	}
	t.mu.Unlock()

	select {
	case res := <-waiter:
		if res.err != nil {
			return transport.Handle{}, res.err
		}
		return transport.Handle{Address: address, Session: res.link.session}, nil
	case <-ctx.Done():
		t.mu.Lock()
		t.removeWaiterLocked(address, waiter)
		if len(t.pending) == 0 {
			t.device.StopScanning()
		}
		t.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return transport.Handle{}, &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseNotFound, Err: errors.Wrap(ctx.Err(), "peripheral not found while scanning")}
		}
		return transport.Handle{}, ctx.Err()
	}
}

func (t *Transport) removeWaiterLocked(address string, waiter chan connectResult) {
	waiters := t.pending[address]
	for i, w := range waiters {
		if w == waiter {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(t.pending, address)
		return
	}
	t.pending[address] = waiters
}

func (t *Transport) lookup(h transport.Handle, characteristic uuid.UUID) (*link, *gatt.Characteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.links[h.Address]
	if !ok || l.session != h.Session {
		return nil, nil, &mappercommon.TransportError{Address: h.Address, Cause: mappercommon.CauseDisconnected, Err: errors.New("link is down")}
	}
	c, ok := l.chars[key(characteristic)]
	if !ok {
		return nil, nil, &mappercommon.TransportError{Address: h.Address, Cause: mappercommon.CauseNotFound, Err: fmt.Errorf("unable to find the specified characteristic: %s", characteristic)}
	}
	return l, c, nil
}

// ReadCharacteristic implements transport.Transport.
func (t *Transport) ReadCharacteristic(ctx context.Context, h transport.Handle, _, characteristic uuid.UUID) ([]byte, error) {
	l, c, err := t.lookup(h, characteristic)
	if err != nil {
		return nil, err
	}
	var value []byte
	err = t.run(ctx, h.Address, func() error {
		var rErr error
		value, rErr = l.peripheral.ReadCharacteristic(c)
		if rErr == nil {
			rErr = readError(c, value)
		}
		return errors.Wrapf(rErr, "read characteristic %s", characteristic)
	})
	return value, err
}

// WriteCharacteristic implements transport.Transport.
func (t *Transport) WriteCharacteristic(ctx context.Context, h transport.Handle, _, characteristic uuid.UUID, payload []byte) error {
	l, c, err := t.lookup(h, characteristic)
	if err != nil {
		return err
	}
	return t.run(ctx, h.Address, func() error {
		return errors.Wrapf(l.peripheral.WriteCharacteristic(c, payload, false), "write characteristic %s", characteristic)
	})
}

// run executes a blocking ATT request, giving up when ctx is done. The request
// itself cannot be aborted and finishes in the background. A failure while
// the link is up was answered by the peripheral and is reported as rejected.
func (t *Transport) run(ctx context.Context, address string, op func() error) error {
	done := make(chan error, 1)
	go func() { done <- op() }()
	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		t.mu.Lock()
		_, connected := t.links[address]
		t.mu.Unlock()
		cause := mappercommon.CauseRejected
		if !connected {
			cause = mappercommon.CauseDisconnected
		}
		return &mappercommon.TransportError{Address: address, Cause: cause, Err: err}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseTimeout, Err: ctx.Err()}
		}
		return ctx.Err()
	}
}

// Subscribe enables notifications on a characteristic. The channel is closed
// when the link goes down.
func (t *Transport) Subscribe(ctx context.Context, h transport.Handle, _, characteristic uuid.UUID) (<-chan []byte, error) {
	l, c, err := t.lookup(h, characteristic)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 16)
	var outMu sync.Mutex
	outClosed := false
	err = t.run(ctx, h.Address, func() error {
		return errors.Wrapf(l.peripheral.SetNotifyValue(c, func(_ *gatt.Characteristic, b []byte, nErr error) {
			if nErr != nil {
				klog.Warningf("Notification error on %s: %v", characteristic, nErr)
				return
			}
			outMu.Lock()
			defer outMu.Unlock()
			if outClosed {
				return
			}
			select {
			case out <- append([]byte(nil), b...):
			default:
				klog.Warningf("Dropping notification on %s, consumer too slow", characteristic)
			}
		}), "subscribe %s", characteristic)
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-l.stopCh
		outMu.Lock()
		outClosed = true
		close(out)
		outMu.Unlock()
	}()
	return out, nil
}

// Disconnect implements transport.Transport.
func (t *Transport) Disconnect(h transport.Handle) error {
	t.mu.Lock()
	l, ok := t.links[h.Address]
	if !ok || l.session != h.Session {
		t.mu.Unlock()
		return nil
	}
	l.closing = true
	t.dropLocked(h.Address, l, nil)
	t.mu.Unlock()
	l.peripheral.Device().CancelConnection(l.peripheral)
	return nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Close stops scanning and cancels every link.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	links := make([]*link, 0, len(t.links))
	for addr, l := range t.links {
		l.closing = true
		t.dropLocked(addr, l, nil)
		links = append(links, l)
	}
	close(t.events)
	t.mu.Unlock()

	t.device.StopScanning()
	for _, l := range links {
		t.device.CancelConnection(l.peripheral)
	}
	klog.Infof("Bluetooth adapter released")
	return nil
}

func (t *Transport) emitLocked(ev transport.Event) {
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		klog.Warningf("Event channel full, dropping %s event for %s", ev.Type, ev.Address)
	}
}

func (t *Transport) emit(ev transport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitLocked(ev)
}

// startTelemetry samples RSSI and forwards battery level notifications.
func (t *Transport) startTelemetry(addr string, l *link) {
	if t.options.RSSIInterval > 0 {
		go wait.Until(func() {
			t.emit(transport.Event{Address: addr, Type: transport.EventRSSI, Value: l.peripheral.ReadRSSI()})
		}, t.options.RSSIInterval, l.stopCh)
	}

	c, ok := l.chars[batteryLevel]
	if !ok {
		return
	}
	if value, err := l.peripheral.ReadCharacteristic(c); err == nil && len(value) == 1 {
		t.emit(transport.Event{Address: addr, Type: transport.EventBattery, Value: int(value[0])})
	}
	err := l.peripheral.SetNotifyValue(c, func(_ *gatt.Characteristic, b []byte, err error) {
		if err != nil || len(b) != 1 {
			return
		}
		t.emit(transport.Event{Address: addr, Type: transport.EventBattery, Value: int(b[0])})
	})
	if err != nil {
		klog.V(4).Infof("Battery notifications unavailable on %s: %v", addr, err)
	}
}

// discover walks every service and indexes characteristics by normalized UUID.
func discover(p gatt.Peripheral) (map[string]*gatt.Characteristic, error) {
	services, err := p.DiscoverServices(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to discover services")
	}
	chars := map[string]*gatt.Characteristic{}
	for _, s := range services {
		cs, err := p.DiscoverCharacteristics(nil, s)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to discover characteristics of service %s", s.UUID())
		}
		for _, c := range cs {
			if c.Properties()&(gatt.CharNotify|gatt.CharIndicate) != 0 {
				if _, err := p.DiscoverDescriptors(nil, c); err != nil {
					klog.Warningf("Failed to discover descriptors of %s: %v", c.UUID(), err)
				}
			}
			chars[gattKey(c.UUID())] = c
		}
		if gattKey(s.UUID()) == batteryService {
			klog.V(4).Infof("Peripheral %s exposes the battery service", p.ID())
		}
	}
	return chars, nil
}

// attError is an ATT Error Response code.
type attError byte

var attErrorNames = map[attError]string{
	0x01: "invalid handle",
	0x02: "read not permitted",
	0x03: "write not permitted",
	0x05: "insufficient authentication",
	0x08: "insufficient authorization",
	0x0b: "attribute not long",
	0x0d: "invalid attribute value length",
	0x0f: "insufficient encryption",
}

func (e attError) Error() string {
	if name, ok := attErrorNames[e]; ok {
		return fmt.Sprintf("ATT error 0x%02x: %s", byte(e), name)
	}
	return fmt.Sprintf("ATT error 0x%02x", byte(e))
}

// readError returns the ATT error carried by a read response. The library
// strips the Error Response opcode and hands the rest back as the value:
// request opcode, attribute handle, error code.
func readError(c *gatt.Characteristic, value []byte) error {
	if len(value) != 4 || value[0] != attOpReadReq || binary.LittleEndian.Uint16(value[1:3]) != c.VHandle() {
		return nil
	}
	return attError(value[3])
}

// key renders a UUID the way gattKey does.
func key(u uuid.UUID) string {
	return strings.ReplaceAll(u.String(), "-", "")
}

// gattKey expands 16-bit UUIDs so that both forms compare equal.
func gattKey(u gatt.UUID) string {
	s := strings.ToLower(u.String())
	if len(s) == 4 {
		return "0000" + s + bluetoothBase
	}
	return s
}
