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

// Package fake provides an in-memory Transport with scriptable peripherals.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/transport"
)

const eventBuffer = 256

// OpKind is the kind of a recorded operation.
type OpKind string

const (
	OpRead  OpKind = "read"
	OpWrite OpKind = "write"
)

// Op is one characteristic operation seen by the fake.
type Op struct {
	Address        string
	Kind           OpKind
	Characteristic uuid.UUID
	Payload        []byte
}

// Peripheral is the simulated state of one device.
type Peripheral struct {
	Values map[uuid.UUID][]byte
	// Delay is applied before every read and write.
	Delay time.Duration
	// FailNext, when set, is returned by the next read or write and cleared.
	FailNext error

	connected   bool
	session     uint64
	subscribers map[uuid.UUID][]chan []byte
	gate        chan struct{}
}

// Transport is an in-memory transport.Transport.
type Transport struct {
	mu          sync.Mutex
	peripherals map[string]*Peripheral
	ops         []Op
	nextSession uint64
	events      chan transport.Event
	closed      bool
}

var _ transport.Transport = &Transport{}

// New returns an empty fake transport.
func New() *Transport {
	return &Transport{
		peripherals: map[string]*Peripheral{},
		events:      make(chan transport.Event, eventBuffer),
	}
}

// AddPeripheral registers a reachable device with initial characteristic values.
func (t *Transport) AddPeripheral(address string, values map[uuid.UUID][]byte) *Peripheral {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &Peripheral{Values: map[uuid.UUID][]byte{}, subscribers: map[uuid.UUID][]chan []byte{}}
	for k, v := range values {
		p.Values[k] = append([]byte(nil), v...)
	}
	t.peripherals[address] = p
	return p
}

// Value returns the current value of a characteristic.
func (t *Transport) Value(address string, characteristic uuid.UUID) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peripherals[address]
	if !ok {
		return nil, false
	}
	v, ok := p.Values[characteristic]
	return append([]byte(nil), v...), ok
}

// SetValue changes a characteristic as if the device did it.
func (t *Transport) SetValue(address string, characteristic uuid.UUID, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peripherals[address]; ok {
		p.Values[characteristic] = append([]byte(nil), payload...)
	}
}

// FailNext makes the next read or write on address return err.
func (t *Transport) FailNext(address string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peripherals[address]; ok {
		p.FailNext = err
	}
}

// SetDelay sets the latency of every read and write on address.
func (t *Transport) SetDelay(address string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peripherals[address]; ok {
		p.Delay = d
	}
}

// Block holds every read and write on address until the returned func is called.
func (t *Transport) Block(address string) (release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peripherals[address]
	if !ok {
		return func() {}
	}
	gate := make(chan struct{})
	p.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if p.gate == gate {
				p.gate = nil
			}
			t.mu.Unlock()
			close(gate)
		})
	}
}

// Ops returns the recorded operations in execution order.
func (t *Transport) Ops() []Op {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Op(nil), t.ops...)
}

// Connect implements transport.Transport.
func (t *Transport) Connect(ctx context.Context, address string) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return transport.Handle{}, contextError(address, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peripherals[address]
	if !ok {
		return transport.Handle{}, &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseNotFound, Err: errors.New("peripheral not advertising")}
	}
	t.nextSession++
	p.connected = true
	p.session = t.nextSession
	return transport.Handle{Address: address, Session: p.session}, nil
}

// ReadCharacteristic implements transport.Transport.
func (t *Transport) ReadCharacteristic(ctx context.Context, h transport.Handle, _, characteristic uuid.UUID) ([]byte, error) {
	p, err := t.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkLocked(h, p); err != nil {
		return nil, err
	}
	t.ops = append(t.ops, Op{Address: h.Address, Kind: OpRead, Characteristic: characteristic})
	v, ok := p.Values[characteristic]
	if !ok {
		return nil, &mappercommon.TransportError{Address: h.Address, Cause: mappercommon.CauseNotFound, Err: fmt.Errorf("characteristic %s not found", characteristic)}
	}
	return append([]byte(nil), v...), nil
}

// WriteCharacteristic implements transport.Transport.
func (t *Transport) WriteCharacteristic(ctx context.Context, h transport.Handle, _, characteristic uuid.UUID, payload []byte) error {
	p, err := t.begin(ctx, h)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkLocked(h, p); err != nil {
		return err
	}
	t.ops = append(t.ops, Op{Address: h.Address, Kind: OpWrite, Characteristic: characteristic, Payload: append([]byte(nil), payload...)})
	p.Values[characteristic] = append([]byte(nil), payload...)
	for _, ch := range p.subscribers[characteristic] {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe implements transport.Transport.
func (t *Transport) Subscribe(ctx context.Context, h transport.Handle, _, characteristic uuid.UUID) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(h.Address, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peripherals[h.Address]
	if !ok || !p.connected || p.session != h.Session {
		return nil, disconnected(h.Address)
	}
	ch := make(chan []byte, 16)
	p.subscribers[characteristic] = append(p.subscribers[characteristic], ch)
	return ch, nil
}

// Disconnect implements transport.Transport.
func (t *Transport) Disconnect(h transport.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peripherals[h.Address]
	if !ok || p.session != h.Session {
		return nil
	}
	t.dropLocked(p)
	return nil
}

// DropLink simulates the device going out of range.
func (t *Transport) DropLink(address string) {
	t.mu.Lock()
	p, ok := t.peripherals[address]
	if ok && p.connected {
		t.dropLocked(p)
	}
	t.mu.Unlock()
	if ok {
		t.Emit(transport.Event{Address: address, Type: transport.EventLinkLost, Err: errors.New("supervision timeout")})
	}
}

// Emit pushes an event as if the device produced it.
func (t *Transport) Emit(ev transport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		klog.Warningf("fake transport dropped %s event for %s", ev.Type, ev.Address)
	}
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	return nil
}

func (t *Transport) dropLocked(p *Peripheral) {
	p.connected = false
	for c, subs := range p.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subscribers, c)
	}
}

// begin waits out the configured delay and gate without holding the lock.
func (t *Transport) begin(ctx context.Context, h transport.Handle) (*Peripheral, error) {
	t.mu.Lock()
	p, ok := t.peripherals[h.Address]
	if !ok {
		t.mu.Unlock()
		return nil, disconnected(h.Address)
	}
	delay, gate := p.Delay, p.gate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, contextError(h.Address, ctx.Err())
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, contextError(h.Address, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, contextError(h.Address, err)
	}
	return p, nil
}

func (t *Transport) checkLocked(h transport.Handle, p *Peripheral) error {
	if !p.connected || p.session != h.Session {
		return disconnected(h.Address)
	}
	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return err
	}
	return nil
}

func disconnected(address string) error {
	return &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseDisconnected, Err: errors.New("link is down")}
}

func contextError(address string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseTimeout, Err: err}
	}
	return err
}
