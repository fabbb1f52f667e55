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

// Package syncengine sequences field reads, writes and commits against
// peripherals and keeps their DeviceRecord and ConnectionState current.
package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/connstate"
	"github.com/kubeedge/ptalk-mapper/pkg/dataconverter"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/registry"
	"github.com/kubeedge/ptalk-mapper/pkg/transport"
)

// Options configure an Engine. Zero values disable the corresponding limit.
type Options struct {
	// MaxPayload is the largest characteristic payload accepted by the link.
	MaxPayload int
	// ConnectTimeout bounds Connect.
	ConnectTimeout time.Duration
	// OperationTimeout bounds every transport operation, queue wait excluded.
	OperationTimeout time.Duration
	// OpsPerSecond and Burst rate limit operations per device.
	OpsPerSecond float64
	Burst        int
	// AutoConnect connects a disconnected device on its first operation
	// instead of failing with a disconnected TransportError.
	AutoConnect bool
	// Registerer receives the engine metrics when set.
	Registerer prometheus.Registerer
}

// session holds the per-address state of the engine.
type session struct {
	// lifecycle serializes state changes of one address. It is not held while
	// a transport connect is in flight.
	lifecycle sync.Mutex
	// attempt is the connect in flight, guarded by lifecycle.
	attempt *attempt

	mu     sync.Mutex
	worker *worker
}

// attempt is one transport connect shared by concurrent Connect calls.
type attempt struct {
	done chan struct{}
	err  error
}

func (a *attempt) wait(ctx context.Context, address string) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseTimeout, Err: ctx.Err()}
		}
		return ctx.Err()
	}
}

func (s *session) current() *worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

func (s *session) swap(w *worker) *worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.worker
	s.worker = w
	return old
}

// Engine is the ConfigSyncEngine. It is safe for concurrent use; operations
// on one device run in submission order while devices proceed independently.
type Engine struct {
	transport transport.Transport
	registry  *registry.Registry
	tracker   *connstate.Tracker
	codec     *dataconverter.Codec
	metrics   *Metrics
	opts      Options

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds an Engine. A nil tracker is replaced by a fresh one.
func New(t transport.Transport, reg *registry.Registry, tracker *connstate.Tracker, opts Options) (*Engine, error) {
	if tracker == nil {
		tracker = connstate.NewTracker()
	}
	e := &Engine{
		transport: t,
		registry:  reg,
		tracker:   tracker,
		codec:     dataconverter.NewCodec(opts.MaxPayload),
		metrics:   newMetrics(),
		opts:      opts,
		sessions:  map[string]*session{},
	}
	if opts.Registerer != nil {
		if err := e.metrics.register(opts.Registerer); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Tracker returns the connection state tracker of the engine.
func (e *Engine) Tracker() *connstate.Tracker {
	return e.tracker
}

// Registry returns the device registry of the engine.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

func (e *Engine) session(address string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[address]
	if !ok {
		s = &session{}
		e.sessions[address] = s
	}
	return s
}

// State returns a snapshot of the connection state of address.
func (e *Engine) State(address string) v1alpha1.ConnectionState {
	address = registry.NormalizeAddress(address)
	return e.tracker.Get(address)
}

// Tick ages the last-seen counter of disconnected devices by one minute.
func (e *Engine) Tick() {
	e.tracker.Tick()
}

// Connect opens a session to address, creating its DeviceRecord on first use.
// Connecting an already connected device is a no-op and concurrent calls share
// one attempt. The lifecycle lock is not held while the transport dials.
func (e *Engine) Connect(ctx context.Context, address string) error {
	address = registry.NormalizeAddress(address)
	if _, err := e.registry.Ensure(address); err != nil {
		return err
	}
	s := e.session(address)
	s.lifecycle.Lock()

	e.tracker.Track(address)
	switch e.tracker.Get(address).Status {
	case v1alpha1.StatusConnected, v1alpha1.StatusSyncing:
		s.lifecycle.Unlock()
		return nil
	case v1alpha1.StatusConnecting:
		a := s.attempt
		s.lifecycle.Unlock()
		if a == nil {
			return &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseDisconnected, Err: errors.New("connect in progress elsewhere")}
		}
		return a.wait(ctx, address)
	case v1alpha1.StatusError:
		if _, err := e.tracker.Fire(address, connstate.EventDisconnect); err != nil {
			s.lifecycle.Unlock()
			return err
		}
	}
	if _, err := e.tracker.Fire(address, connstate.EventConnect); err != nil {
		s.lifecycle.Unlock()
		return err
	}
	a := &attempt{done: make(chan struct{})}
	s.attempt = a
	s.lifecycle.Unlock()

	a.err = e.dial(ctx, s, a, address)
	close(a.done)
	return a.err
}

// dial runs the transport connect of attempt a and installs its worker unless
// a Disconnect or link event ended the attempt meanwhile.
func (e *Engine) dial(ctx context.Context, s *session, a *attempt, address string) error {
	if e.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ConnectTimeout)
		defer cancel()
	}
	h, err := e.transport.Connect(ctx, address)

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	current := s.attempt == a
	if current {
		s.attempt = nil
	}
	if !current || e.tracker.Get(address).Status != v1alpha1.StatusConnecting {
		if err == nil {
			if derr := e.transport.Disconnect(h); derr != nil {
				klog.V(4).Infof("Failed to release link of %s: %v", address, derr)
			}
		}
		klog.Infof("Connect to %s aborted", address)
		return &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseDisconnected, Err: errors.New("connect aborted by disconnect")}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !mappercommon.IsTransport(err, "") {
			err = &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseTimeout, Err: ctxErr}
		}
		if _, ferr := e.tracker.Fire(address, connstate.EventFault); ferr != nil {
			klog.V(4).Infof("Ignoring fault for %s: %v", address, ferr)
		}
		klog.Errorf("Failed to connect %s: %v", address, err)
		return err
	}

	w := newWorker(e, h)
	if old := s.swap(w); old != nil {
		old.shutdown(errors.New("replaced by a new session"), "")
	}
	go w.run()
	if _, err := e.tracker.Fire(address, connstate.EventLinkUp); err != nil {
		return err
	}
	klog.Infof("Device %s connected", address)
	return nil
}

// Disconnect ends the session of address. Queued operations fail with a
// disconnected TransportError and staged writes are discarded.
func (e *Engine) Disconnect(address string) error {
	address = registry.NormalizeAddress(address)
	s := e.session(address)
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return e.teardown(s, address, errors.New("disconnect requested"))
}

// teardown must be called with the lifecycle lock held.
func (e *Engine) teardown(s *session, address string, cause error) error {
	switch e.tracker.Get(address).Status {
	case v1alpha1.StatusDisconnected:
		return nil
	case v1alpha1.StatusConnecting:
		if _, err := e.tracker.Fire(address, connstate.EventFault); err != nil {
			return err
		}
	}
	w := s.swap(nil)
	if w != nil && w.shutdown(cause, connstate.EventDisconnect) {
		if err := e.transport.Disconnect(w.handle); err != nil {
			klog.Warningf("Failed to release link of %s: %v", address, err)
		}
		klog.Infof("Device %s disconnected: %v", address, cause)
		return nil
	}
	if _, err := e.tracker.Fire(address, connstate.EventDisconnect); err != nil {
		return err
	}
	klog.Infof("Device %s disconnected: %v", address, cause)
	return nil
}

// linkFailed is called by a worker whose operation found the link down.
func (e *Engine) linkFailed(w *worker, cause error) {
	if !w.shutdown(cause, connstate.EventFault) {
		return
	}
	if err := e.transport.Disconnect(w.handle); err != nil {
		klog.V(4).Infof("Failed to release link of %s: %v", w.address, err)
	}
	klog.Errorf("Device %s link failed: %v", w.address, cause)
}

// HandleEvent applies a transport event to the state of its device. Samples
// never wait for a Connect or Disconnect in progress.
func (e *Engine) HandleEvent(ev transport.Event) {
	ev.Address = registry.NormalizeAddress(ev.Address)
	switch ev.Type {
	case transport.EventRSSI:
		e.tracker.ApplyRSSI(ev.Address, ev.Value)
		return
	case transport.EventBattery:
		e.tracker.ApplyBattery(ev.Address, ev.Value)
		return
	case transport.EventNotification:
		e.tracker.Touch(ev.Address)
		return
	}

	s := e.session(ev.Address)
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	switch ev.Type {
	case transport.EventFault:
		cause := ev.Err
		if cause == nil {
			cause = errors.New("transport fault")
		}
		if w := s.current(); w != nil && w.shutdown(cause, connstate.EventFault) {
			if err := e.transport.Disconnect(w.handle); err != nil {
				klog.V(4).Infof("Failed to release link of %s: %v", ev.Address, err)
			}
			klog.Errorf("Device %s faulted: %v", ev.Address, cause)
		}
	case transport.EventLinkLost:
		cause := ev.Err
		if cause == nil {
			cause = errors.New("link lost")
		}
		if err := e.teardown(s, ev.Address, cause); err != nil {
			klog.V(4).Infof("Ignoring link loss of %s: %v", ev.Address, err)
		}
	default:
		klog.V(4).Infof("Ignoring %s event for %s", ev.Type, ev.Address)
	}
}

// Close disconnects every device.
func (e *Engine) Close() {
	e.mu.Lock()
	addresses := make([]string, 0, len(e.sessions))
	for addr := range e.sessions {
		addresses = append(addresses, addr)
	}
	e.mu.Unlock()
	for _, addr := range addresses {
		if err := e.Disconnect(addr); err != nil {
			klog.Warningf("Failed to disconnect %s: %v", addr, err)
		}
	}
}

// workerFor returns the live worker of address, connecting first when AutoConnect is set.
func (e *Engine) workerFor(ctx context.Context, address string, f v1alpha1.FieldID) (*worker, error) {
	if w := e.session(address).current(); w != nil && !w.isClosed() {
		return w, nil
	}
	if !e.opts.AutoConnect {
		return nil, disconnected(address, f, errors.New("not connected"))
	}
	if err := e.Connect(ctx, address); err != nil {
		return nil, withField(err, f)
	}
	if w := e.session(address).current(); w != nil && !w.isClosed() {
		return w, nil
	}
	return nil, disconnected(address, f, errors.New("session closed"))
}

// submit queues run for address and waits for its result or ctx.
func (e *Engine) submit(ctx context.Context, address string, f v1alpha1.FieldID, kind opKind,
	run func(ctx context.Context, w *worker) (interface{}, error)) (interface{}, error) {
	w, err := e.workerFor(ctx, address, f)
	if err != nil {
		return nil, err
	}
	o := &op{ctx: ctx, field: f, kind: kind, run: run, done: make(chan result, 1)}
	if err := w.enqueue(o); err != nil {
		return nil, err
	}
	select {
	case r := <-o.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, contextError(address, f, ctx.Err())
	}
}
