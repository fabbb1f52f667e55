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

package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/connstate"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/transport"
)

type opKind string

const (
	opRead   opKind = "read"
	opWrite  opKind = "write"
	opCommit opKind = "commit"
)

type result struct {
	value interface{}
	err   error
}

// op is one queued transport operation. run executes on the worker goroutine
// of the device, so it may touch session state without locking.
type op struct {
	ctx   context.Context
	field v1alpha1.FieldID
	kind  opKind
	run   func(ctx context.Context, w *worker) (interface{}, error)
	done  chan result
}

func (o *op) finish(value interface{}, err error) {
	o.done <- result{value: value, err: err}
}

// worker owns the link to one device for the lifetime of a session and runs
// its operations one at a time in submission order.
type worker struct {
	address string
	handle  transport.Handle
	engine  *Engine
	limiter *rate.Limiter
	// staged holds profile values written since the last commit.
	staged map[v1alpha1.FieldID]string

	mu     sync.Mutex
	queue  []*op
	closed bool
	wake   chan struct{}

	sessionCtx context.Context
	cancel     context.CancelFunc
	exited     chan struct{}
}

func newWorker(e *Engine, h transport.Handle) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		address:    h.Address,
		handle:     h,
		engine:     e,
		staged:     map[v1alpha1.FieldID]string{},
		wake:       make(chan struct{}, 1),
		sessionCtx: ctx,
		cancel:     cancel,
		exited:     make(chan struct{}),
	}
	if e.opts.OpsPerSecond > 0 {
		burst := e.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(e.opts.OpsPerSecond), burst)
	}
	return w
}

func (w *worker) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// enqueue appends o to the queue. A closed worker rejects it as disconnected.
func (w *worker) enqueue(o *op) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return disconnected(w.address, o.field, errors.New("session closed"))
	}
	w.queue = append(w.queue, o)
	w.engine.metrics.setDepth(w.address, len(w.queue))
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *worker) run() {
	defer close(w.exited)
	for {
		o, ok := w.next()
		if !ok {
			select {
			case <-w.wake:
				continue
			case <-w.sessionCtx.Done():
				return
			}
		}
		value, err := w.execute(o)
		w.idle()
		o.finish(value, err)
	}
}

// next pops the head of the queue and marks the device as syncing.
func (w *worker) next() (*op, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || len(w.queue) == 0 {
		return nil, false
	}
	o := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	w.engine.metrics.setDepth(w.address, len(w.queue))
	if w.engine.tracker.Get(w.address).Status == v1alpha1.StatusConnected {
		w.fire(connstate.EventSyncStart)
	}
	return o, true
}

// idle marks the device as connected again once the queue is empty.
func (w *worker) idle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || len(w.queue) > 0 {
		return
	}
	if w.engine.tracker.Get(w.address).Status == v1alpha1.StatusSyncing {
		w.fire(connstate.EventSyncDone)
	}
}

// fire must be called with w.mu held so transitions never interleave with shutdown.
func (w *worker) fire(ev connstate.Event) {
	if _, err := w.engine.tracker.Fire(w.address, ev); err != nil {
		klog.V(4).Infof("Ignoring %s for %s: %v", ev, w.address, err)
	}
}

// execute runs o against the link, mapping session loss and expired
// deadlines to TransportErrors.
func (w *worker) execute(o *op) (interface{}, error) {
	if err := o.ctx.Err(); err != nil {
		err = contextError(w.address, o.field, err)
		w.engine.metrics.reject(o, err)
		return nil, err
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if w.engine.opts.OperationTimeout > 0 {
		ctx, cancel = context.WithTimeout(o.ctx, w.engine.opts.OperationTimeout)
	} else {
		ctx, cancel = context.WithCancel(o.ctx)
	}
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-w.sessionCtx.Done():
			cancel()
		case <-stop:
		}
	}()

	start := time.Now()
	var value interface{}
	var err error
	if w.limiter != nil {
		err = w.limiter.Wait(ctx)
	}
	if err == nil {
		value, err = o.run(ctx, w)
	}
	if err != nil {
		switch {
		case w.sessionCtx.Err() != nil:
			err = disconnected(w.address, o.field, errors.New("session closed during operation"))
		case ctx.Err() != nil && !mappercommon.IsTransport(err, ""):
			err = contextError(w.address, o.field, ctx.Err())
		default:
			err = withField(err, o.field)
		}
	}
	w.engine.metrics.observe(o, err, time.Since(start))

	if err == nil {
		w.engine.tracker.Touch(w.address)
	} else if mappercommon.IsTransport(err, mappercommon.CauseDisconnected) {
		w.engine.linkFailed(w, err)
	}
	return value, err
}

// shutdown closes the worker, fails every queued operation with cause and
// fires ev. It reports false when the worker was already closed.
func (w *worker) shutdown(cause error, ev connstate.Event) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.closed = true
	pending := w.queue
	w.queue = nil
	w.cancel()
	w.engine.metrics.setDepth(w.address, 0)
	for _, o := range pending {
		err := disconnected(w.address, o.field, cause)
		w.engine.metrics.reject(o, err)
		o.finish(nil, err)
	}
	if len(pending) > 0 {
		klog.Warningf("Failed %d queued operations for %s: %v", len(pending), w.address, cause)
	}
	if ev != "" {
		w.fire(ev)
	}
	return true
}

func disconnected(address string, f v1alpha1.FieldID, err error) error {
	return mappercommon.NewTransportError(address, f, mappercommon.CauseDisconnected, err)
}

// contextError maps an expired deadline to a timeout TransportError.
// Plain cancellation is returned unchanged.
func contextError(address string, f v1alpha1.FieldID, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return mappercommon.NewTransportError(address, f, mappercommon.CauseTimeout, err)
	}
	return err
}

// withField attaches f to a TransportError that carries no field.
func withField(err error, f v1alpha1.FieldID) error {
	te, ok := err.(*mappercommon.TransportError)
	if !ok || te.Field != nil {
		return err
	}
	cp := *te
	cp.Field = &f
	return &cp
}
