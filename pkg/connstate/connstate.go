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

// Package connstate tracks the liveness of device sessions.
package connstate

import (
	"fmt"
	"sort"
	"sync"

	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
)

// Event drives a status transition.
type Event string

const (
	EventConnect    Event = "Connect"
	EventLinkUp     Event = "LinkUp"
	EventSyncStart  Event = "SyncStart"
	EventSyncDone   Event = "SyncDone"
	EventFault      Event = "Fault"
	EventDisconnect Event = "Disconnect"
)

// CurrentStatus/Event: NextStatus
var Rule = map[string]v1alpha1.ConnectionStatus{
	"Disconnected/Connect": v1alpha1.StatusConnecting,

	"Connecting/LinkUp": v1alpha1.StatusConnected,
	"Connecting/Fault":  v1alpha1.StatusError,

	"Connected/SyncStart":  v1alpha1.StatusSyncing,
	"Connected/Fault":      v1alpha1.StatusError,
	"Connected/Disconnect": v1alpha1.StatusDisconnected,

	"Syncing/SyncDone":   v1alpha1.StatusConnected,
	"Syncing/Fault":      v1alpha1.StatusError,
	"Syncing/Disconnect": v1alpha1.StatusDisconnected,

	"Error/Disconnect": v1alpha1.StatusDisconnected,
}

// Next returns the status reached from current on ev.
func Next(current v1alpha1.ConnectionStatus, ev Event) (v1alpha1.ConnectionStatus, bool) {
	next, ok := Rule[fmt.Sprintf("%s/%s", current, ev)]
	return next, ok
}

// Observer is called after every status change with copies of both states.
// Calls are serialized in transition order. An observer must not call Fire.
type Observer func(prev, next v1alpha1.ConnectionState)

// Tracker holds one ConnectionState per address. Readers always get copies.
type Tracker struct {
	mu        sync.RWMutex
	states    map[string]*v1alpha1.ConnectionState
	observers []Observer
	notifyMu  sync.Mutex
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: map[string]*v1alpha1.ConnectionState{}}
}

// AddObserver registers o for all later transitions.
func (t *Tracker) AddObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

func (t *Tracker) stateLocked(address string) *v1alpha1.ConnectionState {
	s, ok := t.states[address]
	if !ok {
		fresh := v1alpha1.NewConnectionState(address)
		s = &fresh
		t.states[address] = s
	}
	return s
}

// Get returns a snapshot of the state of address.
func (t *Tracker) Get(address string) v1alpha1.ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.states[address]; ok {
		return *s
	}
	return v1alpha1.NewConnectionState(address)
}

// List returns snapshots of all tracked devices ordered by address.
func (t *Tracker) List() []v1alpha1.ConnectionState {
	t.mu.RLock()
	out := make([]v1alpha1.ConnectionState, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, *s)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Fire applies ev to the state of address. A transition not in Rule returns
// ErrInvalidTransition and leaves the state unchanged.
func (t *Tracker) Fire(address string, ev Event) (v1alpha1.ConnectionState, error) {
	t.mu.Lock()
	s := t.stateLocked(address)
	next, ok := Next(s.Status, ev)
	if !ok {
		snapshot := *s
		t.mu.Unlock()
		return snapshot, fmt.Errorf("%w: %s on %s in %s", mappercommon.ErrInvalidTransition, ev, address, snapshot.Status)
	}
	prev := *s
	s.Status = next
	if ev == EventLinkUp {
		s.LastSeenMinutes = 0
	}
	cur := *s
	observers := append([]Observer(nil), t.observers...)
	t.notifyMu.Lock()
	t.mu.Unlock()
	defer t.notifyMu.Unlock()

	klog.V(4).Infof("Device %s: %s --%s--> %s", address, prev.Status, ev, cur.Status)
	for _, o := range observers {
		o(prev, cur)
	}
	return cur, nil
}

// live reports whether samples may be applied in status.
func live(status v1alpha1.ConnectionStatus) bool {
	return status == v1alpha1.StatusConnected || status == v1alpha1.StatusSyncing
}

// ApplyRSSI records a signal strength sample. Samples outside a live session
// are dropped and false is returned.
func (t *Tracker) ApplyRSSI(address string, rssi int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[address]
	if !ok || !live(s.Status) {
		klog.V(4).Infof("Dropping RSSI sample for %s outside a live session", address)
		return false
	}
	s.RSSI = rssi
	s.LastSeenMinutes = 0
	return true
}

// ApplyBattery records a battery sample in percent. Values outside 0..100 and
// samples outside a live session are dropped.
func (t *Tracker) ApplyBattery(address string, percent int) bool {
	if percent < 0 || percent > 100 {
		klog.Warningf("Dropping battery sample %d for %s: out of range", percent, address)
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[address]
	if !ok || !live(s.Status) {
		klog.V(4).Infof("Dropping battery sample for %s outside a live session", address)
		return false
	}
	s.BatteryPercent = percent
	s.LastSeenMinutes = 0
	return true
}

// Touch records any other signal from the device.
func (t *Tracker) Touch(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[address]; ok && live(s.Status) {
		s.LastSeenMinutes = 0
	}
}

// Tick ages every disconnected device by one minute.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.states {
		if s.Status == v1alpha1.StatusDisconnected {
			s.LastSeenMinutes++
		}
	}
}

// Track makes address known without changing its state.
func (t *Tracker) Track(address string) v1alpha1.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.stateLocked(address)
}

// Forget drops the state of address.
func (t *Tracker) Forget(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, address)
}
