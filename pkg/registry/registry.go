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

// Package registry owns the DeviceRecord of every known peripheral.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
)

// Registry holds exactly one DeviceRecord per address and writes every change
// through to its DeviceStore. Callers always receive copies.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*v1alpha1.DeviceRecord
	store   DeviceStore
}

// New returns a Registry backed by store. A nil store keeps records in memory only.
func New(store DeviceStore) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{devices: map[string]*v1alpha1.DeviceRecord{}, store: store}
}

// Load replaces the in-memory records with the content of the store.
func (r *Registry) Load() error {
	recs, err := r.store.LoadDevices()
	if err != nil {
		return errors.Wrap(err, "load devices")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]*v1alpha1.DeviceRecord, len(recs))
	for i := range recs {
		rec := recs[i].DeepCopy()
		rec.Address = NormalizeAddress(rec.Address)
		r.devices[rec.Address] = rec
	}
	klog.Infof("Loaded %d device records", len(recs))
	return nil
}

// NormalizeAddress trims and upper-cases a device address. Every method of
// Registry applies it, so "aa:bb" and "AA:BB" name the same record.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Ensure returns the record of address, creating and storing an empty one on first use.
func (r *Registry) Ensure(address string) (v1alpha1.DeviceRecord, error) {
	address = NormalizeAddress(address)
	if address == "" {
		return v1alpha1.DeviceRecord{}, fmt.Errorf("device address must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.devices[address]; ok {
		return *rec.DeepCopy(), nil
	}
	rec := &v1alpha1.DeviceRecord{Address: address}
	if err := r.store.SaveDevice(*rec); err != nil {
		return v1alpha1.DeviceRecord{}, err
	}
	r.devices[address] = rec
	klog.Infof("Device %s registered", address)
	return *rec.DeepCopy(), nil
}

// Get returns a copy of the record of address or ErrDeviceNotFound.
func (r *Registry) Get(address string) (v1alpha1.DeviceRecord, error) {
	address = NormalizeAddress(address)
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.devices[address]
	if !ok {
		return v1alpha1.DeviceRecord{}, fmt.Errorf("%w: %s", mappercommon.ErrDeviceNotFound, address)
	}
	return *rec.DeepCopy(), nil
}

// UpdateProfile sets profile fields of an existing record in one store write.
// Fields that are not profile fields are ignored.
func (r *Registry) UpdateProfile(address string, values map[v1alpha1.FieldID]string) (v1alpha1.DeviceRecord, error) {
	address = NormalizeAddress(address)
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices[address]
	if !ok {
		return v1alpha1.DeviceRecord{}, fmt.Errorf("%w: %s", mappercommon.ErrDeviceNotFound, address)
	}
	next := rec.DeepCopy()
	changed := false
	for f, v := range values {
		if next.SetProfileField(f, v) {
			changed = true
		}
	}
	if !changed {
		return *rec.DeepCopy(), nil
	}
	if err := r.store.SaveDevice(*next); err != nil {
		return *rec.DeepCopy(), err
	}
	r.devices[address] = next
	klog.V(4).Infof("Device %s profile updated", address)
	return *next.DeepCopy(), nil
}

// List returns copies of all records ordered by name, unnamed first, then address.
func (r *Registry) List() []v1alpha1.DeviceRecord {
	r.mu.RLock()
	out := make([]v1alpha1.DeviceRecord, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, *rec.DeepCopy())
	}
	r.mu.RUnlock()
	sortByName(out)
	return out
}

// Remove deletes the record of address. Removing an unknown address returns ErrDeviceNotFound.
func (r *Registry) Remove(address string) error {
	address = NormalizeAddress(address)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[address]; !ok {
		return fmt.Errorf("%w: %s", mappercommon.ErrDeviceNotFound, address)
	}
	if err := r.store.DeleteDevice(address); err != nil {
		return err
	}
	delete(r.devices, address)
	klog.Infof("Device %s removed", address)
	return nil
}
