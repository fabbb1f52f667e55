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

package registry

import (
	"sort"
	"sync"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
)

// DeviceStore persists DeviceRecords. dtclient.DeviceStore is the sqlite implementation.
type DeviceStore interface {
	SaveDevice(rec v1alpha1.DeviceRecord) error
	DeleteDevice(address string) error
	LoadDevices() ([]v1alpha1.DeviceRecord, error)
}

// MemoryStore is a DeviceStore that keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	devices map[string]v1alpha1.DeviceRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: map[string]v1alpha1.DeviceRecord{}}
}

func (m *MemoryStore) SaveDevice(rec v1alpha1.DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[rec.Address] = *rec.DeepCopy()
	return nil
}

func (m *MemoryStore) DeleteDevice(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, address)
	return nil
}

func (m *MemoryStore) LoadDevices() ([]v1alpha1.DeviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]v1alpha1.DeviceRecord, 0, len(m.devices))
	for _, rec := range m.devices {
		out = append(out, *rec.DeepCopy())
	}
	sortByName(out)
	return out, nil
}

// sortByName orders records by name with unnamed records first, then by address.
func sortByName(recs []v1alpha1.DeviceRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		switch {
		case a.Name == nil && b.Name != nil:
			return true
		case a.Name != nil && b.Name == nil:
			return false
		case a.Name != nil && *a.Name != *b.Name:
			return *a.Name < *b.Name
		}
		return a.Address < b.Address
	})
}
