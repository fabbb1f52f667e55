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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/pointer"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
)

var errStore = errors.New("disk full")

// failingStore fails every write once fail is set.
type failingStore struct {
	*MemoryStore
	fail bool
}

func (f *failingStore) SaveDevice(rec v1alpha1.DeviceRecord) error {
	if f.fail {
		return errStore
	}
	return f.MemoryStore.SaveDevice(rec)
}

func TestEnsureIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	r := New(store)

	first, err := r.Ensure("AA:01")
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.DeviceRecord{Address: "AA:01"}, first)

	_, err = r.UpdateProfile("AA:01", map[v1alpha1.FieldID]string{v1alpha1.DeviceName: "desk"})
	require.NoError(t, err)

	again, err := r.Ensure("AA:01")
	require.NoError(t, err)
	assert.Equal(t, "desk", *again.Name, "existing record is not reset")
	assert.Len(t, r.List(), 1)

	stored, err := store.LoadDevices()
	require.NoError(t, err)
	assert.Equal(t, []v1alpha1.DeviceRecord{again}, stored)

	_, err = r.Ensure("")
	assert.Error(t, err)
}

func TestGetReturnsCopy(t *testing.T) {
	r := New(nil)
	_, err := r.Get("AA:02")
	assert.True(t, errors.Is(err, mappercommon.ErrDeviceNotFound))

	_, err = r.Ensure("AA:02")
	require.NoError(t, err)
	_, err = r.UpdateProfile("AA:02", map[v1alpha1.FieldID]string{v1alpha1.AppVersion: "1.0"})
	require.NoError(t, err)

	got, err := r.Get("AA:02")
	require.NoError(t, err)
	*got.AppVersion = "mutated"

	again, err := r.Get("AA:02")
	require.NoError(t, err)
	assert.Equal(t, "1.0", *again.AppVersion)
}

func TestUpdateProfile(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	r := New(store)
	_, err := r.UpdateProfile("AA:03", map[v1alpha1.FieldID]string{v1alpha1.DeviceName: "x"})
	assert.True(t, errors.Is(err, mappercommon.ErrDeviceNotFound))

	_, err = r.Ensure("AA:03")
	require.NoError(t, err)

	rec, err := r.UpdateProfile("AA:03", map[v1alpha1.FieldID]string{
		v1alpha1.DeviceName: "speaker",
		v1alpha1.BuildInfo:  "b7",
		v1alpha1.Volume:     "30",
	})
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.DeviceRecord{Address: "AA:03", Name: pointer.String("speaker"), BuildInfo: pointer.String("b7")}, rec)

	store.fail = true
	_, err = r.UpdateProfile("AA:03", map[v1alpha1.FieldID]string{v1alpha1.DeviceName: "lost"})
	assert.ErrorIs(t, err, errStore)
	got, _ := r.Get("AA:03")
	assert.Equal(t, "speaker", *got.Name, "failed store write leaves the record unchanged")
}

func TestListAndRemove(t *testing.T) {
	r := New(nil)
	for _, addr := range []string{"AA:06", "AA:05", "AA:04"} {
		_, err := r.Ensure(addr)
		require.NoError(t, err)
	}
	_, err := r.UpdateProfile("AA:06", map[v1alpha1.FieldID]string{v1alpha1.DeviceName: "b"})
	require.NoError(t, err)
	_, err = r.UpdateProfile("AA:05", map[v1alpha1.FieldID]string{v1alpha1.DeviceName: "a"})
	require.NoError(t, err)

	var order []string
	for _, rec := range r.List() {
		order = append(order, rec.Address)
	}
	assert.Equal(t, []string{"AA:04", "AA:05", "AA:06"}, order)

	require.NoError(t, r.Remove("AA:05"))
	assert.True(t, errors.Is(r.Remove("AA:05"), mappercommon.ErrDeviceNotFound))
	assert.Len(t, r.List(), 2)
}

func TestLoad(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveDevice(v1alpha1.DeviceRecord{Address: "AA:07", DeviceID: pointer.String("PT-7")}))

	r := New(store)
	require.NoError(t, r.Load())
	got, err := r.Get("AA:07")
	require.NoError(t, err)
	assert.Equal(t, "PT-7", *got.DeviceID)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeAddress(" aa:bb:cc:dd:ee:ff\n"))
}

func TestAddressCaseIsIgnored(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveDevice(v1alpha1.DeviceRecord{Address: "bb:02"}))
	r := New(store)
	require.NoError(t, r.Load())

	_, err := r.Ensure(" aa:01 ")
	require.NoError(t, err)
	_, err = r.Ensure("AA:01")
	require.NoError(t, err)
	assert.Len(t, r.List(), 2)

	rec, err := r.UpdateProfile("aa:01", map[v1alpha1.FieldID]string{v1alpha1.DeviceName: "desk"})
	require.NoError(t, err)
	assert.Equal(t, "AA:01", rec.Address)

	got, err := r.Get("BB:02")
	require.NoError(t, err)
	assert.Equal(t, "BB:02", got.Address, "loaded records are keyed the same way")

	require.NoError(t, r.Remove("aa:01"))
	_, err = r.Get("AA:01")
	assert.True(t, errors.Is(err, mappercommon.ErrDeviceNotFound))
}
