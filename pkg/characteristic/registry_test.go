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

package characteristic

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		field v1alpha1.FieldID
		want  string
	}{
		{v1alpha1.DeviceName, "0000ff02-0000-1000-8000-00805f9b34fb"},
		{v1alpha1.Volume, "0000ff03-0000-1000-8000-00805f9b34fb"},
		{v1alpha1.Brightness, "0000ff04-0000-1000-8000-00805f9b34fb"},
		{v1alpha1.WifiSsid, "0000ff05-0000-1000-8000-00805f9b34fb"},
		{v1alpha1.WifiPass, "0000ff06-0000-1000-8000-00805f9b34fb"},
		{v1alpha1.AppVersion, "0000ff07-0000-1000-8000-00805f9b34fb"},
		{v1alpha1.BuildInfo, "0000ff08-0000-1000-8000-00805f9b34fb"},
		{v1alpha1.SaveCmd, "0000ff09-0000-1000-8000-00805f9b34fb"},
		{v1alpha1.DeviceID, "0000ff0a-0000-1000-8000-00805f9b34fb"},
	}
	for _, tc := range cases {
		t.Run(tc.field.String(), func(t *testing.T) {
			id := Resolve(tc.field)
			assert.Equal(t, "0000ff01-0000-1000-8000-00805f9b34fb", id.Service.String())
			assert.Equal(t, tc.want, id.Characteristic.String())
			assert.Equal(t, id, Resolve(tc.field))
		})
	}
}

func TestBijective(t *testing.T) {
	require.NoError(t, Validate())

	seen := map[uuid.UUID]bool{}
	for _, f := range v1alpha1.AllFieldIDs() {
		id := Resolve(f)
		assert.False(t, seen[id.Characteristic], "duplicate characteristic for %s", f)
		seen[id.Characteristic] = true

		back, ok := Lookup(id.Characteristic)
		assert.True(t, ok)
		assert.Equal(t, f, back)
	}
	assert.Len(t, seen, len(v1alpha1.AllFieldIDs()))

	_, ok := Lookup(Service())
	assert.False(t, ok)
}

func TestAccess(t *testing.T) {
	assert.False(t, Readable(v1alpha1.SaveCmd))
	assert.True(t, Writable(v1alpha1.SaveCmd))
	assert.Equal(t, Command, KindOf(v1alpha1.SaveCmd))
	assert.Equal(t, Percent, KindOf(v1alpha1.Volume))
	assert.Equal(t, Opaque, KindOf(v1alpha1.DeviceID))
	assert.Equal(t, Text, KindOf(v1alpha1.WifiPass))
}

func TestResolveUnknownPanics(t *testing.T) {
	assert.Panics(t, func() { Resolve(v1alpha1.FieldID(99)) })
}
