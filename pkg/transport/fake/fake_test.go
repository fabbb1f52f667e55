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

package fake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/characteristic"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/transport"
)

const addr = "AA:BB:CC:DD:EE:FF"

func TestReadWrite(t *testing.T) {
	ft := New()
	volume := characteristic.Resolve(v1alpha1.Volume)
	ft.AddPeripheral(addr, nil)

	ctx := context.Background()
	h, err := ft.Connect(ctx, addr)
	require.NoError(t, err)

	_, err = ft.ReadCharacteristic(ctx, h, volume.Service, volume.Characteristic)
	assert.True(t, mappercommon.IsTransport(err, mappercommon.CauseNotFound))

	require.NoError(t, ft.WriteCharacteristic(ctx, h, volume.Service, volume.Characteristic, []byte{40}))
	got, err := ft.ReadCharacteristic(ctx, h, volume.Service, volume.Characteristic)
	require.NoError(t, err)
	assert.Equal(t, []byte{40}, got)

	ops := ft.Ops()
	require.Len(t, ops, 3)
	assert.Equal(t, OpWrite, ops[1].Kind)
}

func TestConnectUnknown(t *testing.T) {
	_, err := New().Connect(context.Background(), addr)
	assert.True(t, mappercommon.IsTransport(err, mappercommon.CauseNotFound))
}

func TestDropLink(t *testing.T) {
	ft := New()
	ft.AddPeripheral(addr, nil)
	h, err := ft.Connect(context.Background(), addr)
	require.NoError(t, err)

	ft.DropLink(addr)
	ev := <-ft.Events()
	assert.Equal(t, transport.EventLinkLost, ev.Type)

	id := characteristic.Resolve(v1alpha1.AppVersion)
	_, err = ft.ReadCharacteristic(context.Background(), h, id.Service, id.Characteristic)
	assert.True(t, mappercommon.IsTransport(err, mappercommon.CauseDisconnected))
}

func TestDeadline(t *testing.T) {
	ft := New()
	ft.AddPeripheral(addr, nil)
	ft.SetDelay(addr, time.Second)
	h, err := ft.Connect(context.Background(), addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	id := characteristic.Resolve(v1alpha1.Volume)
	err = ft.WriteCharacteristic(ctx, h, id.Service, id.Characteristic, []byte{1})
	assert.True(t, mappercommon.IsTransport(err, mappercommon.CauseTimeout))
}
