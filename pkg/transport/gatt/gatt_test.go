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

package gatt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paypal/gatt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/characteristic"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/transport"
)

const addr = "AA:BB:CC:DD:EE:FF"

// stubDevice records the adapter calls made by Close.
type stubDevice struct {
	gatt.Device
	stopScans int
	cancelled []gatt.Peripheral
}

func (d *stubDevice) StopScanning() { d.stopScans++ }

func (d *stubDevice) CancelConnection(p gatt.Peripheral) { d.cancelled = append(d.cancelled, p) }

type stubPeripheral struct {
	gatt.Peripheral
}

func newStubTransport(linkUp bool) (*Transport, *stubDevice) {
	dev := &stubDevice{}
	t := &Transport{
		device:     dev,
		pending:    map[string][]chan connectResult{},
		connecting: map[string]bool{},
		links:      map[string]*link{},
		events:     make(chan transport.Event, eventBuffer),
	}
	if linkUp {
		t.links[addr] = &link{peripheral: &stubPeripheral{}, session: 1, stopCh: make(chan struct{})}
	}
	return t, dev
}

func TestKeyMatchesShortAndLongForms(t *testing.T) {
	id := characteristic.Resolve(v1alpha1.Volume)

	assert.Equal(t, key(id.Characteristic), gattKey(gatt.UUID16(0xFF03)))
	assert.Equal(t, key(id.Characteristic), gattKey(gatt.MustParseUUID("0000ff0300001000800000805f9b34fb")))
	assert.NotEqual(t, key(id.Characteristic), gattKey(gatt.UUID16(0xFF04)))
	assert.Equal(t, batteryLevel, gattKey(gatt.UUID16(0x2A19)))
}

func TestRunClassifiesFailures(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	blocking := func() error {
		<-block
		return nil
	}
	refused := errors.New("write not permitted")

	cases := []struct {
		name    string
		linkUp  bool
		op      func() error
		ctx     func() (context.Context, context.CancelFunc)
		wantErr error
		cause   mappercommon.TransportCause
	}{
		{
			name:   "success",
			linkUp: true,
			op:     func() error { return nil },
		},
		{
			name:   "refused while the link is up",
			linkUp: true,
			op:     func() error { return refused },
			cause:  mappercommon.CauseRejected,
		},
		{
			name:   "failed after the link dropped",
			linkUp: false,
			op:     func() error { return refused },
			cause:  mappercommon.CauseDisconnected,
		},
		{
			name:   "deadline",
			linkUp: true,
			op:     blocking,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
			cause: mappercommon.CauseTimeout,
		},
		{
			name:   "cancelled",
			linkUp: true,
			op:     blocking,
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			wantErr: context.Canceled,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, _ := newStubTransport(tc.linkUp)
			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if tc.ctx != nil {
				ctx, cancel = tc.ctx()
			}
			defer cancel()

			err := tr.run(ctx, addr, tc.op)
			switch {
			case tc.wantErr != nil:
				assert.Equal(t, tc.wantErr, err)
			case tc.cause != "":
				assert.True(t, mappercommon.IsTransport(err, tc.cause), "got %v", err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestReadError(t *testing.T) {
	c := gatt.NewCharacteristic(gatt.UUID16(0xFF03), nil, gatt.CharRead|gatt.CharWrite, 0x0010, 0x0011)

	err := readError(c, []byte{attOpReadReq, 0x11, 0x00, 0x02})
	require.Error(t, err)
	assert.Equal(t, attError(0x02), err)
	assert.Contains(t, err.Error(), "read not permitted")

	assert.NoError(t, readError(c, []byte{attOpReadReq, 0x12, 0x00, 0x02}), "other handle")
	assert.NoError(t, readError(c, []byte{75}))
	assert.NoError(t, readError(c, []byte("1.2.3")))
}

func TestCloseReleasesAdapter(t *testing.T) {
	tr, dev := newStubTransport(true)
	p := tr.links[addr].peripheral

	require.NoError(t, tr.Close())
	assert.Equal(t, 1, dev.stopScans)
	assert.Equal(t, []gatt.Peripheral{p}, dev.cancelled)
	assert.Empty(t, tr.links)
	_, open := <-tr.Events()
	assert.False(t, open, "no link lost event is reported for a closing link")

	require.NoError(t, tr.Close())
	assert.Equal(t, 1, dev.stopScans)
}
