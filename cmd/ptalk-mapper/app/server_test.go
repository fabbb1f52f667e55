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

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/kubeedge/ptalk-mapper/pkg/apis/componentconfig/mapper/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/transport/wsrelay"
)

func TestNewMapperCommandFlags(t *testing.T) {
	cmd := NewMapperCommand()
	for _, name := range []string{"config", "db-path", "relay-server", "help"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestNewTransport(t *testing.T) {
	c := config.NewDefaultMapperConfig().Transport
	c.Type = config.TransportWSRelay
	c.RelayServer = "ws://127.0.0.1:1/ws"
	tr, err := newTransport(c)
	require.NoError(t, err)
	defer tr.Close()
	assert.IsType(t, &wsrelay.Transport{}, tr)

	c.Type = "usb"
	_, err = newTransport(c)
	assert.Error(t, err)
}
