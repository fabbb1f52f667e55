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

package monitor

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	m.ConnectedDevices.Set(2)
	m.ChatMessages.WithLabelValues("mqtt", "ok").Inc()

	_, err = NewMetrics(reg)
	assert.Error(t, err)

	srv := httptest.NewServer(NewHandler(reg, false))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "ptalk_mapper_controller_connected_devices 2"), string(body))
	assert.Contains(t, string(body), `ptalk_mapper_controller_chat_messages_total{result="ok",source="mqtt"} 1`)

	pprof, err := http.Get(srv.URL + "/debug/pprof/")
	require.NoError(t, err)
	pprof.Body.Close()
	assert.Equal(t, http.StatusNotFound, pprof.StatusCode)
}
