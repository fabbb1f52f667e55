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

package mappercommon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
)

func TestCreateMessageTwinUpdate(t *testing.T) {
	version := "1.2.3"
	record := &v1alpha1.DeviceRecord{Address: "AA:BB:CC:DD:EE:FF", AppVersion: &version}

	var msg DeviceTwinUpdate
	require.NoError(t, json.Unmarshal(CreateMessageTwinUpdate(record), &msg))
	assert.Len(t, msg.Twin, 1)
	require.NotNil(t, msg.Twin["AppVersion"])
	assert.Equal(t, "1.2.3", *msg.Twin["AppVersion"].Actual.Value)
	assert.NotEmpty(t, msg.EventID)
}

func TestCreateMessageState(t *testing.T) {
	state := v1alpha1.NewConnectionState("AA:BB:CC:DD:EE:FF")
	state.Status = v1alpha1.StatusConnected
	state.RSSI = -61

	var msg DeviceUpdate
	require.NoError(t, json.Unmarshal(CreateMessageState(state), &msg))
	assert.Equal(t, "Connected", msg.State)
	assert.Equal(t, "-61", msg.Attributes["rssi"].Value)
	assert.Equal(t, "100", msg.Attributes["batteryPercent"].Value)
}

func TestCreateMessageResult(t *testing.T) {
	var ok OperationResult
	require.NoError(t, json.Unmarshal(CreateMessageResult("r1", 75, nil), &ok))
	assert.Equal(t, ResultStatusOK, ok.Status)
	assert.Equal(t, "75", ok.Value)
	assert.Equal(t, "r1", ok.RequestID)

	var failed OperationResult
	err := &ValidationError{Field: v1alpha1.Volume, Value: 150, Reason: "out of range"}
	require.NoError(t, json.Unmarshal(CreateMessageResult("r2", nil, err), &failed))
	assert.Equal(t, ResultStatusError, failed.Status)
	assert.Equal(t, "VALIDATION", failed.ErrorCode)
	assert.Empty(t, failed.Value)
}
