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

package wsrelay

// Message commands exchanged with the relay server.
const (
	CmdControlRequest  = "control_request"
	CmdControlResponse = "control_response"
	CmdDeviceStatus    = "device_status"
	CmdNotify          = "notify"

	// Device commands carried in ControlRequest.Payload.
	DeviceCmdStatus = "get_status"
	DeviceCmdRead   = "gatt_read"
	DeviceCmdWrite  = "gatt_write"

	StatusOK    = "ok"
	StatusError = "error"

	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeSendFailed     = "SEND_FAILED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeDeviceNotFound = "DEVICE_NOT_FOUND"
	ErrCodeDeviceOffline  = "DEVICE_OFFLINE"
)

// Handshake is the first frame sent after the socket opens.
type Handshake struct {
	ClientType string `json:"client_type"`
}

// DevicePayload is what the relay forwards to the device.
type DevicePayload struct {
	Cmd            string `json:"cmd"`
	Service        string `json:"service,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	// Value is base64 encoded.
	Value string `json:"value,omitempty"`
}

// ControlRequest routes a DevicePayload to one device.
type ControlRequest struct {
	Cmd      string        `json:"cmd"`
	ReqID    string        `json:"req_id"`
	DeviceID string        `json:"device_id"`
	Payload  DevicePayload `json:"payload"`
}

// DeviceResponse is the device part of a control response or status push.
type DeviceResponse struct {
	DeviceID       string `json:"device_id,omitempty"`
	Status         string `json:"status,omitempty"`
	BatteryPercent *int   `json:"battery_percent,omitempty"`
	BatteryLevel   *int   `json:"battery_level,omitempty"`
	WifiRSSI       *int   `json:"wifi_rssi,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	// Value is base64 encoded.
	Value string `json:"value,omitempty"`
}

// Battery returns the battery sample, accepting both field names servers use.
func (d *DeviceResponse) Battery() (int, bool) {
	if d.BatteryPercent != nil {
		return *d.BatteryPercent, true
	}
	if d.BatteryLevel != nil {
		return *d.BatteryLevel, true
	}
	return 0, false
}

// Frame is any frame received from the relay. Fields are populated according to Cmd.
type Frame struct {
	Cmd            string          `json:"cmd"`
	ReqID          string          `json:"req_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	ErrorCode      string          `json:"error_code,omitempty"`
	Message        string          `json:"message,omitempty"`
	DeviceResponse *DeviceResponse `json:"device_response,omitempty"`

	// Set on device_status and notify frames.
	DeviceResponseInline
}

// DeviceResponseInline holds fields a relay may send at the root of a frame.
type DeviceResponseInline struct {
	DeviceID       string `json:"device_id,omitempty"`
	BatteryPercent *int   `json:"battery_percent,omitempty"`
	WifiRSSI       *int   `json:"wifi_rssi,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	Value          string `json:"value,omitempty"`
}

// device returns the device response of a frame, falling back to root fields.
func (f *Frame) device() *DeviceResponse {
	if f.DeviceResponse != nil {
		return f.DeviceResponse
	}
	return &DeviceResponse{
		DeviceID:       f.DeviceID,
		BatteryPercent: f.BatteryPercent,
		WifiRSSI:       f.WifiRSSI,
		Characteristic: f.Characteristic,
		Value:          f.Value,
	}
}
