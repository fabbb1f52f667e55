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

// Package v1alpha1 holds the domain types shared by the ptalk mapper packages.
package v1alpha1

import (
	"fmt"
	"strings"
)

// FieldID names one logical configuration item exposed by the peripheral.
type FieldID int

const (
	DeviceName FieldID = iota
	Volume
	Brightness
	WifiSsid
	WifiPass
	AppVersion
	BuildInfo
	SaveCmd
	DeviceID
)

var fieldNames = map[FieldID]string{
	DeviceName: "DeviceName",
	Volume:     "Volume",
	Brightness: "Brightness",
	WifiSsid:   "WifiSsid",
	WifiPass:   "WifiPass",
	AppVersion: "AppVersion",
	BuildInfo:  "BuildInfo",
	SaveCmd:    "SaveCmd",
	DeviceID:   "DeviceId",
}

// AllFieldIDs returns every field in declaration order.
func AllFieldIDs() []FieldID {
	return []FieldID{DeviceName, Volume, Brightness, WifiSsid, WifiPass, AppVersion, BuildInfo, SaveCmd, DeviceID}
}

func (f FieldID) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FieldID(%d)", int(f))
}

// IsValid reports whether f is one of the declared fields.
func (f FieldID) IsValid() bool {
	_, ok := fieldNames[f]
	return ok
}

// ParseFieldID looks a field up by name, ignoring case.
func ParseFieldID(name string) (FieldID, error) {
	for id, n := range fieldNames {
		if strings.EqualFold(n, name) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", name)
}

// MarshalText implements encoding.TextMarshaler so field ids travel as names in JSON.
func (f FieldID) MarshalText() ([]byte, error) {
	if !f.IsValid() {
		return nil, fmt.Errorf("unknown field %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FieldID) UnmarshalText(text []byte) error {
	id, err := ParseFieldID(string(text))
	if err != nil {
		return err
	}
	*f = id
	return nil
}

// DeviceRecord is the durable identity and profile of a peripheral.
// Nil profile fields mean the value has not been synced yet.
type DeviceRecord struct {
	Address    string  `json:"address"`
	Name       *string `json:"name,omitempty"`
	AppVersion *string `json:"appVersion,omitempty"`
	BuildInfo  *string `json:"buildInfo,omitempty"`
	DeviceID   *string `json:"deviceId,omitempty"`
}

// DeepCopy returns a copy that shares no pointers with r.
func (r *DeviceRecord) DeepCopy() *DeviceRecord {
	if r == nil {
		return nil
	}
	out := &DeviceRecord{Address: r.Address}
	out.Name = copyString(r.Name)
	out.AppVersion = copyString(r.AppVersion)
	out.BuildInfo = copyString(r.BuildInfo)
	out.DeviceID = copyString(r.DeviceID)
	return out
}

// IsProfileField reports whether reads of f are recorded on the DeviceRecord.
func IsProfileField(f FieldID) bool {
	switch f {
	case DeviceName, AppVersion, BuildInfo, DeviceID:
		return true
	}
	return false
}

// SetProfileField stores value for a profile field. It returns false for fields
// that are not tracked on the record.
func (r *DeviceRecord) SetProfileField(f FieldID, value string) bool {
	v := value
	switch f {
	case DeviceName:
		r.Name = &v
	case AppVersion:
		r.AppVersion = &v
	case BuildInfo:
		r.BuildInfo = &v
	case DeviceID:
		r.DeviceID = &v
	default:
		return false
	}
	return true
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ConnectionStatus is the liveness status of a device session.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "Disconnected"
	StatusConnecting   ConnectionStatus = "Connecting"
	StatusConnected    ConnectionStatus = "Connected"
	StatusSyncing      ConnectionStatus = "Syncing"
	StatusError        ConnectionStatus = "Error"
)

const (
	// DefaultRSSI means no live sample has been received.
	DefaultRSSI = -100
	// DefaultBatteryPercent means no live sample has been received.
	DefaultBatteryPercent = 100
)

// ConnectionState is a snapshot of a device session. It is never persisted.
type ConnectionState struct {
	Address         string           `json:"address"`
	Status          ConnectionStatus `json:"status"`
	RSSI            int              `json:"rssi"`
	BatteryPercent  int              `json:"batteryPercent"`
	LastSeenMinutes int              `json:"lastSeenMinutes"`
}

// NewConnectionState returns the initial state for address.
func NewConnectionState(address string) ConnectionState {
	return ConnectionState{
		Address:        address,
		Status:         StatusDisconnected,
		RSSI:           DefaultRSSI,
		BatteryPercent: DefaultBatteryPercent,
	}
}

// ChatMessage is one device-originated message inside a ChatLog.
type ChatMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ChatLog identifies a conversation. Messages are kept by the chat log store.
type ChatLog struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}
