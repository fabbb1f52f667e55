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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	GroupName  = "mapper.config.kubeedge.io"
	APIVersion = "v1alpha1"
	Kind       = "PtalkMapper"
)

// TransportType selects the link used to reach peripherals.
type TransportType string

const (
	TransportGATT    TransportType = "gatt"
	TransportWSRelay TransportType = "wsrelay"
)

// MqttMode selects the broker the mapper talks to.
type MqttMode int

const (
	// MqttModeInternal uses the internal broker.
	MqttModeInternal MqttMode = iota
	// MqttModeExternal uses the external broker.
	MqttModeExternal
)

// MapperConfig is the configuration of the ptalk mapper daemon.
type MapperConfig struct {
	metav1.TypeMeta
	// Database is the sqlite database storing device records and chat logs.
	Database *DataBase `json:"database,omitempty"`
	// Transport configures the link to peripherals and the sync engine on top of it.
	Transport *Transport `json:"transport,omitempty"`
	// Mqtt configures the event bus.
	Mqtt *Mqtt `json:"mqtt,omitempty"`
	// ChatLog configures message validation.
	ChatLog *ChatLog `json:"chatLog,omitempty"`
	// LastSeenTickInterval is how often disconnected devices age by one minute.
	// default 1m
	LastSeenTickInterval metav1.Duration `json:"lastSeenTickInterval,omitempty"`
	// Devices are the addresses connected at startup.
	Devices []Device `json:"devices,omitempty"`
	// Schedules are periodic field reads.
	Schedules []Schedule `json:"schedules,omitempty"`
	// Metrics serves the prometheus endpoint.
	Metrics *Metrics `json:"metrics,omitempty"`
}

// DataBase indicates the database info
type DataBase struct {
	// DriverName indicates database driver name
	// default "sqlite3"
	DriverName string `json:"driverName,omitempty"`
	// AliasName indicates alias name
	// default "default"
	AliasName string `json:"aliasName,omitempty"`
	// DataSource indicates the data source path
	// default "/var/lib/kubeedge/ptalk.db"
	DataSource string `json:"dataSource,omitempty"`
}

// Transport indicates the peripheral link config
type Transport struct {
	// Type is gatt or wsrelay
	// default gatt
	Type TransportType `json:"type,omitempty"`
	// ConnectTimeout bounds a connection attempt
	// default 10s
	ConnectTimeout metav1.Duration `json:"connectTimeout,omitempty"`
	// OperationTimeout bounds one characteristic read or write
	// default 5s
	OperationTimeout metav1.Duration `json:"operationTimeout,omitempty"`
	// OpsPerSecond limits operations per device, 0 disables the limit
	// default 20
	OpsPerSecond float64 `json:"opsPerSecond,omitempty"`
	// Burst is the limiter burst
	// default 5
	Burst int `json:"burst,omitempty"`
	// MaxPayload is the largest characteristic payload in bytes
	// default 512
	MaxPayload int `json:"maxPayload,omitempty"`
	// RSSIInterval is how often link signal strength is sampled by the gatt transport
	// default 30s
	RSSIInterval metav1.Duration `json:"rssiInterval,omitempty"`
	// RelayServer is the websocket url of the relay control server, used with wsrelay
	RelayServer string `json:"relayServer,omitempty"`
	// RelayClientType is sent in the relay handshake
	// default "mapper"
	RelayClientType string `json:"relayClientType,omitempty"`
}

// Mqtt indicates the event bus config
type Mqtt struct {
	// Mode 0 internal, 1 external
	// default 1
	Mode MqttMode `json:"mode"`
	// Server is the external broker
	// default "tcp://127.0.0.1:1883"
	Server string `json:"server,omitempty"`
	// InternalServer is the internal broker
	// default "tcp://127.0.0.1:1884"
	InternalServer string `json:"internalServer,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	// Cert enables TLS when set
	Cert string `json:"cert,omitempty"`
}

// ChatLog indicates the chat log limits
type ChatLog struct {
	// MaxContentLength in bytes
	// default 4096
	MaxContentLength int `json:"maxContentLength,omitempty"`
	// FutureTolerance is how far ahead of now a message timestamp may be
	// default 5m
	FutureTolerance metav1.Duration `json:"futureTolerance,omitempty"`
}

// Device is a peripheral managed by the mapper.
type Device struct {
	// Address is the hardware address, like AA:BB:CC:DD:EE:FF
	Address string `json:"address"`
	// Provision is applied once after the first successful connection.
	Provision *Provision `json:"provision,omitempty"`
}

// Provision lists settings pushed to a device. Nil fields are left unchanged.
type Provision struct {
	DeviceName *string `json:"deviceName,omitempty"`
	WifiSsid   *string `json:"wifiSsid,omitempty"`
	WifiPass   *string `json:"wifiPass,omitempty"`
	Volume     *int    `json:"volume,omitempty"`
	Brightness *int    `json:"brightness,omitempty"`
}

// Schedule reads one field of one device periodically.
type Schedule struct {
	// Name must be unique.
	Name    string `json:"name"`
	Address string `json:"address"`
	// Field is the field name, like Volume
	Field    string          `json:"field"`
	Interval metav1.Duration `json:"interval"`
	// OccurrenceLimit stops the schedule after that many reads, 0 means forever.
	OccurrenceLimit int `json:"occurrenceLimit,omitempty"`
}

// Metrics indicates the prometheus endpoint config
type Metrics struct {
	// Enable serves /metrics
	// default true
	Enable bool `json:"enable"`
	// Address to listen on
	// default "127.0.0.1:9091"
	Address string `json:"address,omitempty"`
	// EnableProfiling serves pprof handlers next to /metrics
	EnableProfiling bool `json:"enableProfiling,omitempty"`
}
