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

// Package transport defines the byte level link to a peripheral consumed by
// the sync engine.
package transport

//go:generate mockgen -destination=mocks/transport.go -package=mocks github.com/kubeedge/ptalk-mapper/pkg/transport Transport

import (
	"context"

	"github.com/google/uuid"
)

// Handle identifies an open link. It is only valid until Disconnect or a
// LinkLost event for its address.
type Handle struct {
	Address string
	// Session distinguishes successive links to the same address.
	Session uint64
}

// EventType classifies a device originated event.
type EventType string

const (
	// EventLinkLost means the link dropped without a Disconnect call.
	EventLinkLost EventType = "LinkLost"
	// EventFault means the link is unusable and must be torn down.
	EventFault EventType = "Fault"
	// EventRSSI carries a signal strength sample in dBm.
	EventRSSI EventType = "RSSI"
	// EventBattery carries a battery sample in percent.
	EventBattery EventType = "Battery"
	// EventNotification carries a raw characteristic notification.
	EventNotification EventType = "Notification"
)

// Event is pushed by a Transport for things the caller did not request.
type Event struct {
	Address string
	Type    EventType
	// Value holds the sample for RSSI and Battery events.
	Value int
	// Characteristic and Payload are set for notifications.
	Characteristic uuid.UUID
	Payload        []byte
	Err            error
}

// Transport performs characteristic I/O against peripherals. Implementations
// must return mappercommon.TransportError for link failures and honor ctx on
// every blocking call.
type Transport interface {
	Connect(ctx context.Context, address string) (Handle, error)
	ReadCharacteristic(ctx context.Context, h Handle, service, characteristic uuid.UUID) ([]byte, error)
	WriteCharacteristic(ctx context.Context, h Handle, service, characteristic uuid.UUID, payload []byte) error
	Subscribe(ctx context.Context, h Handle, service, characteristic uuid.UUID) (<-chan []byte, error)
	Disconnect(h Handle) error
	// Events is shared by all links of the transport and is closed by Close.
	Events() <-chan Event
	Close() error
}
