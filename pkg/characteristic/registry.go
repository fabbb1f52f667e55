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

// Package characteristic maps configuration fields to the GATT service and
// characteristic identifiers of the ptalk peripheral.
package characteristic

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
)

// baseUUIDFormat is the Bluetooth base UUID with the 16-bit slot left open.
const baseUUIDFormat = "0000%04X-0000-1000-8000-00805F9B34FB"

// ServiceShortCode is the 16-bit short form of the vendor service.
const ServiceShortCode uint16 = 0xFF01

// Kind is the payload encoding rule of a field.
type Kind int

const (
	// Text is a UTF-8 string.
	Text Kind = iota
	// Percent is a single unsigned byte in [0,100].
	Percent
	// Command is a write-only trigger carrying a fixed sentinel byte.
	Command
	// Opaque is an identifier passed through as bytes.
	Opaque
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Percent:
		return "percent"
	case Command:
		return "command"
	case Opaque:
		return "opaque"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Identifier addresses one characteristic inside a service.
type Identifier struct {
	Service        uuid.UUID
	Characteristic uuid.UUID
}

func (i Identifier) String() string {
	return i.Service.String() + "/" + i.Characteristic.String()
}

type entry struct {
	short    uint16
	kind     Kind
	readable bool
	writable bool
}

var table = map[v1alpha1.FieldID]entry{
	v1alpha1.DeviceName: {short: 0xFF02, kind: Text, readable: true, writable: true},
	v1alpha1.Volume:     {short: 0xFF03, kind: Percent, readable: true, writable: true},
	v1alpha1.Brightness: {short: 0xFF04, kind: Percent, readable: true, writable: true},
	v1alpha1.WifiSsid:   {short: 0xFF05, kind: Text, readable: true, writable: true},
	v1alpha1.WifiPass:   {short: 0xFF06, kind: Text, readable: true, writable: true},
	v1alpha1.AppVersion: {short: 0xFF07, kind: Text, readable: true, writable: true},
	v1alpha1.BuildInfo:  {short: 0xFF08, kind: Text, readable: true, writable: true},
	v1alpha1.SaveCmd:    {short: 0xFF09, kind: Command, readable: false, writable: true},
	v1alpha1.DeviceID:   {short: 0xFF0A, kind: Opaque, readable: true, writable: true},
}

var (
	serviceUUID = FromShort(ServiceShortCode)
	reverse     = buildReverse()
)

func buildReverse() map[uuid.UUID]v1alpha1.FieldID {
	out := make(map[uuid.UUID]v1alpha1.FieldID, len(table))
	for f, e := range table {
		out[FromShort(e.short)] = f
	}
	return out
}

// FromShort expands a 16-bit short code into a full 128-bit UUID.
func FromShort(short uint16) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf(baseUUIDFormat, short))
}

// Service returns the vendor service UUID.
func Service() uuid.UUID {
	return serviceUUID
}

// Resolve returns the identifier of f. It panics on a FieldID outside the
// declared set, which can only be produced by an unchecked conversion.
func Resolve(f v1alpha1.FieldID) Identifier {
	e, ok := table[f]
	if !ok {
		panic(fmt.Sprintf("characteristic: no mapping for %s", f))
	}
	return Identifier{Service: serviceUUID, Characteristic: FromShort(e.short)}
}

// Lookup is the inverse of Resolve on the characteristic UUID.
func Lookup(characteristic uuid.UUID) (v1alpha1.FieldID, bool) {
	f, ok := reverse[characteristic]
	return f, ok
}

// KindOf returns the encoding rule of f.
func KindOf(f v1alpha1.FieldID) Kind {
	return table[f].kind
}

// Readable reports whether f may be read from the peripheral.
func Readable(f v1alpha1.FieldID) bool {
	return table[f].readable
}

// Writable reports whether f may be written to the peripheral.
func Writable(f v1alpha1.FieldID) bool {
	return table[f].writable
}

// Validate checks that every field is mapped and that no two fields share a
// characteristic.
func Validate() error {
	seen := make(map[uuid.UUID]v1alpha1.FieldID, len(table))
	for _, f := range v1alpha1.AllFieldIDs() {
		e, ok := table[f]
		if !ok {
			return fmt.Errorf("field %s has no characteristic", f)
		}
		id := FromShort(e.short)
		if id == serviceUUID {
			return fmt.Errorf("field %s collides with the service uuid", f)
		}
		if other, dup := seen[id]; dup {
			return fmt.Errorf("fields %s and %s share characteristic %s", other, f, id)
		}
		seen[id] = f
	}
	if len(table) != len(seen) {
		return fmt.Errorf("characteristic table has %d entries, expected %d", len(table), len(seen))
	}
	return nil
}
