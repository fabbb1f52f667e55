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

package dataconverter

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/characteristic"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
)

const (
	// DefaultMaxPayload is used when a Codec has no MaxPayload set.
	DefaultMaxPayload = 512

	// SaveSentinel is the byte written to the save characteristic.
	SaveSentinel byte = 0x01

	MinPercent = 0
	MaxPercent = 100

	MaxSSIDLength       = 32
	MinPassphraseLength = 8
	MaxPassphraseLength = 63
	MaxDeviceIDLength   = 64
)

// Codec converts typed field values to characteristic payloads and back.
// Text and opaque fields take string values, percent fields take int values.
type Codec struct {
	// MaxPayload is the largest payload the link accepts in one write.
	MaxPayload int
}

// NewCodec returns a Codec with the given payload limit.
func NewCodec(maxPayload int) *Codec {
	return &Codec{MaxPayload: maxPayload}
}

func (c *Codec) maxPayload() int {
	if c == nil || c.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return c.MaxPayload
}

// Encode validates value for field f and returns its payload.
func (c *Codec) Encode(f v1alpha1.FieldID, value interface{}) ([]byte, error) {
	if !f.IsValid() {
		return nil, &mappercommon.ValidationError{Field: f, Value: value, Reason: "unknown field"}
	}
	switch characteristic.KindOf(f) {
	case characteristic.Text:
		return c.encodeText(f, value)
	case characteristic.Percent:
		return encodePercent(f, value)
	case characteristic.Command:
		return []byte{SaveSentinel}, nil
	case characteristic.Opaque:
		return c.encodeOpaque(f, value)
	}
	return nil, &mappercommon.UnsupportedOperationError{Field: f, Op: "encode"}
}

// Decode converts a payload read from field f into its typed value.
func (c *Codec) Decode(f v1alpha1.FieldID, payload []byte) (interface{}, error) {
	if !f.IsValid() {
		return nil, &mappercommon.EncodingError{Field: f, Reason: "unknown field"}
	}
	switch characteristic.KindOf(f) {
	case characteristic.Text:
		if !utf8.Valid(payload) {
			return nil, &mappercommon.EncodingError{Field: f, Reason: "payload is not valid UTF-8"}
		}
		return string(payload), nil
	case characteristic.Percent:
		if len(payload) != 1 {
			return nil, &mappercommon.EncodingError{Field: f, Reason: fmt.Sprintf("expected 1 byte, got %d", len(payload))}
		}
		v := int(payload[0])
		if v > MaxPercent {
			return nil, &mappercommon.EncodingError{Field: f, Reason: fmt.Sprintf("value %d exceeds %d", v, MaxPercent)}
		}
		return v, nil
	case characteristic.Opaque:
		if len(payload) < 1 || len(payload) > MaxDeviceIDLength {
			return nil, &mappercommon.EncodingError{Field: f, Reason: fmt.Sprintf("identifier length %d outside 1..%d", len(payload), MaxDeviceIDLength)}
		}
		return string(payload), nil
	}
	return nil, &mappercommon.UnsupportedOperationError{Field: f, Op: "decode"}
}

func (c *Codec) encodeText(f v1alpha1.FieldID, value interface{}) ([]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, &mappercommon.ValidationError{Field: f, Value: value, Reason: fmt.Sprintf("expected string, got %T", value)}
	}
	if !utf8.ValidString(s) {
		return nil, &mappercommon.ValidationError{Field: f, Value: s, Reason: "not valid UTF-8"}
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return nil, &mappercommon.ValidationError{Field: f, Value: s, Reason: "contains NUL"}
	}
	switch f {
	case v1alpha1.WifiSsid:
		if len(s) < 1 || len(s) > MaxSSIDLength {
			return nil, &mappercommon.ValidationError{Field: f, Value: s, Reason: fmt.Sprintf("SSID must be 1..%d bytes", MaxSSIDLength)}
		}
	case v1alpha1.WifiPass:
		// An empty password selects an open network.
		if len(s) != 0 && (len(s) < MinPassphraseLength || len(s) > MaxPassphraseLength) {
			return nil, &mappercommon.ValidationError{Field: f, Value: "***", Reason: fmt.Sprintf("password must be empty or %d..%d bytes", MinPassphraseLength, MaxPassphraseLength)}
		}
	}
	if len(s) > c.maxPayload() {
		return nil, &mappercommon.EncodingError{Field: f, Reason: fmt.Sprintf("payload of %d bytes exceeds limit %d", len(s), c.maxPayload())}
	}
	return []byte(s), nil
}

func encodePercent(f v1alpha1.FieldID, value interface{}) ([]byte, error) {
	v, ok := value.(int)
	if !ok {
		return nil, &mappercommon.ValidationError{Field: f, Value: value, Reason: fmt.Sprintf("expected int, got %T", value)}
	}
	if v < MinPercent || v > MaxPercent {
		return nil, &mappercommon.ValidationError{Field: f, Value: v, Reason: fmt.Sprintf("must be in [%d,%d]", MinPercent, MaxPercent)}
	}
	return []byte{byte(v)}, nil
}

func (c *Codec) encodeOpaque(f v1alpha1.FieldID, value interface{}) ([]byte, error) {
	var b []byte
	switch v := value.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = append([]byte(nil), v...)
	default:
		return nil, &mappercommon.ValidationError{Field: f, Value: value, Reason: fmt.Sprintf("expected string or []byte, got %T", value)}
	}
	if len(b) < 1 || len(b) > MaxDeviceIDLength {
		return nil, &mappercommon.ValidationError{Field: f, Value: value, Reason: fmt.Sprintf("length must be 1..%d bytes", MaxDeviceIDLength)}
	}
	if len(b) > c.maxPayload() {
		return nil, &mappercommon.EncodingError{Field: f, Reason: fmt.Sprintf("payload of %d bytes exceeds limit %d", len(b), c.maxPayload())}
	}
	return b, nil
}
