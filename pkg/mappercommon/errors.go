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
	"errors"
	"fmt"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
)

var (
	// ErrLogNotFound is returned when a chat log id is unknown.
	ErrLogNotFound = errors.New("chat log not found")
	// ErrInvalidTransition is returned when an event is not allowed in the current connection status.
	ErrInvalidTransition = errors.New("invalid connection state transition")
	// ErrDeviceNotFound is returned when no DeviceRecord exists for an address.
	ErrDeviceNotFound = errors.New("device not found")
)

// ValidationError means a caller supplied value was rejected before any I/O.
type ValidationError struct {
	Field  v1alpha1.FieldID
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %v for field %s: %s", e.Value, e.Field, e.Reason)
}

// MessageValidationError means a chat message was rejected before it was stored.
type MessageValidationError struct {
	LogID     string
	MessageID string
	Reason    string
}

func (e *MessageValidationError) Error() string {
	return fmt.Sprintf("invalid message %q for log %q: %s", e.MessageID, e.LogID, e.Reason)
}

// EncodingError means a value could not be turned into a payload, or a payload
// could not be turned back into a value.
type EncodingError struct {
	Field  v1alpha1.FieldID
	Reason string
	Err    error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding field %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("encoding field %s: %s", e.Field, e.Reason)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// TransportCause classifies a TransportError.
type TransportCause string

const (
	CauseTimeout      TransportCause = "timeout"
	CauseDisconnected TransportCause = "disconnected"
	CauseNotFound     TransportCause = "not-found"
	// CauseRejected means the peripheral answered and refused the request.
	// The link stays up.
	CauseRejected     TransportCause = "rejected"
)

// TransportError is a failure of the link to the peripheral.
type TransportError struct {
	Address string
	// Field is nil for operations not bound to a characteristic, like connect.
	Field *v1alpha1.FieldID
	Cause TransportCause
	Err   error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport %s on %s", e.Cause, e.Address)
	if e.Field != nil {
		msg += fmt.Sprintf(" field %s", *e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError builds a TransportError for a field operation.
func NewTransportError(address string, field v1alpha1.FieldID, cause TransportCause, err error) *TransportError {
	f := field
	return &TransportError{Address: address, Field: &f, Cause: cause, Err: err}
}

// DuplicateKeyError is returned when a message id already exists in a chat log.
type DuplicateKeyError struct {
	LogID     string
	MessageID string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("message %q already exists in log %q", e.MessageID, e.LogID)
}

// UnsupportedOperationError is returned for operations a field does not allow.
type UnsupportedOperationError struct {
	Field v1alpha1.FieldID
	Op    string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("operation %s is not supported on field %s", e.Op, e.Field)
}

// IsValidation reports whether err is or wraps a ValidationError or a
// MessageValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	var m *MessageValidationError
	return errors.As(err, &e) || errors.As(err, &m)
}

// IsEncoding reports whether err is or wraps an EncodingError.
func IsEncoding(err error) bool {
	var e *EncodingError
	return errors.As(err, &e)
}

// IsTransport reports whether err is a TransportError with the given cause.
// An empty cause matches any TransportError.
func IsTransport(err error, cause TransportCause) bool {
	var e *TransportError
	if !errors.As(err, &e) {
		return false
	}
	return cause == "" || e.Cause == cause
}

// IsDuplicateKey reports whether err is or wraps a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var e *DuplicateKeyError
	return errors.As(err, &e)
}

// IsUnsupported reports whether err is or wraps an UnsupportedOperationError.
func IsUnsupported(err error) bool {
	var e *UnsupportedOperationError
	return errors.As(err, &e)
}

// ErrorCode maps an error to the short code used in replies to remote callers.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "VALIDATION"
	case IsEncoding(err):
		return "ENCODING"
	case IsTransport(err, CauseTimeout):
		return "TIMEOUT"
	case IsTransport(err, CauseDisconnected):
		return "NOT_CONNECTED"
	case IsTransport(err, CauseNotFound):
		return "NOT_FOUND"
	case IsTransport(err, CauseRejected):
		return "REJECTED"
	case IsDuplicateKey(err):
		return "DUPLICATE"
	case IsUnsupported(err):
		return "UNSUPPORTED"
	case errors.Is(err, ErrLogNotFound), errors.Is(err, ErrDeviceNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_STATE"
	}
	return "INTERNAL"
}
