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

import "github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"

//BaseMessage the base struct of event message
type BaseMessage struct {
	EventID   string `json:"event_id"`
	Timestamp int64  `json:"timestamp"`
}

//TwinValue the struct of twin value
type TwinValue struct {
	Value *string `json:"value,omitempty"`
}

//TypeMetadata the meta of value type
type TypeMetadata struct {
	Type string `json:"type,omitempty"`
}

//MsgTwin the struct of device twin
type MsgTwin struct {
	Actual   *TwinValue    `json:"actual,omitempty"`
	Metadata *TypeMetadata `json:"metadata,omitempty"`
}

//DeviceTwinUpdate the struct of device twin update
type DeviceTwinUpdate struct {
	BaseMessage
	Twin map[string]*MsgTwin `json:"twin"`
}

//MsgAttr the struct of device attr
type MsgAttr struct {
	Value    string        `json:"value"`
	Metadata *TypeMetadata `json:"metadata,omitempty"`
}

//DeviceUpdate device update
type DeviceUpdate struct {
	BaseMessage
	State      string              `json:"state,omitempty"`
	Attributes map[string]*MsgAttr `json:"attributes"`
}

// FieldRequest is received on the field get and set topics.
type FieldRequest struct {
	RequestID string           `json:"request_id"`
	Field     v1alpha1.FieldID `json:"field"`
	// Value is a string for text fields and a number for percent fields.
	Value interface{} `json:"value,omitempty"`
}

// CommitRequest is received on the commit topic.
type CommitRequest struct {
	RequestID string `json:"request_id"`
}

// ChatAppendRequest is received on the chat append topic.
type ChatAppendRequest struct {
	RequestID string               `json:"request_id"`
	LogID     string               `json:"log_id"`
	Message   v1alpha1.ChatMessage `json:"message"`
}

const (
	ResultStatusOK    = "ok"
	ResultStatusError = "error"
)

// OperationResult is published on the result topic of every request.
type OperationResult struct {
	BaseMessage
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Value     string `json:"value,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SchedulerResult is published after a periodic field read.
type SchedulerResult struct {
	BaseMessage
	Field v1alpha1.FieldID `json:"field"`
	Value string           `json:"value"`
}
