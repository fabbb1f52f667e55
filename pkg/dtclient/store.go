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

package dtclient

import (
	"github.com/pkg/errors"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
)

// DeviceStore keeps DeviceRecords in the device table.
type DeviceStore struct{}

// NewDeviceStore returns a DeviceStore over dbm.DBAccess.
func NewDeviceStore() *DeviceStore {
	return &DeviceStore{}
}

// SaveDevice upserts rec.
func (s *DeviceStore) SaveDevice(rec v1alpha1.DeviceRecord) error {
	return errors.Wrapf(UpsertDeviceTrans(DeviceFromRecord(rec)), "save device %s", rec.Address)
}

// DeleteDevice removes the row of address, if any.
func (s *DeviceStore) DeleteDevice(address string) error {
	return errors.Wrapf(DeleteDeviceTrans([]string{address}), "delete device %s", address)
}

// LoadDevices returns every stored record ordered by name.
func (s *DeviceStore) LoadDevices() ([]v1alpha1.DeviceRecord, error) {
	devices, err := QueryDeviceAll()
	if err != nil {
		return nil, errors.Wrap(err, "query devices")
	}
	out := make([]v1alpha1.DeviceRecord, 0, len(*devices))
	for i := range *devices {
		out = append(out, (*devices)[i].Record())
	}
	return out, nil
}

// ChatPersister keeps chat logs and their messages in the chat tables.
type ChatPersister struct{}

// NewChatPersister returns a ChatPersister over dbm.DBAccess.
func NewChatPersister() *ChatPersister {
	return &ChatPersister{}
}

// SaveLog stores log unless a log with the same id exists.
func (p *ChatPersister) SaveLog(log v1alpha1.ChatLog) error {
	return errors.Wrapf(AddChatLogTrans(&ChatLog{ID: log.ID, Timestamp: log.Timestamp}), "save chat log %s", log.ID)
}

// SaveMessage appends msg to log, storing the log first when needed.
// Duplicates surface as mappercommon.DuplicateKeyError.
func (p *ChatPersister) SaveMessage(log v1alpha1.ChatLog, msg v1alpha1.ChatMessage) error {
	err := AddChatMessageTrans(
		&ChatLog{ID: log.ID, Timestamp: log.Timestamp},
		&ChatMessage{MessageID: msg.ID, Content: msg.Content, Timestamp: msg.Timestamp},
	)
	return errors.WithMessagef(err, "save chat message %s", msg.ID)
}

// LoadLogs returns every log ordered by creation.
func (p *ChatPersister) LoadLogs() ([]v1alpha1.ChatLog, error) {
	logs, err := QueryChatLogAll()
	if err != nil {
		return nil, errors.Wrap(err, "query chat logs")
	}
	out := make([]v1alpha1.ChatLog, 0, len(*logs))
	for _, l := range *logs {
		out = append(out, v1alpha1.ChatLog{ID: l.ID, Timestamp: l.Timestamp})
	}
	return out, nil
}

// LoadMessages returns the messages of logID in log order.
func (p *ChatPersister) LoadMessages(logID string) ([]v1alpha1.ChatMessage, error) {
	msgs, err := QueryChatMessages(logID)
	if err != nil {
		return nil, errors.Wrapf(err, "query messages of %s", logID)
	}
	out := make([]v1alpha1.ChatMessage, 0, len(*msgs))
	for i := range *msgs {
		out = append(out, (*msgs)[i].Message())
	}
	return out, nil
}
