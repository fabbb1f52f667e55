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

// Package dtclient persists device records and chat logs in sqlite through the beego orm.
package dtclient

import (
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/common/dbm"
)

const (
	// DeviceTableName device table
	DeviceTableName = "device"
	// ChatLogTableName chat log table
	ChatLogTableName = "chat_log"
	// ChatMessageTableName chat message table
	ChatMessageTableName = "chat_message"
)

// InitDBTable registers the models of this package. It must run before dbm.InitDBManager.
func InitDBTable() {
	klog.Infof("Begin to register ptalk db model")
	dbm.RegisterModel(new(Device), new(ChatLog), new(ChatMessage))
}
