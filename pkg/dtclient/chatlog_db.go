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
	"errors"

	"github.com/beego/beego/v2/client/orm"
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/common/dbm"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
)

// ChatLog the struct of chat log
type ChatLog struct {
	ID        string `orm:"column(id); size(128); pk"`
	Timestamp int64  `orm:"column(timestamp)"`
}

// TableName returns the table of ChatLog
func (c *ChatLog) TableName() string {
	return ChatLogTableName
}

// ChatMessage the struct of chat message. Seq keeps arrival order.
type ChatMessage struct {
	Seq       int64  `orm:"column(seq); auto; pk"`
	LogID     string `orm:"column(log_id); size(128)"`
	MessageID string `orm:"column(message_id); size(128)"`
	Content   string `orm:"column(content); type(text)"`
	Timestamp int64  `orm:"column(timestamp)"`
}

// TableName returns the table of ChatMessage
func (c *ChatMessage) TableName() string {
	return ChatMessageTableName
}

// TableUnique makes a message id unique within its log
func (c *ChatMessage) TableUnique() [][]string {
	return [][]string{{"LogID", "MessageID"}}
}

// Message converts a table row into a ChatMessage.
func (c *ChatMessage) Message() v1alpha1.ChatMessage {
	return v1alpha1.ChatMessage{ID: c.MessageID, Content: c.Content, Timestamp: c.Timestamp}
}

// SaveChatLog save chat log
func SaveChatLog(to orm.TxOrmer, doc *ChatLog) error {
	num, err := to.Insert(doc)
	klog.V(4).Infof("Insert affected Num: %d, %v", num, err)
	return err
}

// SaveChatMessage save chat message. A message id already stored in the same
// log returns a DuplicateKeyError.
func SaveChatMessage(to orm.TxOrmer, doc *ChatMessage) error {
	num, err := to.Insert(doc)
	klog.V(4).Infof("Insert affected Num: %d, %v", num, err)
	if err != nil && dbm.IsNonUniqueNameError(err) {
		return &mappercommon.DuplicateKeyError{LogID: doc.LogID, MessageID: doc.MessageID}
	}
	return err
}

// ensureChatLog inserts the log row unless it exists
func ensureChatLog(to orm.TxOrmer, doc *ChatLog) error {
	existing := &ChatLog{ID: doc.ID}
	err := to.Read(existing)
	if errors.Is(err, orm.ErrNoRows) {
		return SaveChatLog(to, doc)
	}
	return err
}

// AddChatLogTrans the transaction of create chat log. An existing log is kept unchanged.
func AddChatLogTrans(doc *ChatLog) (err error) {
	obm := dbm.DefaultOrmFunc()
	to, err := obm.Begin()
	if err != nil {
		klog.Errorf("failed to begin transaction: %v", err)
		return err
	}

	defer func() {
		if err != nil {
			dbm.RollbackTransaction(to)
		} else {
			err = to.Commit()
			if err != nil {
				klog.Errorf("failed to commit transaction: %v", err)
			}
		}
	}()

	return ensureChatLog(to, doc)
}

// AddChatMessageTrans the transaction of append chat message, creating its log if needed
func AddChatMessageTrans(log *ChatLog, msg *ChatMessage) (err error) {
	obm := dbm.DefaultOrmFunc()
	to, err := obm.Begin()
	if err != nil {
		klog.Errorf("failed to begin transaction: %v", err)
		return err
	}

	defer func() {
		if err != nil {
			dbm.RollbackTransaction(to)
		} else {
			err = to.Commit()
			if err != nil {
				klog.Errorf("failed to commit transaction: %v", err)
			}
		}
	}()

	if err = ensureChatLog(to, log); err != nil {
		klog.Errorf("save chat log %s failed: %v", log.ID, err)
		return err
	}
	msg.LogID = log.ID
	err = SaveChatMessage(to, msg)
	return err
}

// QueryChatLogAll query all chat logs ordered by creation
func QueryChatLogAll() (*[]ChatLog, error) {
	logs := new([]ChatLog)
	_, err := dbm.DBAccess.QueryTable(ChatLogTableName).OrderBy("timestamp", "id").All(logs)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// QueryChatMessages query messages of one log ordered by timestamp then arrival
func QueryChatMessages(logID string) (*[]ChatMessage, error) {
	msgs := new([]ChatMessage)
	_, err := dbm.DBAccess.QueryTable(ChatMessageTableName).Filter("log_id", logID).OrderBy("timestamp", "seq").All(msgs)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}
