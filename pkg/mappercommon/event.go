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
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
)

// Joint the topic like topic := fmt.Sprintf(TopicTwinUpdate, address)
const (
	TopicTwinUpdate  = "$hw/events/device/%s/twin/update"
	TopicStateUpdate = "$hw/events/device/%s/state/update"

	TopicPrefix          = "$ke/device/ptalk-mapper/"
	TopicFieldGet        = TopicPrefix + "%s/field/get"
	TopicFieldSet        = TopicPrefix + "%s/field/set"
	TopicCommit          = TopicPrefix + "%s/commit"
	TopicChatAppend      = TopicPrefix + "%s/chat/append"
	TopicSchedulerResult = TopicPrefix + "%s/scheduler/result"
	ResultSuffix         = "/result"
)

// Publisher is the part of an MQTT client the mapper publishes through.
type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// MqttClient wraps a paho client with the mapper's connection settings.
type MqttClient struct {
	Qos      byte
	Retained bool
	IP       string
	User     string
	Passwd   string
	Cert     string
	ClientID string
	Client   mqtt.Client
}

// Connect dials the broker and blocks until the connection is established.
func (mc *MqttClient) Connect() error {
	clientID := mc.ClientID
	if clientID == "" {
		clientID = "ptalk-mapper-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions().AddBroker(mc.IP).SetClientID(clientID).SetCleanSession(true)
	if mc.Cert != "" {
		tlsConfig := &tls.Config{InsecureSkipVerify: true, ClientAuth: tls.NoClientCert}
		opts.SetTLSConfig(tlsConfig)
	} else {
		opts.SetUsername(mc.User)
		opts.SetPassword(mc.Passwd)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		klog.Warningf("MQTT connection to %s lost: %v", mc.IP, err)
	})

	mc.Client = mqtt.NewClient(opts)
	// The token is used to indicate when actions have completed.
	if tc := mc.Client.Connect(); tc.Wait() && tc.Error() != nil {
		return tc.Error()
	}

	mc.Qos = 0          // At most 1 time
	mc.Retained = false // Not retained
	return nil
}

// Disconnect closes the broker connection, waiting up to 250ms for in-flight work.
func (mc *MqttClient) Disconnect() {
	if mc.Client != nil && mc.Client.IsConnected() {
		mc.Client.Disconnect(250)
	}
}

func (mc *MqttClient) Publish(topic string, payload interface{}) error {
	if tc := mc.Client.Publish(topic, mc.Qos, mc.Retained, payload); tc.Wait() && tc.Error() != nil {
		return tc.Error()
	}
	return nil
}

func (mc *MqttClient) Subscribe(topic string, onMessage mqtt.MessageHandler) error {
	if tc := mc.Client.Subscribe(topic, mc.Qos, onMessage); tc.Wait() && tc.Error() != nil {
		return tc.Error()
	}
	return nil
}

func getTimestamp() int64 {
	return time.Now().UnixNano() / 1e6
}

// CreateMessageTwinUpdate builds a twin update reporting the actual values of a DeviceRecord.
func CreateMessageTwinUpdate(record *v1alpha1.DeviceRecord) []byte {
	var updateMsg DeviceTwinUpdate
	updateMsg.BaseMessage.EventID = uuid.NewString()
	updateMsg.BaseMessage.Timestamp = getTimestamp()
	updateMsg.Twin = map[string]*MsgTwin{}
	add := func(f v1alpha1.FieldID, value *string) {
		if value == nil {
			return
		}
		v := *value
		updateMsg.Twin[f.String()] = &MsgTwin{
			Actual:   &TwinValue{Value: &v},
			Metadata: &TypeMetadata{Type: "string"},
		}
	}
	add(v1alpha1.DeviceName, record.Name)
	add(v1alpha1.AppVersion, record.AppVersion)
	add(v1alpha1.BuildInfo, record.BuildInfo)
	add(v1alpha1.DeviceID, record.DeviceID)

	msg, err := json.Marshal(updateMsg)
	if err != nil {
		return make([]byte, 0)
	}
	return msg
}

// CreateMessageState builds a state update carrying the liveness snapshot as attributes.
func CreateMessageState(state v1alpha1.ConnectionState) []byte {
	var stateMsg DeviceUpdate
	stateMsg.EventID = uuid.NewString()
	stateMsg.Timestamp = getTimestamp()
	stateMsg.State = string(state.Status)
	stateMsg.Attributes = map[string]*MsgAttr{
		"rssi":            {Value: strconv.Itoa(state.RSSI), Metadata: &TypeMetadata{Type: "int"}},
		"batteryPercent":  {Value: strconv.Itoa(state.BatteryPercent), Metadata: &TypeMetadata{Type: "int"}},
		"lastSeenMinutes": {Value: strconv.Itoa(state.LastSeenMinutes), Metadata: &TypeMetadata{Type: "int"}},
	}

	msg, err := json.Marshal(stateMsg)
	if err != nil {
		return make([]byte, 0)
	}
	return msg
}

// CreateMessageResult builds the reply for a request received on a mapper topic.
func CreateMessageResult(requestID string, value interface{}, err error) []byte {
	var result OperationResult
	result.EventID = uuid.NewString()
	result.Timestamp = getTimestamp()
	result.RequestID = requestID
	if err != nil {
		result.Status = ResultStatusError
		result.ErrorCode = ErrorCode(err)
		result.Message = err.Error()
	} else {
		result.Status = ResultStatusOK
		if value != nil {
			result.Value = fmt.Sprint(value)
		}
	}

	msg, mErr := json.Marshal(result)
	if mErr != nil {
		return make([]byte, 0)
	}
	return msg
}
