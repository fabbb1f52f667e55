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

package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/pointer"

	config "github.com/kubeedge/ptalk-mapper/pkg/apis/componentconfig/mapper/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/characteristic"
	"github.com/kubeedge/ptalk-mapper/pkg/chatlog"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/monitor"
	"github.com/kubeedge/ptalk-mapper/pkg/registry"
	"github.com/kubeedge/ptalk-mapper/pkg/syncengine"
	"github.com/kubeedge/ptalk-mapper/pkg/transport"
	"github.com/kubeedge/ptalk-mapper/pkg/transport/fake"
)

const addr = "AA:BB:CC:DD:EE:FF"

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 0 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}

// fakeClient records publications and dispatches deliveries to subscribed handlers.
type fakeClient struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published map[string][][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}, published: map[string][][]byte{}}
}

func (f *fakeClient) Publish(topic string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = append(f.published[topic], payload.([]byte))
	return nil
}

func (f *fakeClient) Subscribe(topic string, onMessage mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = onMessage
	return nil
}

func (f *fakeClient) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeClient) deliver(filterFormat, address string, body interface{}) {
	payload, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	f.mu.Lock()
	handler := f.handlers[fmt.Sprintf(filterFormat, "+")]
	f.mu.Unlock()
	Expect(handler).NotTo(BeNil())
	handler(nil, &message{topic: fmt.Sprintf(filterFormat, address), payload: payload})
}

func (f *fakeClient) messages(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.published[topic]...)
}

func (f *fakeClient) lastResult(filterFormat, address string) mappercommon.OperationResult {
	msgs := f.messages(fmt.Sprintf(filterFormat, address) + mappercommon.ResultSuffix)
	Expect(msgs).NotTo(BeEmpty())
	var res mappercommon.OperationResult
	Expect(json.Unmarshal(msgs[len(msgs)-1], &res)).To(Succeed())
	return res
}

func (f *fakeClient) states(address string) []string {
	var out []string
	for _, m := range f.messages(fmt.Sprintf(mappercommon.TopicStateUpdate, address)) {
		var u mappercommon.DeviceUpdate
		Expect(json.Unmarshal(m, &u)).To(Succeed())
		out = append(out, u.State)
	}
	return out
}

func (f *fakeClient) lastTwin(address string) mappercommon.DeviceTwinUpdate {
	msgs := f.messages(fmt.Sprintf(mappercommon.TopicTwinUpdate, address))
	Expect(msgs).NotTo(BeEmpty())
	var u mappercommon.DeviceTwinUpdate
	Expect(json.Unmarshal(msgs[len(msgs)-1], &u)).To(Succeed())
	return u
}

func chr(f v1alpha1.FieldID) uuid.UUID {
	return characteristic.Resolve(f).Characteristic
}

var _ = Describe("Controller", func() {
	var (
		tr      *fake.Transport
		engine  *syncengine.Engine
		chats   *chatlog.Store
		client  *fakeClient
		metrics *monitor.Metrics
		cancel  context.CancelFunc
		done    chan struct{}
	)

	BeforeEach(func() {
		tr = fake.New()
		tr.AddPeripheral(addr, map[uuid.UUID][]byte{
			chr(v1alpha1.AppVersion): []byte("1.2.3"),
			chr(v1alpha1.BuildInfo):  []byte("b42"),
			chr(v1alpha1.DeviceID):   []byte("PT-1"),
			chr(v1alpha1.Volume):     {10},
		})
		var err error
		engine, err = syncengine.New(tr, registry.New(nil), nil, syncengine.Options{AutoConnect: true})
		Expect(err).NotTo(HaveOccurred())
		chats = chatlog.NewStore(chatlog.Options{}, nil)
		client = newFakeClient()
		metrics, err = monitor.NewMetrics(prometheus.NewRegistry())
		Expect(err).NotTo(HaveOccurred())

		ctl, err := New(engine, chats, tr.Events(), client, metrics, Options{
			Devices:           []config.Device{{Address: "aa:bb:cc:dd:ee:ff", Provision: &config.Provision{DeviceName: pointer.String("kitchen")}}},
			TickInterval:      time.Hour,
			ReconnectInterval: 20 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		go func() {
			defer close(done)
			Expect(ctl.Start(ctx)).To(Succeed())
		}()
		Eventually(client.subscriptions).Should(Equal(4))
		Eventually(func() *string {
			rec, _ := engine.Registry().Get(addr)
			return rec.Name
		}).ShouldNot(BeNil())
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(BeClosed())
		tr.Close()
	})

	It("connects and provisions configured devices", func() {
		rec, err := engine.Registry().Get(addr)
		Expect(err).NotTo(HaveOccurred())
		Expect(*rec.Name).To(Equal("kitchen"))
		Expect(*rec.DeviceID).To(Equal("PT-1"))

		Expect(client.states(addr)).To(ContainElements("Connecting", "Connected"))
		Expect(testutil.ToFloat64(metrics.ConnectedDevices)).To(Equal(float64(1)))
		Eventually(func() *mappercommon.MsgTwin {
			return client.lastTwin(addr).Twin["DeviceName"]
		}).ShouldNot(BeNil())
	})

	It("writes a field requested over MQTT", func() {
		client.deliver(mappercommon.TopicFieldSet, addr, map[string]interface{}{
			"request_id": "r1", "field": "Volume", "value": 75,
		})
		res := client.lastResult(mappercommon.TopicFieldSet, addr)
		Expect(res.RequestID).To(Equal("r1"))
		Expect(res.Status).To(Equal(mappercommon.ResultStatusOK))
		v, _ := tr.Value(addr, chr(v1alpha1.Volume))
		Expect(v).To(Equal([]byte{75}))
	})

	It("rejects an invalid value without touching the device", func() {
		before := len(tr.Ops())
		client.deliver(mappercommon.TopicFieldSet, addr, map[string]interface{}{
			"request_id": "r2", "field": "Volume", "value": 150,
		})
		res := client.lastResult(mappercommon.TopicFieldSet, addr)
		Expect(res.Status).To(Equal(mappercommon.ResultStatusError))
		Expect(res.ErrorCode).To(Equal("VALIDATION"))
		Expect(tr.Ops()).To(HaveLen(before))
		Expect(testutil.ToFloat64(metrics.MqttRequests.WithLabelValues("set", mappercommon.ResultStatusError))).To(Equal(float64(1)))
	})

	It("reads a field and reports the profile twin", func() {
		client.deliver(mappercommon.TopicFieldGet, addr, mappercommon.FieldRequest{RequestID: "r3", Field: v1alpha1.AppVersion})
		res := client.lastResult(mappercommon.TopicFieldGet, addr)
		Expect(res.Status).To(Equal(mappercommon.ResultStatusOK))
		Expect(res.Value).To(Equal("1.2.3"))
		twin := client.lastTwin(addr)
		Expect(twin.Twin).To(HaveKey("AppVersion"))
		Expect(*twin.Twin["AppVersion"].Actual.Value).To(Equal("1.2.3"))
	})

	It("applies written profile values on commit", func() {
		client.deliver(mappercommon.TopicFieldSet, addr, mappercommon.FieldRequest{RequestID: "r4", Field: v1alpha1.DeviceName, Value: "den"})
		Expect(client.lastResult(mappercommon.TopicFieldSet, addr).Status).To(Equal(mappercommon.ResultStatusOK))
		rec, _ := engine.Registry().Get(addr)
		Expect(*rec.Name).To(Equal("kitchen"))

		client.deliver(mappercommon.TopicCommit, addr, mappercommon.CommitRequest{RequestID: "r5"})
		Expect(client.lastResult(mappercommon.TopicCommit, addr).Status).To(Equal(mappercommon.ResultStatusOK))
		Expect(*client.lastTwin(addr).Twin["DeviceName"].Actual.Value).To(Equal("den"))
	})

	It("appends chat messages and rejects duplicates", func() {
		msg := v1alpha1.ChatMessage{ID: "m1", Content: "hello", Timestamp: 1700000000}
		client.deliver(mappercommon.TopicChatAppend, addr, mappercommon.ChatAppendRequest{RequestID: "c1", LogID: "log-1", Message: msg})
		Expect(client.lastResult(mappercommon.TopicChatAppend, addr).Status).To(Equal(mappercommon.ResultStatusOK))

		client.deliver(mappercommon.TopicChatAppend, addr, mappercommon.ChatAppendRequest{RequestID: "c2", LogID: "log-1", Message: msg})
		res := client.lastResult(mappercommon.TopicChatAppend, addr)
		Expect(res.RequestID).To(Equal("c2"))
		Expect(res.ErrorCode).To(Equal("DUPLICATE"))

		msgs, err := chats.GetLog("log-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(testutil.ToFloat64(metrics.ChatMessages.WithLabelValues("mqtt", "DUPLICATE"))).To(Equal(float64(1)))
	})

	It("reconnects a device after its link drops", func() {
		tr.DropLink(addr)
		Eventually(func() []string { return client.states(addr) }).Should(ContainElement("Disconnected"))
		Eventually(func() v1alpha1.ConnectionStatus { return engine.State(addr).Status }).Should(Equal(v1alpha1.StatusConnected))
		Expect(testutil.ToFloat64(metrics.ConnectedDevices)).To(Equal(float64(1)))
	})

	It("applies telemetry events from the transport", func() {
		tr.Emit(transport.Event{Address: addr, Type: transport.EventRSSI, Value: -47})
		Eventually(func() int { return engine.State(addr).RSSI }).Should(Equal(-47))
	})

	It("rejects a fractional percent", func() {
		client.deliver(mappercommon.TopicFieldSet, addr, map[string]interface{}{
			"request_id": "r6", "field": "Brightness", "value": 40.5,
		})
		Expect(client.lastResult(mappercommon.TopicFieldSet, addr).ErrorCode).To(Equal("VALIDATION"))
	})

	It("ignores messages it can not decode", func() {
		client.mu.Lock()
		f := client.handlers[fmt.Sprintf(mappercommon.TopicFieldGet, "+")]
		client.mu.Unlock()
		f(nil, &message{topic: fmt.Sprintf(mappercommon.TopicFieldGet, addr), payload: []byte("{")})
		Expect(client.messages(fmt.Sprintf(mappercommon.TopicFieldGet, addr) + mappercommon.ResultSuffix)).To(BeEmpty())
	})
})

var _ = Describe("Schedule", func() {
	It("stops after the occurrence limit", func() {
		tr := fake.New()
		defer tr.Close()
		tr.AddPeripheral(addr, map[uuid.UUID][]byte{chr(v1alpha1.Volume): {33}})
		engine, err := syncengine.New(tr, registry.New(nil), nil, syncengine.Options{AutoConnect: true})
		Expect(err).NotTo(HaveOccurred())
		defer engine.Close()

		s, err := NewSchedule(config.Schedule{
			Name: "volume", Address: "aa:bb:cc:dd:ee:ff", Field: "volume",
			Interval: metav1.Duration{Duration: 5 * time.Millisecond}, OccurrenceLimit: 2,
		})
		Expect(err).NotTo(HaveOccurred())
		client := newFakeClient()
		s.Run(context.Background(), engine, client)

		msgs := client.messages(fmt.Sprintf(mappercommon.TopicSchedulerResult, addr))
		Expect(msgs).To(HaveLen(2))
		var res mappercommon.SchedulerResult
		Expect(json.Unmarshal(msgs[0], &res)).To(Succeed())
		Expect(res.Field).To(Equal(v1alpha1.Volume))
		Expect(res.Value).To(Equal("33"))
	})

	It("rejects unknown fields", func() {
		_, err := NewSchedule(config.Schedule{Name: "x", Field: "Color", Interval: metav1.Duration{Duration: time.Second}})
		Expect(err).To(HaveOccurred())
	})
})

var _ = DescribeTable("addressFromTopic",
	func(topic, want string, ok bool) {
		got, found := addressFromTopic(topic)
		Expect(found).To(Equal(ok))
		Expect(got).To(Equal(want))
	},
	Entry("field get", "$ke/device/ptalk-mapper/aa:bb:cc:dd:ee:ff/field/get", addr, true),
	Entry("foreign prefix", "$hw/events/device/x/state/update", "", false),
	Entry("no suffix", "$ke/device/ptalk-mapper/AA", "", false),
)
