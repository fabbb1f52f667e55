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

// Package controller runs the ptalk mapper: it keeps configured devices
// connected, serves requests received on mapper topics and reports device
// state and profile changes on the event bus.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	config "github.com/kubeedge/ptalk-mapper/pkg/apis/componentconfig/mapper/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/chatlog"
	"github.com/kubeedge/ptalk-mapper/pkg/dataconverter"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/monitor"
	"github.com/kubeedge/ptalk-mapper/pkg/registry"
	"github.com/kubeedge/ptalk-mapper/pkg/syncengine"
	"github.com/kubeedge/ptalk-mapper/pkg/transport"
)

const (
	defaultRequestTimeout    = 30 * time.Second
	defaultReconnectInterval = 15 * time.Second
)

// Client is the part of the MQTT client used by the controller.
type Client interface {
	mappercommon.Publisher
	Subscribe(topic string, onMessage mqtt.MessageHandler) error
}

// Options configure a Controller.
type Options struct {
	Devices   []config.Device
	Schedules []config.Schedule
	// TickInterval ages last-seen counters, default 1m.
	TickInterval time.Duration
	// ReconnectInterval is how often configured devices without a live session
	// are reconnected, default 15s.
	ReconnectInterval time.Duration
	// RequestTimeout bounds one request received on a mapper topic, default 30s.
	RequestTimeout time.Duration
}

// Controller wires the sync engine and the chat log store to the event bus.
type Controller struct {
	engine  *syncengine.Engine
	chats   *chatlog.Store
	events  <-chan transport.Event
	client  Client
	metrics *monitor.Metrics
	opts    Options

	topicMap  map[string]mqtt.MessageHandler
	schedules []*Schedule

	mu          sync.Mutex
	provisioned map[string]bool
}

// New builds a Controller. events is the event stream of the engine's transport.
func New(engine *syncengine.Engine, chats *chatlog.Store, events <-chan transport.Event, client Client,
	metrics *monitor.Metrics, opts Options) (*Controller, error) {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	c := &Controller{
		engine:      engine,
		chats:       chats,
		events:      events,
		client:      client,
		metrics:     metrics,
		opts:        opts,
		provisioned: map[string]bool{},
	}
	for _, s := range opts.Schedules {
		schedule, err := NewSchedule(s)
		if err != nil {
			return nil, err
		}
		c.schedules = append(c.schedules, schedule)
	}
	for i := range c.opts.Devices {
		c.opts.Devices[i].Address = registry.NormalizeAddress(c.opts.Devices[i].Address)
	}
	return c, nil
}

// initTopicMap initializes topics to their respective handler functions
func (c *Controller) initTopicMap() {
	c.topicMap = map[string]mqtt.MessageHandler{
		fmt.Sprintf(mappercommon.TopicFieldGet, "+"):   c.handleFieldGetMessage,
		fmt.Sprintf(mappercommon.TopicFieldSet, "+"):   c.handleFieldSetMessage,
		fmt.Sprintf(mappercommon.TopicCommit, "+"):     c.handleCommitMessage,
		fmt.Sprintf(mappercommon.TopicChatAppend, "+"): c.handleChatAppendMessage,
	}
}

// subscribeAllTopics subscribes to mqtt topics associated with mapper
func (c *Controller) subscribeAllTopics() error {
	for topic, handler := range c.topicMap {
		if err := c.client.Subscribe(topic, handler); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		klog.V(4).Infof("Subscribed to %s", topic)
	}
	return nil
}

// Start runs the controller until ctx is done, then disconnects every device.
func (c *Controller) Start(ctx context.Context) error {
	c.engine.Tracker().AddObserver(c.onStateChanged)
	c.initTopicMap()
	if err := c.subscribeAllTopics(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watch(ctx)
	}()
	go wait.Until(c.engine.Tick, c.opts.TickInterval, ctx.Done())
	go wait.UntilWithContext(ctx, c.reconcile, c.opts.ReconnectInterval)
	for _, s := range c.schedules {
		wg.Add(1)
		go func(s *Schedule) {
			defer wg.Done()
			s.Run(ctx, c.engine, c.client)
		}(s)
	}

	klog.Infof("Mapper controller started with %d devices and %d schedules", len(c.opts.Devices), len(c.schedules))
	<-ctx.Done()
	c.engine.Close()
	wg.Wait()
	klog.Infof("Mapper controller stopped")
	return nil
}

// watch applies transport events to the engine until the stream ends or ctx is done.
func (c *Controller) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.events:
			if !ok {
				klog.Warningf("Transport event stream closed")
				return
			}
			c.engine.HandleEvent(ev)
		}
	}
}

func live(status v1alpha1.ConnectionStatus) bool {
	return status == v1alpha1.StatusConnected || status == v1alpha1.StatusSyncing
}

// reconcile connects every configured device without a live session and
// provisions it once.
func (c *Controller) reconcile(ctx context.Context) {
	for _, d := range c.opts.Devices {
		if ctx.Err() != nil {
			return
		}
		c.ensureDevice(ctx, d)
	}
}

func (c *Controller) ensureDevice(ctx context.Context, d config.Device) {
	state := c.engine.State(d.Address)
	if live(state.Status) {
		return
	}
	if err := c.engine.Connect(ctx, d.Address); err != nil {
		klog.Warningf("Device %s not reachable, retrying in %s: %v", d.Address, c.opts.ReconnectInterval, err)
		return
	}

	c.mu.Lock()
	done := c.provisioned[d.Address]
	c.mu.Unlock()
	if d.Provision == nil || done {
		c.publishTwin(d.Address)
		return
	}
	res, err := c.engine.Provision(ctx, d.Address, provisionRequest(d.Provision))
	if err != nil {
		klog.Errorf("Failed to provision %s: %v", d.Address, err)
		return
	}
	c.mu.Lock()
	c.provisioned[d.Address] = true
	c.mu.Unlock()
	klog.Infof("Device %s provisioned, app version %s", d.Address, res.AppVersion)
	c.publishTwin(d.Address)
}

func provisionRequest(p *config.Provision) syncengine.ProvisionRequest {
	return syncengine.ProvisionRequest{
		DeviceName: p.DeviceName,
		WifiSsid:   p.WifiSsid,
		WifiPass:   p.WifiPass,
		Volume:     p.Volume,
		Brightness: p.Brightness,
	}
}

// onStateChanged publishes every connection state transition.
func (c *Controller) onStateChanged(prev, next v1alpha1.ConnectionState) {
	if c.metrics != nil {
		switch {
		case !live(prev.Status) && live(next.Status):
			c.metrics.ConnectedDevices.Inc()
		case live(prev.Status) && !live(next.Status):
			c.metrics.ConnectedDevices.Dec()
		}
	}
	topic := fmt.Sprintf(mappercommon.TopicStateUpdate, next.Address)
	if err := c.client.Publish(topic, mappercommon.CreateMessageState(next)); err != nil {
		klog.Errorf("Failed to publish state of %s: %v", next.Address, err)
	}
}

// publishTwin reports the DeviceRecord of address as twin actual values.
func (c *Controller) publishTwin(address string) {
	rec, err := c.engine.Registry().Get(address)
	if err != nil {
		klog.V(4).Infof("No record to publish for %s: %v", address, err)
		return
	}
	topic := fmt.Sprintf(mappercommon.TopicTwinUpdate, address)
	if err := c.client.Publish(topic, mappercommon.CreateMessageTwinUpdate(&rec)); err != nil {
		klog.Errorf("Failed to publish twin of %s: %v", address, err)
	}
}

// addressFromTopic extracts the device address of a mapper topic.
func addressFromTopic(topic string) (string, bool) {
	rest := strings.TrimPrefix(topic, mappercommon.TopicPrefix)
	if rest == topic {
		return "", false
	}
	addr, _, found := strings.Cut(rest, "/")
	if !found || addr == "" {
		return "", false
	}
	return registry.NormalizeAddress(addr), true
}

func (c *Controller) reply(topic, kind, requestID string, value interface{}, err error) {
	status := mappercommon.ResultStatusOK
	if err != nil {
		status = mappercommon.ResultStatusError
		klog.Errorf("Request %s on %s failed: %v", requestID, topic, err)
	}
	if c.metrics != nil {
		c.metrics.MqttRequests.WithLabelValues(kind, status).Inc()
	}
	if pErr := c.client.Publish(topic+mappercommon.ResultSuffix, mappercommon.CreateMessageResult(requestID, value, err)); pErr != nil {
		klog.Errorf("Failed to publish result of %s: %v", requestID, pErr)
	}
}

func (c *Controller) decode(message mqtt.Message, v interface{}) (string, bool) {
	address, ok := addressFromTopic(message.Topic())
	if !ok {
		klog.Errorf("Ignoring message on unexpected topic %s", message.Topic())
		return "", false
	}
	if err := json.Unmarshal(message.Payload(), v); err != nil {
		klog.Errorf("Error in unmarshalling message on %s: %v", message.Topic(), err)
		return "", false
	}
	return address, true
}

// handleFieldGetMessage is the MQTT handler function for reading a field
func (c *Controller) handleFieldGetMessage(_ mqtt.Client, message mqtt.Message) {
	var req mappercommon.FieldRequest
	address, ok := c.decode(message, &req)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	value, err := c.engine.ReadField(ctx, address, req.Field)
	c.reply(message.Topic(), "get", req.RequestID, value, err)
	if err == nil && v1alpha1.IsProfileField(req.Field) {
		c.publishTwin(address)
	}
}

// handleFieldSetMessage is the MQTT handler function for writing a field
func (c *Controller) handleFieldSetMessage(_ mqtt.Client, message mqtt.Message) {
	var req mappercommon.FieldRequest
	address, ok := c.decode(message, &req)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	value, err := dataconverter.Convert(req.Field, req.Value)
	if err == nil {
		err = c.engine.WriteField(ctx, address, req.Field, value)
	}
	c.reply(message.Topic(), "set", req.RequestID, nil, err)
}

// handleCommitMessage is the MQTT handler function for saving written fields
func (c *Controller) handleCommitMessage(_ mqtt.Client, message mqtt.Message) {
	var req mappercommon.CommitRequest
	address, ok := c.decode(message, &req)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	err := c.engine.Commit(ctx, address)
	c.reply(message.Topic(), "commit", req.RequestID, nil, err)
	if err == nil {
		c.publishTwin(address)
	}
}

// handleChatAppendMessage is the MQTT handler function for recording a chat message
func (c *Controller) handleChatAppendMessage(_ mqtt.Client, message mqtt.Message) {
	var req mappercommon.ChatAppendRequest
	if _, ok := c.decode(message, &req); !ok {
		return
	}
	err := c.chats.AppendMessage(req.LogID, req.Message)
	if c.metrics != nil {
		result := mappercommon.ResultStatusOK
		if err != nil {
			result = mappercommon.ErrorCode(err)
		}
		c.metrics.ChatMessages.WithLabelValues("mqtt", result).Inc()
	}
	c.reply(message.Topic(), "chat", req.RequestID, nil, err)
}
