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
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	config "github.com/kubeedge/ptalk-mapper/pkg/apis/componentconfig/mapper/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/registry"
)

// FieldReader reads one field of one device.
type FieldReader interface {
	ReadField(ctx context.Context, address string, f v1alpha1.FieldID) (interface{}, error)
}

// Schedule reads a field periodically and publishes the value.
type Schedule struct {
	Name    string
	Address string
	Field   v1alpha1.FieldID
	// Interval is the time between two reads.
	Interval time.Duration
	// OccurrenceLimit refers to the number of reads, 0 means the schedule runs until stopped.
	OccurrenceLimit int
}

// NewSchedule builds a Schedule from its configuration.
func NewSchedule(s config.Schedule) (*Schedule, error) {
	f, err := v1alpha1.ParseFieldID(s.Field)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", s.Name, err)
	}
	if s.Interval.Duration <= 0 {
		return nil, fmt.Errorf("schedule %s: interval must be positive", s.Name)
	}
	return &Schedule{
		Name:            s.Name,
		Address:         registry.NormalizeAddress(s.Address),
		Field:           f,
		Interval:        s.Interval.Duration,
		OccurrenceLimit: s.OccurrenceLimit,
	}, nil
}

// Run executes the schedule until ctx is done or the occurrence limit is reached.
func (s *Schedule) Run(ctx context.Context, reader FieldReader, publisher mappercommon.Publisher) {
	klog.Infof("Executing schedule: %s", s.Name)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	iteration := 0
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		s.perform(ctx, reader, publisher)
		iteration++
		if s.OccurrenceLimit > 0 && iteration >= s.OccurrenceLimit {
			cancel()
		}
	}, s.Interval)
	klog.Infof("Schedule %s stopped after %d reads", s.Name, iteration)
}

// perform reads the field once and publishes the result
func (s *Schedule) perform(ctx context.Context, reader FieldReader, publisher mappercommon.Publisher) {
	value, err := reader.ReadField(ctx, s.Address, s.Field)
	if err != nil {
		klog.Errorf("Schedule %s failed to read %s from %s: %v", s.Name, s.Field, s.Address, err)
		return
	}
	result := mappercommon.SchedulerResult{Field: s.Field, Value: fmt.Sprint(value)}
	result.EventID = uuid.NewString()
	result.Timestamp = time.Now().UnixNano() / 1e6
	body, err := json.Marshal(result)
	if err != nil {
		klog.Errorf("Error: %s", err)
		return
	}
	topic := fmt.Sprintf(mappercommon.TopicSchedulerResult, s.Address)
	klog.V(4).Infof("Publishing schedule: %s result on topic: %s", s.Name, topic)
	if err := publisher.Publish(topic, body); err != nil {
		klog.Errorf("Failed to publish schedule %s result: %v", s.Name, err)
	}
}
