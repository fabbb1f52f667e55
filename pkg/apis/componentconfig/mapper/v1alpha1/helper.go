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

package v1alpha1

import (
	"os"

	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

// Parse reads fname over the current values of c.
func (c *MapperConfig) Parse(fname string) error {
	data, err := os.ReadFile(fname)
	if err != nil {
		klog.Errorf("Failed to read configfile %s: %v", fname, err)
		return err
	}
	err = yaml.Unmarshal(data, c)
	if err != nil {
		klog.Errorf("Failed to unmarshal configfile %s: %v", fname, err)
		return err
	}
	return nil
}

// BrokerURL returns the broker selected by Mode.
func (m *Mqtt) BrokerURL() string {
	if m.Mode == MqttModeInternal {
		return m.InternalServer
	}
	return m.Server
}
