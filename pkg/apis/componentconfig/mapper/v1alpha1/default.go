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
	"path"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	DefaultConfigFile      = "/etc/kubeedge/config/ptalk-mapper.yaml"
	DefaultDataSource      = "/var/lib/kubeedge/ptalk.db"
	DefaultMaxPayload      = 512
	DefaultMetricsAddress  = "127.0.0.1:9091"
	DefaultRelayClientType = "mapper"
)

// NewDefaultMapperConfig returns a full MapperConfig object
func NewDefaultMapperConfig() *MapperConfig {
	return &MapperConfig{
		TypeMeta: metav1.TypeMeta{
			Kind:       Kind,
			APIVersion: path.Join(GroupName, APIVersion),
		},
		Database: &DataBase{
			DriverName: "sqlite3",
			AliasName:  "default",
			DataSource: DefaultDataSource,
		},
		Transport: &Transport{
			Type:             TransportGATT,
			ConnectTimeout:   metav1.Duration{Duration: 10 * time.Second},
			OperationTimeout: metav1.Duration{Duration: 5 * time.Second},
			OpsPerSecond:     20,
			Burst:            5,
			MaxPayload:       DefaultMaxPayload,
			RSSIInterval:     metav1.Duration{Duration: 30 * time.Second},
			RelayClientType:  DefaultRelayClientType,
		},
		Mqtt: &Mqtt{
			Mode:           MqttModeExternal,
			Server:         "tcp://127.0.0.1:1883",
			InternalServer: "tcp://127.0.0.1:1884",
		},
		ChatLog: &ChatLog{
			MaxContentLength: 4096,
			FutureTolerance:  metav1.Duration{Duration: 5 * time.Minute},
		},
		LastSeenTickInterval: metav1.Duration{Duration: time.Minute},
		Metrics: &Metrics{
			Enable:  true,
			Address: DefaultMetricsAddress,
		},
	}
}
