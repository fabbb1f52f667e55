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

package validation

import (
	"net"
	"net/url"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/componentconfig/mapper/v1alpha1"
	ptalkv1alpha1 "github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
)

// ValidateMapperConfiguration validates `c` and returns an errorList if it is invalid
func ValidateMapperConfiguration(c *v1alpha1.MapperConfig) field.ErrorList {
	allErrs := field.ErrorList{}
	allErrs = append(allErrs, ValidateDataBase(*c.Database)...)
	allErrs = append(allErrs, ValidateTransport(*c.Transport)...)
	allErrs = append(allErrs, ValidateMqtt(*c.Mqtt)...)
	allErrs = append(allErrs, ValidateChatLog(*c.ChatLog)...)
	if c.LastSeenTickInterval.Duration <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("lastSeenTickInterval"), c.LastSeenTickInterval.Duration.String(), "must be positive"))
	}
	allErrs = append(allErrs, ValidateDevices(c.Devices)...)
	allErrs = append(allErrs, ValidateSchedules(c.Schedules)...)
	allErrs = append(allErrs, ValidateMetrics(*c.Metrics)...)
	return allErrs
}

// ValidateDataBase validates `d` and returns an errorList if it is invalid
func ValidateDataBase(d v1alpha1.DataBase) field.ErrorList {
	allErrs := field.ErrorList{}
	p := field.NewPath("database")
	if d.DriverName == "" {
		allErrs = append(allErrs, field.Required(p.Child("driverName"), ""))
	}
	if d.AliasName == "" {
		allErrs = append(allErrs, field.Required(p.Child("aliasName"), ""))
	}
	if d.DataSource == "" {
		allErrs = append(allErrs, field.Required(p.Child("dataSource"), ""))
	}
	return allErrs
}

// ValidateTransport validates `t` and returns an errorList if it is invalid
func ValidateTransport(t v1alpha1.Transport) field.ErrorList {
	allErrs := field.ErrorList{}
	p := field.NewPath("transport")
	switch t.Type {
	case v1alpha1.TransportGATT:
	case v1alpha1.TransportWSRelay:
		if u, err := url.Parse(t.RelayServer); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			allErrs = append(allErrs, field.Invalid(p.Child("relayServer"), t.RelayServer, "must be a ws:// or wss:// url"))
		}
	default:
		allErrs = append(allErrs, field.NotSupported(p.Child("type"), t.Type,
			[]string{string(v1alpha1.TransportGATT), string(v1alpha1.TransportWSRelay)}))
	}
	if t.ConnectTimeout.Duration <= 0 {
		allErrs = append(allErrs, field.Invalid(p.Child("connectTimeout"), t.ConnectTimeout.Duration.String(), "must be positive"))
	}
	if t.OperationTimeout.Duration <= 0 {
		allErrs = append(allErrs, field.Invalid(p.Child("operationTimeout"), t.OperationTimeout.Duration.String(), "must be positive"))
	}
	if t.OpsPerSecond < 0 {
		allErrs = append(allErrs, field.Invalid(p.Child("opsPerSecond"), t.OpsPerSecond, "must not be negative"))
	}
	if t.OpsPerSecond > 0 && t.Burst < 1 {
		allErrs = append(allErrs, field.Invalid(p.Child("burst"), t.Burst, "must be at least 1 when rate limiting"))
	}
	if t.MaxPayload < 1 {
		allErrs = append(allErrs, field.Invalid(p.Child("maxPayload"), t.MaxPayload, "must be positive"))
	}
	if t.RSSIInterval.Duration < 0 {
		allErrs = append(allErrs, field.Invalid(p.Child("rssiInterval"), t.RSSIInterval.Duration.String(), "must not be negative"))
	}
	return allErrs
}

// ValidateMqtt validates `m` and returns an errorList if it is invalid
func ValidateMqtt(m v1alpha1.Mqtt) field.ErrorList {
	allErrs := field.ErrorList{}
	p := field.NewPath("mqtt")
	if m.Mode != v1alpha1.MqttModeInternal && m.Mode != v1alpha1.MqttModeExternal {
		allErrs = append(allErrs, field.Invalid(p.Child("mode"), m.Mode, "must be 0 or 1"))
		return allErrs
	}
	broker := m.BrokerURL()
	if u, err := url.Parse(broker); err != nil || u.Scheme == "" || u.Host == "" {
		allErrs = append(allErrs, field.Invalid(p.Child("server"), broker, "must be a broker url like tcp://127.0.0.1:1883"))
	}
	return allErrs
}

// ValidateChatLog validates `c` and returns an errorList if it is invalid
func ValidateChatLog(c v1alpha1.ChatLog) field.ErrorList {
	allErrs := field.ErrorList{}
	p := field.NewPath("chatLog")
	if c.MaxContentLength < 1 {
		allErrs = append(allErrs, field.Invalid(p.Child("maxContentLength"), c.MaxContentLength, "must be positive"))
	}
	if c.FutureTolerance.Duration < 0 {
		allErrs = append(allErrs, field.Invalid(p.Child("futureTolerance"), c.FutureTolerance.Duration.String(), "must not be negative"))
	}
	return allErrs
}

// ValidateDevices validates `devices` and returns an errorList if it is invalid
func ValidateDevices(devices []v1alpha1.Device) field.ErrorList {
	allErrs := field.ErrorList{}
	seen := sets.NewString()
	for i, d := range devices {
		p := field.NewPath("devices").Index(i)
		if _, err := net.ParseMAC(d.Address); err != nil {
			allErrs = append(allErrs, field.Invalid(p.Child("address"), d.Address, err.Error()))
			continue
		}
		addr := strings.ToUpper(d.Address)
		if seen.Has(addr) {
			allErrs = append(allErrs, field.Duplicate(p.Child("address"), d.Address))
		}
		seen.Insert(addr)
	}
	return allErrs
}

// ValidateSchedules validates `schedules` and returns an errorList if it is invalid
func ValidateSchedules(schedules []v1alpha1.Schedule) field.ErrorList {
	allErrs := field.ErrorList{}
	names := sets.NewString()
	for i, s := range schedules {
		p := field.NewPath("schedules").Index(i)
		if s.Name == "" {
			allErrs = append(allErrs, field.Required(p.Child("name"), ""))
		} else if names.Has(s.Name) {
			allErrs = append(allErrs, field.Duplicate(p.Child("name"), s.Name))
		}
		names.Insert(s.Name)
		if _, err := net.ParseMAC(s.Address); err != nil {
			allErrs = append(allErrs, field.Invalid(p.Child("address"), s.Address, err.Error()))
		}
		if f, err := ptalkv1alpha1.ParseFieldID(s.Field); err != nil {
			allErrs = append(allErrs, field.Invalid(p.Child("field"), s.Field, err.Error()))
		} else if f == ptalkv1alpha1.SaveCmd || f == ptalkv1alpha1.WifiPass {
			allErrs = append(allErrs, field.Invalid(p.Child("field"), s.Field, "field can not be read periodically"))
		}
		if s.Interval.Duration <= 0 {
			allErrs = append(allErrs, field.Invalid(p.Child("interval"), s.Interval.Duration.String(), "must be positive"))
		}
		if s.OccurrenceLimit < 0 {
			allErrs = append(allErrs, field.Invalid(p.Child("occurrenceLimit"), s.OccurrenceLimit, "must not be negative"))
		}
	}
	return allErrs
}

// ValidateMetrics validates `m` and returns an errorList if it is invalid
func ValidateMetrics(m v1alpha1.Metrics) field.ErrorList {
	if !m.Enable {
		return field.ErrorList{}
	}
	allErrs := field.ErrorList{}
	if _, _, err := net.SplitHostPort(m.Address); err != nil {
		allErrs = append(allErrs, field.Invalid(field.NewPath("metrics").Child("address"), m.Address, err.Error()))
	}
	return allErrs
}
