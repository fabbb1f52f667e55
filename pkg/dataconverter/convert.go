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

package dataconverter

import (
	"fmt"
	"math"
	"strconv"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/characteristic"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
)

// Convert turns a loosely typed value, as decoded from JSON or a config file,
// into the Go type Encode expects for field f.
func Convert(f v1alpha1.FieldID, value interface{}) (interface{}, error) {
	switch characteristic.KindOf(f) {
	case characteristic.Percent:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, &mappercommon.ValidationError{Field: f, Value: v, Reason: "not an integer"}
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, &mappercommon.ValidationError{Field: f, Value: v, Reason: "not an integer"}
			}
			return n, nil
		}
	case characteristic.Text, characteristic.Opaque:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case characteristic.Command:
		return value, nil
	}
	return nil, &mappercommon.ValidationError{Field: f, Value: value, Reason: fmt.Sprintf("cannot convert %T", value)}
}
