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

package syncengine

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/characteristic"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/registry"
)

// ReadField reads and decodes f from address. Reads of profile fields update
// the DeviceRecord. Failures are returned as is and never retried.
func (e *Engine) ReadField(ctx context.Context, address string, f v1alpha1.FieldID) (interface{}, error) {
	address = registry.NormalizeAddress(address)
	if !f.IsValid() {
		return nil, &mappercommon.ValidationError{Field: f, Reason: "unknown field"}
	}
	if !characteristic.Readable(f) {
		return nil, &mappercommon.UnsupportedOperationError{Field: f, Op: "read"}
	}
	id := characteristic.Resolve(f)
	return e.submit(ctx, address, f, opRead, func(ctx context.Context, w *worker) (interface{}, error) {
		payload, err := e.transport.ReadCharacteristic(ctx, w.handle, id.Service, id.Characteristic)
		if err != nil {
			return nil, err
		}
		value, err := e.codec.Decode(f, payload)
		if err != nil {
			return nil, err
		}
		if v1alpha1.IsProfileField(f) {
			if err := e.recordProfile(address, map[v1alpha1.FieldID]string{f: value.(string)}); err != nil {
				return nil, err
			}
		}
		klog.V(4).Infof("Read %s from %s: %v", f, address, value)
		return value, nil
	})
}

// WriteField validates value and writes it to f on address. Invalid values are
// rejected before anything is queued. Profile values only reach the
// DeviceRecord after a successful Commit.
func (e *Engine) WriteField(ctx context.Context, address string, f v1alpha1.FieldID, value interface{}) error {
	address = registry.NormalizeAddress(address)
	if f == v1alpha1.SaveCmd || (f.IsValid() && !characteristic.Writable(f)) {
		return &mappercommon.UnsupportedOperationError{Field: f, Op: "write"}
	}
	payload, err := e.codec.Encode(f, value)
	if err != nil {
		return err
	}
	id := characteristic.Resolve(f)
	_, err = e.submit(ctx, address, f, opWrite, func(ctx context.Context, w *worker) (interface{}, error) {
		if err := e.transport.WriteCharacteristic(ctx, w.handle, id.Service, id.Characteristic, payload); err != nil {
			return nil, err
		}
		if v1alpha1.IsProfileField(f) {
			w.staged[f] = string(payload)
		}
		klog.V(4).Infof("Wrote %s to %s", f, address)
		return nil, nil
	})
	return err
}

// Commit writes the save trigger to address. On success every profile value
// written since the previous commit is applied to the DeviceRecord; a failure
// to store the record is logged and does not fail the commit.
func (e *Engine) Commit(ctx context.Context, address string) error {
	address = registry.NormalizeAddress(address)
	payload, err := e.codec.Encode(v1alpha1.SaveCmd, nil)
	if err != nil {
		return err
	}
	id := characteristic.Resolve(v1alpha1.SaveCmd)
	_, err = e.submit(ctx, address, v1alpha1.SaveCmd, opCommit, func(ctx context.Context, w *worker) (interface{}, error) {
		if err := e.transport.WriteCharacteristic(ctx, w.handle, id.Service, id.Characteristic, payload); err != nil {
			return nil, err
		}
		// The peripheral has saved, so the commit stands even if the record
		// cannot be updated.
		if len(w.staged) > 0 {
			staged := w.staged
			w.staged = map[v1alpha1.FieldID]string{}
			if err := e.recordProfile(address, staged); err != nil {
				klog.Errorf("Committed %s but failed to record its profile: %v", address, err)
			}
		}
		klog.Infof("Committed configuration of %s", address)
		return nil, nil
	})
	return err
}

func (e *Engine) recordProfile(address string, values map[v1alpha1.FieldID]string) error {
	if _, err := e.registry.Ensure(address); err != nil {
		return err
	}
	if _, err := e.registry.UpdateProfile(address, values); err != nil {
		return fmt.Errorf("record profile of %s: %w", address, err)
	}
	return nil
}

// ProvisionRequest lists the settings applied by Provision. Nil fields are left unchanged.
type ProvisionRequest struct {
	DeviceName *string `json:"deviceName,omitempty"`
	WifiSsid   *string `json:"wifiSsid,omitempty"`
	WifiPass   *string `json:"wifiPass,omitempty"`
	Volume     *int    `json:"volume,omitempty"`
	Brightness *int    `json:"brightness,omitempty"`
}

// ProvisionResult is the identity read back after provisioning.
type ProvisionResult struct {
	AppVersion string `json:"appVersion"`
	BuildInfo  string `json:"buildInfo"`
	DeviceID   string `json:"deviceId"`
}

type fieldValue struct {
	field v1alpha1.FieldID
	value interface{}
}

func (r ProvisionRequest) writes() []fieldValue {
	var out []fieldValue
	if r.DeviceName != nil {
		out = append(out, fieldValue{v1alpha1.DeviceName, *r.DeviceName})
	}
	if r.WifiSsid != nil {
		out = append(out, fieldValue{v1alpha1.WifiSsid, *r.WifiSsid})
	}
	if r.WifiPass != nil {
		out = append(out, fieldValue{v1alpha1.WifiPass, *r.WifiPass})
	}
	if r.Volume != nil {
		out = append(out, fieldValue{v1alpha1.Volume, *r.Volume})
	}
	if r.Brightness != nil {
		out = append(out, fieldValue{v1alpha1.Brightness, *r.Brightness})
	}
	return out
}

// Provision applies req to address in one pass: every value is validated
// first, then written, committed, and the device identity is read back.
func (e *Engine) Provision(ctx context.Context, address string, req ProvisionRequest) (*ProvisionResult, error) {
	address = registry.NormalizeAddress(address)
	writes := req.writes()
	for _, fv := range writes {
		if _, err := e.codec.Encode(fv.field, fv.value); err != nil {
			return nil, err
		}
	}
	if err := e.Connect(ctx, address); err != nil {
		return nil, err
	}
	for _, fv := range writes {
		if err := e.WriteField(ctx, address, fv.field, fv.value); err != nil {
			return nil, err
		}
	}
	if err := e.Commit(ctx, address); err != nil {
		return nil, err
	}

	res := &ProvisionResult{}
	for _, r := range []struct {
		field v1alpha1.FieldID
		dst   *string
	}{
		{v1alpha1.AppVersion, &res.AppVersion},
		{v1alpha1.BuildInfo, &res.BuildInfo},
		{v1alpha1.DeviceID, &res.DeviceID},
	} {
		v, err := e.ReadField(ctx, address, r.field)
		if err != nil {
			return nil, err
		}
		*r.dst = v.(string)
	}
	klog.Infof("Provisioned %s: app %s, build %s", address, res.AppVersion, res.BuildInfo)
	return res, nil
}
