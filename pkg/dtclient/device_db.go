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
)

// Device the struct of device. Nil columns hold profile values not synced yet.
type Device struct {
	Address    string  `orm:"column(address); size(64); pk"`
	Name       *string `orm:"column(name); null; type(text)"`
	AppVersion *string `orm:"column(app_version); null; type(text)"`
	BuildInfo  *string `orm:"column(build_info); null; type(text)"`
	DeviceID   *string `orm:"column(device_id); null; type(text)"`
}

// TableName returns the table of Device
func (d *Device) TableName() string {
	return DeviceTableName
}

// DeviceFromRecord converts a DeviceRecord into its table row.
func DeviceFromRecord(rec v1alpha1.DeviceRecord) *Device {
	c := rec.DeepCopy()
	return &Device{
		Address:    c.Address,
		Name:       c.Name,
		AppVersion: c.AppVersion,
		BuildInfo:  c.BuildInfo,
		DeviceID:   c.DeviceID,
	}
}

// Record converts a table row into a DeviceRecord.
func (d *Device) Record() v1alpha1.DeviceRecord {
	rec := v1alpha1.DeviceRecord{
		Address:    d.Address,
		Name:       d.Name,
		AppVersion: d.AppVersion,
		BuildInfo:  d.BuildInfo,
		DeviceID:   d.DeviceID,
	}
	return *rec.DeepCopy()
}

// SaveDevice save device
func SaveDevice(to orm.TxOrmer, doc *Device) error {
	num, err := to.Insert(doc)
	klog.V(4).Infof("Insert affected Num: %d, %v", num, err)
	return err
}

// UpdateDevice overwrites every column of an existing device
func UpdateDevice(to orm.TxOrmer, doc *Device) error {
	num, err := to.Update(doc)
	klog.V(4).Infof("Update affected Num: %d, %v", num, err)
	return err
}

// DeleteDeviceByAddress delete device by address
func DeleteDeviceByAddress(to orm.TxOrmer, address string) error {
	num, err := to.QueryTable(DeviceTableName).Filter("address", address).Delete()
	if err != nil {
		klog.Errorf("Something wrong when deleting data: %v", err)
		return err
	}
	klog.V(4).Infof("Delete affected Num: %d", num)
	return nil
}

// QueryDevice query device by address. It returns orm.ErrNoRows when absent.
func QueryDevice(address string) (*Device, error) {
	device := &Device{Address: address}
	if err := dbm.DBAccess.Read(device); err != nil {
		return nil, err
	}
	return device, nil
}

// QueryDeviceAll query all devices ordered by name
func QueryDeviceAll() (*[]Device, error) {
	devices := new([]Device)
	_, err := dbm.DBAccess.QueryTable(DeviceTableName).OrderBy("name", "address").All(devices)
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// UpsertDeviceTrans inserts doc or overwrites the stored row with the same address
func UpsertDeviceTrans(doc *Device) (err error) {
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

	existing := &Device{Address: doc.Address}
	err = to.Read(existing)
	switch {
	case errors.Is(err, orm.ErrNoRows):
		err = SaveDevice(to, doc)
	case err == nil:
		err = UpdateDevice(to, doc)
	}
	if err != nil {
		klog.Errorf("save device %s failed: %v", doc.Address, err)
	}
	return err
}

// DeleteDeviceTrans the transaction of delete device
func DeleteDeviceTrans(addresses []string) (err error) {
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

	for _, address := range addresses {
		err = DeleteDeviceByAddress(to, address)
		if err != nil {
			return err
		}
	}
	return err
}
