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
	"os"
	"path/filepath"
	"testing"

	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/common/dbm"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "dtclient")
	if err != nil {
		klog.Fatalf("create temp dir: %v", err)
	}
	InitDBTable()
	if err := dbm.InitDBManager(dbm.DefaultDriverName, dbm.DefaultDBName, filepath.Join(dir, "ptalk.db")); err != nil {
		klog.Fatalf("init db: %v", err)
	}
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func strPtr(s string) *string {
	return &s
}
