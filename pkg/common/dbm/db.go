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

package dbm

import (
	"os"
	"strings"
	"sync"

	"github.com/beego/beego/v2/client/orm"
	//Blank import to run only the init function
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DefaultDriverName is sqlite3
	DefaultDriverName = "sqlite3"
	// DefaultDBName is default
	DefaultDBName = "default"
	// DefaultDataSource is ptalk.db
	DefaultDataSource = "/var/lib/kubeedge/ptalk.db"
)

var (
	// DBAccess is Ormer object interface for all transaction processing and switching database
	DBAccess orm.Ormer
	// DefaultOrmFunc returns the ormer used to begin transactions
	DefaultOrmFunc = func() orm.Ormer {
		return DBAccess
	}

	dataSource string
	onceDB     sync.Once
	initErr    error
)

// RegisterModel registers the defined models in the orm. It must be called
// before InitDBManager.
func RegisterModel(models ...interface{}) {
	orm.RegisterModel(models...)
	for _, m := range models {
		klog.V(4).Infof("DB meta %T has been registered", m)
	}
}

// InitDBManager initialises the database by syncing the database schema and creating orm.
// Only the first call does any work; later calls return its result.
func InitDBManager(driverName, dbName, source string) error {
	onceDB.Do(func() {
		if driverName == "" {
			driverName = DefaultDriverName
		}
		if dbName == "" {
			dbName = DefaultDBName
		}
		if source == "" {
			source = DefaultDataSource
		}
		dataSource = source

		if err := orm.RegisterDriver(driverName, orm.DRSqlite); err != nil {
			initErr = errors.Wrap(err, "failed to register driver")
			return
		}
		if err := orm.RegisterDataBase(dbName, driverName, source); err != nil {
			initErr = errors.Wrapf(err, "failed to register db %s", source)
			return
		}
		// sync database schema
		if err := orm.RunSyncdb(dbName, false, true); err != nil {
			initErr = errors.Wrap(err, "failed to sync database schema")
			return
		}

		// create orm
		DBAccess = orm.NewOrmUsingDB(dbName)
		klog.Infof("Database %s opened with driver %s", source, driverName)
	})
	return initErr
}

// RollbackTransaction rolls back to and logs the failure, if any.
func RollbackTransaction(to orm.TxOrmer) {
	if err := to.Rollback(); err != nil {
		klog.Errorf("failed to rollback transaction: %v", err)
	}
}

// Cleanup cleans up resources
func Cleanup() {
	cleanDBFile(dataSource)
}

// cleanDBFile removes db file
func cleanDBFile(fileName string) {
	if fileName == "" {
		return
	}
	err := os.Remove(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			klog.Infof("DB file %s is not existing", fileName)
		} else {
			klog.Errorf("Failed to remove DB file %s: %v", fileName, err)
		}
	}
}

// IsNonUniqueNameError tests if the error returned by sqlite is unique.
// It will check various sqlite versions.
func IsNonUniqueNameError(err error) bool {
	if err == nil {
		return false
	}
	str := err.Error()
	if strings.HasSuffix(str, "are not unique") || strings.Contains(str, "UNIQUE constraint failed") || strings.HasSuffix(str, "constraint failed") {
		return true
	}
	return false
}
