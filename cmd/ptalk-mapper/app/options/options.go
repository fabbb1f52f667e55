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

package options

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/validation/field"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/componentconfig/mapper/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/apis/componentconfig/mapper/v1alpha1/validation"
)

type MapperOptions struct {
	ConfigFile string
	// DataSource and RelayServer override the configuration file when set.
	DataSource  string
	RelayServer string
}

func NewMapperOptions() *MapperOptions {
	return &MapperOptions{
		ConfigFile: v1alpha1.DefaultConfigFile,
	}
}

func (o *MapperOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.AddFlags(fss.FlagSet("global"))
	return
}

// AddFlags adds the mapper flags to fs.
func (o *MapperOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "The path to the configuration file. Flags override values in this file.")
	fs.StringVar(&o.DataSource, "db-path", o.DataSource, "The sqlite database file, overriding database.dataSource.")
	fs.StringVar(&o.RelayServer, "relay-server", o.RelayServer, "The websocket relay url, overriding transport.relayServer.")
}

func (o *MapperOptions) Validate() []error {
	var errs []error
	if _, err := os.Stat(o.ConfigFile); err != nil {
		errs = append(errs, field.Required(field.NewPath("config"),
			fmt.Sprintf("config file %v not exist", o.ConfigFile)))
	}
	return errs
}

// Config loads the configuration file over the defaults, applies flag
// overrides and validates the result.
func (o *MapperOptions) Config() (*v1alpha1.MapperConfig, error) {
	c := v1alpha1.NewDefaultMapperConfig()
	if err := c.Parse(o.ConfigFile); err != nil {
		return nil, err
	}
	if o.DataSource != "" {
		c.Database.DataSource = o.DataSource
	}
	if o.RelayServer != "" {
		c.Transport.RelayServer = o.RelayServer
	}
	if errs := validation.ValidateMapperConfiguration(c); len(errs) > 0 {
		return nil, utilerrors.Flatten(errs.ToAggregate())
	}
	return c, nil
}
