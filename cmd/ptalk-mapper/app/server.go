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

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/cmd/ptalk-mapper/app/options"
	config "github.com/kubeedge/ptalk-mapper/pkg/apis/componentconfig/mapper/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/chatlog"
	"github.com/kubeedge/ptalk-mapper/pkg/common/dbm"
	"github.com/kubeedge/ptalk-mapper/pkg/controller"
	"github.com/kubeedge/ptalk-mapper/pkg/dtclient"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/monitor"
	"github.com/kubeedge/ptalk-mapper/pkg/registry"
	"github.com/kubeedge/ptalk-mapper/pkg/syncengine"
	"github.com/kubeedge/ptalk-mapper/pkg/transport"
	"github.com/kubeedge/ptalk-mapper/pkg/transport/gatt"
	"github.com/kubeedge/ptalk-mapper/pkg/transport/wsrelay"
)

// NewMapperCommand create ptalk-mapper cmd
func NewMapperCommand() *cobra.Command {
	opts := options.NewMapperOptions()
	cmd := &cobra.Command{
		Use: "ptalk-mapper",
		Long: `ptalk-mapper keeps the configuration of ptalk speakers in sync over Bluetooth LE.
It connects the configured devices, serves field reads, writes and commits requested
on MQTT topics, records chat logs and reports device state and profile twins.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliflag.PrintFlags(cmd.Flags())

			if errs := opts.Validate(); len(errs) > 0 {
				return fmt.Errorf("invalid options: %v", errs)
			}
			c, err := opts.Config()
			if err != nil {
				klog.Errorf("Failed to load configuration: %v", err)
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, c)
		},
	}
	fs := cmd.Flags()
	namedFs := opts.Flags()
	globalflag.AddGlobalFlags(namedFs.FlagSet("global"), cmd.Name())
	for _, f := range namedFs.FlagSets {
		fs.AddFlagSet(f)
	}

	usageFmt := "Usage:\n  %s\n"
	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cmd.SetUsageFunc(func(cmd *cobra.Command) error {
		fmt.Fprintf(cmd.OutOrStderr(), usageFmt, cmd.UseLine())
		cliflag.PrintSections(cmd.OutOrStderr(), namedFs, cols)
		return nil
	})
	cmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n"+usageFmt, cmd.Long, cmd.UseLine())
		cliflag.PrintSections(cmd.OutOrStdout(), namedFs, cols)
	})

	return cmd
}

// newTransport opens the peripheral link selected by c.
func newTransport(c *config.Transport) (transport.Transport, error) {
	switch c.Type {
	case config.TransportWSRelay:
		return wsrelay.New(wsrelay.Options{
			ServerURL:      c.RelayServer,
			ClientType:     c.RelayClientType,
			RequestTimeout: c.OperationTimeout.Duration,
		}), nil
	case config.TransportGATT:
		return gatt.New(gatt.Options{RSSIInterval: c.RSSIInterval.Duration})
	}
	return nil, fmt.Errorf("unsupported transport %q", c.Type)
}

// Run starts the mapper and blocks until ctx is done.
func Run(ctx context.Context, c *config.MapperConfig) error {
	dtclient.InitDBTable()
	if err := dbm.InitDBManager(c.Database.DriverName, c.Database.AliasName, c.Database.DataSource); err != nil {
		return err
	}

	devices := registry.New(dtclient.NewDeviceStore())
	if err := devices.Load(); err != nil {
		return err
	}
	chats := chatlog.NewStore(chatlog.Options{
		MaxContentLength: c.ChatLog.MaxContentLength,
		FutureTolerance:  c.ChatLog.FutureTolerance.Duration,
	}, dtclient.NewChatPersister())
	if err := chats.Load(); err != nil {
		return err
	}

	link, err := newTransport(c.Transport)
	if err != nil {
		return err
	}
	defer link.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engine, err := syncengine.New(link, devices, nil, syncengine.Options{
		MaxPayload:       c.Transport.MaxPayload,
		ConnectTimeout:   c.Transport.ConnectTimeout.Duration,
		OperationTimeout: c.Transport.OperationTimeout.Duration,
		OpsPerSecond:     c.Transport.OpsPerSecond,
		Burst:            c.Transport.Burst,
		AutoConnect:      true,
		Registerer:       promRegistry,
	})
	if err != nil {
		return err
	}
	metrics, err := monitor.NewMetrics(promRegistry)
	if err != nil {
		return err
	}

	client := &mappercommon.MqttClient{
		IP:     c.Mqtt.BrokerURL(),
		User:   c.Mqtt.Username,
		Passwd: c.Mqtt.Password,
		Cert:   c.Mqtt.Cert,
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect to broker %s: %w", client.IP, err)
	}
	defer client.Disconnect()
	klog.Infof("Connected to MQTT broker %s", client.IP)

	ctl, err := controller.New(engine, chats, link.Events(), client, metrics, controller.Options{
		Devices:      c.Devices,
		Schedules:    c.Schedules,
		TickInterval: c.LastSeenTickInterval.Duration,
	})
	if err != nil {
		return err
	}

	if c.Metrics.Enable {
		go func() {
			if err := monitor.ServeMonitor(ctx, *c.Metrics, promRegistry); err != nil {
				klog.Errorf("Monitor server failed: %v", err)
			}
		}()
	}
	return ctl.Start(ctx)
}
