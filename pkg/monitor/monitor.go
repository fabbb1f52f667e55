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

package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	config "github.com/kubeedge/ptalk-mapper/pkg/apis/componentconfig/mapper/v1alpha1"
)

const (
	metricNamespace = "ptalk_mapper"

	// ControllerSubsystem - subsystem name used by the mapper controller
	ControllerSubsystem = "controller"
)

// Metrics are the daemon level collectors.
type Metrics struct {
	ConnectedDevices prometheus.Gauge
	ChatMessages     *prometheus.CounterVec
	MqttRequests     *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on r.
func NewMetrics(r prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ConnectedDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Subsystem: ControllerSubsystem,
				Name:      "connected_devices",
				Help:      "Number of devices with a live session",
			},
		),
		ChatMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Subsystem: ControllerSubsystem,
				Name:      "chat_messages_total",
				Help:      "Chat messages appended, labeled by source and result",
			},
			[]string{"source", "result"},
		),
		MqttRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Subsystem: ControllerSubsystem,
				Name:      "mqtt_requests_total",
				Help:      "Requests received on mapper topics, labeled by kind and status",
			},
			[]string{"kind", "status"},
		),
	}
	for _, c := range []prometheus.Collector{m.ConnectedDevices, m.ChatMessages, m.MqttRequests} {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func InstallHandlerForPProf(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// NewHandler returns the mux serving g on /metrics.
func NewHandler(g prometheus.Gatherer, profiling bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	if profiling {
		InstallHandlerForPProf(mux)
	}
	return mux
}

// ServeMonitor serves monitoring metrics until ctx is done.
func ServeMonitor(ctx context.Context, cfg config.Metrics, g prometheus.Gatherer) error {
	s := http.Server{
		Addr:              cfg.Address,
		Handler:           NewHandler(g, cfg.EnableProfiling),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.Shutdown(ctx); err != nil {
			klog.Errorf("Server shutdown failed: %v", err)
		}
	}()

	klog.Infof("starting monitor server on addr: %s", cfg.Address)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
