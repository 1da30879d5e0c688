// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	StatusSuccess = "success"
)

var (
	handlerCurrent      atomic.Int32
	transceiverCurrent  atomic.Int32
	dataChannelCurrent  atomic.Int32
	connectionCurrent   atomic.Int32
	requestsTotal       atomic.Uint64
	notificationsTotal  atomic.Uint64
	outboundEventsTotal atomic.Uint64

	// vectors exist before Init so handlers can record without a registry, as in tests
	promRequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: workerNamespace,
		Subsystem: "handler",
		Name:      "requests",
	}, []string{"method", "status"})
	promNotificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: workerNamespace,
		Subsystem: "handler",
		Name:      "notifications",
	}, []string{"event", "status"})
	promOutboundCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: workerNamespace,
		Subsystem: "handler",
		Name:      "outbound_events",
	}, []string{"event"})
	promHandlerCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: workerNamespace,
		Subsystem: "handler",
		Name:      "total",
	})
	promTransceiverCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: workerNamespace,
		Subsystem: "transceiver",
		Name:      "total",
	})
	promDataChannelCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: workerNamespace,
		Subsystem: "datachannel",
		Name:      "total",
	})
	promConnectionCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: workerNamespace,
		Subsystem: "channel",
		Name:      "connections",
	})
)

func initHandlerStats(registerer prometheus.Registerer) {
	registerer.MustRegister(promRequestCounter)
	registerer.MustRegister(promNotificationCounter)
	registerer.MustRegister(promOutboundCounter)
	registerer.MustRegister(promHandlerCurrent)
	registerer.MustRegister(promTransceiverCurrent)
	registerer.MustRegister(promDataChannelCurrent)
	registerer.MustRegister(promConnectionCurrent)
}

func RecordRequest(method string, status string) {
	promRequestCounter.WithLabelValues(method, status).Inc()
	requestsTotal.Inc()
}

func RecordNotification(event string, status string) {
	promNotificationCounter.WithLabelValues(event, status).Inc()
	notificationsTotal.Inc()
}

func RecordOutboundEvent(event string) {
	promOutboundCounter.WithLabelValues(event).Inc()
	outboundEventsTotal.Inc()
}

func AddHandler() {
	promHandlerCurrent.Add(1)
	handlerCurrent.Inc()
}

func SubHandler() {
	promHandlerCurrent.Sub(1)
	handlerCurrent.Dec()
}

func AddTransceiver() {
	promTransceiverCurrent.Add(1)
	transceiverCurrent.Inc()
}

func SubTransceiver(n int) {
	promTransceiverCurrent.Sub(float64(n))
	transceiverCurrent.Sub(int32(n))
}

func AddDataChannel() {
	promDataChannelCurrent.Add(1)
	dataChannelCurrent.Inc()
}

func SubDataChannel(n int) {
	promDataChannelCurrent.Sub(float64(n))
	dataChannelCurrent.Sub(int32(n))
}

func AddConnection() {
	promConnectionCurrent.Add(1)
	connectionCurrent.Inc()
}

func SubConnection() {
	promConnectionCurrent.Sub(1)
	connectionCurrent.Dec()
}
