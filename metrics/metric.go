// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package metrics

import (
	"time"

	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "entitydb"

var (
	Registry = prometheus.NewRegistry()

	GRPCMetrics = grpcprometheus.NewServerMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = namespace
		},
	)

	CatalogOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "ops_total",
		Help:      "entity manager operations by result kind",
	}, []string{"op", "status"})

	CatalogOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "op_duration_seconds",
		Help:      "entity manager operation latency",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"op"})

	QueryRowsScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "rows_scanned_total",
		Help:      "index rows read while answering queries",
	})

	CounterIncrements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "counter",
		Name:      "increments_total",
		Help:      "counter increments by counter family",
	}, []string{"family"})

	IngestMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "messages_total",
		Help:      "queue envelopes by op and result",
	}, []string{"op", "status"})
)

func init() {
	Registry.MustRegister(
		GRPCMetrics,
		CatalogOps,
		CatalogOpDuration,
		QueryRowsScanned,
		CounterIncrements,
		IngestMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	GRPCMetrics.EnableHandlingTimeHistogram(
		func(h *prometheus.HistogramOpts) {
			h.Namespace = namespace
		},
	)
}

// ObserveOp records one finished operation, status is "ok" or the error
// kind.
func ObserveOp(op string, start time.Time, status string) {
	CatalogOps.WithLabelValues(op, status).Inc()
	CatalogOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
