/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package metrics exposes the counters the error-handling design calls for:
// an overflow counter, a dropped-job counter, a mediator-reconnect counter,
// and per-mediator buffered-bytes gauges, served over /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BufferOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "openli",
		Name:      "export_buffer_overflow_total",
		Help:      "Records dropped because a mediator's export buffer exceeded its configured ceiling.",
	})

	JobsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openli",
		Name:      "jobs_dropped_total",
		Help:      "Jobs dropped by the exporter loop, labelled by reason.",
	}, []string{"reason"})

	MediatorReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openli",
		Name:      "mediator_reconnect_total",
		Help:      "Mediator connection attempts, labelled by outcome.",
	}, []string{"outcome"})

	MediatorBufferedBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "openli",
		Name:      "mediator_buffered_bytes",
		Help:      "Bytes currently queued in a mediator's export buffer.",
	}, []string{"mediatorid"})

	EncoderFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "openli",
		Name:      "encoder_failure_total",
		Help:      "Jobs abandoned because the encoder adaptor returned an error.",
	})
)

func init() {
	prometheus.MustRegister(BufferOverflows, JobsDropped, MediatorReconnects, MediatorBufferedBytes, EncoderFailures)
}

// Serve starts a /metrics and /healthz listener; it blocks until the
// listener fails and should be run in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(addr, mux)
}
