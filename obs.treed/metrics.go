/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"obs/base_def"
)

var metrics = struct {
	received prometheus.Counter
	answered prometheus.Counter
	dropped  prometheus.Counter
	expired  prometheus.Counter
	service  prometheus.Counter
}{
	received: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "treed_requests_received",
		Help: "envelopes accepted from the front socket",
	}),
	answered: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "treed_requests_answered",
		Help: "envelopes answered",
	}),
	dropped: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "treed_requests_dropped",
		Help: "malformed or expired envelopes dropped without answer",
	}),
	expired: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "treed_requests_expired",
		Help: "envelopes whose handling outlived the client deadline",
	}),
	service: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "treed_service_commands",
		Help: "router-level service commands handled",
	}),
}

func prometheusInit() {
	prometheus.MustRegister(metrics.received)
	prometheus.MustRegister(metrics.answered)
	prometheus.MustRegister(metrics.dropped)
	prometheus.MustRegister(metrics.expired)
	prometheus.MustRegister(metrics.service)

	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(base_def.TREED_PROMETHEUS_PORT, nil)
}
