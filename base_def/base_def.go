//
// Copyright 2026 Observatory Control Systems.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
//
// observatory shared constant definitions, Go

package base_def

const (
	ROUTER_ZMQ_PROTOCOL = "tcp"
	ROUTER_ZMQ_URL      = "*"
	ROUTER_ZMQ_PORT     = 5559

	TREED_PROMETHEUS_PORT = ":3600"

	NATS_DEFAULT_HOST = "localhost"
	NATS_DEFAULT_PORT = 4222

	STREAM_ALPACA_CONFIG = "tic.config.observatory"
	STREAM_PLAN          = "tic.status.%s.program.current"
	STREAM_STATUS        = "tic.status.%s.program.state"

	// Fraction of the remaining request budget granted to a device call
	// when the adapter configuration does not supply a usable value.
	ADAPTER_TIMEOUT_MULTIPLIER = 0.8

	// Freezer defaults, overridable per component or per component type.
	FREEZER_MAX_UNSUCCESSFUL_REFRESHES = 3
	FREEZER_ALARM_TIMEOUT_OFFSET       = 1.0
	FREEZER_MIN_TOLERANCE              = 0.5

	// Reservation TTL bounds for access blockers, seconds.
	BLOCKER_DEFAULT_CONTROL_TIME = 0.0
	BLOCKER_MAX_CONTROL_TIME     = 60.0
)
