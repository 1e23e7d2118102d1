/*
Copyright 2025.

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

// Package metrics defines the Prometheus instrumentation exposed on
// the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts events folded into the monitor's state.
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crabd_monitor_events_processed_total",
		Help: "Number of job events processed by the monitor",
	})

	// AlarmsRaised counts monitor-generated alarms by outcome.
	AlarmsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crabd_monitor_alarms_total",
		Help: "Number of alarms raised by the monitor",
	}, []string{"status"})

	// JobsWarning is the number of jobs currently in a warning state.
	JobsWarning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crabd_jobs_warning",
		Help: "Jobs whose most recent status is a warning",
	})

	// JobsError is the number of jobs currently in an error state.
	JobsError = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crabd_jobs_error",
		Help: "Jobs whose most recent status is an error",
	})

	// ReportsReceived counts client start and finish reports by kind.
	ReportsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crabd_reports_received_total",
		Help: "Number of client reports received over the API",
	}, []string{"kind"})

	// NotificationsSent counts delivered notification reports.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crabd_notifications_sent_total",
		Help: "Number of notification reports handed to a reporter",
	}, []string{"method"})

	// CleanRuns counts completed retention clean passes.
	CleanRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crabd_clean_runs_total",
		Help: "Number of retention clean passes completed",
	})
)
