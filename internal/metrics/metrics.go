/*
Copyright 2026 Volume Autoscaler Authors.

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

// Package metrics defines the Prometheus collectors exposing the
// reconciler's own behavior. None of these are keyed by PVC identity —
// the scrape endpoint reports process-wide counts, and per-PVC detail is
// only ever visible via Kubernetes Events on the PVC itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// ResizeEvaluatedTotal counts every PVC considered for resizing.
	ResizeEvaluatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "volume_autoscaler_resize_evaluated_total",
		Help: "Total number of times a PVC was evaluated for resizing",
	})

	// ResizeAttemptedTotal counts every size-changing patch issued;
	// counter-only annotation patches are not counted.
	ResizeAttemptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "volume_autoscaler_resize_attempted_total",
		Help: "Total number of PVC resize attempts",
	})

	// ResizeSuccessfulTotal counts acknowledged resize patches.
	ResizeSuccessfulTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "volume_autoscaler_resize_successful_total",
		Help: "Total number of successful PVC resizes",
	})

	// ResizeFailureTotal counts resize patches the API server rejected.
	ResizeFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "volume_autoscaler_resize_failure_total",
		Help: "Total number of failed PVC resize attempts",
	})

	// IterationFailedTotal counts iterations aborted by a MetricsUnavailable error.
	IterationFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "volume_autoscaler_iteration_failed_total",
		Help: "Total number of reconciliation iterations aborted due to metrics backend failure",
	})

	// IterationOverrunTotal counts iterations that took longer than interval_time.
	IterationOverrunTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "volume_autoscaler_iteration_overrun_total",
		Help: "Total number of reconciliation iterations that overran their interval",
	})

	// NumValidPVCs is the count of PVCs considered (measured and not skipped) this iteration.
	NumValidPVCs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "volume_autoscaler_num_valid_pvcs",
		Help: "Number of valid PVCs detected which we found to consider for scaling",
	})

	// NumUnmeasuredPVCs is the count of PVCs listed from the cluster this
	// iteration for which the metrics backend reported no observation.
	NumUnmeasuredPVCs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "volume_autoscaler_num_unmeasured_pvcs",
		Help: "Number of bound PVCs for which no metrics observation was available this iteration",
	})

	// NumPVCsAboveThreshold is the count of PVCs triggering this iteration.
	NumPVCsAboveThreshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "volume_autoscaler_num_pvcs_above_threshold",
		Help: "Number of PVCs detected above the desired percentage threshold",
	})

	// NumPVCsBelowThreshold is the count of PVCs not triggering this iteration.
	NumPVCsBelowThreshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "volume_autoscaler_num_pvcs_below_threshold",
		Help: "Number of PVCs detected below the desired percentage threshold",
	})

	// ReleaseInfo and SettingsInfo emulate Python's Info metric type, which
	// client_golang has no direct equivalent for: a single-element GaugeVec
	// set to 1, with the informational fields carried as labels.
	ReleaseInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "volume_autoscaler_release_info",
		Help: "Release/version information about this volume autoscaler service",
	}, []string{"version", "git_commit"})

	SettingsInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "volume_autoscaler_settings_info",
		Help: "Settings currently used by this service",
	}, []string{
		"interval_time_seconds", "scale_above_percent", "scale_after_intervals", "scale_up_percent",
		"scale_up_minimum_increment_bytes", "scale_up_maximum_increment_bytes", "scale_up_maximum_size_bytes",
		"scale_cooldown_time_seconds", "gcp_project_id", "dry_run", "gmp_label_match",
		"http_timeout_seconds", "verbose_enabled",
	})
)

func init() {
	metrics.Registry.MustRegister(
		ResizeEvaluatedTotal,
		ResizeAttemptedTotal,
		ResizeSuccessfulTotal,
		ResizeFailureTotal,
		IterationFailedTotal,
		IterationOverrunTotal,
		NumValidPVCs,
		NumUnmeasuredPVCs,
		NumPVCsAboveThreshold,
		NumPVCsBelowThreshold,
		ReleaseInfo,
		SettingsInfo,
	)
}

// SetSettingsInfo publishes the resolved configuration as the
// settings_info gauge, replacing any previously published label set.
func SetSettingsInfo(labels map[string]string) {
	SettingsInfo.Reset()
	SettingsInfo.With(labels).Set(1)
}

// SetReleaseInfo publishes build version information as the release_info gauge.
func SetReleaseInfo(version, gitCommit string) {
	ReleaseInfo.Reset()
	ReleaseInfo.WithLabelValues(version, gitCommit).Set(1)
}
