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

// Package reconciler is the central per-iteration algorithm: it joins
// metric observations with PVC snapshots, advances each PVC's hysteresis
// counter, and decides whether, and by how much, to resize. It composes
// every other internal package; nothing downstream of it depends on it.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devops-nirvana/volume-autoscaler/internal/cluster"
	"github.com/devops-nirvana/volume-autoscaler/internal/errs"
	"github.com/devops-nirvana/volume-autoscaler/internal/humanize"
	appmetrics "github.com/devops-nirvana/volume-autoscaler/internal/metrics"
	"github.com/devops-nirvana/volume-autoscaler/internal/notifier"
	"github.com/devops-nirvana/volume-autoscaler/internal/policy"
	"github.com/devops-nirvana/volume-autoscaler/internal/sizing"
	"github.com/devops-nirvana/volume-autoscaler/internal/state"
	"github.com/devops-nirvana/volume-autoscaler/internal/types"
)

// MetricsAdapter is the subset of metricsquery.Adapter the reconciler needs.
type MetricsAdapter interface {
	FetchObservations(ctx context.Context) (map[types.Identity]types.MetricObservation, error)
}

// ClusterAdapter is the subset of cluster.Adapter the reconciler needs.
type ClusterAdapter interface {
	ListPVCs(ctx context.Context) ([]types.PVCSnapshot, error)
	PatchSize(ctx context.Context, id types.Identity, newSizeBytes *int64, lastResizedAt time.Time, counter int) error
	EmitEvent(id types.Identity, severity cluster.Severity, reason, message string)
}

// Notifier is the subset of notifier.Notifier the reconciler needs.
type Notifier interface {
	Send(ctx context.Context, body string, severity notifier.Severity)
}

// resizeDebounceTTL bounds how long the in-process "just resized" marker
// survives. It exists only to guard against a same-tick double-fire when
// the operator has configured a cooldown of 0; the durable annotation
// cooldown is what correctness actually depends on.
const resizeDebounceTTL = 60 * time.Second

// Reconciler runs one iteration of the control loop.
type Reconciler struct {
	metrics  MetricsAdapter
	cluster  ClusterAdapter
	notifier Notifier
	global   types.ScalingPolicy
	dryRun   bool
	logger   *slog.Logger

	debounceMu sync.Mutex
	debounce   map[types.Identity]time.Time
}

// New builds a Reconciler.
func New(metrics MetricsAdapter, clusterAdapter ClusterAdapter, notif Notifier, global types.ScalingPolicy, dryRun bool, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		metrics:  metrics,
		cluster:  clusterAdapter,
		notifier: notif,
		global:   global,
		dryRun:   dryRun,
		logger:   logger,
		debounce: make(map[types.Identity]time.Time),
	}
}

// RunOnce executes a single reconciliation iteration: fetch observations,
// list PVCs, and process every measured PVC through the per-PVC state
// machine. A MetricsAdapter failure aborts the entire iteration before any
// PVC is touched.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	observations, err := r.metrics.FetchObservations(ctx)
	if err != nil {
		appmetrics.IterationFailedTotal.Inc()
		return err
	}

	pvcs, err := r.cluster.ListPVCs(ctx)
	if err != nil {
		// A list failure against the cluster is per-call, not fatal to the
		// iteration as a whole — there is simply nothing to reconcile.
		r.logger.Error("listing PVCs failed", "error", err)
		return nil
	}

	var numAbove, numBelow, numValid, numUnmeasured int

	for _, pvc := range pvcs {
		obs, measured := observations[pvc.Identity]
		if !measured {
			numUnmeasured++
			continue
		}
		numValid++
		triggered := r.processPVC(ctx, pvc, obs)
		if triggered {
			numAbove++
		} else {
			numBelow++
		}
	}

	appmetrics.NumValidPVCs.Set(float64(numValid))
	appmetrics.NumUnmeasuredPVCs.Set(float64(numUnmeasured))
	appmetrics.NumPVCsAboveThreshold.Set(float64(numAbove))
	appmetrics.NumPVCsBelowThreshold.Set(float64(numBelow))

	return nil
}

// processPVC runs the per-PVC state machine for one measured PVC and
// reports whether this iteration's observation triggered (was at or above
// threshold on either axis).
func (r *Reconciler) processPVC(ctx context.Context, pvc types.PVCSnapshot, obs types.MetricObservation) bool {
	appmetrics.ResizeEvaluatedTotal.Inc()

	effective, candidateFree := policy.Resolve(r.logger, r.global, pvc)

	usedPct := obs.UsedPercent
	if obs.HasInodeData && obs.InodePercent > usedPct {
		usedPct = obs.InodePercent
	}
	triggered := usedPct >= effective.ThresholdPercent

	current := state.Counter(pvc.Annotations)
	lastResizedAt := state.LastResizedAt(pvc.Annotations)

	if !triggered {
		if current != 0 {
			r.patchCounterOnly(ctx, pvc.Identity, lastResizedAt, 0)
		}
		return false
	}

	// Candidate-free: ignored or the storage class doesn't allow expansion.
	// Visibility only — the counter is left untouched per the state
	// machine's "cancel in-flight increment" rule for ignore, but a
	// capability loss still resets it with a warning event.
	if effective.Ignore {
		return true
	}
	if candidateFree {
		r.cluster.EmitEvent(pvc.Identity, cluster.SeverityWarning, cluster.ReasonAtMaxSize,
			"scale-up-max-size is below the PVC's requested size; this PVC will not be resized")
		return true
	}
	if !pvc.AllowVolumeExpansion {
		err := errs.New(errs.CapabilityError, fmt.Sprintf("storage class %q does not allow volume expansion", pvc.StorageClassName), nil)
		r.logger.Warn("PVC cannot be resized", "pvc", pvc.Identity.String(), "error", err)
		r.cluster.EmitEvent(pvc.Identity, cluster.SeverityWarning, cluster.ReasonStorageClassNotExpandable, err.Error())
		r.patchCounterOnly(ctx, pvc.Identity, lastResizedAt, 0)
		return true
	}

	next := current + 1
	if next < effective.IntervalsAboveThreshold {
		r.patchCounterOnly(ctx, pvc.Identity, lastResizedAt, next)
		return true
	}

	// Counter has reached the threshold.
	if time.Since(lastResizedAt) < effective.CooldownPeriod {
		// Clamp to after-1 so a single post-cooldown triggering
		// observation fires the resize, rather than waiting out the
		// whole intervals-above-threshold window again.
		r.patchCounterOnly(ctx, pvc.Identity, lastResizedAt, effective.IntervalsAboveThreshold-1)
		return true
	}

	r.attemptResize(ctx, pvc, effective)
	return true
}

// attemptResize computes the target size and either patches it in or
// records the at-max / dry-run / debounced outcomes, per the Trigger branch
// of the state machine.
func (r *Reconciler) attemptResize(ctx context.Context, pvc types.PVCSnapshot, effective types.ScalingPolicy) {
	currentBytes := pvc.RequestedSize.Value()
	target := sizing.TargetBytes(currentBytes, effective)

	if sizing.AtCeiling(target, currentBytes) {
		now := time.Now()
		r.cluster.EmitEvent(pvc.Identity, cluster.SeverityWarning, cluster.ReasonAtMaxSize,
			fmt.Sprintf("volume is at or beyond its configured ceiling of %s", humanize.Bytes(effective.MaxSize)))
		if !r.dryRun {
			// Setting last_resize_time here rate-limits the at-max event
			// to once per cooldown window without pretending a resize
			// happened; the counter still resets so we don't re-fire
			// this same warning every single iteration.
			r.patchForAtMax(ctx, pvc.Identity, now)
		}
		return
	}

	if r.debounced(pvc.Identity) {
		r.logger.Info("skipping resize, debounced against a very recent resize of the same PVC", "pvc", pvc.Identity.String())
		return
	}

	message := fmt.Sprintf(
		"scaling up %s by %.0f%% from %s to %s, usage exceeded %.0f%% threshold",
		pvc.Identity.String(), effective.IncreasePercent, humanize.Bytes(currentBytes), humanize.Bytes(target), effective.ThresholdPercent,
	)
	r.cluster.EmitEvent(pvc.Identity, cluster.SeverityNormal, cluster.ReasonResizeTriggered, message)

	if r.dryRun {
		r.logger.Info("dry-run: would resize PVC", "pvc", pvc.Identity.String(), "from", currentBytes, "to", target)
		return
	}

	appmetrics.ResizeAttemptedTotal.Inc()
	now := time.Now()
	target64 := target
	if err := r.cluster.PatchSize(ctx, pvc.Identity, &target64, now, 0); err != nil {
		appmetrics.ResizeFailureTotal.Inc()
		r.logger.Error("resize patch failed", "pvc", pvc.Identity.String(), "error", err)
		r.cluster.EmitEvent(pvc.Identity, cluster.SeverityWarning, cluster.ReasonResizeFailed, err.Error())
		r.notifier.Send(ctx, message+" — FAILED: "+err.Error(), notifier.SeverityError)
		return
	}

	appmetrics.ResizeSuccessfulTotal.Inc()
	r.markDebounced(pvc.Identity)
	r.cluster.EmitEvent(pvc.Identity, cluster.SeverityNormal, cluster.ReasonResizeSucceeded, message)
	r.notifier.Send(ctx, message, notifier.SeverityOK)
}

// patchCounterOnly writes just the hysteresis counter, leaving size and
// last_resize_time untouched. In dry-run, no annotation write happens at
// all — a single dry-run iteration must not disarm hysteresis for the next
// real run.
func (r *Reconciler) patchCounterOnly(ctx context.Context, id types.Identity, lastResizedAt time.Time, counter int) {
	if r.dryRun {
		return
	}
	if err := r.cluster.PatchSize(ctx, id, nil, lastResizedAt, counter); err != nil {
		r.logger.Error("counter patch failed", "pvc", id.String(), "error", err)
	}
}

// patchForAtMax records last_resize_time (to rate-limit the at-max event)
// and resets the counter, without changing size.
func (r *Reconciler) patchForAtMax(ctx context.Context, id types.Identity, now time.Time) {
	if err := r.cluster.PatchSize(ctx, id, nil, now, 0); err != nil {
		r.logger.Error("at-max state patch failed", "pvc", id.String(), "error", err)
	}
}

func (r *Reconciler) debounced(id types.Identity) bool {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	until, ok := r.debounce[id]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(r.debounce, id)
		return false
	}
	return true
}

func (r *Reconciler) markDebounced(id types.Identity) {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	r.debounce[id] = time.Now().Add(resizeDebounceTTL)
}
