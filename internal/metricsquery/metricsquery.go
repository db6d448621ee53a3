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

// Package metricsquery runs the three canonical PromQL queries against the
// metrics backend and merges their rows into one MetricObservation per PVC
// identity. A failure in any one of the three queries aborts the whole
// fetch: acting on a partial picture risks raising hysteresis counters for
// PVCs that simply weren't reported this iteration.
package metricsquery

import (
	"context"
	"fmt"

	"github.com/devops-nirvana/volume-autoscaler/internal/errs"
	"github.com/devops-nirvana/volume-autoscaler/internal/prometheus"
	"github.com/devops-nirvana/volume-autoscaler/internal/types"
)

const (
	namespaceLabel = "namespace"
	pvcLabel       = "persistentvolumeclaim"
)

// RowQuerier is the subset of *prometheus.Client the adapter depends on,
// so tests can substitute a fake without standing up an HTTP server.
type RowQuerier interface {
	QueryRows(ctx context.Context, promql string) ([]prometheus.Row, error)
}

// Adapter fetches and merges the three canonical observation queries.
type Adapter struct {
	client     RowQuerier
	labelMatch string
}

// New builds an Adapter. labelMatch, if non-empty, is injected verbatim
// inside each query's label selector (e.g. `namespace="dev"`), letting an
// operator restrict which volumes the controller ever considers.
func New(client RowQuerier, labelMatch string) *Adapter {
	return &Adapter{client: client, labelMatch: labelMatch}
}

func (a *Adapter) filter() string {
	if a.labelMatch == "" {
		return ""
	}
	return a.labelMatch
}

// bytesPctQuery returns the instant-query body for disk usage percentage.
func (a *Adapter) bytesPctQuery() string {
	return fmt.Sprintf(
		`max by (namespace, persistentvolumeclaim) (100 - (kubelet_volume_stats_available_bytes{%s} / kubelet_volume_stats_capacity_bytes{%s}) * 100)`,
		a.filter(), a.filter(),
	)
}

// inodesPctQuery returns the instant-query body for inode usage percentage.
func (a *Adapter) inodesPctQuery() string {
	return fmt.Sprintf(
		`max by (namespace, persistentvolumeclaim) (100 - (kubelet_volume_stats_inodes_free{%s} / kubelet_volume_stats_inodes{%s}) * 100)`,
		a.filter(), a.filter(),
	)
}

// capacityBytesQuery returns the instant-query body for volume capacity.
func (a *Adapter) capacityBytesQuery() string {
	return fmt.Sprintf(
		`max by (namespace, persistentvolumeclaim) (kubelet_volume_stats_capacity_bytes{%s})`,
		a.filter(),
	)
}

// FetchObservations runs all three queries and returns one merged
// MetricObservation per PVC identity. Any query failure aborts the whole
// call with a *errs.Error of kind MetricsUnavailable; no partial result is
// ever returned.
func (a *Adapter) FetchObservations(ctx context.Context) (map[types.Identity]types.MetricObservation, error) {
	bytesRows, err := a.client.QueryRows(ctx, a.bytesPctQuery())
	if err != nil {
		return nil, errs.New(errs.MetricsUnavailable, "querying bytes-used-percent", err)
	}
	inodeRows, err := a.client.QueryRows(ctx, a.inodesPctQuery())
	if err != nil {
		return nil, errs.New(errs.MetricsUnavailable, "querying inodes-used-percent", err)
	}
	capacityRows, err := a.client.QueryRows(ctx, a.capacityBytesQuery())
	if err != nil {
		return nil, errs.New(errs.MetricsUnavailable, "querying capacity-bytes", err)
	}

	out := make(map[types.Identity]types.MetricObservation)

	mergeMax := func(rows []prometheus.Row, apply func(obs *types.MetricObservation, val float64)) {
		for _, row := range rows {
			id, ok := identityFromLabels(row.Labels)
			if !ok {
				continue
			}
			obs := out[id]
			obs.Identity = id
			apply(&obs, row.Value)
			out[id] = obs
		}
	}

	mergeMax(bytesRows, func(obs *types.MetricObservation, val float64) {
		if val > obs.UsedPercent {
			obs.UsedPercent = val
		}
	})
	mergeMax(inodeRows, func(obs *types.MetricObservation, val float64) {
		if !obs.HasInodeData || val > obs.InodePercent {
			obs.InodePercent = val
		}
		obs.HasInodeData = true
	})
	// Capacity uses last-seen-wins rather than max, per the adapter's
	// merge rule for non-percent queries.
	for _, row := range capacityRows {
		id, ok := identityFromLabels(row.Labels)
		if !ok {
			continue
		}
		obs := out[id]
		obs.Identity = id
		obs.CapacityBytes = int64(row.Value)
		obs.HasCapacity = true
		out[id] = obs
	}

	return out, nil
}

func identityFromLabels(labels map[string]string) (types.Identity, bool) {
	ns, nsOK := labels[namespaceLabel]
	pvc, pvcOK := labels[pvcLabel]
	if !nsOK || !pvcOK || ns == "" || pvc == "" {
		return types.Identity{}, false
	}
	return types.Identity{Namespace: ns, Name: pvc}, true
}
