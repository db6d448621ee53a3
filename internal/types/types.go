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

// Package types holds the domain value objects shared across the metrics,
// cluster, policy, sizing, state, and reconciler packages. Keeping these
// here avoids import cycles between packages that would otherwise need to
// depend on each other just for a struct definition.
package types

import (
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Identity names a PVC uniquely within the cluster.
type Identity struct {
	Namespace string
	Name      string
}

func (i Identity) String() string { return i.Namespace + "/" + i.Name }

// PVCSnapshot is a point-in-time view of a PVC's spec/status relevant to
// scaling decisions, as fetched from the Kubernetes API.
type PVCSnapshot struct {
	Identity Identity

	// RequestedSize is spec.resources.requests.storage.
	RequestedSize resource.Quantity

	// StorageClassName is spec.storageClassName, if set.
	StorageClassName string

	// AllowVolumeExpansion reflects the bound StorageClass's capability.
	// A PVC whose class does not allow expansion is never a resize candidate.
	AllowVolumeExpansion bool

	// Annotations is the PVC's current annotation set, used both to read
	// durable state (internal/state) and per-PVC policy overrides
	// (internal/policy).
	Annotations map[string]string

	// Phase is status.phase; only "Bound" PVCs are considered.
	Phase string
}

// MetricObservation is the merged result of the metrics queries for a
// single PVC: how full it is, and (if available) how full its inodes are.
type MetricObservation struct {
	Identity Identity

	// UsedPercent is the disk usage percentage in [0,100], as reported by
	// the metrics backend at query time.
	UsedPercent float64

	// InodePercent is the inode usage percentage in [0,100]. HasInodeData
	// is false when the backend does not export inode metrics for this
	// volume (e.g. non-filesystem volume modes).
	InodePercent float64
	HasInodeData bool

	// CapacityBytes is the volume capacity as reported by the metrics
	// backend. The reconciler does not read it; sizing always starts from
	// the PVC's own requested size.
	CapacityBytes int64
	HasCapacity   bool
}

// ScalingPolicy is the fully-resolved set of parameters governing one PVC's
// scaling behavior, after layering defaults, global configuration, and
// per-PVC annotation overrides.
type ScalingPolicy struct {
	// ThresholdPercent is the usage percentage at or above which an
	// interval counts toward the scale-after-intervals trigger.
	ThresholdPercent float64

	// IntervalsAboveThreshold is how many consecutive over-threshold
	// intervals must elapse before a resize is attempted.
	IntervalsAboveThreshold int

	// IncreasePercent is the percentage by which to grow the current size.
	IncreasePercent float64

	// MinIncrease and MaxIncrease bound the absolute growth in bytes.
	MinIncrease int64
	MaxIncrease int64

	// MaxSize is the hard ceiling in bytes; a PVC already at or above it
	// is never a candidate regardless of usage.
	MaxSize int64

	// CooldownPeriod is the minimum duration between two resizes of the
	// same PVC.
	CooldownPeriod time.Duration

	// Ignore, when true, excludes the PVC from consideration entirely.
	Ignore bool
}
