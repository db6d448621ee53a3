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

// Package cluster is the sole point of contact with the Kubernetes API: it
// lists PVCs joined with their StorageClass's expansion capability, and
// patches size and durable-state annotations atomically in one call. Event
// emission lives here too, since every event in this system refers to a PVC.
package cluster

import (
	"context"
	"encoding/json"
	"time"

	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ktypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/events"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/devops-nirvana/volume-autoscaler/internal/errs"
	"github.com/devops-nirvana/volume-autoscaler/internal/state"
	"github.com/devops-nirvana/volume-autoscaler/internal/types"
)

// Event reasons, part of the external interface: `kubectl describe pvc`
// must show these exact strings.
const (
	ReasonResizeTriggered           = "VolumeResizeTriggered"
	ReasonResizeSucceeded           = "VolumeResizeSucceeded"
	ReasonResizeFailed              = "VolumeResizeFailed"
	ReasonAtMaxSize                 = "VolumeAtMaxSize"
	ReasonStorageClassNotExpandable = "StorageClassNotExpandable"
)

// Severity mirrors the Kubernetes event type vocabulary.
type Severity string

const (
	SeverityNormal  Severity = Severity(corev1.EventTypeNormal)
	SeverityWarning Severity = Severity(corev1.EventTypeWarning)
)

// Adapter is the Cluster Adapter: list/patch/emit against a single
// client.Client, with a bounded timeout applied to every call.
type Adapter struct {
	client   client.Client
	recorder events.EventRecorder
	timeout  time.Duration
}

// New builds a cluster Adapter.
func New(c client.Client, recorder events.EventRecorder, timeout time.Duration) *Adapter {
	return &Adapter{client: c, recorder: recorder, timeout: timeout}
}

// ListPVCs enumerates PVCs across all watched namespaces and attaches each
// one's StorageClass expansion capability by joining against a single
// StorageClass list.
func (a *Adapter) ListPVCs(ctx context.Context) ([]types.PVCSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var scList storagev1.StorageClassList
	if err := a.client.List(ctx, &scList); err != nil {
		return nil, errs.New(errs.ClusterUnavailable, "listing storage classes", err)
	}
	expandable := make(map[string]bool, len(scList.Items))
	for _, sc := range scList.Items {
		expandable[sc.Name] = sc.AllowVolumeExpansion != nil && *sc.AllowVolumeExpansion
	}

	var pvcList corev1.PersistentVolumeClaimList
	if err := a.client.List(ctx, &pvcList); err != nil {
		return nil, errs.New(errs.ClusterUnavailable, "listing PVCs", err)
	}

	snapshots := make([]types.PVCSnapshot, 0, len(pvcList.Items))
	for _, pvc := range pvcList.Items {
		if pvc.Status.Phase != corev1.ClaimBound {
			continue
		}
		scName := ""
		if pvc.Spec.StorageClassName != nil {
			scName = *pvc.Spec.StorageClassName
		}
		snapshots = append(snapshots, types.PVCSnapshot{
			Identity:             types.Identity{Namespace: pvc.Namespace, Name: pvc.Name},
			RequestedSize:        pvc.Spec.Resources.Requests[corev1.ResourceStorage],
			StorageClassName:     scName,
			AllowVolumeExpansion: expandable[scName],
			Annotations:          pvc.Annotations,
			Phase:                string(pvc.Status.Phase),
		})
	}
	return snapshots, nil
}

// patchBody is the strategic-merge patch body for a size+annotations write.
type patchBody struct {
	Spec     *patchSpec    `json:"spec,omitempty"`
	Metadata patchMetadata `json:"metadata"`
}

type patchSpec struct {
	Resources patchResources `json:"resources"`
}

type patchResources struct {
	Requests map[string]resource.Quantity `json:"requests"`
}

type patchMetadata struct {
	Annotations map[string]string `json:"annotations"`
}

// PatchSize issues a strategic-merge patch that, in one atomic call, may
// update spec.resources.requests.storage and always updates the two durable
// state annotations. newSizeBytes is nil when only annotations are changing.
//
// A not-found response is treated as a non-fatal skip: the PVC was deleted
// mid-iteration. An HTTP 409 is not special-cased: it is returned as a
// ClusterUnavailable error like any other API failure. No optimistic
// concurrency token is sent; since this process is the only writer in
// normal operation, last-writer-wins is sufficient.
func (a *Adapter) PatchSize(ctx context.Context, id types.Identity, newSizeBytes *int64, lastResizedAt time.Time, counter int) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	annotations := map[string]string{
		state.LastResizedAtKey:     state.FormatLastResizedAt(lastResizedAt),
		state.ScaleAboveCounterKey: state.FormatCounter(counter),
	}

	body := patchBody{Metadata: patchMetadata{Annotations: annotations}}
	if newSizeBytes != nil {
		body.Spec = &patchSpec{Resources: patchResources{
			Requests: map[string]resource.Quantity{
				string(corev1.ResourceStorage): *resource.NewQuantity(*newSizeBytes, resource.BinarySI),
			},
		}}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return errs.New(errs.ClusterUnavailable, "encoding patch body", err)
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Namespace: id.Namespace, Name: id.Name},
	}
	if err := a.client.Patch(ctx, pvc, client.RawPatch(ktypes.StrategicMergePatchType, raw)); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return errs.New(errs.ClusterUnavailable, "patching PVC "+id.String(), err)
	}
	return nil
}

// EmitEvent creates a Kubernetes Event referring to the PVC identified by
// id. The underlying event recorder has no failure return value reachable
// here; broadcaster-level delivery failures are logged by it internally and
// never propagate, which matches the "best-effort, swallow" contract.
func (a *Adapter) EmitEvent(id types.Identity, severity Severity, reason, message string) {
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Namespace: id.Namespace, Name: id.Name},
	}
	a.recorder.Eventf(pvc, nil, string(severity), reason, "VolumeAutoscaler", "%s", message)
}
