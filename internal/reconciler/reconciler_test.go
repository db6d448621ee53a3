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

package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/devops-nirvana/volume-autoscaler/internal/cluster"
	appmetrics "github.com/devops-nirvana/volume-autoscaler/internal/metrics"
	"github.com/devops-nirvana/volume-autoscaler/internal/notifier"
	"github.com/devops-nirvana/volume-autoscaler/internal/state"
	"github.com/devops-nirvana/volume-autoscaler/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type patchCall struct {
	id            types.Identity
	newSizeBytes  *int64
	lastResizedAt time.Time
	counter       int
}

type eventCall struct {
	id       types.Identity
	severity cluster.Severity
	reason   string
	message  string
}

type fakeCluster struct {
	pvcs     []types.PVCSnapshot
	listErr  error
	patchErr error
	patches  []patchCall
	events   []eventCall
}

func (f *fakeCluster) ListPVCs(ctx context.Context) ([]types.PVCSnapshot, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pvcs, nil
}

func (f *fakeCluster) PatchSize(ctx context.Context, id types.Identity, newSizeBytes *int64, lastResizedAt time.Time, counter int) error {
	f.patches = append(f.patches, patchCall{id: id, newSizeBytes: newSizeBytes, lastResizedAt: lastResizedAt, counter: counter})
	return f.patchErr
}

func (f *fakeCluster) EmitEvent(id types.Identity, severity cluster.Severity, reason, message string) {
	f.events = append(f.events, eventCall{id: id, severity: severity, reason: reason, message: message})
}

func (f *fakeCluster) eventReasons() []string {
	reasons := make([]string, len(f.events))
	for i, e := range f.events {
		reasons[i] = e.reason
	}
	return reasons
}

type fakeMetrics struct {
	observations map[types.Identity]types.MetricObservation
	err          error
}

func (f *fakeMetrics) FetchObservations(ctx context.Context) (map[types.Identity]types.MetricObservation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.observations, nil
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Send(ctx context.Context, body string, severity notifier.Severity) {
	f.sent = append(f.sent, body)
}

func defaultPolicy() types.ScalingPolicy {
	return types.ScalingPolicy{
		ThresholdPercent:        80,
		IntervalsAboveThreshold: 3,
		IncreasePercent:         20,
		MinIncrease:             1_000_000_000,
		MaxIncrease:             16_000_000_000_000,
		MaxSize:                 16_000_000_000_000,
		CooldownPeriod:          0,
	}
}

func pvcWithAnnotations(name string, sizeBytes int64, annotations map[string]string) types.PVCSnapshot {
	return types.PVCSnapshot{
		Identity:             types.Identity{Namespace: "default", Name: name},
		RequestedSize:        *resource.NewQuantity(sizeBytes, resource.BinarySI),
		StorageClassName:     "standard",
		AllowVolumeExpansion: true,
		Annotations:          annotations,
		Phase:                "Bound",
	}
}

var _ = Describe("Reconciler", func() {
	var (
		fc *fakeCluster
		fn *fakeNotifier
	)

	BeforeEach(func() {
		fc = &fakeCluster{}
		fn = &fakeNotifier{}
	})

	Describe("RunOnce", func() {
		It("aborts the whole iteration when the metrics fetch fails", func() {
			fm := &fakeMetrics{err: errors.New("prometheus unreachable")}
			r := New(fm, fc, fn, defaultPolicy(), false, discardLogger())

			Expect(r.RunOnce(context.Background())).To(HaveOccurred())
			Expect(fc.patches).To(BeEmpty())
		})

		It("updates visibility gauges across several PVCs without erroring", func() {
			above := pvcWithAnnotations("above", 10_000_000_000, nil)
			below := pvcWithAnnotations("below", 10_000_000_000, nil)
			unmeasured := pvcWithAnnotations("unmeasured", 10_000_000_000, nil)

			fm := &fakeMetrics{observations: map[types.Identity]types.MetricObservation{
				above.Identity: {Identity: above.Identity, UsedPercent: 95},
				below.Identity: {Identity: below.Identity, UsedPercent: 5},
			}}
			fc.pvcs = []types.PVCSnapshot{above, below, unmeasured}

			r := New(fm, fc, fn, defaultPolicy(), false, discardLogger())
			Expect(r.RunOnce(context.Background())).NotTo(HaveOccurred())

			Expect(testutil.ToFloat64(appmetrics.NumValidPVCs)).To(Equal(2.0))
			Expect(testutil.ToFloat64(appmetrics.NumUnmeasuredPVCs)).To(Equal(1.0))
			Expect(testutil.ToFloat64(appmetrics.NumPVCsAboveThreshold)).To(Equal(1.0))
			Expect(testutil.ToFloat64(appmetrics.NumPVCsBelowThreshold)).To(Equal(1.0))
		})
	})

	Describe("processPVC", func() {
		It("increments the hysteresis counter without resizing on the first triggering observation", func() {
			pvc := pvcWithAnnotations("data-0", 10_000_000_000, nil)
			obs := types.MetricObservation{Identity: pvc.Identity, UsedPercent: 90}
			r := New(&fakeMetrics{}, fc, fn, defaultPolicy(), false, discardLogger())

			triggered := r.processPVC(context.Background(), pvc, obs)

			Expect(triggered).To(BeTrue())
			Expect(fc.patches).To(HaveLen(1))
			Expect(fc.patches[0].counter).To(Equal(1))
			Expect(fc.patches[0].newSizeBytes).To(BeNil())
		})

		It("resizes once the interval threshold is reached", func() {
			annotations := map[string]string{state.ScaleAboveCounterKey: "2"}
			pvc := pvcWithAnnotations("data-1", 10_000_000_000, annotations)
			obs := types.MetricObservation{Identity: pvc.Identity, UsedPercent: 95}
			r := New(&fakeMetrics{}, fc, fn, defaultPolicy(), false, discardLogger())

			triggered := r.processPVC(context.Background(), pvc, obs)

			Expect(triggered).To(BeTrue())
			Expect(fc.patches).To(HaveLen(1))
			p := fc.patches[0]
			Expect(p.newSizeBytes).NotTo(BeNil())
			Expect(*p.newSizeBytes).To(BeEquivalentTo(12_000_000_000))
			Expect(p.counter).To(Equal(0))
			Expect(fc.eventReasons()).To(ContainElement(cluster.ReasonResizeSucceeded))
			Expect(fn.sent).To(HaveLen(1))
		})

		It("clamps the counter to after-1 instead of resizing while within cooldown", func() {
			annotations := map[string]string{
				state.ScaleAboveCounterKey: "2",
				state.LastResizedAtKey:     state.FormatLastResizedAt(time.Now()),
			}
			pvc := pvcWithAnnotations("data-2", 10_000_000_000, annotations)
			obs := types.MetricObservation{Identity: pvc.Identity, UsedPercent: 95}

			policy := defaultPolicy()
			policy.CooldownPeriod = time.Hour
			r := New(&fakeMetrics{}, fc, fn, policy, false, discardLogger())

			triggered := r.processPVC(context.Background(), pvc, obs)

			Expect(triggered).To(BeTrue())
			Expect(fc.patches).To(HaveLen(1))
			Expect(fc.patches[0].newSizeBytes).To(BeNil())
			Expect(fc.patches[0].counter).To(Equal(policy.IntervalsAboveThreshold - 1))
		})

		It("resets the counter once usage drops back below threshold", func() {
			annotations := map[string]string{state.ScaleAboveCounterKey: "2"}
			pvc := pvcWithAnnotations("data-3", 10_000_000_000, annotations)
			obs := types.MetricObservation{Identity: pvc.Identity, UsedPercent: 10}
			r := New(&fakeMetrics{}, fc, fn, defaultPolicy(), false, discardLogger())

			triggered := r.processPVC(context.Background(), pvc, obs)

			Expect(triggered).To(BeFalse())
			Expect(fc.patches).To(HaveLen(1))
			Expect(fc.patches[0].counter).To(Equal(0))
		})

		It("skips the reset patch when the counter is already zero", func() {
			pvc := pvcWithAnnotations("data-4", 10_000_000_000, nil)
			obs := types.MetricObservation{Identity: pvc.Identity, UsedPercent: 10}
			r := New(&fakeMetrics{}, fc, fn, defaultPolicy(), false, discardLogger())

			triggered := r.processPVC(context.Background(), pvc, obs)

			Expect(triggered).To(BeFalse())
			Expect(fc.patches).To(BeEmpty())
		})

		It("emits a warning and withholds resize once the configured ceiling is reached", func() {
			annotations := map[string]string{state.ScaleAboveCounterKey: "2"}
			pvc := pvcWithAnnotations("data-5", 16_000_000_000_000, annotations)
			obs := types.MetricObservation{Identity: pvc.Identity, UsedPercent: 95}
			r := New(&fakeMetrics{}, fc, fn, defaultPolicy(), false, discardLogger())

			triggered := r.processPVC(context.Background(), pvc, obs)

			Expect(triggered).To(BeTrue())
			Expect(fc.eventReasons()).To(ContainElement(cluster.ReasonAtMaxSize))
			Expect(fn.sent).To(BeEmpty())
		})

		It("emits a warning and resets the counter when the storage class cannot expand", func() {
			pvc := pvcWithAnnotations("data-6", 10_000_000_000, map[string]string{state.ScaleAboveCounterKey: "2"})
			pvc.AllowVolumeExpansion = false
			obs := types.MetricObservation{Identity: pvc.Identity, UsedPercent: 95}
			r := New(&fakeMetrics{}, fc, fn, defaultPolicy(), false, discardLogger())

			triggered := r.processPVC(context.Background(), pvc, obs)

			Expect(triggered).To(BeTrue())
			Expect(fc.eventReasons()).To(ContainElement(cluster.ReasonStorageClassNotExpandable))
			Expect(fc.patches).To(HaveLen(1))
			Expect(fc.patches[0].counter).To(Equal(0))
		})

		It("skips an ignored PVC entirely, beyond visibility", func() {
			pvc := pvcWithAnnotations("data-7", 10_000_000_000, map[string]string{
				"volume.autoscaler.kubernetes.io/ignore": "true",
			})
			obs := types.MetricObservation{Identity: pvc.Identity, UsedPercent: 95}
			r := New(&fakeMetrics{}, fc, fn, defaultPolicy(), false, discardLogger())

			triggered := r.processPVC(context.Background(), pvc, obs)

			Expect(triggered).To(BeTrue())
			Expect(fc.patches).To(BeEmpty())
			Expect(fc.events).To(BeEmpty())
		})

		It("emits a trigger event but never patches during dry-run", func() {
			annotations := map[string]string{state.ScaleAboveCounterKey: "2"}
			pvc := pvcWithAnnotations("data-8", 10_000_000_000, annotations)
			obs := types.MetricObservation{Identity: pvc.Identity, UsedPercent: 95}
			r := New(&fakeMetrics{}, fc, fn, defaultPolicy(), true, discardLogger())

			r.processPVC(context.Background(), pvc, obs)

			Expect(fc.patches).To(BeEmpty())
			Expect(fc.eventReasons()).To(ContainElement(cluster.ReasonResizeTriggered))
		})

		It("triggers on inode pressure even when byte usage is low", func() {
			pvc := pvcWithAnnotations("data-9", 10_000_000_000, nil)
			obs := types.MetricObservation{Identity: pvc.Identity, UsedPercent: 10, InodePercent: 95, HasInodeData: true}
			r := New(&fakeMetrics{}, fc, fn, defaultPolicy(), false, discardLogger())

			Expect(r.processPVC(context.Background(), pvc, obs)).To(BeTrue())
		})
	})
})
