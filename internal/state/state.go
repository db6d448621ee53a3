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

// Package state reads and formats the two pieces of durable per-PVC state
// that live as annotations on the PVC itself: the last-resize timestamp and
// the hysteresis counter. There is no in-process cache — every iteration
// re-reads these from the PVCSnapshot's annotation map, because the
// annotations themselves are the only durable substrate the system has.
package state

import (
	"strconv"
	"time"
)

const (
	annotationPrefix = "volume.autoscaler.kubernetes.io/"

	// LastResizedAtKey holds an RFC3339 UTC timestamp of the last
	// successful resize.
	LastResizedAtKey = annotationPrefix + "last-resized-at"

	// ScaleAboveCounterKey holds the count of consecutive iterations the
	// PVC was observed at or above its threshold.
	ScaleAboveCounterKey = annotationPrefix + "scale-above-counter"
)

// LastResizedAt parses LastResizedAtKey from an annotation map. It returns
// the zero time if the annotation is absent or unparseable; an unparseable
// timestamp is treated the same as "never resized" so a corrupt annotation
// cannot permanently wedge the cooldown.
func LastResizedAt(annotations map[string]string) time.Time {
	raw, ok := annotations[LastResizedAtKey]
	if !ok || raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatLastResizedAt renders t as the RFC3339 UTC string stored in the
// annotation.
func FormatLastResizedAt(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Counter parses ScaleAboveCounterKey from an annotation map, returning 0 if
// absent or unparseable.
func Counter(annotations map[string]string) int {
	raw, ok := annotations[ScaleAboveCounterKey]
	if !ok || raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// FormatCounter renders n as the base-10 string stored in the annotation.
func FormatCounter(n int) string {
	return strconv.Itoa(n)
}
