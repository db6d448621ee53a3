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

// Package humanize renders byte counts as human-friendly Kubernetes storage
// quantities ("10G", "5T") for log lines and event messages. It never feeds
// these strings back into resize decisions; resource.Quantity remains
// authoritative for anything that touches the API server.
package humanize

import "fmt"

type unit struct {
	multiplier int64
	suffix     string
}

// units are tried base-10 first (closer to how cloud storage is usually
// advertised), then base-2, largest to smallest within each family.
var units = []unit{
	{1_000_000_000_000, "T"},
	{1_000_000_000, "G"},
	{1_000_000, "M"},
	{1 << 40, "Ti"},
	{1 << 30, "Gi"},
	{1 << 20, "Mi"},
}

const matchByFraction = 0.1

// tryUnit reports whether bytes rounds to a "clean" count of this unit
// within matchByFraction, returning the rendered string if so.
func tryUnit(bytes int64, u unit) (string, bool) {
	if bytes < u.multiplier-int64(float64(u.multiplier)*matchByFraction) {
		return "", false
	}
	rounded := int64(float64(bytes)/float64(u.multiplier) + 0.5)
	retest := rounded * u.multiplier
	diff := retest - bytes
	if diff < 0 {
		diff = -diff
	}
	if float64(diff) < float64(bytes)*matchByFraction {
		return fmt.Sprintf("%d%s", rounded, u.suffix), true
	}
	return "", false
}

// Bytes renders a byte count as the closest "clean" Kubernetes storage
// quantity within 10%, preferring base-10 units over base-2. Falls back to
// the plain byte count when nothing fits cleanly.
func Bytes(bytes int64) string {
	for _, u := range units {
		if s, ok := tryUnit(bytes, u); ok {
			return s
		}
	}
	return fmt.Sprintf("%d", bytes)
}
