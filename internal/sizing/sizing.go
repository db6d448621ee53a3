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

// Package sizing computes the target size of a PVC resize. It is a pure
// function of the current size and the resolved policy; it has no side
// effects and performs no I/O, which is what makes its bounds (minimum
// increment, maximum increment, absolute ceiling) independently testable.
package sizing

import "github.com/devops-nirvana/volume-autoscaler/internal/types"

// TargetBytes computes the new requested size for a PVC currently at
// currentBytes under policy. The result may be less than or equal to
// currentBytes, which callers must interpret as "already at ceiling" rather
// than as an error.
//
// All arithmetic stays within int64 and is ordered multiply-before-divide
// to avoid truncating small percentages to zero while still never
// overflowing for the byte ranges a PVC can realistically reach (multiplying
// by a percentage up to a few hundred keeps intermediate products well
// under the int64 range for any plausible volume size).
func TargetBytes(currentBytes int64, policy types.ScalingPolicy) int64 {
	raw := currentBytes * (100 + int64(policy.IncreasePercent)) / 100
	delta := raw - currentBytes

	if delta < policy.MinIncrease {
		delta = policy.MinIncrease
	}
	if delta > policy.MaxIncrease {
		delta = policy.MaxIncrease
	}

	candidate := currentBytes + delta

	target := candidate
	if target > policy.MaxSize {
		target = policy.MaxSize
	}
	return target
}

// AtCeiling reports whether the computed target represents no real growth
// over the current size, meaning the PVC has reached its ceiling.
func AtCeiling(targetBytes, currentBytes int64) bool {
	return targetBytes <= currentBytes
}
