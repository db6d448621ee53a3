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

// Package policy resolves the effective ScalingPolicy for a single PVC by
// layering hard-coded defaults, global configuration, and per-PVC
// annotation overrides. Resolution is a pure function: the same inputs
// always produce the same output, and an unparseable annotation never
// aborts resolution — it logs and falls back to the next layer down.
package policy

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/devops-nirvana/volume-autoscaler/internal/errs"
	"github.com/devops-nirvana/volume-autoscaler/internal/types"
)

var (
	errInvalidThreshold  = errors.New("scale-above-percent must be in [1,99]")
	errInvalidIntervals  = errors.New("scale-after-intervals must be >= 1")
	errNegativeValue     = errors.New("percentage and byte-valued settings must be non-negative")
	errIncrementOrdering = errors.New("scale-up-max-increment must be >= scale-up-min-increment")
)

const annotationPrefix = "volume.autoscaler.kubernetes.io/"

// Annotation keys consumed by the resolver, part of the external interface.
const (
	KeyScaleAbovePercent   = annotationPrefix + "scale-above-percent"
	KeyScaleAfterIntervals = annotationPrefix + "scale-after-intervals"
	KeyScaleUpPercent      = annotationPrefix + "scale-up-percent"
	KeyScaleUpMinIncrement = annotationPrefix + "scale-up-min-increment"
	KeyScaleUpMaxIncrement = annotationPrefix + "scale-up-max-increment"
	KeyScaleUpMaxSize      = annotationPrefix + "scale-up-max-size"
	KeyScaleCooldownTime   = annotationPrefix + "scale-cooldown-time"
	KeyIgnore              = annotationPrefix + "ignore"
)

// Resolve produces the effective ScalingPolicy for a PVC by layering
// per-PVC annotation overrides on top of defaults (baked into global).
// Parsing failures are logged via logger and the lower layer's value is
// kept. If the resulting policy's MaxSize is smaller than the PVC's
// currently requested size, the PVC is marked candidate-free via the
// returned bool so the reconciler can skip it with a warning — its
// incoming policy is otherwise returned unmodified.
func Resolve(logger *slog.Logger, global types.ScalingPolicy, pvc types.PVCSnapshot) (types.ScalingPolicy, bool) {
	p := global

	if v, ok := parseFloatAnnotation(logger, pvc.Annotations, KeyScaleAbovePercent); ok {
		p.ThresholdPercent = v
	}
	if v, ok := parseIntAnnotation(logger, pvc.Annotations, KeyScaleAfterIntervals); ok {
		p.IntervalsAboveThreshold = v
	}
	if v, ok := parseFloatAnnotation(logger, pvc.Annotations, KeyScaleUpPercent); ok {
		p.IncreasePercent = v
	}
	if v, ok := parseInt64Annotation(logger, pvc.Annotations, KeyScaleUpMinIncrement); ok {
		p.MinIncrease = v
	}
	if v, ok := parseInt64Annotation(logger, pvc.Annotations, KeyScaleUpMaxIncrement); ok {
		p.MaxIncrease = v
	}
	if v, ok := parseInt64Annotation(logger, pvc.Annotations, KeyScaleUpMaxSize); ok {
		p.MaxSize = v
	}
	if v, ok := parseIntAnnotation(logger, pvc.Annotations, KeyScaleCooldownTime); ok {
		p.CooldownPeriod = time.Duration(v) * time.Second
	}
	if v, ok := parseBoolAnnotation(logger, pvc.Annotations, KeyIgnore); ok {
		p.Ignore = v
	}

	if err := validate(p); err != nil {
		logger.Warn("invalid resolved policy, falling back to global defaults", "pvc", pvc.Identity.String(), "error", err)
		p = global
	}

	candidateFree := p.MaxSize < pvc.RequestedSize.Value()
	if candidateFree {
		logger.Warn("scale_up_max_size is below the PVC's requested size, treating as candidate-free for this iteration",
			"pvc", pvc.Identity.String(), "max_size", p.MaxSize, "requested_bytes", pvc.RequestedSize.Value())
	}

	return p, candidateFree
}

func validate(p types.ScalingPolicy) error {
	if p.ThresholdPercent < 1 || p.ThresholdPercent > 99 {
		return errInvalidThreshold
	}
	if p.IntervalsAboveThreshold < 1 {
		return errInvalidIntervals
	}
	if p.IncreasePercent < 0 || p.MinIncrease < 0 || p.MaxIncrease < 0 || p.MaxSize < 0 {
		return errNegativeValue
	}
	if p.MaxIncrease < p.MinIncrease {
		return errIncrementOrdering
	}
	return nil
}

func parseFloatAnnotation(logger *slog.Logger, annotations map[string]string, key string) (float64, bool) {
	raw, ok := annotations[key]
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		err = errs.New(errs.PolicyParseError, "annotation "+key, err)
		logger.Warn("unparseable policy annotation, keeping lower layer's value", "annotation", key, "value", raw, "error", err)
		return 0, false
	}
	return v, true
}

func parseIntAnnotation(logger *slog.Logger, annotations map[string]string, key string) (int, bool) {
	raw, ok := annotations[key]
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		err = errs.New(errs.PolicyParseError, "annotation "+key, err)
		logger.Warn("unparseable policy annotation, keeping lower layer's value", "annotation", key, "value", raw, "error", err)
		return 0, false
	}
	return v, true
}

func parseInt64Annotation(logger *slog.Logger, annotations map[string]string, key string) (int64, bool) {
	raw, ok := annotations[key]
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		err = errs.New(errs.PolicyParseError, "annotation "+key, err)
		logger.Warn("unparseable policy annotation, keeping lower layer's value", "annotation", key, "value", raw, "error", err)
		return 0, false
	}
	return v, true
}

func parseBoolAnnotation(logger *slog.Logger, annotations map[string]string, key string) (bool, bool) {
	raw, ok := annotations[key]
	if !ok || raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		err = errs.New(errs.PolicyParseError, "annotation "+key, err)
		logger.Warn("unparseable policy annotation, keeping lower layer's value", "annotation", key, "value", raw, "error", err)
		return false, false
	}
	return v, true
}
