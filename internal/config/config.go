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

// Package config loads the global configuration layer from the process
// environment. These values are the middle layer of the Policy Resolver's
// three-way layering (defaults, global config, per-PVC annotations); they
// also carry a handful of process-wide knobs (dry-run, HTTP timeout,
// Prometheus label filter, Slack webhook) that have no per-PVC equivalent.
package config

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/devops-nirvana/volume-autoscaler/internal/errs"
	"github.com/devops-nirvana/volume-autoscaler/internal/types"
)

// Config is the fully-resolved global configuration for one process run.
type Config struct {
	GCPProjectID string

	IntervalTime    time.Duration
	HTTPTimeout     time.Duration
	ScaleCooldown   time.Duration
	ScalingDefaults types.ScalingPolicy

	DryRun      bool
	Verbose     bool
	LabelMatch  string
	MetricsPort int

	SlackWebhookURL    string
	SlackChannel       string
	SlackMessagePrefix string
	SlackMessageSuffix string
}

const metadataProjectIDURL = "http://metadata.google.internal/computeMetadata/v1/project/project-id"

// Load reads configuration from the process environment, applying defaults
// for anything unset, and auto-detecting the GCP project ID from the GKE
// metadata service when GCP_PROJECT_ID is not set directly.
//
// It returns a *errs.Error of kind ConfigError when a set variable cannot
// be parsed, when the resolved scaling defaults fail validation, or when
// the project ID is both unset and undetectable.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	var err error

	if cfg.IntervalTime, err = parseSecondsDuration("INTERVAL_TIME", 60); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = parseSecondsDuration("HTTP_TIMEOUT", 15); err != nil {
		return Config{}, err
	}
	if cfg.ScaleCooldown, err = parseSecondsDuration("SCALE_COOLDOWN_TIME", 22200); err != nil {
		return Config{}, err
	}

	var thresholdPercent, increasePercent int
	if thresholdPercent, err = parseInt("SCALE_ABOVE_PERCENT", 80); err != nil {
		return Config{}, err
	}
	if cfg.ScalingDefaults.IntervalsAboveThreshold, err = parseInt("SCALE_AFTER_INTERVALS", 5); err != nil {
		return Config{}, err
	}
	if increasePercent, err = parseInt("SCALE_UP_PERCENT", 20); err != nil {
		return Config{}, err
	}
	if cfg.ScalingDefaults.MinIncrease, err = parseInt64("SCALE_UP_MIN_INCREMENT", 1_000_000_000); err != nil {
		return Config{}, err
	}
	if cfg.ScalingDefaults.MaxIncrease, err = parseInt64("SCALE_UP_MAX_INCREMENT", 16_000_000_000_000); err != nil {
		return Config{}, err
	}
	if cfg.ScalingDefaults.MaxSize, err = parseInt64("SCALE_UP_MAX_SIZE", 16_000_000_000_000); err != nil {
		return Config{}, err
	}
	cfg.ScalingDefaults.ThresholdPercent = float64(thresholdPercent)
	cfg.ScalingDefaults.IncreasePercent = float64(increasePercent)
	cfg.ScalingDefaults.CooldownPeriod = cfg.ScaleCooldown

	if cfg.DryRun, err = parseBool("DRY_RUN", false); err != nil {
		return Config{}, err
	}
	if cfg.Verbose, err = parseBool("VERBOSE", false); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = parseInt("METRICS_PORT", 8000); err != nil {
		return Config{}, err
	}

	cfg.LabelMatch = os.Getenv("GMP_LABEL_MATCH")
	cfg.SlackWebhookURL = os.Getenv("SLACK_WEBHOOK_URL")
	cfg.SlackChannel = envOrDefault("SLACK_CHANNEL", "devops")
	cfg.SlackMessagePrefix = os.Getenv("SLACK_MESSAGE_PREFIX")
	cfg.SlackMessageSuffix = os.Getenv("SLACK_MESSAGE_SUFFIX")

	cfg.GCPProjectID = os.Getenv("GCP_PROJECT_ID")
	if cfg.GCPProjectID == "" {
		cfg.GCPProjectID = detectGCPProjectID(ctx)
	}
	if cfg.GCPProjectID == "" {
		return Config{}, errs.New(errs.ConfigError, "GCP_PROJECT_ID is not set and could not be auto-detected from the metadata service", nil)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	d := cfg.ScalingDefaults
	if d.ThresholdPercent < 1 || d.ThresholdPercent > 99 {
		return errs.New(errs.ConfigError, "SCALE_ABOVE_PERCENT must be in [1,99]", nil)
	}
	if d.IntervalsAboveThreshold < 1 {
		return errs.New(errs.ConfigError, "SCALE_AFTER_INTERVALS must be >= 1", nil)
	}
	if d.MinIncrease < 0 || d.MaxIncrease < 0 || d.MaxSize < 0 {
		return errs.New(errs.ConfigError, "byte-valued scaling settings must be non-negative", nil)
	}
	if d.MaxIncrease < d.MinIncrease {
		return errs.New(errs.ConfigError, "SCALE_UP_MAX_INCREMENT must be >= SCALE_UP_MIN_INCREMENT", nil)
	}
	return nil
}

// detectGCPProjectID queries the GKE metadata service with a short timeout.
// Any failure (no metadata service, timeout, non-200) is treated as "not
// detectable" rather than an error; Load decides whether that is fatal.
func detectGCPProjectID(ctx context.Context) string {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, metadataProjectIDURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return string(body)
}

// SettingsForMetrics renders the resolved configuration as a label set
// suitable for the settings_info gauge, mirroring what an operator would
// otherwise have to read off the deployment's env vars.
func (c Config) SettingsForMetrics() map[string]string {
	return map[string]string{
		"interval_time_seconds":            strconv.Itoa(int(c.IntervalTime.Seconds())),
		"scale_above_percent":              strconv.Itoa(int(c.ScalingDefaults.ThresholdPercent)),
		"scale_after_intervals":            strconv.Itoa(c.ScalingDefaults.IntervalsAboveThreshold),
		"scale_up_percent":                 strconv.Itoa(int(c.ScalingDefaults.IncreasePercent)),
		"scale_up_minimum_increment_bytes": strconv.FormatInt(c.ScalingDefaults.MinIncrease, 10),
		"scale_up_maximum_increment_bytes": strconv.FormatInt(c.ScalingDefaults.MaxIncrease, 10),
		"scale_up_maximum_size_bytes":      strconv.FormatInt(c.ScalingDefaults.MaxSize, 10),
		"scale_cooldown_time_seconds":      strconv.Itoa(int(c.ScaleCooldown.Seconds())),
		"gcp_project_id":                   c.GCPProjectID,
		"dry_run":                          strconv.FormatBool(c.DryRun),
		"gmp_label_match":                  c.LabelMatch,
		"http_timeout_seconds":             strconv.Itoa(int(c.HTTPTimeout.Seconds())),
		"verbose_enabled":                  strconv.FormatBool(c.Verbose),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseSecondsDuration, parseBool, parseInt, and parseInt64 read one global
// env var, falling back to defaultVal only when the var is unset. An unset
// var is normal operation; a *set but unparseable* var is an operator
// mistake in the global configuration layer, which per the external
// interface's exit-code contract must abort startup rather than silently
// run on defaults — so each returns a *errs.Error of kind ConfigError on a
// parse failure instead of swallowing it. Contrast with the per-PVC
// annotation parsers in internal/policy, where a parse failure is expected
// operator drift and falls back to the next layer down instead of aborting.
func parseSecondsDuration(key string, defaultSeconds int) (time.Duration, error) {
	n, err := parseInt(key, defaultSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parseBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errs.New(errs.ConfigError, fmt.Sprintf("%s=%q is not a valid boolean", key, v), err)
	}
	return b, nil
}

func parseInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errs.New(errs.ConfigError, fmt.Sprintf("%s=%q is not a valid integer", key, v), err)
	}
	return n, nil
}

func parseInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errs.New(errs.ConfigError, fmt.Sprintf("%s=%q is not a valid integer", key, v), err)
	}
	return n, nil
}
