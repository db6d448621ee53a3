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

// Command volume-autoscaler runs the storage autoscaler as a standalone
// process: no CRD, no controller-runtime manager or work queue. It reads
// its configuration once from the environment, then runs a single
// cooperative poll-all-PVCs loop alongside a small HTTP server exposing
// liveness, readiness, and a Prometheus scrape endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	apiruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/events"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/devops-nirvana/volume-autoscaler/internal/cluster"
	"github.com/devops-nirvana/volume-autoscaler/internal/config"
	appmetrics "github.com/devops-nirvana/volume-autoscaler/internal/metrics"
	"github.com/devops-nirvana/volume-autoscaler/internal/metricsquery"
	"github.com/devops-nirvana/volume-autoscaler/internal/notifier"
	promclient "github.com/devops-nirvana/volume-autoscaler/internal/prometheus"
	"github.com/devops-nirvana/volume-autoscaler/internal/reconciler"
	"github.com/devops-nirvana/volume-autoscaler/internal/runtime"
)

// version and gitCommit are overridden at build time via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
)

var scheme = apiruntime.NewScheme()

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
	_ = corev1.AddToScheme(scheme)
	_ = storagev1.AddToScheme(scheme)
}

func main() {
	var zapOpts ctrlzap.Options
	zapOpts.BindFlags(flag.CommandLine)
	flag.Parse()

	logf.SetLogger(ctrlzap.New(ctrlzap.UseFlagOptions(&zapOpts)))
	ctrlLog := logf.Log.WithName("volume-autoscaler")

	var logLevel slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Info(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}

	ctx, cancel := runtime.ShutdownContext(context.Background())
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		runtime.Fatal(logger, runtime.ExitConfigError, "failed to load configuration", err)
	}
	if cfg.Verbose {
		logLevel.Set(slog.LevelDebug)
	}

	runtime.LogStartupBanner(logger, version, cfg.SettingsForMetrics())
	appmetrics.SetReleaseInfo(version, gitCommit)
	appmetrics.SetSettingsInfo(cfg.SettingsForMetrics())

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		runtime.Fatal(logger, runtime.ExitStartupFailure, "failed to load Kubernetes client configuration", err)
	}

	k8sClient, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		runtime.Fatal(logger, runtime.ExitStartupFailure, "failed to construct Kubernetes client", err)
	}

	clientset, err := clientgokubernetes(restCfg)
	if err != nil {
		runtime.Fatal(logger, runtime.ExitStartupFailure, "failed to construct Kubernetes clientset for event recording", err)
	}
	broadcaster := events.NewEventBroadcasterAdapter(clientset)
	broadcaster.StartRecordingToSink(ctx.Done())
	recorder := broadcaster.NewRecorder("volume-autoscaler")

	gmpClient, err := promclient.NewGMPClient(ctx, cfg.GCPProjectID, cfg.HTTPTimeout)
	if err != nil {
		runtime.Fatal(logger, runtime.ExitStartupFailure, "failed to build Google Managed Prometheus client", err)
	}

	metricsAdapter := metricsquery.New(gmpClient, cfg.LabelMatch)
	clusterAdapter := cluster.New(k8sClient, recorder, cfg.HTTPTimeout)
	notif := notifier.New(logger, cfg.SlackWebhookURL, cfg.SlackChannel, cfg.SlackMessagePrefix, cfg.SlackMessageSuffix, cfg.DryRun)
	recon := reconciler.New(metricsAdapter, clusterAdapter, notif, cfg.ScalingDefaults, cfg.DryRun, logger)

	var ready atomic.Bool
	startHTTPServer(logger, cfg.MetricsPort, &ready)

	runtime.Loop(ctx, cfg.IntervalTime, func(iterCtx context.Context) {
		if err := recon.RunOnce(iterCtx); err != nil {
			logger.Error("reconciliation iteration failed", "error", err)
			return
		}
		ready.Store(true)
	}, func() {
		appmetrics.IterationOverrunTotal.Inc()
		logger.Warn("reconciliation iteration overran its configured interval")
	})

	ctrlLog.Info("shutting down")
}

// clientgokubernetes builds a plain client-go clientset, used only to back
// the event recorder — the rest of this program talks to the API server
// through the generic controller-runtime client.
func clientgokubernetes(cfg *rest.Config) (kubernetes.Interface, error) {
	return kubernetes.NewForConfig(cfg)
}

// startHTTPServer runs the liveness/readiness/metrics endpoints described in
// the external interface (port 8000 by default) as a background task
// alongside the reconciliation loop.
func startHTTPServer(logger *slog.Logger, port int, ready *atomic.Bool) {
	mux := http.NewServeMux()
	mux.Handle("/alive", healthz.CheckHandler{Checker: healthz.Ping})
	mux.Handle("/ready", healthz.CheckHandler{Checker: func(_ *http.Request) error {
		if !ready.Load() {
			return fmt.Errorf("no reconciliation iteration has completed yet")
		}
		return nil
	}})
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server stopped unexpectedly", "error", err)
		}
	}()
}
