// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"companion-workers/internal/app"
	"companion-workers/internal/common/camunda"
	"companion-workers/internal/common/config"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/common/observability"
	"companion-workers/pkg/registry"

	ca "companion-workers/internal/workers/interest/close-application"
	ei "companion-workers/internal/workers/interest/express-interest"
	rti "companion-workers/internal/workers/interest/respond-to-interest"
	ra "companion-workers/internal/workers/interest/review-application"
	sa "companion-workers/internal/workers/interest/submit-application"

	as "companion-workers/internal/workers/relationship/advance-stage"
	wd "companion-workers/internal/workers/relationship/withdrawal"

	sn "companion-workers/internal/workers/communication/send-notification"
	ms "companion-workers/internal/workers/maintenance/maintenance-sweep"
)

const serviceName = "worker-manager"

type registration struct {
	taskType string
	handle   func(worker.JobClient, entities.Job)
}

func main() {
	bootLog := logger.New("info", "console")
	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting worker manager...", zap.String("environment", cfg.App.Environment))

	obs := observability.New(serviceName)
	defer obs.Shutdown()
	if cfg.Tracing.Enabled {
		if err := obs.EnableTracing(serviceName, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio); err != nil {
			zapLog.Warn("tracing disabled", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var zc *camunda.Client
	err = app.Retry(ctx, func() error {
		c, err := camunda.NewClient(cfg.Camunda.BrokerAddress, config.GetDuration(cfg.Camunda.RequestTimeout))
		if err != nil {
			return err
		}
		zc = c
		return nil
	}, 10, 2*time.Second, log, "zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	defer zc.Close()
	zeebeClient := zc.Raw()
	zapLog.Info("Zeebe client connected successfully")

	a, err := app.New(ctx, cfg, obs, log)
	if err != nil {
		zapLog.Fatal("application wiring failed", zap.Error(err))
	}
	defer a.Close()
	a.Messages = zc

	runner := func(taskType string) *camunda.JobRunner {
		wcfg := config.GetWorkerConfig(cfg, taskType)
		return camunda.NewJobRunner(taskType, config.GetDuration(wcfg.Timeout), obs, log)
	}

	sweepCfg := ms.DefaultConfig()
	sweepCfg.BatchSize = cfg.Matching.SweepBatchSize
	sweepCfg.Interval = config.GetDuration(cfg.Matching.SweepInterval)
	if err := sweepCfg.Validate(); err != nil {
		zapLog.Fatal("invalid sweep configuration", zap.Error(err))
	}
	sweep := ms.NewHandler(sweepCfg, ms.Deps{Cooling: a.Cooling, PreMatch: a.Interests, Effects: a.Effects}, runner(ms.TaskType), log)

	registrations := []registration{
		{ei.TaskType, ei.NewHandler(a.Interests, runner(ei.TaskType), log).Handle},
		{rti.TaskType, rti.NewHandler(a.Interests, runner(rti.TaskType), log).Handle},
		{sa.TaskType, sa.NewHandler(a.Interests, runner(sa.TaskType), log).Handle},
		{ra.TaskType, ra.NewHandler(a.Interests, runner(ra.TaskType), log).Handle},
		{ca.TaskType, ca.NewHandler(a.Interests, runner(ca.TaskType), log).Handle},
		{as.TaskType, as.NewHandler(a.Stages, runner(as.TaskType), log).Handle},
		{wd.TaskType, wd.NewHandler(a.Cooling, runner(wd.TaskType), log).Handle},
		{sn.TaskType, sn.NewHandler(a.Notifier, runner(sn.TaskType), log).Handle},
		{ms.TaskType, sweep.Handle},
	}

	reg, err := registry.Default()
	if err != nil {
		zapLog.Fatal("activity registry unreadable", zap.Error(err))
	}

	var workers []worker.JobWorker
	for _, r := range registrations {
		if _, ok := reg.Find(r.taskType); !ok {
			zapLog.Warn("task type missing from activity registry", zap.String("taskType", r.taskType))
		}
		if w := camunda.StartWorker(zeebeClient, r.taskType, config.GetWorkerConfig(cfg, r.taskType), r.handle, log); w != nil {
			workers = append(workers, w)
		}
	}
	zapLog.Info("workers registered", zap.Int("started", len(workers)), zap.Int("total", len(registrations)))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]interface{}{"status": "healthy", "workers": len(workers)})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		rctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		err := a.Ready(rctx)
		if err == nil {
			err = zc.Ready(rctx)
		}
		if err != nil {
			writeStatus(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "error": err.Error()})
			return
		}
		writeStatus(w, http.StatusOK, map[string]interface{}{"status": "ready"})
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	srv := &http.Server{Addr: cfg.App.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLog.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return a.RunChangeFeed(gctx) })
	g.Go(func() error { return sweep.Loop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		zapLog.Info("Shutdown signal received, stopping workers...")
		for _, w := range workers {
			w.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zapLog.Error("worker manager stopped with error", zap.Error(err))
		return
	}
	zapLog.Info("Worker manager stopped")
}

func writeStatus(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
