package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/hostauth-sensor/internal/config"
	"github.com/invisible-tech/hostauth-sensor/internal/controller"
	"github.com/invisible-tech/hostauth-sensor/internal/server"
	"github.com/invisible-tech/hostauth-sensor/internal/version"
	"github.com/invisible-tech/hostauth-sensor/pkg/logwatch"
	"github.com/invisible-tech/hostauth-sensor/pkg/monitor"
)

func main() {
	cfg := config.DefaultSensorConfig()
	log := cfg.NewLogger()

	log.WithFields(logrus.Fields{
		"version":   version.Version,
		"host_root": cfg.HostRoot,
		"cache_ttl": cfg.CacheTTL.String(),
	}).Info("Starting host auth sensor API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := monitor.New(cfg.MonitorConfig(), log)
	ctrl := controller.New(controller.Config{TTL: cfg.CacheTTL}, mon, log)
	ctrl.Start(ctx)

	if cfg.WatchAuthLog {
		watcher, err := logwatch.New(logwatch.Config{
			HostRoot: cfg.HostRoot,
			Paths:    cfg.AuthLogPaths,
			OnChange: func(string) { ctrl.Invalidate() },
		}, log)
		if err != nil {
			log.WithError(err).Warn("Auth log watcher unavailable, relying on cache TTL")
		} else {
			go watcher.Start(ctx)
		}
	}

	srv := server.New(cfg, ctrl, log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Sensor API server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutting down sensor API")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
