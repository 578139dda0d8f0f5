package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/hostauth-sensor/internal/agent"
	"github.com/invisible-tech/hostauth-sensor/internal/config"
	"github.com/invisible-tech/hostauth-sensor/internal/version"
	"github.com/invisible-tech/hostauth-sensor/pkg/logwatch"
	"github.com/invisible-tech/hostauth-sensor/pkg/monitor"
)

func main() {
	once := flag.Bool("once", false, "collect one report, print it as JSON and exit")
	flag.Parse()

	cfg := config.DefaultSensorConfig()
	log := cfg.NewLogger()
	mon := monitor.New(cfg.MonitorConfig(), log)

	if *once {
		report := mon.Collect(context.Background())
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.WithError(err).Fatal("Failed to encode report")
		}
		os.Stdout.Write(append(out, '\n'))
		return
	}

	log.WithFields(logrus.Fields{
		"version":   version.Version,
		"host_root": cfg.HostRoot,
		"interval":  cfg.ScanInterval.String(),
	}).Info("Starting host auth sensor agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ag := agent.New(agent.Config{ScanInterval: cfg.ScanInterval}, mon, log)

	if cfg.WatchAuthLog {
		watcher, err := logwatch.New(logwatch.Config{
			HostRoot: cfg.HostRoot,
			Paths:    cfg.AuthLogPaths,
			OnChange: func(string) { ag.Trigger() },
		}, log)
		if err != nil {
			log.WithError(err).Warn("Auth log watcher unavailable, collecting on interval only")
		} else {
			go watcher.Start(ctx)
		}
	}

	go func() {
		if err := ag.Start(ctx); err != nil {
			log.WithError(err).Error("Agent error")
			cancel()
		}
	}()

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := ag.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error during shutdown")
	}
	cancel()

	log.Info("Agent shutdown complete")
}
