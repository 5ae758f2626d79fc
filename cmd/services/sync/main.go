// Package main provides the FlowVault sync worker entry point. It runs the
// same server with the periodic snapshot scheduler enabled; the HTTP surface
// stays up for health checks and operator access.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowvault/flowvault/internal/platform/config"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/workflow/server"
)

const serviceName = "sync"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.New(cfg.Logger)
	log.Info("starting flowvault sync worker",
		"version", cfg.Version,
		"cron_spec", cfg.Sync.CronSpec,
		"workers", cfg.Sync.Workers,
	)

	srv, err := server.New(
		server.WithConfig(cfg),
		server.WithLogger(log),
		server.WithScheduler(),
	)
	if err != nil {
		log.Fatal("failed to initialize server", "error", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("server stopped", "error", err)
		}
	}()

	// Run one cycle at startup so a fresh deployment doesn't wait for the
	// next cron tick to catch up.
	if os.Getenv("SYNC_RUN_ON_START") == "true" {
		go func() {
			if _, err := srv.Scheduler().RunCycle(context.Background()); err != nil {
				log.Error("startup sync cycle failed", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("flowvault sync worker stopped")
}
