// Package main provides the FlowVault API server entry point
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

const serviceName = "api"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.New(cfg.Logger)
	log.Info("starting flowvault api", "version", cfg.Version, "environment", cfg.Service.Environment)

	srv, err := server.New(
		server.WithConfig(cfg),
		server.WithLogger(log),
	)
	if err != nil {
		log.Fatal("failed to initialize server", "error", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("flowvault api stopped")
}
