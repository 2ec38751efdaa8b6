package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Parse flags (override env vars)
	host := flag.String("host", cfg.Index.Host, "Listen address")
	port := flag.String("port", cfg.Index.Port, "Server port")
	dir := flag.String("dir", cfg.Index.Dir, "Directory of package envelopes")
	device := flag.String("device", cfg.Index.DeviceInfo, "Device info path prefix")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development logging")
	flag.Parse()

	cfg.Index.Host = *host
	cfg.Index.Port = *port
	cfg.Index.Dir = *dir
	cfg.Index.DeviceInfo = *device
	cfg.Logging.Development = *dev

	// Create server
	srv, err := server.NewServer(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Close(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
