package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikey/mail-policy/internal/adapters/cache"
	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"github.com/mikey/mail-policy/internal/di"
	"github.com/mikey/mail-policy/internal/factory"
	"github.com/mikey/mail-policy/internal/metrics"
	"github.com/mikey/mail-policy/internal/ports"
	"go.uber.org/zap"

	// PPOLICY_* overrides may come from a .env file
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Build the dependency injection container
	container, err := di.BuildContainer(*configFile)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	frontend ports.PolicyFrontend,
	recorder *metrics.Recorder,
	checks []core.Checkable,
	fingerprintCache *cache.MemoryCache,
	store factory.PersistentStore,
) error {
	defer logger.Sync()

	var metricsServer *metrics.Server
	if addr := cfg.GetString("metrics.listen_address"); addr != "" {
		metricsServer = metrics.NewServer(addr, recorder, logger)
		metricsServer.Start()
	}

	// Start the front end
	if err := frontend.Start(); err != nil {
		logger.Error("Failed to start policy server", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	// Stop the front end
	if err := frontend.Stop(); err != nil {
		logger.Error("Failed to stop policy server", zap.Error(err))
	}

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Stop(ctx); err != nil {
			logger.Error("Failed to stop metrics server", zap.Error(err))
		}
		cancel()
	}

	// Close any checks holding resources
	for _, c := range checks {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Error("Failed to close check", zap.String("check", c.Name()), zap.Error(err))
			}
		}
	}

	if fingerprintCache != nil {
		fingerprintCache.Stop()
	}
	store.Stop()

	logger.Info("Shutdown complete")
	return nil
}
