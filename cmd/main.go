package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"castkeeper/internal/api"
	"castkeeper/internal/clock"
	"castkeeper/internal/config"
	"castkeeper/internal/engine"
	"castkeeper/internal/ha"
	"castkeeper/internal/transport"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultAPIPort = 8081

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	apiPort := defaultAPIPort
	if p := os.Getenv("API_PORT"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			logger.Fatal("Invalid API_PORT", zap.String("value", p), zap.Error(err))
		}
		apiPort = parsed
	}

	if haURL == "" || haToken == "" {
		logger.Fatal("HA_URL and HA_TOKEN environment variables must be set")
	}

	logger.Info("Starting Dashboard Keeper",
		zap.String("ha_url", haURL),
		zap.String("config", configPath))

	// Load and validate configuration; any malformed shape is fatal here,
	// never during scheduling.
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to Home Assistant
	client := ha.NewClient(haURL, haToken, logger)
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	// Wire the engine
	tr := transport.NewCatt(transport.DefaultTimeout, logger)
	scheduler := engine.NewScheduler(cfg, client, tr, clock.NewReal(), logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	// Start the diagnostics API
	server := api.NewServer(scheduler, logger, apiPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}
	defer server.Stop()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Dashboard Keeper running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")
}
