package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2FlowFeatures/internal/api"
	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/engine/manager"
	"Go2FlowFeatures/internal/factory"
	"Go2FlowFeatures/internal/metrics"
	"Go2FlowFeatures/internal/pkg/logging"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "configs/config.yaml"

var (
	configPath   = pflag.StringP("config", "c", defaultConfigPath, "path to the YAML configuration")
	sourcePath   = pflag.StringP("read", "r", "", "capture file to follow")
	outputPath   = pflag.StringP("output", "o", "", "feature table to write")
	batchSize    = pflag.IntP("batch-size", "b", 0, "packets per batch")
	pollInterval = pflag.DurationP("poll-interval", "p", 0, "time between polls of the capture")
	writeMode    = pflag.StringP("mode", "m", "", "write mode: overwrite or append")
	windowScope  = pflag.String("window-scope", "", "windowing of stream features: global or batch")
	flowTTL      = pflag.Duration("flow-ttl", 0, "evict flows idle for longer than this (capture time)")
	watch        = pflag.Bool("watch", false, "wake up on filesystem notifications")
	logLevel     = pflag.String("log-level", "", "log level")
)

func main() {
	pflag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	runID := uuid.NewString()
	log := logger.WithField("run_id", runID)
	log.Info("Starting ns-extractor...")

	writers, err := manager.BuildWriters(cfg, factory.SinkContext{RunID: runID, Logger: logger})
	if err != nil {
		log.Fatalf("Failed to create feature sinks: %v", err)
	}

	m := metrics.New()
	mgr, err := manager.NewManager(cfg, runID, writers, logger, m)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}

	var server *api.Server
	if cfg.API.ListenAddr != "" || cfg.API.GRPCListenAddr != "" {
		server = api.NewServer(cfg.API, mgr, m.Registry, logger)
		mgr.OnStateChange(server.ObserveState)
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start API: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Run(ctx); err != nil {
		log.WithError(err).Error("Manager stopped with an error")
	}

	log.Info("Shutdown signal received, flushing sinks...")
	if err := mgr.Close(); err != nil {
		log.WithError(err).Error("Failed to close feature sinks")
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("API server forced to shutdown")
		}
	}
	log.Info("Shutdown complete.")
}

// loadConfig reads the configuration file. A missing default file falls
// back to built-in defaults so that flags alone are enough.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(*configPath)
	if err == nil {
		return cfg, nil
	}
	if !pflag.CommandLine.Changed("config") && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

func applyFlags(cfg *config.Config) {
	flags := pflag.CommandLine
	if flags.Changed("read") {
		cfg.Extractor.SourcePath = *sourcePath
	}
	if flags.Changed("output") {
		cfg.Extractor.OutputPath = *outputPath
	}
	if flags.Changed("batch-size") {
		cfg.Extractor.BatchSize = *batchSize
	}
	if flags.Changed("poll-interval") {
		cfg.Extractor.PollInterval = pollInterval.String()
	}
	if flags.Changed("mode") {
		cfg.Extractor.WriteMode = *writeMode
	}
	if flags.Changed("window-scope") {
		cfg.Extractor.WindowScope = *windowScope
	}
	if flags.Changed("flow-ttl") {
		cfg.Extractor.FlowTTL = flowTTL.String()
	}
	if flags.Changed("watch") {
		cfg.Extractor.Watch = *watch
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
}
