package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/zphelps/jarvis/internal/attention"
	"github.com/zphelps/jarvis/internal/config"
	"github.com/zphelps/jarvis/internal/controlplane"
	"github.com/zphelps/jarvis/internal/decompose"
	"github.com/zphelps/jarvis/internal/events"
	"github.com/zphelps/jarvis/internal/executor"
	"github.com/zphelps/jarvis/internal/executor/research"
	"github.com/zphelps/jarvis/internal/jobs"
	"github.com/zphelps/jarvis/internal/llm"
	"github.com/zphelps/jarvis/internal/models"
	"github.com/zphelps/jarvis/internal/orchestrator"
	"github.com/zphelps/jarvis/internal/store"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Jarvis daemon (jarvisd)",
	Long:  `Starts the Jarvis daemon which runs the job dispatcher and serves the HTTP API for dispatches, tasks, and notifications.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting Jarvis daemon...")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Daemon.Addr = listenAddr
	}
	if dbPath != "" {
		cfg.Daemon.DBPath = dbPath
	}

	// Initialize store
	s, err := store.New(cfg.Daemon.DBPath)
	if err != nil {
		return err
	}

	// Initialize components
	publisher := events.NewPublisher(s)
	notifier := attention.NewNotifier(s)

	client, err := llm.NewClient(llm.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return err
	}

	planner := decompose.New(client)
	registry := executor.NewRegistry()
	registry.Register(research.New(s, publisher, client))

	queue := jobs.NewQueue(s)
	orch := orchestrator.New(s, queue, publisher, notifier, planner, registry)

	// Job dispatcher
	jobCfg := jobs.DefaultConfig()
	if cfg.Jobs.PollIntervalMS > 0 {
		jobCfg.PollInterval = time.Duration(cfg.Jobs.PollIntervalMS) * time.Millisecond
	}
	if cfg.Jobs.MaxConcurrent > 0 {
		jobCfg.MaxConcurrent = cfg.Jobs.MaxConcurrent
	}
	dispatcher := jobs.New(s, jobCfg)
	dispatcher.Register(models.JobDecompose, orch.HandleDecompose)
	dispatcher.Register(models.JobExecute, orch.HandleExecute)

	// Create service and server
	service := controlplane.NewService(s, orch)
	server := controlplane.NewServer(service, cfg.Daemon.Addr)

	dispatcher.Start()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			dispatcher.Stop()
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping job dispatcher...")
	dispatcher.Stop()

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
