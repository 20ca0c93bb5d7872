package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"stepflow-monitor/internal/config"
	"stepflow-monitor/internal/engine"
	"stepflow-monitor/internal/httpapi"
	"stepflow-monitor/internal/hub"
	"stepflow-monitor/internal/logger"
	"stepflow-monitor/internal/orchestrator"
	"stepflow-monitor/internal/store"
	"stepflow-monitor/internal/wsapi"
	"stepflow-monitor/version"
)

var (
	serveHTTPPort int
	serveWSPort   int
	serveLogJSON  bool
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server", "start"},
	Short:   "Start the StepFlow Monitor HTTP and WebSocket server",
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveHTTPPort, "http", 0, "HTTP API port (overrides HTTP_PORT)")
	serveCmd.Flags().IntVar(&serveWSPort, "ws", 0, "WebSocket port (overrides WS_PORT)")
	serveCmd.Flags().BoolVar(&serveLogJSON, "json-logs", false, "Emit structured JSON logs instead of the console format")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if serveHTTPPort != 0 {
		cfg.HTTPPort = serveHTTPPort
	}
	if serveWSPort != 0 {
		cfg.WSPort = serveWSPort
	}
	if serveLogJSON {
		cfg.LogJSON = true
	}

	if err := logger.Initialize(cfg.LogJSON, cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Cleanup()
	log := logger.With("server")

	dbDir := filepath.Join(cfg.StoragePath, "database")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	st, err := store.Open(filepath.Join(dbDir, "stepflow.db"), logger.With("db"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	logs := store.NewLogWriter(cfg.StoragePath)
	h := hub.New(cfg.SubscriberHighWaterMark, logger.With("hub"))
	eng := engine.New(st, logs, h, engine.Config{
		MaxConcurrentExecutions: cfg.MaxConcurrentExecutions,
		MaxLineBytes:            cfg.MaxLineBytes,
		MaxArtifactBytes:        cfg.MaxArtifactBytes,
		DefaultTimeoutSeconds:   cfg.DefaultExecutionTimeoutSeconds,
		CancelGraceSeconds:      cfg.CancelGraceSeconds,
		StepLogBufferSize:       cfg.StepLogBufferSize,
	}, logger.With("engine"))

	if err := orchestrator.RecoverNonTerminal(st, logs, logger.With("orchestrator")); err != nil {
		log.Warnw("startup recovery scan failed", "error", err)
	}

	api := httpapi.New(st, logs, eng, h, cfg.AuthEnabled, cfg.AuthToken, logger.With("http"))
	wsHandler := wsapi.New(h, st, logger.With("ws"))

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: api.Router(),
	}
	wsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WSPort),
		Handler: wsHandler,
	}

	printStartupBanner(cfg)

	errChan := make(chan error, 2)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("websocket server: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan struct{})
		go func() {
			orchestrator.Shutdown(eng)

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSeconds)*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(ctx)
			_ = wsSrv.Shutdown(ctx)
			close(shutdownDone)
		}()

		select {
		case <-shutdownDone:
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

func printStartupBanner(cfg *config.Config) {
	pterm.DefaultHeader.WithFullWidth().Printf("StepFlow Monitor %s", version.Get().Short())
	pterm.Info.Printf("HTTP API listening on :%d\n", cfg.HTTPPort)
	pterm.Info.Printf("WebSocket listening on :%d\n", cfg.WSPort)
	pterm.Info.Printf("Storage path: %s\n", cfg.StoragePath)
	if cfg.AuthEnabled {
		pterm.Info.Println("Bearer token authentication enabled")
	} else {
		pterm.Warning.Println("Authentication disabled - do not expose this port publicly")
	}
}
