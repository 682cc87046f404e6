package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/novarec/novarec/internal/api"
	"github.com/novarec/novarec/internal/config"
	"github.com/novarec/novarec/internal/library"
	"github.com/novarec/novarec/internal/logger"
	"github.com/novarec/novarec/internal/record"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the novarec control server",
	Long: `Start the HTTP control server. The server exposes a REST API for
starting and stopping recordings, browsing the recordings library, and a
WebSocket stream of session events.`,
	Example: `  # Start server on default port (8080)
  novarec serve

  # Start server on custom port
  novarec serve --port 9090

  # Start with debug logging
  novarec serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Override port from flag if provided
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}

	// Override log level from flag if provided
	if viper.IsSet("log_level") {
		if logLevel := viper.GetString("log_level"); logLevel != "" {
			configMgr.SetLogLevel(logLevel)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("serve")
	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Configuration loaded")

	recorder := record.NewRecorder()
	lib := library.New(cfg.RecordingsDir)
	server := api.NewServer(configMgr, recorder, lib, cfg.ServerPort)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info().Int("port", cfg.ServerPort).Msg("novarec control server is running, press Ctrl+C to stop")

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
	}

	log.Info().Msg("Shutting down gracefully")
	if sess := recorder.Active(); sess != nil {
		sess.Stop()
		<-sess.Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
