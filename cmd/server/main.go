package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifuryst/reelpost/internal/config"
	"github.com/ifuryst/reelpost/internal/server"
	"github.com/ifuryst/reelpost/pkg/logger"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "reelpost",
	Short: "Reelpost - scheduled short-form video publisher",
	Long:  `Reelpost stores scheduled video posts, fires them at their due time against the platform relay and recovers missed posts after a restart.`,
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Reelpost %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(authCmd)
}

// bootstrap loads config and logger and builds the service graph without starting it.
func bootstrap() (*server.Server, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}
	return srv, appLogger, nil
}

func runServer(*cobra.Command, []string) error {
	srv, appLogger, err := bootstrap()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Reelpost server", zap.String("version", version))

	// Start server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}

	// Graceful shutdown
	if err := srv.Shutdown(context.Background()); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
