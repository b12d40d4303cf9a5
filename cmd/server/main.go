package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/config"
	"github.com/your-org/recordhub/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "recordhub",
	Short:         "Generic record store with lifecycle events",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Serve the categories and products collections over HTTP.

Configuration comes from the YAML file given by --config (or APP_CONFIG_PATH)
and APP_* environment variables, e.g. APP_BACKEND_DRIVER=sql.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print the resolved backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: driver=%s events.async=%t audit=%t\n",
			cfg.Backend.Driver, cfg.Events.Async, cfg.Audit.Enabled)
		return nil
	},
}

func init() {
	defaultPath := os.Getenv("APP_CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "path to the YAML config file")

	rootCmd.AddCommand(serveCmd, checkConfigCmd)
}

// loadConfig читает конфиг; если файла нет, работаем на defaults и ENV.
func loadConfig() (*config.Config, error) {
	if err := config.Load(configPath); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, err
		}
		if err := config.Load(""); err != nil {
			return nil, fmt.Errorf("критическая ошибка конфигурации: %w", err)
		}
	}
	return config.Get(), nil
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Encoding:    cfg.Log.Encoding,
	}); err != nil {
		return fmt.Errorf("не удалось инициализировать логгер: %w", err)
	}
	defer logger.Sync()

	log := logger.Get()
	app := NewApp(cfg, logger.Component("app"))

	if err := app.Start(); err != nil {
		_ = app.Shutdown()
		return fmt.Errorf("ошибка запуска: %w", err)
	}

	// Ждем сигнала завершения от ОС (Ctrl+C или docker stop)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("получен сигнал остановки", zap.String("signal", sig.String()))

	return app.Shutdown()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Фатальная ошибка: %v\n", err)
		os.Exit(1)
	}
}
