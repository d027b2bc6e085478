package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chaos-organizer/internal/app"
	"chaos-organizer/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	settings   = config.New()
)

var rootCmd = &cobra.Command{
	Use:           "chaos-organizer",
	Short:         "Realtime message and file relay",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(settings, configFile)
		if err != nil {
			return err
		}

		logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}

		slog.Info("Server starting", "http_port", cfg.Port, "ws_port", cfg.WSPort)
		if err := a.Run(ctx); err != nil {
			return err
		}
		slog.Info("Server stopped")
		return nil
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default ./config/config.yaml or ./config.yaml)")
	flags.Int("port", 3000, "HTTP port")
	flags.Int("ws-port", 3001, "dedicated WebSocket port")
	flags.String("data-file", "data/messages.json", "event log file for the file store")
	flags.String("store", config.StoreFile, "event log backend (file or redis)")
	flags.String("upload-dir", "uploads", "upload directory for the disk blob store")
	flags.String("blobs", config.BlobDisk, "blob backend (disk or s3)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text or json)")

	bindFlags(settings, map[string]string{
		"port":          "port",
		"ws_port":       "ws-port",
		"data_file":     "data-file",
		"store_backend": "store",
		"upload_dir":    "upload-dir",
		"blob_backend":  "blobs",
		"log_level":     "log-level",
		"log_format":    "log-format",
	})
}

func bindFlags(v *viper.Viper, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, rootCmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
