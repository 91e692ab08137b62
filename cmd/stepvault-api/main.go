package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stepvault/stepvault/internal/backup"
	"github.com/stepvault/stepvault/internal/config"
	"github.com/stepvault/stepvault/internal/database"
	"github.com/stepvault/stepvault/internal/grouping"
	"github.com/stepvault/stepvault/internal/library"
	"github.com/stepvault/stepvault/internal/logging"
	"github.com/stepvault/stepvault/internal/server"
	"github.com/stepvault/stepvault/internal/settings"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stepvault-api",
		Short: "Stepvault media library service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Optional rotating log file path")
	cmd.PersistentFlags().String("thumbnail-command", defaults.GetString("media.thumbnail_command"), "ffmpeg-compatible binary for thumbnail rendering")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "media.thumbnail_command", "thumbnail-command")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	libraryService, err := library.NewService(library.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		Thumbnailer: library.CommandThumbnailer{Command: appConfig.ThumbnailCommand},
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer libraryService.Close()

	settingsEngine, err := settings.NewEngine(settings.Config{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
		Notifier: libraryService.Notifier(),
	})
	if err != nil {
		return err
	}

	groupingService, err := grouping.NewService(grouping.ServiceConfig{
		Library:  libraryService,
		Settings: settingsEngine,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	backupCodec, err := backup.NewCodec(backup.Config{
		Database: db,
		Library:  libraryService,
		Settings: settingsEngine,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Library:  libraryService,
		Settings: settingsEngine,
		Grouping: groupingService,
		Backup:   backupCodec,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
