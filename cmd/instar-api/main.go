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
	"go.uber.org/zap"

	"github.com/instarlab/instar-maps/backend/internal/assets"
	"github.com/instarlab/instar-maps/backend/internal/config"
	"github.com/instarlab/instar-maps/backend/internal/database"
	"github.com/instarlab/instar-maps/backend/internal/logging"
	"github.com/instarlab/instar-maps/backend/internal/projects"
	"github.com/instarlab/instar-maps/backend/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "instar-api",
		Short: "Instar Maps backend service",
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
	cmd.PersistentFlags().String("media-root", defaults.GetString("media.root"), "Directory for uploaded floor images")
	cmd.PersistentFlags().String("media-base-url", defaults.GetString("media.base_url"), "URL base path for stored media")
	cmd.PersistentFlags().String("list-order", defaults.GetString("projects.list_order"), "Project listing order (updated_desc, updated_asc)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "media.root", "media-root")
	bindFlag(cmd, "media.base_url", "media-base-url")
	bindFlag(cmd, "projects.list_order", "list-order")
	bindFlag(cmd, "log.level", "log-level")
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	storage, err := assets.NewFileSystemStorage(assets.FileSystemStorageConfig{
		Root:    appConfig.MediaRoot,
		BaseURL: appConfig.MediaBaseURL,
	})
	if err != nil {
		return err
	}

	projectsService, err := projects.NewService(projects.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		Logger:       logger,
		ListOrder:    appConfig.ListOrder,
		AssetCleanup: assets.NewCleanup(storage),
	})
	if err != nil {
		return err
	}

	assetsService, err := assets.NewService(assets.ServiceConfig{
		Storage:  storage,
		Projects: projectsService,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		ProjectsService: projectsService,
		AssetsService:   assetsService,
		Logger:          logger,
		MediaRoot:       appConfig.MediaRoot,
		MediaBaseURL:    appConfig.MediaBaseURL,
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
