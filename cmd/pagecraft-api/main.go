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

	"github.com/pagecraft/pagecraft/backend/internal/auth"
	"github.com/pagecraft/pagecraft/backend/internal/blocks"
	"github.com/pagecraft/pagecraft/backend/internal/config"
	"github.com/pagecraft/pagecraft/backend/internal/database"
	"github.com/pagecraft/pagecraft/backend/internal/logging"
	"github.com/pagecraft/pagecraft/backend/internal/notes"
	"github.com/pagecraft/pagecraft/backend/internal/realtime"
	"github.com/pagecraft/pagecraft/backend/internal/server"
	"github.com/pagecraft/pagecraft/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pagecraft-api",
		Short: "Pagecraft collaborative notes backend",
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
	cmd.PersistentFlags().Int("token-ttl-hours", defaults.GetInt("token.ttl_hours"), "Session token TTL in hours")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma-separated CORS origins")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_hours", "token-ttl-hours")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "pagecraft-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	ids := blocks.NewUUIDProvider()

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: ids,
	})
	if err != nil {
		return err
	}

	blockStore, err := blocks.NewStore(blocks.StoreConfig{
		Database:   db,
		IDProvider: ids,
	})
	if err != nil {
		return err
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: ids,
		BlockStore: blockStore,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	hub, err := realtime.NewHub(realtime.HubConfig{
		Store:  blockStore,
		Access: notesService,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenIssuer:    tokenIssuer,
		UsersService:   usersService,
		NotesService:   notesService,
		Hub:            hub,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
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
