package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/chats"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/config"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/database"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/server"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "murmur-api",
		Short: "Murmur social network backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Remove dangling social graph references and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile()
		},
	})

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
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")
	cmd.PersistentFlags().String("assets-directory", defaults.GetString("assets.directory"), "Directory for uploaded images")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "assets.directory", "assets-directory")
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

func openStore() (config.AppConfig, *zap.Logger, *gorm.DB, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return config.AppConfig{}, nil, nil, nil, err
	}

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return config.AppConfig{}, nil, nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return config.AppConfig{}, nil, nil, nil, err
	}
	closer := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return appConfig, logger, db, closer, nil
}

func runReconcile() error {
	_, logger, db, closer, err := openStore()
	if err != nil {
		return err
	}
	defer closer()

	report, err := database.Reconcile(db, logger)
	if err != nil {
		return err
	}
	logger.Info("reconcile finished", zap.Int64("rows_removed", report.Total()))
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, logger, db, closer, err := openStore()
	if err != nil {
		return err
	}
	defer closer()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	assetStore, err := assets.NewLocalStore(assets.LocalStoreConfig{
		Directory:  appConfig.AssetsDirectory,
		PublicPath: appConfig.AssetsPublicPath,
		MaxBytes:   appConfig.AssetsMaxBytes,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()
	dispatcher := realtime.NewDispatcher()

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Publisher:  dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	postService, err := posts.NewService(posts.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Assets:     assetStore,
		Notifier:   notificationService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	chatService, err := chats.NewService(chats.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Publisher:  dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:              db,
		Clock:                 time.Now,
		IDProvider:            idProvider,
		Hasher:                auth.NewBcryptHasher(bcrypt.DefaultCost),
		Assets:                assetStore,
		DefaultProfilePicture: appConfig.DefaultProfilePicture,
		DeletionCascades:      []users.DeletionCascade{postService, notificationService, chatService},
		Logger:                logger,
	})
	if err != nil {
		return err
	}

	mutator, err := graph.NewMutator(graph.MutatorConfig{
		Database: db,
		Clock:    time.Now,
		Notifier: notificationService,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Users:         userService,
		Posts:         postService,
		Graph:         mutator,
		Notifications: notificationService,
		Chats:         chatService,
		Realtime:      dispatcher,
		Assets: server.StaticAssets{
			Directory:  assetStore.Directory(),
			PublicPath: assetStore.PublicPath(),
		},
		AllowedOrigins: appConfig.AllowedOrigins,
		CookieName:     appConfig.CookieName,
		CookieSecure:   appConfig.CookieSecure,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// realtime streams observe the base context and end when shutdown begins
	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return signalCtx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver))
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
