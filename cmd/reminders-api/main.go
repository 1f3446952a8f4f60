package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/auth"
	"github.com/MarcoPoloResearchLab/remindful/internal/config"
	"github.com/MarcoPoloResearchLab/remindful/internal/database"
	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/MarcoPoloResearchLab/remindful/internal/documents/mongostore"
	"github.com/MarcoPoloResearchLab/remindful/internal/logging"
	"github.com/MarcoPoloResearchLab/remindful/internal/notify"
	"github.com/MarcoPoloResearchLab/remindful/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reminders-api",
		Short: "Remindful document API service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newNotifyCommand(), newIssueTokenCommand())

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
	cmd.PersistentFlags().String("store-backend", defaults.GetString("store.backend"), "Document store backend (sqlite, mongo)")
	cmd.PersistentFlags().String("mongo-uri", "", "MongoDB connection URI")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", "", "Rotating log file path")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "store.backend", "store-backend")
	bindFlag(cmd, "mongo.uri", "mongo-uri")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
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

// documentBackend is a document store that can also scan due notifications.
type documentBackend interface {
	documents.Store
	documents.DueLister
}

func openDocumentBackend(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (documentBackend, func(), error) {
	switch appConfig.StoreBackend {
	case config.StoreBackendMongo:
		store, err := mongostore.New(ctx, mongostore.Config{
			URI:      appConfig.MongoURI,
			Database: appConfig.MongoDatabase,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(context.Background()); err != nil {
				logger.Warn("mongo disconnect failed", zap.Error(err))
			}
		}, nil
	default:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		store, err := documents.NewSQLiteStore(documents.SQLiteStoreConfig{Database: db, Logger: logger})
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return store, func() { _ = sqlDB.Close() }, nil
	}
}

func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openDocumentBackend(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: validator,
		Store:            store,
		AllowedOrigins:   appConfig.AllowedOrigins,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("store_backend", appConfig.StoreBackend))
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

func newNotifyCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send due reminder notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotify(cmd.Context(), once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single batch and exit")
	cmd.Flags().Duration("interval", config.NewViper().GetDuration("notify.interval"), "Batch interval")
	cmd.Flags().String("push-url", config.NewViper().GetString("notify.push_url"), "Push service endpoint")
	if err := viper.BindPFlag("notify.interval", cmd.Flags().Lookup("interval")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("notify.push_url", cmd.Flags().Lookup("push-url")); err != nil {
		panic(err)
	}
	return cmd
}

func runNotify(ctx context.Context, once bool) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openDocumentBackend(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	batch, err := notify.NewBatch(notify.BatchConfig{
		Due:    store,
		Store:  store,
		Sender: notify.NewExpoSender(notify.ExpoSenderConfig{PushURL: appConfig.PushURL, Logger: logger}),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if once {
		_, err := batch.Run(signalCtx)
		return err
	}
	logger.Info("notification batch scheduled", zap.Duration("interval", appConfig.NotifyInterval))
	if err := batch.RunEvery(signalCtx, appConfig.NotifyInterval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newIssueTokenCommand() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User identifier")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
