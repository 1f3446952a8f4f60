package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/cache"
	"github.com/MarcoPoloResearchLab/remindful/internal/config"
	"github.com/MarcoPoloResearchLab/remindful/internal/database"
	"github.com/MarcoPoloResearchLab/remindful/internal/documents/httpstore"
	"github.com/MarcoPoloResearchLab/remindful/internal/logging"
	"github.com/MarcoPoloResearchLab/remindful/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand(&app{open: openClientSession})
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initConfig()
	}
	setupFlags(rootCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api-url", defaults.GetString("api.url"), "Document API base URL")
	cmd.PersistentFlags().String("token", "", "Session token")
	cmd.PersistentFlags().String("user", "", "User identifier")
	cmd.PersistentFlags().String("cache-backend", defaults.GetString("cache.backend"), "Cache backend (sqlite, redis, memory)")
	cmd.PersistentFlags().String("cache-path", defaults.GetString("cache.path"), "Local client database path")
	cmd.PersistentFlags().String("redis-url", "", "Redis URL for the redis cache backend")
	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	bindFlag(cmd, "api.url", "api-url")
	bindFlag(cmd, "api.token", "token")
	bindFlag(cmd, "user.id", "user")
	bindFlag(cmd, "cache.backend", "cache-backend")
	bindFlag(cmd, "cache.path", "cache-path")
	bindFlag(cmd, "redis.url", "redis-url")
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

// openClientSession wires a session against the document API, the configured
// cache backend and the local migration ledger.
func openClientSession(ctx context.Context) (*session.Session, func(), error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(clientConfig.LogLevel, "")
	if err != nil {
		return nil, nil, err
	}

	db, err := database.OpenSQLite(clientConfig.CachePath, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){func() { _ = sqlDB.Close() }, func() { _ = logger.Sync() }}
	cleanup := func() {
		for index := len(closers) - 1; index >= 0; index-- {
			closers[index]()
		}
	}

	var backend cache.Backend
	switch clientConfig.CacheBackend {
	case config.CacheBackendRedis:
		redisBackend, err := cache.NewRedisBackend(ctx, clientConfig.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = redisBackend.Close() })
		backend = redisBackend
	case config.CacheBackendMemory:
		backend = cache.NewMemoryBackend()
	default:
		sqliteBackend, err := cache.NewSQLiteBackend(db, time.Now)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		backend = sqliteBackend
	}

	store, err := httpstore.New(httpstore.Config{
		BaseURL: clientConfig.APIURL,
		Token:   clientConfig.APIToken,
		Logger:  logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Debug("client session configured",
		zap.String("api_url", clientConfig.APIURL),
		zap.String("cache_backend", clientConfig.CacheBackend))
	sess, err := buildSession(sessionDeps{
		userID:  clientConfig.UserID,
		store:   store,
		backend: backend,
		ledger:  db,
		logger:  logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return sess, cleanup, nil
}
