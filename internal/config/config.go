package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "REMINDFUL"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "remindful.db"
	defaultLogLevel       = "info"
	defaultCookieName     = "remindful_session"
	defaultIssuer         = "remindful"
	defaultStoreBackend   = StoreBackendSQLite
	defaultMongoDatabase  = "remindful"
	defaultNotifyInterval = time.Hour
	defaultPushURL        = "https://exp.host/--/api/v2/push/send"
	defaultAPIURL         = "http://localhost:8080"
	defaultCacheBackend   = CacheBackendSQLite
	defaultCachePath      = "remindful-cache.db"
)

// Document store backends of the API server.
const (
	StoreBackendSQLite = "sqlite"
	StoreBackendMongo  = "mongo"
)

// Cache backends of the client.
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// AppConfig captures runtime configuration for the API server and the
// notification batch.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	SigningSecret  string
	CookieName     string
	Issuer         string
	DatabasePath   string
	StoreBackend   string
	MongoURI       string
	MongoDatabase  string
	LogLevel       string
	LogFile        string
	NotifyInterval time.Duration
	PushURL        string
}

// ClientConfig captures configuration for the remindctl client. CachePath is
// the local client database; it holds the migration ledger for every cache
// backend and the snapshots for the sqlite backend.
type ClientConfig struct {
	APIURL       string
	APIToken     string
	UserID       string
	CacheBackend string
	CachePath    string
	RedisURL     string
	LogLevel     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("store.backend", defaultStoreBackend)
	configViper.SetDefault("mongo.database", defaultMongoDatabase)
	configViper.SetDefault("notify.interval", defaultNotifyInterval)
	configViper.SetDefault("notify.push_url", defaultPushURL)

	configViper.SetDefault("api.url", defaultAPIURL)
	configViper.SetDefault("cache.backend", defaultCacheBackend)
	configViper.SetDefault("cache.path", defaultCachePath)
}

// Load parses server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		AllowedOrigins: splitList(configViper.GetStringSlice("http.allowed_origins")),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		CookieName:     configViper.GetString("auth.cookie_name"),
		Issuer:         configViper.GetString("auth.issuer"),
		DatabasePath:   configViper.GetString("database.path"),
		StoreBackend:   strings.ToLower(strings.TrimSpace(configViper.GetString("store.backend"))),
		MongoURI:       configViper.GetString("mongo.uri"),
		MongoDatabase:  configViper.GetString("mongo.database"),
		LogLevel:       configViper.GetString("log.level"),
		LogFile:        configViper.GetString("log.file"),
		NotifyInterval: configViper.GetDuration("notify.interval"),
		PushURL:        configViper.GetString("notify.push_url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.StoreBackend {
	case StoreBackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case StoreBackendMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("mongo.uri is required for the mongo store backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.StoreBackend)
	}
	if c.NotifyInterval <= 0 {
		return fmt.Errorf("notify.interval must be positive")
	}
	return nil
}

// LoadClient parses remindctl configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		APIURL:       configViper.GetString("api.url"),
		APIToken:     configViper.GetString("api.token"),
		UserID:       configViper.GetString("user.id"),
		CacheBackend: strings.ToLower(strings.TrimSpace(configViper.GetString("cache.backend"))),
		CachePath:    configViper.GetString("cache.path"),
		RedisURL:     configViper.GetString("redis.url"),
		LogLevel:     configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ClientConfig) validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("api.url is required")
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return fmt.Errorf("api.token is required")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("user.id is required")
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return fmt.Errorf("cache.path is required")
	}
	switch c.CacheBackend {
	case CacheBackendSQLite, CacheBackendMemory:
	case CacheBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("redis.url is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.CacheBackend)
	}
	return nil
}

func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
