package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "COPYMAN"
	defaultHTTPAddress = "0.0.0.0:8080"
	defaultRedisAddr   = "127.0.0.1:6379"
	defaultEnvironment = "development"
	defaultLogLevel    = "info"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	Environment       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	PasswordSalt      string
	ShareSigningKey   string
	SessionCookieName string
	LogLevel          string
}

// Namespace derives the keyspace prefix isolating this deployment's records.
func (c AppConfig) Namespace() string {
	return "copyman:" + c.Environment
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
	configViper.SetDefault("environment", defaultEnvironment)
	configViper.SetDefault("redis.addr", defaultRedisAddr)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("redis.pool_size", 0)
	configViper.SetDefault("auth.session_cookie", "session")
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		Environment:       configViper.GetString("environment"),
		RedisAddr:         configViper.GetString("redis.addr"),
		RedisPassword:     configViper.GetString("redis.password"),
		RedisDB:           configViper.GetInt("redis.db"),
		RedisPoolSize:     configViper.GetInt("redis.pool_size"),
		PasswordSalt:      configViper.GetString("auth.password_salt"),
		ShareSigningKey:   configViper.GetString("share.signing_secret"),
		SessionCookieName: configViper.GetString("auth.session_cookie"),
		LogLevel:          configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.RedisAddr) == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if strings.TrimSpace(c.Environment) == "" {
		return fmt.Errorf("environment is required")
	}
	if strings.TrimSpace(c.PasswordSalt) == "" {
		return fmt.Errorf("auth.password_salt is required")
	}
	return nil
}
