package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mathysIN/copyman/internal/auth"
	"github.com/mathysIN/copyman/internal/config"
	"github.com/mathysIN/copyman/internal/database"
	"github.com/mathysIN/copyman/internal/logging"
	"github.com/mathysIN/copyman/internal/room"
	"github.com/mathysIN/copyman/internal/server"
	"github.com/mathysIN/copyman/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "copyman-api",
		Short: "Copyman session synchronization service",
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
	cmd.PersistentFlags().String("environment", defaults.GetString("environment"), "Deployment environment, part of the keyspace prefix")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address")
	cmd.PersistentFlags().String("redis-password", "", "Redis password (overrides env)")
	cmd.PersistentFlags().Int("redis-db", defaults.GetInt("redis.db"), "Redis database index")
	cmd.PersistentFlags().String("password-salt", "", "Session password salt (overrides env)")
	cmd.PersistentFlags().String("share-signing-secret", "", "Share token signing secret (overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "environment", "environment")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "redis.password", "redis-password")
	bindFlag(cmd, "redis.db", "redis-db")
	bindFlag(cmd, "auth.password_salt", "password-salt")
	bindFlag(cmd, "share.signing_secret", "share-signing-secret")
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

	redisClient, err := database.OpenRedis(ctx, database.RedisConfig{
		Addr:     appConfig.RedisAddr,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
		PoolSize: appConfig.RedisPoolSize,
	}, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close() //nolint:errcheck

	store, err := session.NewStore(session.StoreConfig{
		Client:    database.NewRedisHashStore(redisClient),
		Namespace: appConfig.Namespace(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	hasher := auth.NewPasswordHasher(appConfig.PasswordSalt)

	var shareTokens *auth.ShareTokenIssuer
	var shareValidator auth.ShareTokenValidator
	if appConfig.ShareSigningKey != "" {
		shareTokens = auth.NewShareTokenIssuer(auth.ShareTokenConfig{
			SigningSecret: []byte(appConfig.ShareSigningKey),
			Issuer:        "copyman-api",
			Audience:      "copyman",
		})
		shareValidator = shareTokens.Validate
	}

	gate, err := auth.NewGate(auth.GateConfig{
		Store:             store,
		ShareTokens:       shareValidator,
		SessionCookieName: appConfig.SessionCookieName,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:       store,
		Gate:        gate,
		Hasher:      hasher,
		ShareTokens: shareTokens,
		Registry:    room.NewRegistry(logger),
		Logger:      logger,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("namespace", appConfig.Namespace()))
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
