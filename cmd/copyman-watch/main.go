package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mathysIN/copyman/internal/auth"
	"github.com/mathysIN/copyman/internal/client"
	"github.com/mathysIN/copyman/internal/logging"
	"github.com/mathysIN/copyman/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const reconnectDelay = 5 * time.Second

type watchOptions struct {
	serverURL    string
	sessionID    string
	password     string
	passwordSalt string
	mirrorPath   string
	logLevel     string
}

func main() {
	options := watchOptions{}

	rootCmd := &cobra.Command{
		Use:   "copyman-watch",
		Short: "Join a copyman session, tail its events, keep the offline mirror current",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), options)
		},
	}

	rootCmd.Flags().StringVar(&options.serverURL, "server", "http://127.0.0.1:8080", "Engine base URL")
	rootCmd.Flags().StringVar(&options.sessionID, "session", "", "Session id to join")
	rootCmd.Flags().StringVar(&options.password, "password", "", "Session password, if protected")
	rootCmd.Flags().StringVar(&options.passwordSalt, "password-salt", "", "Deployment password salt")
	rootCmd.Flags().StringVar(&options.mirrorPath, "mirror", "copyman-mirror.db", "Offline mirror SQLite path")
	rootCmd.Flags().StringVar(&options.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWatch(ctx context.Context, options watchOptions) error {
	if options.sessionID == "" {
		return errors.New("--session is required")
	}

	logger, err := logging.NewLogger(options.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	mirror, err := client.OpenMirror(options.mirrorPath, logger)
	if err != nil {
		return err
	}

	passwordHash := ""
	if options.password != "" {
		passwordHash = auth.NewPasswordHasher(options.passwordSalt).Hash(options.password)
	}

	watcher, err := client.NewClient(client.Config{
		BaseURL:      options.serverURL,
		SessionID:    options.sessionID,
		PasswordHash: passwordHash,
		Mirror:       mirror,
		OnInsight: func(payload json.RawMessage) {
			var insight struct {
				ConnectedCount int `json:"connectedCount"`
			}
			if err := json.Unmarshal(payload, &insight); err != nil {
				return
			}
			logger.Info("room presence changed", zap.Int("connected", insight.ConnectedCount))
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if hydrated, err := watcher.Hydrate(); err != nil {
		logger.Warn("offline hydration failed", zap.Error(err))
	} else if hydrated {
		printContent(watcher.Content(), "mirrored")
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		if err := watcher.FetchState(signalCtx); err != nil {
			logger.Warn("state fetch failed", zap.Error(err))
		} else {
			printContent(watcher.Content(), "live")
		}

		err := watcher.Listen(signalCtx)
		if signalCtx.Err() != nil {
			return nil
		}
		logger.Info("realtime channel lost, reconnecting",
			zap.Error(err), zap.Duration("delay", reconnectDelay))

		select {
		case <-signalCtx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func printContent(records []session.Content, source string) {
	fmt.Printf("-- %d records (%s) --\n", len(records), source)
	for _, record := range records {
		switch typed := record.(type) {
		case session.Note:
			fmt.Printf("note       %s  %q\n", typed.ID, typed.Body)
		case session.Attachment:
			fmt.Printf("attachment %s  %s\n", typed.ID, typed.AttachmentPath)
		}
	}
}
