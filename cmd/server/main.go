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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gwi.com/chat-relay/internal/api"
	"gwi.com/chat-relay/internal/auth"
	"gwi.com/chat-relay/internal/config"
	"gwi.com/chat-relay/internal/core"
	"gwi.com/chat-relay/internal/llm"
	"gwi.com/chat-relay/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "chat-relay",
		Short:        "Streaming chat relay in front of Gemini, OpenAI and DeepSeek models",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	rootCmd.AddCommand(newServeCmd(), newTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func newTokenCmd() *cobra.Command {
	var ownerID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			token, err := auth.GenerateJWT(cfg.JWTSecret, ownerID, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner id to put in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cobra.CheckErr(cmd.MarkFlagRequired("owner"))
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "DEBUG" {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	if !cfg.EnvFileLoaded {
		logger.Info("No .env file found, using environment variables")
	}
	logger.Debug("Service starting in DEBUG mode")

	dbStore, err := store.Open(cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		logger.Error("Failed to initialize database", zap.Error(err))
		return err
	}
	defer dbStore.Close()

	resolver := llm.NewResolver(map[llm.Family]llm.Credentials{
		llm.FamilyGemini:   {APIKey: cfg.Gemini.APIKey, BaseURL: cfg.Gemini.BaseURL},
		llm.FamilyOpenAI:   {APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL},
		llm.FamilyDeepSeek: {APIKey: cfg.DeepSeek.APIKey, BaseURL: cfg.DeepSeek.BaseURL},
	})
	factory := llm.NewClient
	if cfg.LLMMode == "MOCK" {
		logger.Info("Using mock provider clients")
		factory = llm.MockFactory
	}
	registry := llm.NewRegistry(factory, logger)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("Failed to close provider clients", zap.Error(err))
		}
	}()

	chatService := core.NewChatService(dbStore, resolver, registry, core.Settings{
		DefaultModelID:      cfg.DefaultModelID,
		DefaultOwnerID:      cfg.DefaultOwnerID,
		DefaultSystemPrompt: cfg.DefaultSystemPrompt,
		HistoryLimit:        cfg.HistoryLimit,
	}, logger)

	if cfg.JWTSecret == "" {
		logger.Info("JWT_SECRET not set, serving every request as the default owner", zap.String("owner_id", cfg.DefaultOwnerID))
	}
	router := api.NewRouter(api.NewAPIHandler(chatService, logger), cfg.JWTSecret, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		logger.Error("Could not listen", zap.String("addr", serverAddr), zap.Error(err))
		return err
	case <-quit:
	}
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Info("Server exiting gracefully")
	return nil
}
