package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chat-backend/internal/config"
	"chat-backend/internal/database"
	"chat-backend/internal/handlers"
	"chat-backend/internal/llm"
	"chat-backend/internal/middleware"
	"chat-backend/internal/repository"
	"chat-backend/internal/router"
	"chat-backend/internal/services"
	"chat-backend/internal/websocket"
	"chat-backend/internal/worker"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "chat-backend",
	Short:         "Chat API that streams model replies and keeps conversation history",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		setupLogging(cfg)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Require("DATABASE_URL"); err != nil {
			return err
		}
		pool, err := database.NewPostgresPool(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		return database.RunMigrations(cmd.Context(), pool, cfg.MigrationsDir)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue a session token for local testing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Require("JWT_SECRET"); err != nil {
			return err
		}
		userID := uuid.New()
		if len(args) == 1 {
			parsed, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrap(err, "invalid user id")
			}
			userID = parsed
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := middleware.NewJWTAuth(cfg.JWTSecret).GenerateAccessToken(userID, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Require("DATABASE_URL", "REDIS_URL", "JWT_SECRET"); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "postgres connection failed")
	}
	defer pool.Close()
	log.Info().Msg("postgres connected")

	if err := database.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		return errors.Wrap(err, "database migration failed")
	}

	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "redis connection failed")
	}
	defer redisClients.Close()
	log.Info().Msg("redis connected")

	provider, err := llm.New(ctx, llm.Config{
		Provider:      cfg.LLMProvider,
		APIKey:        cfg.APIKey(),
		BaseURL:       cfg.OpenRouterBaseURL,
		MaxConcurrent: cfg.LLMConcurrentReqs,
		SlotTimeout:   cfg.LLMSlotTimeout,
	})
	if err != nil {
		return errors.Wrap(err, "inference provider initialization failed")
	}
	defer provider.Close()
	log.Info().Str("provider", provider.Name()).Int("concurrent", cfg.LLMConcurrentReqs).Msg("inference provider ready")

	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	messageRepo := repository.NewMessageRepo(pool)
	updates := services.NewUpdatePublisher(redisClients.Cache)
	chatService := services.NewChatService(messageRepo, provider, cfg.ChatSystemPrompt, updates)
	catalogService := services.NewCatalogService(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, redisClients.Cache, cfg.ModelCatalogTTL)

	if cfg.OpenRouterAPIKey != "" && cfg.ModelCatalogTTL > 0 {
		refresher := worker.NewCatalogRefresher(catalogService, cfg.ModelCatalogTTL/2)
		refresher.Start()
		defer refresher.Stop()
	}

	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)

	handler := router.New(
		ctx,
		jwtAuth,
		handlers.NewChatHandler(chatService),
		handlers.NewCatalogHandler(catalogService),
		wsHub,
		cfg.FrontendURL,
		cfg.ChatRateLimitPerMin,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: chat streams stay open for as long as the model writes
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("chat backend ready")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server error")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		wsHub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
