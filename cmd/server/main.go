// DocChat - document-aware chat server backed by the OpenAI Assistants API
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/docchat/internal/api"
	"github.com/ashureev/docchat/internal/assistants"
	"github.com/ashureev/docchat/internal/chat"
	"github.com/ashureev/docchat/internal/config"
	"github.com/ashureev/docchat/internal/credentials"
	"github.com/ashureev/docchat/internal/files"
	"github.com/ashureev/docchat/internal/identity"
	"github.com/ashureev/docchat/internal/middleware"
	"github.com/ashureev/docchat/internal/session"
	"github.com/ashureev/docchat/internal/store"
	"github.com/ashureev/docchat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	creds, err := loadCredentials(cfg.UsersFile)
	if err != nil {
		slog.Error("Failed to load credentials", "error", err, "path", cfg.UsersFile)
		os.Exit(1)
	}
	slog.Info("Credentials loaded", "users", creds.Len())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	client, err := assistants.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.RequestTimeout, logger)
	if err != nil {
		slog.Error("Failed to initialize assistant client", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	sessions := session.NewManager(repo, cfg.SessionTTL, cfg.OpenAI.DefaultModel)
	router := files.NewRouter(client, cfg.Upload.MaxFileBytes)
	poller := chat.NewPoller(client, cfg.Run.PollInterval, cfg.Run.Timeout)
	orchestrator := chat.NewOrchestrator(client, router, poller)
	chatService := chat.NewService(sessions, orchestrator, cfg.Run.AttachPolicy, conversationLogger)

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, sessions, creds, router, chatService, cfg)
	defer apiHandler.Close()
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL)))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Session routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(sessions, cfg.SessionTTL, cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: chat turns stream for up to RUN_TIMEOUT, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartExpiryWorker(ctx, repo, session.DefaultSweepInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Run.Timeout+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func loadCredentials(path string) (*credentials.Store, error) {
	if path == "" {
		slog.Warn("USERS_FILE not set, using built-in demo accounts")
		return credentials.Default(), nil
	}
	return credentials.LoadFile(path)
}
