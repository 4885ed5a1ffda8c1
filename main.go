package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neuroai/internal/api"
	"neuroai/internal/auth"
	"neuroai/internal/chat"
	"neuroai/internal/config"
	"neuroai/internal/llm"
	"neuroai/internal/logging"
	"neuroai/internal/remote"
	"neuroai/internal/store"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := logging.NewLogger("main", logging.ParseLevel(cfg.Logging.Level), nil)
	logger.Info("Starting NeuroAI v%s...", version)

	// Initialize store with migrations
	st, err := store.NewStore(cfg.CachePath)
	if err != nil {
		logger.Error("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("Local cache initialized at %s", cfg.CachePath)

	// Seed the default admin on first run
	if cfg.Auth.Enabled {
		count, err := st.CountUsers(context.Background())
		if err != nil {
			logger.Error("Failed to count users: %v", err)
			os.Exit(1)
		}
		if count == 0 {
			pass := cfg.Auth.DefaultAdminPass
			if pass == "" {
				pass = "admin"
				logger.Warn("No default_admin_pass configured, using %q", pass)
			}
			if _, err := st.CreateUser(context.Background(), cfg.Auth.DefaultAdminUser, pass, true); err != nil {
				logger.Error("Failed to create default admin: %v", err)
				os.Exit(1)
			}
			logger.Info("Created default admin user %q", cfg.Auth.DefaultAdminUser)
		}
	}

	// Initialize LLM provider and start its health probe loop
	provider, err := llm.NewProvider(llm.Config{
		Type:        cfg.Provider.Type,
		GeminiKey:   cfg.Provider.GeminiKey,
		GeminiModel: cfg.Provider.GeminiModel,
		OpenAIKey:   cfg.Provider.OpenAIKey,
		OpenAIModel: cfg.Provider.OpenAIModel,
	}, logging.NewLogger("llm", logging.ParseLevel(cfg.Logging.Level), nil))
	if err != nil {
		logger.Error("Failed to initialize LLM provider: %v", err)
		os.Exit(1)
	}
	provider.Health().Start()
	logger.Info("LLM provider: %s", provider.Name())

	// Initialize remote session repository
	var repo remote.Repository
	switch cfg.Remote.Type {
	case "http":
		repo = remote.NewHTTPRepository(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.UserID,
			logging.NewLogger("remote", logging.ParseLevel(cfg.Logging.Level), nil))
		logger.Info("Remote repository: %s", cfg.Remote.BaseURL)
	case "memory":
		repo = remote.NewMemoryRepository()
		logger.Info("Remote repository: in-memory")
	default:
		logger.Info("No remote repository, sessions stay local")
	}

	// Initialize conversation engine
	engine := chat.NewEngine(provider, st, repo,
		logging.NewLogger("chat", logging.ParseLevel(cfg.Logging.Level), nil))
	ctx := context.Background()
	if err := engine.Load(ctx); err != nil {
		logger.Error("Failed to load sessions: %v", err)
		os.Exit(1)
	}
	logger.Info("Conversation engine initialized, %d sessions", len(engine.Sessions()))

	// Legacy migration only applies when a remote is bound
	var migrator api.Migrator
	if repo != nil {
		migrator = chat.NewMigrator(st, repo,
			logging.NewLogger("migrate", logging.ParseLevel(cfg.Logging.Level), nil))
	}

	// Initialize authentication
	authn := auth.NewAuthenticator(st, cfg.Auth.SessionExpiryDays)

	// Initialize API server
	apiServer := api.NewServer(engine, authn, migrator, cfg.Auth.Enabled,
		logging.NewLogger("api", logging.ParseLevel(cfg.Logging.Level), nil))
	logger.Info("API server initialized")

	// Hot-reload the provider when the config file changes
	stopWatch, err := config.Watch("config.json", logger, func(next *config.Config) {
		if next.Provider == cfg.Provider {
			return
		}
		p, err := llm.NewProvider(llm.Config{
			Type:        next.Provider.Type,
			GeminiKey:   next.Provider.GeminiKey,
			GeminiModel: next.Provider.GeminiModel,
			OpenAIKey:   next.Provider.OpenAIKey,
			OpenAIModel: next.Provider.OpenAIModel,
		}, logging.NewLogger("llm", logging.ParseLevel(next.Logging.Level), nil))
		if err != nil {
			logger.Error("Provider reload failed, keeping previous: %v", err)
			return
		}
		engine.SetProvider(p)
		cfg.Provider = next.Provider
		logger.Info("Provider switched to %s", p.Name())
	})
	if err != nil {
		logger.Warn("Config watcher unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	// Register routes
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
		}
	}()

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	engine.Cancel()
	engine.Flush()
	engine.Close()
	provider.Health().Stop()
	logger.Info("NeuroAI stopped")
}
