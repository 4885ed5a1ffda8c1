package api

import (
	"context"
	"net/http"

	"neuroai/internal/auth"
	"neuroai/internal/chat"
	"neuroai/internal/llm"
	"neuroai/internal/logging"
)

// Engine is the conversation engine surface consumed by the HTTP layer
type Engine interface {
	Sessions() []chat.SessionInfo
	Messages() []chat.Message
	CurrentID() string
	State() chat.StreamState
	ProviderStatus() llm.Status
	CreateSession() chat.SessionInfo
	LoadSession(id string)
	DeleteSession(ctx context.Context, id string) error
	Submit(text string) error
	Cancel()
	SetListener(fn func(chat.Event))
}

// Migrator runs the one-shot legacy migration after sign-in and records the
// sign-in time on the remote stats document
type Migrator interface {
	RecordLogin(ctx context.Context) error
	Run(ctx context.Context) chat.MigrationSummary
}

// Server holds dependencies and provides HTTP handlers
type Server struct {
	engine   Engine
	authn    *auth.Authenticator
	migrator Migrator // nil when no remote repository is bound
	wsHub    *WebSocketHub
	logger   *logging.Logger
	authOn   bool
}

// NewServer creates a server and bridges engine events onto the websocket hub
func NewServer(engine Engine, authn *auth.Authenticator, migrator Migrator, authOn bool, logger *logging.Logger) *Server {
	s := &Server{
		engine:   engine,
		authn:    authn,
		migrator: migrator,
		wsHub:    NewWebSocketHub(),
		logger:   logger,
		authOn:   authOn,
	}
	go s.wsHub.Run()
	engine.SetListener(s.wsHub.BroadcastEvent)
	return s
}

// RegisterRoutes sets up all HTTP routes
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	middleware := auth.Middleware(s.authn, s.authOn)

	mux.Handle("/api/login", http.HandlerFunc(s.handleLogin))
	mux.Handle("/api/logout", middleware(http.HandlerFunc(s.handleLogout)))
	mux.Handle("/api/health", http.HandlerFunc(s.handleHealth))

	mux.Handle("/api/sessions", middleware(http.HandlerFunc(s.handleSessions)))
	mux.Handle("/api/sessions/", middleware(http.HandlerFunc(s.handleSession)))
	mux.Handle("/api/messages", middleware(http.HandlerFunc(s.handleMessages)))
	mux.Handle("/api/submit", middleware(http.HandlerFunc(s.handleSubmit)))
	mux.Handle("/api/cancel", middleware(http.HandlerFunc(s.handleCancel)))
	mux.Handle("/api/status", middleware(http.HandlerFunc(s.handleStatus)))

	mux.Handle("/ws", middleware(http.HandlerFunc(s.handleWebSocket)))
}
