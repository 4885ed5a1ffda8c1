package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"neuroai/internal/auth"
	"neuroai/internal/chat"
	"neuroai/internal/llm"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleLogin authenticates credentials, issues a session cookie and kicks
// off the one-shot legacy migration in the background
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	token, user, err := s.authn.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	if s.migrator != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := s.migrator.RecordLogin(ctx); err != nil {
				s.logger.Warn("failed to record sign-in time: %v", err)
			}
			summary := s.migrator.Run(ctx)
			s.logger.Info("legacy migration: %s", summary.Message)
		}()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":    token,
		"username": user.Username,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if cookie, err := r.Cookie("session_token"); err == nil {
		s.authn.Logout(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: "session_token", Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"provider": s.engine.ProviderStatus().String(),
	})
}

// handleSessions lists the ordered collection or creates a new session
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": s.engine.Sessions(),
			"current":  s.engine.CurrentID(),
		})
	case http.MethodPost:
		info := s.engine.CreateSession()
		writeJSON(w, http.StatusCreated, info)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSession routes /api/sessions/{id} and /api/sessions/{id}/open
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "Session id required", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodDelete && action == "":
		if err := s.engine.DeleteSession(r.Context(), id); err != nil {
			s.logger.Error("delete session %s: %v", id, err)
			http.Error(w, "Remote delete failed, deletion undone", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPost && action == "open":
		// Unknown ids come from stale sidebar state; the engine ignores them
		s.engine.LoadSession(id)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	messages := s.engine.Messages()
	if messages == nil {
		messages = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": s.engine.CurrentID(),
		"messages":   messages,
	})
}

// handleSubmit feeds one user message into the engine. The response stream
// is delivered over the websocket; this endpoint only acknowledges.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	err := s.engine.Submit(req.Content)
	switch {
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, "A response is already streaming", http.StatusConflict)
	case errors.Is(err, llm.ErrDisconnected):
		http.Error(w, "Provider disconnected", http.StatusServiceUnavailable)
	case err != nil:
		s.logger.Error("submit failed: %v", err)
		http.Error(w, "Submit failed", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.engine.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus reports the stream consumer state and provider connectivity
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, _ := auth.GetUserID(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":    s.engine.State().String(),
		"provider": s.engine.ProviderStatus().String(),
		"user_id":  userID,
	})
}
