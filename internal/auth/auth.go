package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"neuroai/internal/store"
)

// ErrUnauthorized is returned for missing, invalid or expired credentials
var ErrUnauthorized = errors.New("auth: unauthorized")

// Store is the account and token storage consumed by the authenticator
type Store interface {
	ValidateCredentials(ctx context.Context, username, password string) (*store.User, error)
	UpdateLastLogin(ctx context.Context, userID int64) error
	CreateSessionToken(ctx context.Context, token string, userID int64, expiresAt time.Time) error
	GetSessionToken(ctx context.Context, token string) (*store.SessionToken, error)
	DeleteSessionToken(ctx context.Context, token string) error
}

// Authenticator implements username/password sign-in with opaque session tokens
type Authenticator struct {
	store         Store
	sessionExpiry time.Duration
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(store Store, sessionExpiryDays int) *Authenticator {
	if sessionExpiryDays <= 0 {
		sessionExpiryDays = 7
	}
	return &Authenticator{
		store:         store,
		sessionExpiry: time.Duration(sessionExpiryDays) * 24 * time.Hour,
	}
}

// Login authenticates credentials and returns a session token
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := a.store.ValidateCredentials(ctx, username, password)
	if err != nil {
		return "", nil, ErrUnauthorized
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(a.sessionExpiry)
	if err := a.store.CreateSessionToken(ctx, token, user.ID, expiresAt); err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := a.store.UpdateLastLogin(ctx, user.ID); err != nil {
		// Sign-in proceeds; the timestamp is advisory
		return token, user, nil
	}
	return token, user, nil
}

// Logout invalidates a session token
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	return a.store.DeleteSessionToken(ctx, token)
}

// ValidateToken verifies a token and returns the user id
func (a *Authenticator) ValidateToken(ctx context.Context, token string) (int64, error) {
	st, err := a.store.GetSessionToken(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("failed to look up token: %w", err)
	}
	if st == nil {
		return 0, ErrUnauthorized
	}
	if time.Now().After(st.ExpiresAt) {
		a.store.DeleteSessionToken(ctx, token)
		return 0, ErrUnauthorized
	}
	return st.UserID, nil
}
