package store

import "time"

// User represents a user account
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
	LastLogin    time.Time
}

// SessionToken represents an authentication session token
type SessionToken struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}
