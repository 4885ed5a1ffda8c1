package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// sessionBlobKey is the fixed key holding the serialized session collection
const sessionBlobKey = "chat_sessions"

// Store provides the synchronous local cache and account storage
type Store struct {
	db *sql.DB
}

// NewStore opens the database and runs migrations
func NewStore(path string) (*Store, error) {
	// WAL mode for concurrent access, busy timeout for write contention
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// LoadSessionBlob reads the serialized session collection. Returns nil when
// no collection has been stored.
func (s *Store) LoadSessionBlob(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, sessionBlobKey).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session blob: %w", err)
	}
	return blob, nil
}

// SaveSessionBlob writes the whole serialized session collection as one blob
func (s *Store) SaveSessionBlob(ctx context.Context, blob []byte) error {
	query := `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`
	if _, err := s.db.ExecContext(ctx, query, sessionBlobKey, blob); err != nil {
		return fmt.Errorf("failed to write session blob: %w", err)
	}
	return nil
}

// ClearSessionBlob removes the stored session collection
func (s *Store) ClearSessionBlob(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, sessionBlobKey); err != nil {
		return fmt.Errorf("failed to clear session blob: %w", err)
	}
	return nil
}

// CreateUser creates a user account with a bcrypt-hashed password
func (s *Store) CreateUser(ctx context.Context, username, password string, isAdmin bool) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `INSERT INTO users (username, password_hash, is_admin) VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, username, string(hash), isAdmin)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return res.LastInsertId()
}

// GetUserByUsername retrieves a user account by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT id, username, password_hash, is_admin, created_at, last_login FROM users WHERE username = ?`
	var u User
	var lastLogin sql.NullString
	err := s.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if lastLogin.Valid {
		if t, perr := time.Parse("2006-01-02 15:04:05", lastLogin.String); perr == nil {
			u.LastLogin = t
		}
	}
	return &u, nil
}

// ValidateCredentials checks a username/password pair
func (s *Store) ValidateCredentials(ctx context.Context, username, password string) (*User, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	return u, nil
}

// UpdateLastLogin records the sign-in time
func (s *Store) UpdateLastLogin(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// CountUsers returns the number of user accounts
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// CreateSessionToken stores an authentication token
func (s *Store) CreateSessionToken(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	query := `INSERT INTO session_tokens (token, user_id, expires_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, token, userID, expiresAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to create session token: %w", err)
	}
	return nil
}

// GetSessionToken retrieves a token record, or nil when absent
func (s *Store) GetSessionToken(ctx context.Context, token string) (*SessionToken, error) {
	query := `SELECT token, user_id, expires_at FROM session_tokens WHERE token = ?`
	var st SessionToken
	var expires string
	err := s.db.QueryRowContext(ctx, query, token).Scan(&st.Token, &st.UserID, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session token: %w", err)
	}
	st.ExpiresAt, err = time.Parse(time.RFC3339, expires)
	if err != nil {
		return nil, fmt.Errorf("malformed token expiry: %w", err)
	}
	return &st, nil
}

// DeleteSessionToken removes a token
func (s *Store) DeleteSessionToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete session token: %w", err)
	}
	return nil
}

// CleanupExpiredTokens removes tokens past their expiry
func (s *Store) CleanupExpiredTokens(ctx context.Context) error {
	query := `DELETE FROM session_tokens WHERE expires_at < ?`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}
	return nil
}
