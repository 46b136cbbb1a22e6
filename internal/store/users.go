package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/devsync-io/devsync/internal/errors"
)

// User is a registered account. PasswordHash is a bcrypt digest and is never
// serialized to API responses.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    int64
}

// CreateUser inserts a new user. Returns ErrDuplicate when the email is
// already registered.
func (s *Store) CreateUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().UnixMilli()
	}

	query := `INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`

	_, err := s.db.Exec(query, u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return apperrors.ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves a user by email. Returns (nil, nil) when absent.
func (s *Store) GetUserByEmail(email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanUser(`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email)
}

// GetUserByID retrieves a user by ID. Returns (nil, nil) when absent.
func (s *Store) GetUserByID(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanUser(`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id)
}

func (s *Store) scanUser(query string, arg any) (*User, error) {
	u := &User{}
	err := s.db.QueryRow(query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsersExcept returns all users other than the given one, ordered by
// registration time. Used by the collaborator picker.
func (s *Store) ListUsersExcept(userID string) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, email, password_hash, created_at FROM users WHERE id != ? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
