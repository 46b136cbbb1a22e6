// Package tokenstore provides fast key-value storage for revoked session
// credentials. A revoked token must keep failing authentication for at
// least the remaining lifetime of the original credential, so entries carry
// their own expiry and self-delete once the credential would have expired
// naturally anyway.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// Token is a stored revocation entry.
type Token struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired checks if the entry has outlived its TTL.
func (t *Token) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// Store defines the revocation storage interface. Implementations must
// support concurrent insert/lookup.
type Store interface {
	// Set stores an entry under key with the given TTL. Overwriting an
	// existing key is permitted (revocation is idempotent).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get retrieves an entry by key. Returns ErrTokenNotFound or
	// ErrTokenExpired.
	Get(ctx context.Context, key string) (*Token, error)
	// Delete removes an entry by key.
	Delete(ctx context.Context, key string) error
	// Cleanup removes all expired entries and reports how many were removed.
	Cleanup(ctx context.Context) (int, error)
}
