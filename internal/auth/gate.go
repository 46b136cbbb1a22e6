// Package auth implements the session gate: credential issuing, revocation
// and verification. The same gate guards one-shot HTTP requests and the
// handshake of persistent room connections.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/devsync-io/devsync/internal/models"
	"github.com/devsync-io/devsync/pkg/tokenstore"
)

// ErrorKind discriminates gate failures. Callers react differently to an
// expired credential (refresh path) than to a malformed one, so the kinds
// are explicit values rather than exception subtypes.
type ErrorKind int

const (
	KindNoCredential ErrorKind = iota
	KindMalformed
	KindExpired
	KindRevoked
	KindInternal
)

// Error is a gate rejection carrying its kind and stable wire code.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Code(), e.Err)
	}
	return "auth: " + e.Code()
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the machine-readable wire code for this rejection.
func (e *Error) Code() string {
	switch e.Kind {
	case KindNoCredential:
		return "NO_TOKEN_PROVIDED"
	case KindMalformed:
		return "INVALID_TOKEN"
	case KindExpired:
		return "TOKEN_EXPIRED"
	case KindRevoked:
		return "TOKEN_BLACKLISTED"
	default:
		return "AUTH_INTERNAL_ERROR"
	}
}

// Message returns the human-readable error string for this rejection.
func (e *Error) Message() string {
	switch e.Kind {
	case KindNoCredential:
		return "Authentication required"
	case KindMalformed:
		return "Invalid authentication token"
	case KindExpired, KindRevoked:
		return "Session expired. Please login again."
	default:
		return "Internal authentication error"
	}
}

// HTTPStatus returns the status for this rejection: 401 for every kind
// except internal failures (500).
func (e *Error) HTTPStatus() int {
	if e.Kind == KindInternal {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}

// AsError unwraps err into a gate *Error, wrapping unknown errors as
// internal.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Err: err}
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Gate validates bearer credentials against signature, expiry and the
// revocation store.
type Gate struct {
	secret       []byte
	tokenTTL     time.Duration
	minRevokeTTL time.Duration
	maxRevokeTTL time.Duration
	revocations  tokenstore.Store
	logger       zerolog.Logger
}

// Config holds gate construction parameters.
type Config struct {
	Secret   string
	TokenTTL time.Duration

	// Revocation TTL bounds. An entry lives for the credential's remaining
	// lifetime, clamped into [MinRevokeTTL, MaxRevokeTTL]. A fixed constant
	// would either forget revocations early or hoard dead entries.
	MinRevokeTTL time.Duration
	MaxRevokeTTL time.Duration
}

// NewGate creates a session gate backed by the given revocation store.
func NewGate(cfg Config, revocations tokenstore.Store, logger zerolog.Logger) *Gate {
	return &Gate{
		secret:       []byte(cfg.Secret),
		tokenTTL:     cfg.TokenTTL,
		minRevokeTTL: cfg.MinRevokeTTL,
		maxRevokeTTL: cfg.MaxRevokeTTL,
		revocations:  revocations,
		logger:       logger.With().Str("component", "auth").Logger(),
	}
}

// Issue signs a new credential for the identity. Returns the raw token and
// its expiry.
func (g *Gate) Issue(identity models.Identity) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(g.tokenTTL)

	claims := sessionClaims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks a raw credential and returns the identity it encodes.
// Order matters: presence, then revocation (authoritative even for a token
// whose signature would verify), then signature/expiry.
func (g *Gate) Verify(ctx context.Context, raw string) (models.Identity, error) {
	if raw == "" {
		return models.Identity{}, &Error{Kind: KindNoCredential}
	}

	_, err := g.revocations.Get(ctx, raw)
	switch {
	case err == nil:
		return models.Identity{}, &Error{Kind: KindRevoked}
	case errors.Is(err, tokenstore.ErrTokenNotFound), errors.Is(err, tokenstore.ErrTokenExpired):
		// not revoked (or the revocation outlived the credential)
	default:
		g.logger.Error().Err(err).Msg("revocation store lookup failed")
		return models.Identity{}, &Error{Kind: KindInternal, Err: err}
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, &Error{Kind: KindExpired, Err: err}
		}
		return models.Identity{}, &Error{Kind: KindMalformed, Err: err}
	}
	if !token.Valid || claims.Subject == "" {
		return models.Identity{}, &Error{Kind: KindMalformed}
	}

	return models.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Revoke inserts a logout marker for the raw credential. Idempotent. The
// marker's TTL tracks the credential's remaining validity so a revoked but
// unexpired token keeps failing until it would have expired anyway.
func (g *Gate) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return &Error{Kind: KindNoCredential}
	}

	ttl := g.minRevokeTTL
	claims := &sessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil && claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > ttl {
			ttl = remaining
		}
	}
	if g.maxRevokeTTL > 0 && ttl > g.maxRevokeTTL {
		ttl = g.maxRevokeTTL
	}

	if err := g.revocations.Set(ctx, raw, "logout", ttl); err != nil {
		g.logger.Error().Err(err).Msg("failed to store revocation")
		return &Error{Kind: KindInternal, Err: err}
	}
	return nil
}

// TokenFromHTTPRequest extracts the raw credential from a standard request:
// the token cookie wins over the Authorization: Bearer header. Used on the
// room handshake before the connection is admitted.
func TokenFromHTTPRequest(r *http.Request) string {
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
