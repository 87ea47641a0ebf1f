// Package auth authenticates API clients by HMAC-hashed API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for missing, unknown or revoked keys.
var ErrUnauthorized = errors.New("unauthorized")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of active API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper.
func HashKey(key string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator verifies raw API keys.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator returns an Authenticator hashing keys with pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate resolves key to its stored identity.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := HashKey(key, a.pepper)

	info, err := a.keys.FindByHash(ctx, hash)
	if err != nil {
		return nil, ErrUnauthorized
	}

	// The stored hash is compared again in constant time in case the lookup
	// returned a different row.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}

type keyInfoKey struct{}

// WithKeyInfo stores the authenticated key in ctx.
func WithKeyInfo(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, keyInfoKey{}, info)
}

// KeyInfoFromContext returns the authenticated key stored in ctx, if any.
func KeyInfoFromContext(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(keyInfoKey{}).(*APIKeyInfo)
	return info, ok
}
