package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator resolves a bearer credential to a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// StaticKey is one configured API key. Hash is a bcrypt digest of the key.
type StaticKey struct {
	Hash      string    `mapstructure:"hash" yaml:"hash"`
	Principal Principal `mapstructure:",squash" yaml:",inline"`
}

// StaticKeyTable authenticates opaque API keys for service accounts and CLIs.
type StaticKeyTable struct {
	keys []StaticKey
}

// NewStaticKeyTable validates every entry up front so a bad config fails at startup.
func NewStaticKeyTable(keys []StaticKey) (*StaticKeyTable, error) {
	for i, k := range keys {
		if k.Principal.ID == "" {
			return nil, fmt.Errorf("static key %d: missing id", i)
		}
		if !k.Principal.Role.Valid() {
			return nil, fmt.Errorf("static key %s: unknown role %q", k.Principal.ID, k.Principal.Role)
		}
		if _, err := bcrypt.Cost([]byte(k.Hash)); err != nil {
			return nil, fmt.Errorf("static key %s: %w", k.Principal.ID, err)
		}
	}
	return &StaticKeyTable{keys: keys}, nil
}

// HashKey returns the bcrypt digest to store for a new API key.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (t *StaticKeyTable) Authenticate(_ context.Context, token string) (*Principal, error) {
	for _, k := range t.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) == nil {
			p := k.Principal
			return &p, nil
		}
	}
	return nil, ErrInvalidToken
}

// Chain routes JWT shaped tokens to JWT and everything else to Keys.
// Either side may be nil.
type Chain struct {
	JWT  Authenticator
	Keys Authenticator
}

func (c Chain) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if strings.Count(token, ".") == 2 && c.JWT != nil {
		return c.JWT.Authenticate(ctx, token)
	}
	if c.Keys != nil {
		return c.Keys.Authenticate(ctx, token)
	}
	return nil, ErrInvalidToken
}

// RejectAll is used when no authenticator is configured.
type RejectAll struct{}

func (RejectAll) Authenticate(context.Context, string) (*Principal, error) {
	return nil, fmt.Errorf("%w: authentication not configured", ErrInvalidToken)
}
