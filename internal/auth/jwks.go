package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token audience is invalid
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrJWKSFetchFailed is returned when JWKS fetching fails
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")
)

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSConfig holds configuration for JWKSValidator
type JWKSConfig struct {
	JWKSURL  string
	Issuer   string
	Audience string

	// RoleClaim names the claim carrying the caller's role or groups.
	RoleClaim string
	// RoleMap translates claim values (for example IdP group names) to role names.
	RoleMap map[string]string
	// DefaultRole applies when no claim value maps to a known role.
	DefaultRole Role

	CacheTTL    time.Duration
	HTTPTimeout time.Duration
	// RefetchInterval bounds how often an unknown kid may force a JWKS refetch.
	RefetchInterval time.Duration
}

// JWKSValidator validates RS256 bearer tokens against a remote key set and
// turns their claims into a Principal.
type JWKSValidator struct {
	cfg        JWKSConfig
	httpClient *http.Client

	jwksCache    *JWKS
	jwksCacheExp time.Time
	cacheMu      sync.RWMutex

	keyCache   map[string]*rsa.PublicKey
	keyCacheMu sync.RWMutex

	refetch *rate.Limiter
}

// NewJWKSValidator creates a validator. The key set is cached process-wide for
// CacheTTL (one hour by default).
func NewJWKSValidator(cfg JWKSConfig) *JWKSValidator {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 1 * time.Hour
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.RefetchInterval == 0 {
		cfg.RefetchInterval = time.Minute
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = RoleViewer
	}

	return &JWKSValidator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		keyCache:   make(map[string]*rsa.PublicKey),
		refetch:    rate.NewLimiter(rate.Every(cfg.RefetchInterval), 1),
	}
}

// Authenticate implements the middleware authenticator contract.
func (v *JWKSValidator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	return v.ValidateToken(ctx, token)
}

// ValidateToken validates a JWT and maps its claims to a Principal.
func (v *JWKSValidator) ValidateToken(ctx context.Context, tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		return v.getPublicKey(ctx, kid)
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, fmt.Errorf("%w: %v", ErrInvalidIssuer, err)
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, fmt.Errorf("%w: %v", ErrInvalidAudience, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return &Principal{
		ID:    sub,
		Role:  v.resolveRole(claims[v.cfg.RoleClaim]),
		Email: email,
		Name:  name,
	}, nil
}

// resolveRole picks the highest ranked role among the claim values.
func (v *JWKSValidator) resolveRole(raw interface{}) Role {
	var values []string
	switch c := raw.(type) {
	case string:
		values = []string{c}
	case []interface{}:
		for _, item := range c {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	}

	best := Role("")
	for _, value := range values {
		if mapped, ok := v.cfg.RoleMap[value]; ok {
			value = mapped
		} else if mapped, ok := v.cfg.RoleMap[strings.ToLower(value)]; ok {
			value = mapped
		}
		r, err := ParseRole(value)
		if err != nil {
			continue
		}
		if r.Level() > best.Level() {
			best = r
		}
	}
	if best == "" {
		return v.cfg.DefaultRole
	}
	return best
}

// FetchJWKS returns the cached key set, refreshing it when the TTL has passed.
func (v *JWKSValidator) FetchJWKS(ctx context.Context) (*JWKS, error) {
	v.cacheMu.RLock()
	if v.jwksCache != nil && time.Now().Before(v.jwksCacheExp) {
		defer v.cacheMu.RUnlock()
		return v.jwksCache, nil
	}
	v.cacheMu.RUnlock()

	var jwks JWKS
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.DelayType(retry.BackOffDelay),
	)
	err := r.Do(func() error {
		fetched, err := v.download(ctx)
		if err != nil {
			return err
		}
		jwks = *fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.cacheMu.Lock()
	v.jwksCache = &jwks
	v.jwksCacheExp = time.Now().Add(v.cfg.CacheTTL)
	v.cacheMu.Unlock()

	// Keys parsed from the previous set are dropped with it.
	v.keyCacheMu.Lock()
	v.keyCache = make(map[string]*rsa.PublicKey)
	v.keyCacheMu.Unlock()

	return &jwks, nil
}

func (v *JWKSValidator) download(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	return &jwks, nil
}

// getPublicKey resolves kid against the current key set. Parsed keys are only
// reused while the set they came from is still cached, so a key dropped from
// the JWKS stops validating once the set expires. An unknown kid forces one
// refetch, subject to the refetch limiter, to pick up rotated keys.
func (v *JWKSValidator) getPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	jwks, err := v.FetchJWKS(ctx)
	if err != nil {
		return nil, err
	}

	jwk := findKey(jwks, kid)
	if jwk == nil && v.refetch.Allow() {
		v.InvalidateCache()
		if jwks, err = v.FetchJWKS(ctx); err != nil {
			return nil, err
		}
		jwk = findKey(jwks, kid)
	}
	if jwk == nil {
		return nil, fmt.Errorf("key with kid %s not found in JWKS", kid)
	}

	v.keyCacheMu.RLock()
	key, exists := v.keyCache[kid]
	v.keyCacheMu.RUnlock()
	if exists {
		return key, nil
	}

	publicKey, err := jwkToRSAPublicKey(jwk)
	if err != nil {
		return nil, fmt.Errorf("failed to convert JWK to RSA public key: %w", err)
	}

	v.keyCacheMu.Lock()
	v.keyCache[kid] = publicKey
	v.keyCacheMu.Unlock()

	return publicKey, nil
}

func findKey(jwks *JWKS, kid string) *JWK {
	for i := range jwks.Keys {
		if jwks.Keys[i].Kid == kid {
			return &jwks.Keys[i]
		}
	}
	return nil
}

func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e*256 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// InvalidateCache drops the cached key set and parsed keys.
func (v *JWKSValidator) InvalidateCache() {
	v.cacheMu.Lock()
	v.jwksCache = nil
	v.jwksCacheExp = time.Time{}
	v.cacheMu.Unlock()

	v.keyCacheMu.Lock()
	v.keyCache = make(map[string]*rsa.PublicKey)
	v.keyCacheMu.Unlock()
}
