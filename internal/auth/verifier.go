package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/KushalM23/SmartAgriNode/internal/config"
)

// ErrUnauthorized is returned for a missing, malformed or unverifiable credential.
var ErrUnauthorized = errors.New("unauthorized")

// Claims is the verified identity of a client.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// TokenVerifier maps a bearer token to claims.
type TokenVerifier interface {
	VerifyToken(token string) (*Claims, error)
}

// JWK represents a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet represents a JSON Web Key Set.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

type jwksCacheEntry struct {
	key       *rsa.PublicKey
	fetchedAt time.Time
}

// Verifier handles JWT verification with HS256 or RS256.
type Verifier struct {
	config     config.AuthConfig
	publicKey  *rsa.PublicKey
	jwksCache  map[string]*jwksCacheEntry
	jwksMutex  sync.RWMutex
	lastFetch  time.Time
	httpClient *http.Client
	now        func() time.Time
}

var _ TokenVerifier = (*Verifier)(nil)

// NewVerifier creates a verifier. HS256 requires a secret; RS256 requires a PEM key or JWKS URL.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{
		config:     cfg,
		jwksCache:  make(map[string]*jwksCacheEntry),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}

	switch cfg.Algorithm {
	case "RS256":
		if cfg.PublicKeyPEM == "" && cfg.JWKSURL == "" {
			return nil, fmt.Errorf("RS256 requires public_key_pem or jwks_url")
		}
		if cfg.PublicKeyPEM != "" {
			if err := v.loadPublicKeyFromPEM(cfg.PublicKeyPEM); err != nil {
				return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
			}
		}
		if cfg.JWKSURL != "" {
			v.jwksMutex.Lock()
			err := v.fetchJWKSLocked()
			v.jwksMutex.Unlock()
			if err != nil {
				return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
			}
		}
	case "HS256":
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}

	return v, nil
}

// VerifyToken verifies a JWT and returns its claims. All failures wrap ErrUnauthorized.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: token cannot be empty", ErrUnauthorized)
	}

	token, err := jwt.Parse(tokenString, v.keyFunc,
		jwt.WithValidMethods([]string{v.config.Algorithm}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	return extractClaims(claims)
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.config.Algorithm == "HS256" {
		return []byte(v.config.SecretKey), nil
	}

	kid, ok := token.Header["kid"].(string)
	if !ok || v.config.JWKSURL == "" {
		if v.publicKey == nil {
			return nil, fmt.Errorf("no public key available")
		}
		return v.publicKey, nil
	}

	key, err := v.getKeyFromJWKS(kid)
	if err != nil {
		return nil, fmt.Errorf("failed to get key from JWKS: %w", err)
	}
	return key, nil
}

// extractClaims reads the subject and email. Both "sub" and "user_id" are accepted as the user id.
func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	userID, _ := claims["sub"].(string)
	if userID == "" {
		userID, _ = claims["user_id"].(string)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing 'sub' claim", ErrUnauthorized)
	}

	email, _ := claims["email"].(string)
	return &Claims{UserID: userID, Email: email}, nil
}

func (v *Verifier) loadPublicKeyFromPEM(pemData string) error {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("not an RSA public key")
	}

	v.publicKey = rsaPub
	return nil
}

// fetchJWKSLocked fetches the key set. Caller holds jwksMutex for writing.
func (v *Verifier) fetchJWKSLocked() error {
	resp, err := v.httpClient.Get(v.config.JWKSURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var jwks JWKSet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	now := v.now()
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") || (key.Alg != "" && key.Alg != "RS256") {
			continue
		}
		pubKey, err := jwkToRSAPublicKey(key)
		if err != nil {
			continue
		}
		v.jwksCache[key.Kid] = &jwksCacheEntry{key: pubKey, fetchedAt: now}
	}

	v.lastFetch = now
	return nil
}

func (v *Verifier) getKeyFromJWKS(kid string) (*rsa.PublicKey, error) {
	v.jwksMutex.RLock()
	entry, exists := v.jwksCache[kid]
	v.jwksMutex.RUnlock()

	if exists && v.now().Sub(entry.fetchedAt) < v.config.JWKSCacheTimeout {
		return entry.key, nil
	}

	v.jwksMutex.Lock()
	defer v.jwksMutex.Unlock()

	if v.now().Sub(v.lastFetch) >= v.config.JWKSRefreshInterval {
		if err := v.fetchJWKSLocked(); err != nil {
			return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
		}
	}

	entry, exists = v.jwksCache[kid]
	if !exists || v.now().Sub(entry.fetchedAt) >= v.config.JWKSCacheTimeout {
		return nil, fmt.Errorf("key not found: %s", kid)
	}
	return entry.key, nil
}

func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	n, err := base64URLDecode(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	e, err := base64URLDecode(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp int
	for _, b := range e {
		exp = exp<<8 + int(b)
	}
	if len(n) == 0 || exp == 0 {
		return nil, fmt.Errorf("empty modulus or exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: exp,
	}, nil
}

// base64URLDecode decodes base64url data with or without padding.
func base64URLDecode(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
