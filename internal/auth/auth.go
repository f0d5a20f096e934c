// Package auth issues and verifies actor tokens.
//
// A token is a JWT whose claims carry a model.Actor: user id, username,
// the admin flag and per-project role grants. Tokens are signed with an
// RSA key pair (RS256) or a shared secret (HS256).
package auth

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/vgraph/internal/config"
	"github.com/roach88/vgraph/internal/model"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrCannotIssue  = errors.New("issuer holds no signing key")
)

// Claims are the JWT claims of an actor token.
type Claims struct {
	jwt.RegisteredClaims
	UserID        int64               `json:"uid"`
	Username      string              `json:"name"`
	IsAdmin       bool                `json:"is_admin,omitempty"`
	ProjectAccess map[string][]string `json:"project_access,omitempty"`
	Scopes        []string            `json:"scope,omitempty"`
}

// Actor returns the identity the claims describe.
func (c *Claims) Actor() model.Actor {
	return model.Actor{
		ID:            c.UserID,
		Username:      c.Username,
		IsAdmin:       c.IsAdmin,
		ProjectAccess: c.ProjectAccess,
	}
}

// Issuer signs and verifies actor tokens.
type Issuer struct {
	method    jwt.SigningMethod
	signKey   any // nil for verify-only issuers
	verifyKey any
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock sets the clock used for issuing and for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func newIssuer(method jwt.SigningMethod, signKey, verifyKey any, issuer string, ttl time.Duration, opts []Option) *Issuer {
	i := &Issuer{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		issuer:    issuer,
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// NewHMAC creates an HS256 issuer.
func NewHMAC(secret []byte, issuer string, ttl time.Duration, opts ...Option) *Issuer {
	return newIssuer(jwt.SigningMethodHS256, secret, secret, issuer, ttl, opts)
}

// NewRSA creates an RS256 issuer from PEM-encoded keys. privatePEM may be
// nil for an issuer that only verifies.
func NewRSA(privatePEM, publicPEM []byte, issuer string, ttl time.Duration, opts ...Option) (*Issuer, error) {
	var signKey, verifyKey any
	if len(privatePEM) > 0 {
		priv, err := jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		signKey, verifyKey = priv, &priv.PublicKey
	}
	if len(publicPEM) > 0 {
		pub, err := jwt.ParseRSAPublicKeyFromPEM(publicPEM)
		if err != nil {
			return nil, fmt.Errorf("parsing public key: %w", err)
		}
		verifyKey = pub
	}
	if verifyKey == nil {
		return nil, errors.New("rsa issuer needs a private or public key")
	}
	return newIssuer(jwt.SigningMethodRS256, signKey, verifyKey, issuer, ttl, opts), nil
}

// FromConfig builds the issuer the configuration describes.
func FromConfig(c config.AuthConfig, opts ...Option) (*Issuer, error) {
	if c.HMACSecret != "" {
		return NewHMAC([]byte(c.HMACSecret), c.Issuer, c.TTL, opts...), nil
	}
	if c.PrivateKeyFile == "" && c.PublicKeyFile == "" {
		return nil, errors.New("auth: no hmac_secret or key files configured")
	}
	var privatePEM, publicPEM []byte
	var err error
	if c.PrivateKeyFile != "" {
		if privatePEM, err = os.ReadFile(c.PrivateKeyFile); err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
	}
	if c.PublicKeyFile != "" {
		if publicPEM, err = os.ReadFile(c.PublicKeyFile); err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
	}
	return NewRSA(privatePEM, publicPEM, c.Issuer, c.TTL, opts...)
}

// Issue signs a token for actor.
func (i *Issuer) Issue(actor model.Actor, scopes ...string) (string, error) {
	if i.signKey == nil {
		return "", ErrCannotIssue
	}
	if actor.IsZero() {
		return "", errors.New("issue token: actor is required")
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   strconv.FormatInt(actor.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserID:        actor.ID,
		Username:      actor.Username,
		IsAdmin:       actor.IsAdmin,
		ProjectAccess: actor.ProjectAccess,
		Scopes:        scopes,
	}
	return jwt.NewWithClaims(i.method, claims).SignedString(i.signKey)
}

// Verify parses and validates a token.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return i.verifyKey, nil
	},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ActorFromToken verifies a token and returns its actor.
func (i *Issuer) ActorFromToken(tokenStr string) (model.Actor, error) {
	claims, err := i.Verify(tokenStr)
	if err != nil {
		return model.Actor{}, err
	}
	actor := claims.Actor()
	if actor.IsZero() {
		return model.Actor{}, fmt.Errorf("%w: no actor in claims", ErrInvalidToken)
	}
	return actor, nil
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is case-insensitive.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: expected \"bearer <token>\"", ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}
