// Package auth verifies bearer credentials presented by clients.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for a missing, malformed or rejected credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Credentials are what a client presents at handshake time.
type Credentials struct {
	Token       string
	UserID      string
	Role        string
	DisplayName string
}

// Identity is a verified user.
type Identity struct {
	UserID      string
	Role        string
	DisplayName string
}

// Authenticator turns credentials into a verified identity.
type Authenticator interface {
	Authenticate(creds Credentials) (Identity, error)
}

// Claims carried in access tokens.
type Claims struct {
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HMAC-signed tokens issued by the auth service.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

// NewJWTAuthenticator returns an authenticator for tokens signed with secret.
// An empty issuer disables the issuer check.
func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
}

// Parse validates a raw token and returns its claims.
func (a *JWTAuthenticator) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnauthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// Authenticate verifies the token and checks it belongs to the claimed user.
// Role and display name fall back to the token claims when not supplied.
func (a *JWTAuthenticator) Authenticate(creds Credentials) (Identity, error) {
	if creds.Token == "" || creds.UserID == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := a.Parse(creds.Token)
	if err != nil {
		return Identity{}, err
	}
	if claims.Subject != creds.UserID {
		return Identity{}, fmt.Errorf("%w: token subject does not match user", ErrUnauthenticated)
	}

	identity := Identity{UserID: claims.Subject, Role: creds.Role, DisplayName: creds.DisplayName}
	if identity.Role == "" {
		identity.Role = claims.Role
	}
	if identity.DisplayName == "" {
		identity.DisplayName = claims.Name
	}
	return identity, nil
}

// Sign issues a token for userID. Used by tooling and tests.
func (a *JWTAuthenticator) Sign(userID, role, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
