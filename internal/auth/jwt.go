package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenAudience is the aud claim stamped on every server-issued access token and required when validating one. It
// distinguishes this server's tokens from central-issued tokens carried in the same Authorization header.
const TokenAudience = "ecto-server"

// Identity types carried in the identity_type claim. Local identities are password accounts registered on this
// server; global identities were resolved through the central account service.
const (
	IdentityLocal  = "local"
	IdentityGlobal = "global"
)

// AccessClaims holds the JWT claims for an access token. TokenVersion mirrors the member row's token_version at
// issue time; bumping the column invalidates every outstanding token that carries the old value. It is a pointer
// because tokens can be issued before a member row exists (e.g. registration completing ahead of server.join).
type AccessClaims struct {
	IdentityType string `json:"identity_type,omitempty"`
	TokenVersion *int   `json:"tv,omitempty"`
	jwt.RegisteredClaims
}

// NewAccessToken creates a signed JWT access token for the given user. tokenVersion may be nil when the user holds
// no member row yet; identityType must be IdentityLocal or IdentityGlobal.
func NewAccessToken(userID uuid.UUID, identityType string, tokenVersion *int, secret string, ttl time.Duration, issuer string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret must not be empty")
	}
	if issuer == "" {
		return "", fmt.Errorf("JWT issuer must not be empty")
	}
	if identityType != IdentityLocal && identityType != IdentityGlobal {
		return "", fmt.Errorf("invalid identity type %q", identityType)
	}

	now := time.Now()
	claims := AccessClaims{
		IdentityType: identityType,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// ValidateAccessToken parses and validates a JWT access token string, enforcing HMAC signing method, the
// ecto-server audience, and optional issuer check. Token-version comparison against the member row happens in the
// callers that can reach the members table.
func ValidateAccessToken(tokenStr, secret, issuer string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	parserOpts := []jwt.ParserOption{jwt.WithAudience(TokenAudience)}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, parserOpts...)
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
