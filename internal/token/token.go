// Package token issues JWTs for browser voice clients. A token authorizes
// one agent to place calls showing one outbound identity; the voice
// gateway validates it out of band.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultTTL is the voice token lifetime when the issuer is given none.
// Voice tokens are short-lived; agents re-request them per session.
const DefaultTTL = time.Hour

const issuerName = "dialcast"

// ErrInvalidToken is returned when a token fails signature or claims checks.
var ErrInvalidToken = errors.New("invalid or expired token")

// VoiceClaims are the claims carried by a voice-client token.
type VoiceClaims struct {
	AgentID  string `json:"agent_id"`
	Identity string `json:"identity"` // outbound number the client may present
	jwt.RegisteredClaims
}

// Issuer signs and validates voice-client tokens with a shared HS256 secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an issuer. ttl <= 0 selects DefaultTTL.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue creates a signed token for an agent and outbound identity.
func (i *Issuer) Issue(agentID, identity string) (string, time.Time, error) {
	if agentID == "" {
		return "", time.Time{}, errors.New("agent id is required")
	}

	now := time.Now()
	expiresAt := now.Add(i.ttl)

	claims := VoiceClaims{
		AgentID:  agentID,
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuerName,
			Subject:   agentID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing voice token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns its claims.
func (i *Issuer) Validate(tokenString string) (*VoiceClaims, error) {
	claims := &VoiceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AgentID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
