package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RelayClaims identify the call a relay connection belongs to
type RelayClaims struct {
	CallSid string `json:"call_sid"`
	jwt.RegisteredClaims
}

const relayAudience = "relay"

// DefaultRelayTokenTTL bounds how long a minted relay URL stays usable
const DefaultRelayTokenTTL = 5 * time.Minute

var ErrMissingCallSid = errors.New("token has no call sid")

// Signer mints and validates relay access tokens
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a signer using HMAC-SHA256
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("relay jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultRelayTokenTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns how long minted tokens stay valid
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Mint issues a token for callSid
func (s *Signer) Mint(callSid string) (string, error) {
	if callSid == "" {
		return "", ErrMissingCallSid
	}

	now := time.Now()
	claims := &RelayClaims{
		CallSid: callSid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   callSid,
			Audience:  jwt.ClaimStrings{relayAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate checks a token and returns its claims
func (s *Signer) Validate(tokenString string) (*RelayClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RelayClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithAudience(relayAudience))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*RelayClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrInvalidKey
	}
	if claims.CallSid == "" {
		return nil, ErrMissingCallSid
	}
	return claims, nil
}
