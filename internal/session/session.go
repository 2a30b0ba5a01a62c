package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim  = "user-id"
	subjectClaim = "sub"
	expClaim     = "exp"
)

// Session is the authenticated identity the messaging core acts as. The
// backend issues the token; the client only extracts claims and gates on
// expiry, it does not hold the signing key.
type Session struct {
	Token     string
	UserId    string
	ExpiresAt time.Time
}

func Parse(tokenString string) (*Session, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("session token cannot be empty")
	}

	parser := new(jwt.Parser)
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	userId, err := extractUserId(claims)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Token:  tokenString,
		UserId: userId,
	}

	if exp, ok := claims[expClaim].(float64); ok {
		s.ExpiresAt = time.Unix(int64(exp), 0)
	}

	return s, nil
}

func extractUserId(claims jwt.MapClaims) (string, error) {
	for _, key := range []string{userIdClaim, subjectClaim} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return fmt.Sprintf("%d", int64(v)), nil
		}
	}

	return "", fmt.Errorf("no user id claim in token")
}

// Expired reports whether the token's exp claim has passed. Tokens without
// an exp claim never expire client-side.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
