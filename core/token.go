package core

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated principal carried by a session token.
type Identity struct {
	AccountID int64
	Username  string
}

var (
	// ErrInvalidToken is returned when a token fails signature, algorithm or expiry checks.
	ErrInvalidToken = errors.New("invalid token")
)

// tokenClaims embeds the registered claims plus the subject account identity.
type tokenClaims struct {
	jwt.RegisteredClaims
	AccountID int64  `json:"account_id"`
	Username  string `json:"username"`
}

// TokenCodec issues and validates signed session tokens. A token is a bearer
// credential: possession of a correctly signed, unexpired token is sufficient
// proof of identity. There is no refresh and no server-side revocation.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenCodec builds a codec from the shared signing secret and validity window.
func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenCodec{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for the given account with an expiry ttl from now.
func (tc *TokenCodec) Issue(accountID int64, username string) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		AccountID: accountID,
		Username:  username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tc.secret)
}

// Validate parses and verifies a token string. The signing method is pinned to
// HS256; signature mismatch, algorithm mismatch and expiry all collapse into
// ErrInvalidToken.
func (tc *TokenCodec) Validate(tokenString string) (Identity, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return tc.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	return Identity{AccountID: claims.AccountID, Username: claims.Username}, nil
}
