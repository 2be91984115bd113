package core

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityContextKey = "identity"

var (
	// ErrMissingToken is returned when a request carries no bearer token at all.
	ErrMissingToken = errors.New("missing token")
)

// Authorize extracts the bearer token from an Authorization header value and
// validates it. Absence of a token and an invalid token are distinct outcomes
// so callers can report them separately if they want to; both map to 401 on
// the HTTP surface.
func Authorize(authHeader string, codec *TokenCodec) (Identity, error) {
	if strings.TrimSpace(authHeader) == "" {
		return Identity{}, ErrMissingToken
	}
	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		return Identity{}, ErrInvalidToken
	}
	return codec.Validate(tokenString)
}

// RequireAuth aborts with 401 before the handler runs unless the request
// carries a valid session token. The authenticated identity is stashed in the
// gin context for CurrentIdentity. Protected handlers must take the acting
// user from there, never from the request body.
func RequireAuth(codec *TokenCodec) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := Authorize(c.GetHeader("Authorization"), codec)
		if err != nil {
			if errors.Is(err, ErrMissingToken) {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authorization token required")
			} else {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			}
			c.Abort()
			return
		}
		c.Set(identityContextKey, identity)
		c.Next()
	}
}

// CurrentIdentity returns the identity stored by RequireAuth.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	return identity, ok
}
