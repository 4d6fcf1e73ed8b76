package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/pkg/errors"
)

const (
	ContextUserId    = "UserId"
	ContextUserEmail = "UserEmail"
)

// UserIdHeaders carry the caller identity when no key set is configured.
var UserIdHeaders = []string{"X-User-Id", "X-USER-ID", "user-id"}

// NewJWKSKeySet returns a key set that is fetched from url and refreshed in
// the background for as long as ctx lives.
func NewJWKSKeySet(ctx context.Context, url string) (jwk.Set, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(url, jwk.WithMinRefreshInterval(5*time.Minute)); err != nil {
		return nil, errors.Wrap(err, "failed to register jwks url")
	}
	if _, err := cache.Refresh(ctx, url); err != nil {
		return nil, errors.Wrap(err, "failed to fetch jwks")
	}
	return jwk.NewCachedSet(cache, url), nil
}

// UserAuthMiddleware verifies the bearer token against keys and exposes its
// subject as the user id. With a nil key set the user id is taken from the
// X-User-Id header, which is only meant for local development.
func UserAuthMiddleware(keys jwk.Set) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keys == nil {
			userId := ""
			for _, header := range UserIdHeaders {
				if value := strings.TrimSpace(c.GetHeader(header)); value != "" {
					userId = value
					break
				}
			}
			if userId == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
				return
			}
			c.Set(ContextUserId, userId)
			c.Next()
			return
		}

		token, err := jwt.ParseRequest(c.Request,
			jwt.WithKeySet(keys, jws.WithInferAlgorithmFromKey(true)),
			jwt.WithValidate(true),
		)
		if err != nil || token.Subject() == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			return
		}

		c.Set(ContextUserId, token.Subject())
		if email, ok := token.PrivateClaims()["email"].(string); ok {
			c.Set(ContextUserEmail, email)
		}
		c.Next()
	}
}
