package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, CustomContextMiddleware("test"), func(c *gin.Context) {
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, gin.H{
			"userId":    utils.GetUserIdFromContext(ctx),
			"userEmail": utils.GetUserEmailFromContext(ctx),
			"appSource": utils.GetAppSourceFromContext(ctx),
		})
	})
	r.GET("/", handlers...)
	return r
}

func serve(r *gin.Engine, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		for _, value := range v {
			req.Header.Add(k, value)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := newRouter(APIKeyMiddleware(APIKeyConfig{ValidAPIKey: "secret"}))

	assert.Equal(t, http.StatusUnauthorized, serve(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.Header{APIKeyHeader: {"wrong"}}).Code)

	w := serve(r, http.Header{APIKeyHeader: {" secret "}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"appSource":"test"`)
}

func TestAPIKeyMiddleware_EmptyKeyRejectsEverything(t *testing.T) {
	r := newRouter(APIKeyMiddleware(APIKeyConfig{}))
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.Header{APIKeyHeader: {"anything"}}).Code)
}

func TestUserAuthMiddleware_HeaderFallback(t *testing.T) {
	r := newRouter(UserAuthMiddleware(nil))

	assert.Equal(t, http.StatusUnauthorized, serve(r, nil).Code)

	w := serve(r, http.Header{"X-User-Id": {"user_1"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"userId":"user_1"`)
}

func testKeys(t *testing.T) (jwk.Key, jwk.Set) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	private, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, private.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, private.Set(jwk.AlgorithmKey, jwa.RS256))

	public, err := jwk.PublicKeyOf(private)
	require.NoError(t, err)
	require.NoError(t, public.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, public.Set(jwk.AlgorithmKey, jwa.RS256))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))
	return private, set
}

func sign(t *testing.T, key jwk.Key, subject string, expires time.Time) string {
	token, err := jwt.NewBuilder().
		Subject(subject).
		Expiration(expires).
		Claim("email", "ann@acme.com").
		Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func TestUserAuthMiddleware_Bearer(t *testing.T) {
	private, set := testKeys(t)
	r := newRouter(UserAuthMiddleware(set))

	w := serve(r, http.Header{"Authorization": {"Bearer " + sign(t, private, "user_9", time.Now().Add(time.Hour))}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"userId":"user_9"`)
	assert.Contains(t, w.Body.String(), `"userEmail":"ann@acme.com"`)

	expired := serve(r, http.Header{"Authorization": {"Bearer " + sign(t, private, "user_9", time.Now().Add(-time.Hour))}})
	assert.Equal(t, http.StatusUnauthorized, expired.Code)

	other, _ := testKeys(t)
	forged := serve(r, http.Header{"Authorization": {"Bearer " + sign(t, other, "user_9", time.Now().Add(time.Hour))}})
	assert.Equal(t, http.StatusUnauthorized, forged.Code)

	headerOnly := serve(r, http.Header{"X-User-Id": {"user_1"}})
	assert.Equal(t, http.StatusUnauthorized, headerOnly.Code)
}
