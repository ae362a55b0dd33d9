package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(a.Middleware())
	router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": CurrentUserID(c)})
	})
	return router
}

func withToken(router http.Handler, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	_, err := NewAuthenticator("  ", time.Hour)
	assert.Error(t, err)
}

func TestAuthenticator_RoundTrip(t *testing.T) {
	a, err := NewAuthenticator("s3cret", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := a.IssueToken("user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	w := withToken(authRouter(a), "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"user-1"}`, w.Body.String())
}

func TestAuthenticator_Rejects(t *testing.T) {
	a, err := NewAuthenticator("s3cret", time.Hour)
	require.NoError(t, err)
	other, err := NewAuthenticator("different", time.Hour)
	require.NoError(t, err)

	foreign, _, err := other.IssueToken("user-1")
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := a.IssueToken("user-1")
	require.NoError(t, err)
	a.now = time.Now

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "user-1",
		Issuer:  issuer,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	router := authRouter(a)
	for name, header := range map[string]string{
		"missing":      "",
		"wrong scheme": "Basic abc",
		"empty token":  "Bearer ",
		"wrong secret": "Bearer " + foreign,
		"expired":      "Bearer " + expired,
		"alg none":     "Bearer " + none,
		"garbage":      "Bearer not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			w := withToken(router, header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"unauthorized"`)
		})
	}
}
