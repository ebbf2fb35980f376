package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequireStudentJWT(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: "secret"})
	token, err := auth.SignStudentToken(7, time.Hour)
	require.NoError(t, err)
	expired, err := auth.SignStudentToken(7, -time.Minute)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", RequireStudentJWT(auth), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", GetClaims(c).UserID)
	})

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"bearer header", "Bearer " + token, "", http.StatusOK},
		{"query fallback", "", token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/me"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "7", w.Body.String())
			}
		})
	}
}

func TestSingleAttemptStream(t *testing.T) {
	locks := service.NewLocalStreamLock()
	entered := make(chan struct{})
	release := make(chan struct{})

	r := gin.New()
	r.GET("/attempts/:attempt_id/stream", SingleAttemptStream(locks, "attempt_id"), func(c *gin.Context) {
		entered <- struct{}{}
		<-release
		c.Status(http.StatusOK)
	})

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/attempts/a1/stream", nil))
		close(done)
	}()
	<-entered

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/attempts/a1/stream", nil))
	assert.Equal(t, http.StatusConflict, second.Code)

	close(release)
	<-done
	assert.Equal(t, http.StatusOK, first.Code)

	_, ok, err := locks.Acquire(t.Context(), "a1")
	require.NoError(t, err)
	assert.True(t, ok, "lock released after the stream ended")
}

func TestStreamLockReleaseNeedsOwnerToken(t *testing.T) {
	locks := service.NewLocalStreamLock()
	ctx := t.Context()

	first, ok, err := locks.Acquire(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, first)

	_, ok, err = locks.Acquire(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)

	// A stale holder must not free a binding it no longer owns.
	require.NoError(t, locks.Release(ctx, "a1", "stale"))
	_, ok, err = locks.Acquire(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locks.Release(ctx, "a1", first))
	second, ok, err := locks.Acquire(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, first, second)
}

func TestRateLimiterPerStudent(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: "secret"})
	tokenA, _ := auth.SignStudentToken(1, time.Hour)
	tokenB, _ := auth.SignStudentToken(2, time.Hour)

	rl := NewRateLimiter(2, time.Hour)
	r := gin.New()
	r.POST("/submit", RequireStudentJWT(auth), rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, do(tokenA))
	assert.Equal(t, http.StatusNoContent, do(tokenA))
	assert.Equal(t, http.StatusTooManyRequests, do(tokenA))
	assert.Equal(t, http.StatusNoContent, do(tokenB))
}

func TestBrotli(t *testing.T) {
	big := strings.Repeat("answer ", 400)
	r := gin.New()
	r.Use(BrotliWithConfig(BrotliConfig{MinLength: 256, Skipper: SkipPaths("/health")}))
	r.GET("/big", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"text": big}) })
	r.GET("/small", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"text": big}) })
	r.GET("/blob", func(c *gin.Context) { c.Data(http.StatusOK, "image/png", []byte(big)) })

	do := func(path, accept string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Accept-Encoding", accept)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("/big", "gzip, br")
	require.Equal(t, "br", w.Header().Get("Content-Encoding"))
	plain, err := io.ReadAll(brotli.NewReader(w.Body))
	require.NoError(t, err)
	assert.Contains(t, string(plain), big)

	for _, tc := range []struct{ path, accept string }{
		{"/small", "br"},
		{"/health", "br"},
		{"/blob", "br"},
		{"/big", "gzip"},
		{"/big", "br;q=0"},
	} {
		w := do(tc.path, tc.accept)
		assert.Empty(t, w.Header().Get("Content-Encoding"), tc.path+" "+tc.accept)
		assert.Equal(t, http.StatusOK, w.Code, tc.path)
	}
	assert.Equal(t, big, do("/blob", "br").Body.String())
}
