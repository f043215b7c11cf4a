package mw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"smartengo-backend/internal/auth"
	"smartengo-backend/internal/events"
	"smartengo-backend/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReadCache_ServesAndFlushes(t *testing.T) {
	rc := NewReadCache(time.Minute)
	hub := events.NewHub()
	calls := 0

	r := gin.New()
	r.GET("/toilets", rc.Middleware(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	w := perform(r, http.MethodGet, "/toilets", nil)
	assert.JSONEq(t, `{"calls":1}`, w.Body.String())

	w = perform(r, http.MethodGet, "/toilets", nil)
	assert.JSONEq(t, `{"calls":1}`, w.Body.String())
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.FlushOnChange(ctx, hub)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(events.NewEvent(events.TableToilets, events.TypeUpdate, "t-1", nil))
	require.Eventually(t, func() bool { return rc.Len() == 0 }, time.Second, 5*time.Millisecond)

	w = perform(r, http.MethodGet, "/toilets", nil)
	assert.JSONEq(t, `{"calls":2}`, w.Body.String())
}

func TestReadCache_SkipsErrorsAndNoCache(t *testing.T) {
	rc := NewReadCache(time.Minute)
	calls := 0

	r := gin.New()
	r.GET("/toilets", rc.Middleware(), func(c *gin.Context) {
		calls++
		if c.Query("fail") != "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	perform(r, http.MethodGet, "/toilets?fail=1", nil)
	perform(r, http.MethodGet, "/toilets?fail=1", nil)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, rc.Len())

	perform(r, http.MethodGet, "/toilets", nil)
	req := httptest.NewRequest(http.MethodGet, "/toilets", nil)
	req.Header.Set("Cache-Control", "no-cache")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"calls":4}`, w.Body.String())
	assert.Empty(t, w.Header().Get("X-Cache"))

	w = perform(r, http.MethodGet, "/toilets", nil)
	assert.JSONEq(t, `{"calls":4}`, w.Body.String())
}

func TestReadCache_DropsResponseBuiltAcrossFlush(t *testing.T) {
	rc := NewReadCache(time.Minute)
	calls := 0

	r := gin.New()
	r.GET("/toilets", rc.Middleware(), func(c *gin.Context) {
		calls++
		if calls == 1 {
			// A write commits and flushes after this read was taken.
			rc.Flush()
		}
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	w := perform(r, http.MethodGet, "/toilets", nil)
	assert.JSONEq(t, `{"calls":1}`, w.Body.String())
	assert.Equal(t, 0, rc.Len())

	w = perform(r, http.MethodGet, "/toilets", nil)
	assert.JSONEq(t, `{"calls":2}`, w.Body.String())
	assert.Empty(t, w.Header().Get("X-Cache"))
	assert.Equal(t, 1, rc.Len())

	w = perform(r, http.MethodGet, "/toilets", nil)
	assert.JSONEq(t, `{"calls":2}`, w.Body.String())
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 2)
	r := gin.New()
	r.Use(RateLimit(limiter))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, perform(r, http.MethodGet, "/", nil).Code)

	assert.Equal(t, 0, limiter.Evict(time.Hour))
	assert.Equal(t, 1, limiter.Evict(-time.Second))
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS("*"))
	r.POST("/hook", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.OPTIONS("/hook", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := perform(r, http.MethodOptions, "/hook", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "content-type")

	w = perform(r, http.MethodPost, "/hook", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequireAuth(t *testing.T) {
	m := auth.NewManager("secret", time.Hour)
	admin, err := m.Issue(&model.AdminUser{ID: "u-1", Email: "a@example.com", Role: model.RoleAdmin}, time.Now())
	require.NoError(t, err)
	viewer, err := m.Issue(&model.AdminUser{ID: "u-2", Email: "v@example.com", Role: model.RoleUser}, time.Now())
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", RequireAuth(m), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"email": Claims(c).Email})
	})
	r.DELETE("/thing", RequireAuth(m), RequireRole(model.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/me", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		perform(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer junk"}}).Code)

	w := perform(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer " + admin}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"email":"a@example.com"}`, w.Body.String())

	w = perform(r, http.MethodGet, "/me", http.Header{"Cookie": {AuthCookie + "=" + viewer}})
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusForbidden,
		perform(r, http.MethodDelete, "/thing", http.Header{"Authorization": {"Bearer " + viewer}}).Code)
	assert.Equal(t, http.StatusNoContent,
		perform(r, http.MethodDelete, "/thing", http.Header{"Authorization": {"Bearer " + admin}}).Code)
}
