package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftroom/driftroom/internal/v1/cache"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := cache.New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return New(c), mr
}

func TestAllow_FreshKeyStoresBudget(t *testing.T) {
	l, mr := newTestLimiter(t)

	rule := Rule{Limit: 10, Window: time.Minute}
	assert.True(t, l.Allow(context.Background(), "10.0.0.1", rule))

	val, err := mr.Get("rate_limiter:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "10", val)
	assert.Equal(t, time.Minute, mr.TTL("rate_limiter:10.0.0.1"))
}

func TestAllow_DeniesAtZero(t *testing.T) {
	l, mr := newTestLimiter(t)

	require.NoError(t, mr.Set("rate_limiter:10.0.0.3", "0"))
	assert.False(t, l.Allow(context.Background(), "10.0.0.3", Rule{Limit: 10, Window: time.Minute}))
}

func TestAllow_DecrementsOnHit(t *testing.T) {
	l, mr := newTestLimiter(t)

	require.NoError(t, mr.Set("rate_limiter:10.0.0.2", "5"))
	assert.True(t, l.Allow(context.Background(), "10.0.0.2", Rule{Limit: 10, Window: time.Minute}))

	val, err := mr.Get("rate_limiter:10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "4", val)
}

func TestAllow_WindowBudget(t *testing.T) {
	l, _ := newTestLimiter(t)

	rule := Rule{Limit: 3, Window: time.Minute}
	ip := "10.0.0.4"

	// The opening hit stores the budget untouched, so denial begins once
	// the stored counter has been decremented to zero.
	var results []bool
	for i := 0; i < 6; i++ {
		results = append(results, l.Allow(context.Background(), ip, rule))
	}
	assert.Equal(t, []bool{true, true, true, true, false, false}, results)
}

func TestAllow_ExpiryRestoresBudget(t *testing.T) {
	l, mr := newTestLimiter(t)

	rule := Rule{Limit: 2, Window: time.Minute}
	ip := "10.0.0.5"

	require.NoError(t, mr.Set("rate_limiter:"+ip, "0"))
	mr.SetTTL("rate_limiter:"+ip, time.Minute)
	assert.False(t, l.Allow(context.Background(), ip, rule))

	mr.FastForward(time.Minute + time.Second)

	assert.True(t, l.Allow(context.Background(), ip, rule))
	val, err := mr.Get("rate_limiter:" + ip)
	require.NoError(t, err)
	assert.Equal(t, "2", val)
}

func TestAllow_GarbageCounterFailsOpen(t *testing.T) {
	l, mr := newTestLimiter(t)

	require.NoError(t, mr.Set("rate_limiter:10.0.0.6", "bananas"))
	assert.True(t, l.Allow(context.Background(), "10.0.0.6", Rule{Limit: 10, Window: time.Minute}))

	require.NoError(t, mr.Set("rate_limiter:10.0.0.6", "-3"))
	assert.True(t, l.Allow(context.Background(), "10.0.0.6", Rule{Limit: 10, Window: time.Minute}))
}

func TestAllow_CacheDownFailsOpen(t *testing.T) {
	l, mr := newTestLimiter(t)

	mr.Close()

	assert.True(t, l.Allow(context.Background(), "10.0.0.7", Rule{Limit: 10, Window: time.Minute}))
}

func TestClientIP(t *testing.T) {
	mk := func(xff string) http.Header {
		h := http.Header{}
		if xff != "" {
			h.Set("X-Forwarded-For", xff)
		}
		return h
	}

	assert.Equal(t, "127.0.0.1", ClientIP(mk("")))
	assert.Equal(t, "203.0.113.9", ClientIP(mk("203.0.113.9")))
	assert.Equal(t, "198.51.100.7", ClientIP(mk("203.0.113.9, 198.51.100.7")))
	assert.Equal(t, "198.51.100.7", ClientIP(mk("203.0.113.9,198.51.100.7 ")))
	assert.Equal(t, "127.0.0.1", ClientIP(mk(",")))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	l, _ := newTestLimiter(t)

	r := gin.New()
	r.GET("/guarded", l.Middleware("test", Rule{Limit: 1, Window: time.Minute}), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	do := func(ip string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
		req.Header.Set("X-Forwarded-For", ip)
		r.ServeHTTP(w, req)
		return w
	}

	// Budget of one admits the opening hit and the one consuming the counter.
	assert.Equal(t, http.StatusOK, do("10.1.0.1").Code)
	assert.Equal(t, http.StatusOK, do("10.1.0.1").Code)

	w := do("10.1.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Empty(t, w.Body.String(), "denials carry no body")

	// Another address is unaffected.
	assert.Equal(t, http.StatusOK, do("10.1.0.2").Code)
}
