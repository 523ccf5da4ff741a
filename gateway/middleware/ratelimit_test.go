package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"otp": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("otp")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/verification/otp/generate", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimiterSeparatesLimits(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"otp":   {RequestsPerMinute: 60, Burst: 1},
		"admin": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	otp := limiter.Middleware("otp")(okHandler())
	admin := limiter.Middleware("admin")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/verification/otp/generate", nil)
	res := httptest.NewRecorder()
	otp.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected otp request to succeed, got %d", res.Code)
	}

	adminReq := httptest.NewRequest(http.MethodGet, "/api/admin/sessions", nil)
	adminRes := httptest.NewRecorder()
	admin.ServeHTTP(adminRes, adminReq)
	if adminRes.Code != http.StatusOK {
		t.Fatalf("expected admin request to have its own budget, got %d", adminRes.Code)
	}
}

func TestRateLimiterKeysBySubject(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"otp": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("otp")(okHandler())

	for _, subject := range []string{"alice", "bob"} {
		req := httptest.NewRequest(http.MethodPost, "/api/verification/otp/verify", nil)
		req = req.WithContext(WithPrincipal(req.Context(), Principal{Subject: subject}))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s to have an independent budget, got %d", subject, res.Code)
		}
	}
}

func TestRateLimiterRefills(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"otp": {RatePerSecond: 1, Burst: 1},
	}, nil)
	now := time.Unix(1700000000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("otp")(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/verification/otp/verify", nil)

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, res.Code)
		}
	}
	now = now.Add(2 * time.Second)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected refill after two seconds, got %d", res.Code)
	}
}

func TestClientIDPrefersForwardedAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientID(req); got != "203.0.113.7" {
		t.Fatalf("unexpected client id %q", got)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := clientID(req); got != "192.0.2.1" {
		t.Fatalf("unexpected client id %q", got)
	}
}
