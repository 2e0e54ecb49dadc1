package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func rateLimitedHandler(rate float64, burst int) http.Handler {
	return RateLimit(rate, burst)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	h := rateLimitedHandler(1, 2)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-Ip", "10.0.0.1")
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d within burst expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-Ip", "10.0.0.1")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("burst exhausted, expected 429, got %d", rec.Code)
	}
}

func TestRateLimit_BucketsAreIndependentPerIP(t *testing.T) {
	h := rateLimitedHandler(1, 1)

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-Ip", "10.0.0.1")
	h.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}

	// A different caller is unaffected by the first caller's exhausted bucket.
	other := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("X-Real-Ip", "10.0.0.2")
	h.ServeHTTP(other, req2)
	if other.Code != http.StatusOK {
		t.Fatalf("independent IP expected 200, got %d", other.Code)
	}
}
