package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_BasicFunctionality(t *testing.T) {
	rl := NewRateLimiter(2, 2) // 2 req/sec, burst 2
	defer rl.Stop()

	handler := rl.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms/general/messages", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	for i := 1; i <= 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", rr.Header().Get("Retry-After"))
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["code"] != "rate_limited" {
		t.Errorf("expected code rate_limited, got %q", body["code"])
	}
}

func TestRateLimiter_PortIgnored(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	handler := rl.Middleware()(okHandler())

	req1 := httptest.NewRequest(http.MethodGet, "/", nil)
	req1.RemoteAddr = "10.0.0.1:1111"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req1)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rr.Code)
	}

	// Same host, new connection
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "10.0.0.1:2222"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req2)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("reconnect: expected 429, got %d", rr.Code)
	}

	// Different host
	req3 := httptest.NewRequest(http.MethodGet, "/", nil)
	req3.RemoteAddr = "10.0.0.2:1111"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req3)
	if rr.Code != http.StatusOK {
		t.Errorf("other host: expected 200, got %d", rr.Code)
	}
}

func TestRateLimiter_AllowByKey(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	if !rl.Allow("user-a") {
		t.Error("expected first call for user-a to pass")
	}
	if rl.Allow("user-a") {
		t.Error("expected second call for user-a to be limited")
	}
	if !rl.Allow("user-b") {
		t.Error("expected user-b to have its own bucket")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		_ = rl.getLimiter(fmt.Sprintf("10.0.0.%d", i))
	}

	rl.mu.Lock()
	if len(rl.limiters) != 100 {
		t.Errorf("expected 100 limiters, got %d", len(rl.limiters))
	}
	oldTime := time.Now().Add(-2 * limiterTTL)
	for key := range rl.limiters {
		rl.limiters[key].lastAccess = oldTime
	}
	rl.mu.Unlock()

	rl.cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if len(rl.limiters) != 0 {
		t.Errorf("expected 0 limiters after cleanup, got %d", len(rl.limiters))
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(100, 10)
	defer rl.Stop()

	handler := rl.Middleware()(okHandler())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				req.RemoteAddr = fmt.Sprintf("192.168.1.%d:1234", id)
				handler.ServeHTTP(httptest.NewRecorder(), req)
			}
		}(i)
	}
	wg.Wait()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if len(rl.limiters) != 50 {
		t.Errorf("expected 50 limiters, got %d", len(rl.limiters))
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	rl.Stop()
	rl.Stop()
}
