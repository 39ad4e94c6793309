package httpadapter

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/josephwmusso/IntraNest/internal/config"
)

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	f := newRouterFixture(config.Config{
		APIRateLimitRPS:   1,
		APIRateLimitBurst: 1,
	})

	res1 := doJSON(t, f.handler, http.MethodGet, "/documents?user_id=u1", nil)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	res2 := doJSON(t, f.handler, http.MethodGet, "/documents?user_id=u1", nil)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}

	health := doJSON(t, f.handler, http.MethodGet, "/healthz", nil)
	if health.Code != http.StatusOK {
		t.Fatalf("healthz must bypass the rate limit, got %d", health.Code)
	}
}

func TestBackpressureSheddingAndRecovery(t *testing.T) {
	inside := make(chan struct{})
	unblock := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("block") == "1" {
			inside <- struct{}{}
			<-unblock
		}
		w.WriteHeader(http.StatusNoContent)
	})
	gate := backpressureMiddleware(slow, 1, 15*time.Millisecond)

	serve := func(target string) *httptest.ResponseRecorder {
		res := httptest.NewRecorder()
		gate.ServeHTTP(res, httptest.NewRequest(http.MethodPost, target, nil))
		return res
	}

	holder := make(chan int, 1)
	go func() { holder <- serve("/documents/search?block=1").Code }()
	<-inside

	shed := serve("/documents/search")
	if shed.Code != http.StatusServiceUnavailable || shed.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected shed request with Retry-After, got %d %v", shed.Code, shed.Header())
	}
	var body map[string]string
	if err := json.NewDecoder(bytes.NewReader(shed.Body.Bytes())).Decode(&body); err != nil || body["error"] == "" {
		t.Fatalf("expected JSON error body, got %q (%v)", shed.Body.String(), err)
	}

	close(unblock)
	select {
	case code := <-holder:
		if code != http.StatusNoContent {
			t.Fatalf("holding request finished with %d", code)
		}
	case <-time.After(time.Second):
		t.Fatalf("holding request never finished")
	}

	if got := serve("/documents/search").Code; got != http.StatusNoContent {
		t.Fatalf("slot was not released, got %d", got)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newRouterFixture(config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if got := res.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestRequestIDReplacesUnusableValues(t *testing.T) {
	f := newRouterFixture(config.Config{})
	for _, bad := range []string{"has space", strings.Repeat("x", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-Id", bad)
		res := httptest.NewRecorder()
		f.handler.ServeHTTP(res, req)

		got := res.Header().Get("X-Request-Id")
		if got == "" || got == bad {
			t.Fatalf("expected a generated request id for %q, got %q", bad, got)
		}
	}
}
