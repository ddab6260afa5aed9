package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"relayd/internal/config"
	"relayd/pkg/cache"
)

const testSecret = "s3cret"

func newTestApp(t *testing.T, upstreamURL string, mutate func(*config.FinalConfig)) (*fiber.App, *cache.Memory) {
	t.Helper()

	cfg := &config.FinalConfig{
		Auth: config.Auth{Header: "x-proxy-key", Secret: testSecret},
		Cache: config.Cache{
			Driver:   "memory",
			Capacity: 16,
			TTL:      "60s",
		},
		Upstream: config.Upstream{
			Timeout:     "2s",
			Attempts:    3,
			BackoffBase: "1ms",
			Jitter:      "1ms",
			RetryPolicy: "all",
			UserAgent:   "relayd-test/1",
		},
		Routes: []config.Route{
			{Mount: "/catalog", Upstream: upstreamURL},
			{Mount: "/games", Upstream: upstreamURL + "/api"},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	store := cache.NewMemory(cfg.Cache.Capacity)
	app := fiber.New()
	RegisterRoutes(app, cfg, store)
	return app, store
}

func authedReq(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("x-proxy-key", testSecret)
	return req
}

func TestHandle_ForwardsAndCaches(t *testing.T) {
	hits := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/v1/item" || r.URL.RawQuery != "x=1" {
			t.Errorf("upstream got %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1}`))
	}))
	t.Cleanup(srv.Close)

	app, store := newTestApp(t, srv.URL, nil)

	resp, err := app.Test(authedReq(http.MethodGet, "/catalog/v1/item?x=1"))
	if err != nil {
		t.Fatalf("first call err=%v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"id":1}` {
		t.Fatalf("body=%q", string(body))
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("upstream hits=%d want 1", hits)
	}

	// entry keyed by METHOD:targetURL
	if _, ok, _ := store.Get(context.Background(), "GET:"+srv.URL+"/v1/item?x=1"); !ok {
		t.Fatal("expected cache entry under GET:<target> key")
	}

	// second identical GET served from cache, no extra upstream call
	resp2, err := app.Test(authedReq(http.MethodGet, "/catalog/v1/item?x=1"))
	if err != nil {
		t.Fatalf("second call err=%v", err)
	}
	body2, _ := io.ReadAll(resp2.Body)
	if resp2.StatusCode != http.StatusOK || string(body2) != `{"id":1}` {
		t.Fatalf("cached status=%d body=%q", resp2.StatusCode, string(body2))
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("upstream hits=%d want still 1", hits)
	}
}

func TestHandle_TranslatedHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// suppress content-type so the JSON default kicks in
		w.Header()["Content-Type"] = nil
		w.Write([]byte("raw"))
	}))
	t.Cleanup(srv.Close)

	app, _ := newTestApp(t, srv.URL, nil)

	resp, err := app.Test(authedReq(http.MethodGet, "/catalog/thing"))
	if err != nil {
		t.Fatalf("req err=%v", err)
	}
	if got := resp.Header.Get("Content-Type"); got != defaultContentType {
		t.Fatalf("content-type=%q want default %q", got, defaultContentType)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin=%q want *", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "*" {
		t.Fatalf("allow-headers=%q want *", got)
	}
	// ttl 60s from newTestApp config drives the advertised max-age
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=60" {
		t.Fatalf("cache-control=%q", got)
	}
}

func TestHandle_TTLExpiryTriggersRefetch(t *testing.T) {
	hits := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("v"))
	}))
	t.Cleanup(srv.Close)

	app, _ := newTestApp(t, srv.URL, func(cfg *config.FinalConfig) {
		cfg.Cache.TTL = "40ms"
	})

	if _, err := app.Test(authedReq(http.MethodGet, "/catalog/x")); err != nil {
		t.Fatalf("first: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := app.Test(authedReq(http.MethodGet, "/catalog/x")); err != nil {
		t.Fatalf("second: %v", err)
	}

	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("hits=%d want 2 after ttl expiry", hits)
	}
}

func TestHandle_MethodNotAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}))
	t.Cleanup(srv.Close)

	app, _ := newTestApp(t, srv.URL, nil)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		resp, err := app.Test(authedReq(method, "/catalog/x"))
		if err != nil {
			t.Fatalf("%s err=%v", method, err)
		}
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("%s status=%d want 405", method, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "Method Not Allowed" {
			t.Fatalf("%s body=%q", method, string(body))
		}
	}
}

func TestHandle_HeadForwardedNotCached(t *testing.T) {
	hits := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Method != http.MethodHead {
			t.Errorf("upstream method=%s want HEAD", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	app, store := newTestApp(t, srv.URL, nil)

	resp, err := app.Test(authedReq(http.MethodHead, "/catalog/x"))
	if err != nil {
		t.Fatalf("head err=%v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if store.Len() != 0 {
		t.Fatalf("cache len=%d, HEAD must never be stored", store.Len())
	}

	// a second HEAD goes upstream again
	if _, err := app.Test(authedReq(http.MethodHead, "/catalog/x")); err != nil {
		t.Fatalf("head2 err=%v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("hits=%d want 2", hits)
	}
}

func TestHandle_Non2xxPassedThroughNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	t.Cleanup(srv.Close)

	app, store := newTestApp(t, srv.URL, nil)

	resp, err := app.Test(authedReq(http.MethodGet, "/catalog/x"))
	if err != nil {
		t.Fatalf("req err=%v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want upstream 404 passed through", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "missing" {
		t.Fatalf("body=%q", string(body))
	}
	if store.Len() != 0 {
		t.Fatalf("cache len=%d, non-2xx must never be stored", store.Len())
	}
}

func TestHandle_UpstreamErrorAfterRetries(t *testing.T) {
	hits := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("hijacking not supported")
			return
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	app, store := newTestApp(t, srv.URL, nil)

	resp, err := app.Test(authedReq(http.MethodGet, "/catalog/x"))
	if err != nil {
		t.Fatalf("req err=%v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Upstream error" {
		t.Fatalf("body=%q want generic message", string(body))
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("hits=%d want full attempt budget", hits)
	}
	if store.Len() != 0 {
		t.Fatalf("cache len=%d, failures must never be stored", store.Len())
	}
}

func TestHandle_QueryForwardedVerbatim(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	app, _ := newTestApp(t, srv.URL, nil)

	if _, err := app.Test(authedReq(http.MethodGet, "/games/list?sort=name&limit=10")); err != nil {
		t.Fatalf("req err=%v", err)
	}
	if gotQuery != "sort=name&limit=10" {
		t.Fatalf("raw query=%q want byte-for-byte passthrough", gotQuery)
	}
}

func TestHandle_NoRuleMatch(t *testing.T) {
	cfg := &config.FinalConfig{
		Cache:    config.Cache{TTL: "60s"},
		Upstream: config.Upstream{Timeout: "1s", Attempts: 1},
		Routes:   []config.Route{{Mount: "/catalog", Upstream: "https://catalog.example"}},
	}
	p := newProxy(cfg, nil)

	// handler reachable on a mount the allow-list does not cover
	app := fiber.New()
	app.All("/games/*", p.handle)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/games/list", nil))
	if err != nil {
		t.Fatalf("req err=%v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Not allowed" {
		t.Fatalf("body=%q want Not allowed", string(body))
	}
}

func TestHandle_SingleFlightCoalescesMisses(t *testing.T) {
	hits := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("slow"))
	}))
	t.Cleanup(srv.Close)

	app, _ := newTestApp(t, srv.URL, func(cfg *config.FinalConfig) {
		cfg.Cache.SingleFlight = true
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := app.Test(authedReq(http.MethodGet, "/catalog/slow"), 2000)
			if err != nil || resp.StatusCode != http.StatusOK {
				t.Errorf("err=%v status=%v", err, resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("hits=%d want 1 coalesced upstream call", got)
	}
}

func TestHandle_CacheDisabledStillProxies(t *testing.T) {
	hits := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.FinalConfig{
		Auth:     config.Auth{Header: "x-proxy-key", Secret: testSecret},
		Cache:    config.Cache{Driver: "off", TTL: "60s"},
		Upstream: config.Upstream{Timeout: "2s", Attempts: 1},
		Routes:   []config.Route{{Mount: "/catalog", Upstream: srv.URL}},
	}
	app := fiber.New()
	RegisterRoutes(app, cfg, nil)

	for i := 0; i < 2; i++ {
		resp, err := app.Test(authedReq(http.MethodGet, "/catalog/x"))
		if err != nil || resp.StatusCode != http.StatusOK {
			t.Fatalf("call %d err=%v status=%v", i, err, resp.StatusCode)
		}
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("hits=%d want 2 without cache", hits)
	}
}
