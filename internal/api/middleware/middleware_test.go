package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"}, "X-API-Key")(ok)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Accept, Authorization, Content-Type, X-API-Key" {
		t.Errorf("allow headers = %q", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight code = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()
	h := rl.Limit(ok)

	codes := make([]int, 0, 4)
	for _, addr := range []string{"10.0.0.1:1000", "10.0.0.1:1001", "10.0.0.1:1002", "10.0.0.2:1000"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	want := []int{200, 200, 429, 200}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d code = %d, want %d", i, codes[i], want[i])
		}
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()
	rl.allow("a")
	rl.sweep(time.Now().Add(time.Hour))
	rl.mu.Lock()
	n := len(rl.visitors)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("visitors = %d after sweep", n)
	}
}

type routeRecorder struct {
	method, route string
	code          int
}

func (r *routeRecorder) ObserveRequest(method, route string, code int, _ float64) {
	r.method, r.route, r.code = method, route, code
}

func TestLoggingObservesRoutePattern(t *testing.T) {
	obs := &routeRecorder{}
	r := chi.NewRouter()
	r.Use(Logging(obs))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/items/42", nil))
	if obs.method != "GET" || obs.route != "/items/{id}" || obs.code != http.StatusTeapot {
		t.Errorf("observed = %+v", obs)
	}
}
