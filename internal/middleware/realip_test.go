package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func echoRemoteAddr() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.RemoteAddr))
	})
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.1 ", "", "::1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prefixes) != 3 {
		t.Fatalf("len = %d, want 3", len(prefixes))
	}
	if prefixes[1].Bits() != 32 || prefixes[2].Bits() != 128 {
		t.Errorf("single IPs should become host prefixes: %v", prefixes)
	}

	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Error("expected error for invalid entry")
	}
}

func TestTrustedRealIP_IgnoresHeadersFromUntrustedPeer(t *testing.T) {
	trusted, _ := ParseTrustedProxies([]string{"10.0.0.0/8"})
	handler := NewTrustedRealIPMiddleware(trusted)(echoRemoteAddr())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Body.String(); got != "203.0.113.7:5555" {
		t.Errorf("RemoteAddr = %q, want untouched", got)
	}
}

func TestTrustedRealIP_UsesHeaderFromTrustedProxy(t *testing.T) {
	trusted, _ := ParseTrustedProxies([]string{"10.0.0.0/8"})
	handler := NewTrustedRealIPMiddleware(trusted)(echoRemoteAddr())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Real-IP", "198.51.100.2")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Body.String(); got != "198.51.100.2" {
		t.Errorf("RemoteAddr = %q, want forwarded address", got)
	}
}

func TestTrustedRealIP_NoTrustedProxies_PassThrough(t *testing.T) {
	handler := NewTrustedRealIPMiddleware(nil)(echoRemoteAddr())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Body.String(); got != "203.0.113.7:5555" {
		t.Errorf("RemoteAddr = %q, want untouched", got)
	}
}
