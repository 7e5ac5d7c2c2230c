package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"netforge/pkg/traffic"
)

func TestParseRaw(t *testing.T) {
	raw := "POST /login?next=%2F HTTP/1.1\r\nHost: shop.local\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: 999\r\nX-Dup: 1\r\nX-Dup: 2\r\n\r\nuser=admin&pass=secret"

	req, err := ParseRaw(raw, "https://10.0.0.5:8443/ignored")
	if err != nil {
		t.Fatalf("ParseRaw: %v", err)
	}
	if req.Method != "POST" || req.URL != "https://10.0.0.5:8443/login?next=%2F" || !req.TLS {
		t.Fatalf("unexpected request line parse: %s %s tls=%v", req.Method, req.URL, req.TLS)
	}
	want := traffic.Headers{
		{Name: "Host", Value: "shop.local"},
		{Name: "Content-Type", Value: "application/x-www-form-urlencoded"},
		{Name: "X-Dup", Value: "1"},
		{Name: "X-Dup", Value: "2"},
	}
	if diff := cmp.Diff(want, req.Headers); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
	if string(req.Body) != "user=admin&pass=secret" {
		t.Fatalf("body = %q", req.Body)
	}
}

func TestParseRawHostFallback(t *testing.T) {
	req, err := ParseRaw("GET /a HTTP/1.1\nHost: example.org\n\n", "")
	if err != nil {
		t.Fatalf("ParseRaw: %v", err)
	}
	if req.URL != "http://example.org/a" || len(req.Body) != 0 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestParseRawErrors(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"no target":     "GET\r\n\r\n",
		"bad protocol":  "GET / FTP/1.0\r\n\r\n",
		"bad header":    "GET / HTTP/1.1\r\nnocolon\r\n\r\n",
		"no base":       "GET / HTTP/1.1\r\n\r\n",
		"relative path": "GET foo HTTP/1.1\r\nHost: a\r\n\r\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRaw(raw, "")
			if KindOf(err) != KindInvalidRequest {
				t.Fatalf("expected invalid_request, got %v", err)
			}
		})
	}
}

func TestClientSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo-Host", r.Host)
		w.Header().Set("X-Method", r.Method)
		if r.URL.Path == "/redirect" {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte(strings.Repeat("x", 100) + string(b)))
	}))
	defer srv.Close()

	c, err := New(Options{Timeout: 2 * time.Second, MaxBodyBytes: 10})
	if err != nil {
		t.Fatal(err)
	}

	req := traffic.NewRequest("PUT", srv.URL+"/echo")
	req.Headers.Add("Host", "vhost.test")
	req.Body = []byte("abc")
	res, err := c.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Response.StatusCode != 200 || res.Size != 103 || !res.Truncated || len(res.Response.Body) != 10 {
		t.Fatalf("unexpected result status=%d size=%d truncated=%v body=%d",
			res.Response.StatusCode, res.Size, res.Truncated, len(res.Response.Body))
	}
	if res.Response.Headers.Get("X-Echo-Host") != "vhost.test" || res.Response.Headers.Get("X-Method") != "PUT" {
		t.Fatalf("unexpected headers %+v", res.Response.Headers)
	}

	res, err = c.Send(context.Background(), traffic.NewRequest("GET", srv.URL+"/redirect"))
	if err != nil {
		t.Fatalf("Send redirect: %v", err)
	}
	if res.Response.StatusCode != http.StatusFound {
		t.Fatalf("redirect must not be followed, got %d", res.Response.StatusCode)
	}
}

func TestClientErrorKinds(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c, _ := New(Options{Timeout: 50 * time.Millisecond})

	_, err := c.Send(context.Background(), traffic.NewRequest("GET", srv.URL))
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Send(ctx, traffic.NewRequest("GET", srv.URL))
	if KindOf(err) != KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}

	_, err = c.Send(context.Background(), traffic.Request{Method: "GET"})
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}

	_, err = c.Send(context.Background(), traffic.NewRequest("GET", "ftp://x/"))
	if KindOf(err) != KindInvalidRequest {
		t.Fatalf("expected invalid_request for scheme, got %v", err)
	}
}
