package replay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"netforge/internal/capture"
	"netforge/internal/dispatch"
	"netforge/pkg/model"
	"netforge/pkg/traffic"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Token", r.Header.Get("X-Token"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(r.URL.Path + "|" + string(b)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *dispatch.Client {
	t.Helper()
	c, err := dispatch.New(dispatch.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func ptr[T any](v T) *T { return &v }

func TestReplayWithOverrides(t *testing.T) {
	srv := echoServer(t)
	store := capture.New(10)
	base := traffic.NewRequest("POST", srv.URL+"/orig")
	base.Headers.Add("X-Token", "captured")
	base.Body = []byte("original")
	id := store.Append(base)

	svc := New(store, newClient(t), Options{PreviewBytes: 6, Record: true}, nil)

	res := svc.Replay(context.Background(), id, model.ReplayOverrides{
		Body:    ptr([]byte("patched")),
		Headers: &traffic.Headers{{Name: "X-Token", Value: "override"}},
	})
	if res.Error != nil {
		t.Fatalf("unexpected error %v", res.Error)
	}
	if res.Status != http.StatusCreated || res.RequestID != id || res.ID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Headers.Get("X-Method") != "POST" || res.Headers.Get("X-Token") != "override" {
		t.Fatalf("overrides not applied: %+v", res.Headers)
	}
	full := "/orig|patched"
	if string(res.BodyPreview) != full[:6] || !res.Truncated || res.BodySize != int64(len(full)) {
		t.Fatalf("preview=%q truncated=%v size=%d", res.BodyPreview, res.Truncated, res.BodySize)
	}

	rec, ok := store.Get(res.CaptureID)
	if !ok || rec.Response == nil || rec.Response.StatusCode != http.StatusCreated {
		t.Fatalf("replay should be recorded, got %+v %v", rec, ok)
	}
	orig, _ := store.Get(id)
	if string(orig.Request.Body) != "original" {
		t.Fatal("captured request must stay unchanged")
	}
}

func TestReplayOverridesOnly(t *testing.T) {
	srv := echoServer(t)
	svc := New(nil, newClient(t), Options{}, nil)

	res := svc.Replay(context.Background(), 404, model.ReplayOverrides{URL: ptr(srv.URL + "/fresh")})
	if res.Error != nil || res.Status != http.StatusCreated {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Headers.Get("X-Method") != "GET" {
		t.Fatalf("method should default to GET, got %q", res.Headers.Get("X-Method"))
	}
	if diff := cmp.Diff([]byte("/fresh|"), res.BodyPreview); diff != "" || res.Truncated {
		t.Fatalf("preview mismatch: %s", diff)
	}
}

func TestReplayTypedErrors(t *testing.T) {
	svc := New(capture.New(1), newClient(t), Options{}, nil)

	res := svc.Replay(context.Background(), 7, model.ReplayOverrides{})
	if res.Error == nil || res.Error.Kind != model.ReplayInvalidRequest || res.Status != model.FailedStatus {
		t.Fatalf("expected invalid_request, got %+v", res)
	}

	res = svc.Replay(context.Background(), 0, model.ReplayOverrides{URL: ptr("gopher://x")})
	if res.Error == nil || res.Error.Kind != model.ReplayInvalidRequest {
		t.Fatalf("expected invalid_request for scheme, got %+v", res.Error)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()
	res = svc.Replay(context.Background(), 0, model.ReplayOverrides{URL: ptr(addr)})
	if res.Error == nil || res.Error.Kind != model.ReplayNetwork {
		t.Fatalf("expected network error, got %+v", res.Error)
	}
	if !strings.Contains(res.Error.Error(), "network") {
		t.Fatalf("error text should carry the kind: %q", res.Error.Error())
	}
}
