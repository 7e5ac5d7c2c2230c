package intruder

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"netforge/internal/dispatch"
	"netforge/pkg/model"
	"netforge/pkg/traffic"
)

// fakeSender 按 URL 中的载荷决定返回结果
type fakeSender struct {
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
	send     func(ctx context.Context, req traffic.Request) (*dispatch.Result, error)
}

func (f *fakeSender) Send(ctx context.Context, req traffic.Request) (*dispatch.Result, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.send != nil {
		return f.send(ctx, req)
	}
	return &dispatch.Result{Response: traffic.Response{StatusCode: 200}, Size: int64(len(req.URL))}, nil
}

const rawTemplate = "GET /item?id=XX HTTP/1.1\r\nHost: shop.local\r\n\r\n"

func ramRequest(payloads ...string) model.CampaignRequest {
	start := strings.Index(rawTemplate, "XX")
	return model.CampaignRequest{
		Template: rawTemplate,
		Target:   "http://127.0.0.1:1",
		Config: model.IntruderConfig{
			Positions:  []model.Position{{Start: start, End: start + 2, Name: "id"}},
			Payloads:   model.PayloadLists{payloads},
			AttackType: model.BatteringRam,
		},
	}
}

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a' + i))
	}
	return out
}

func TestCampaignRetainsNewestResults(t *testing.T) {
	s := &fakeSender{}
	c, err := NewCampaign(ramRequest(numbered(10)...), s, Options{MaxInFlight: 1, ResultCapacity: 3}, nil)
	if err != nil {
		t.Fatalf("NewCampaign: %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := c.Results()
	if len(res) != 3 {
		t.Fatalf("expected 3 retained results, got %d", len(res))
	}
	for i, want := range []uint64{8, 9, 10} {
		if res[i].RequestID != want {
			t.Fatalf("result %d has request id %d, want %d", i, res[i].RequestID, want)
		}
	}
	if res[2].Payloads[0] != "j" || res[2].Status != 200 {
		t.Fatalf("unexpected last result %+v", res[2])
	}

	p := c.Progress()
	if p.Status != model.CampaignCompleted || p.Total != 10 || p.Completed != 10 || p.Evicted != 7 || p.Retained != 3 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestCampaignToleratesPartialFailure(t *testing.T) {
	s := &fakeSender{send: func(ctx context.Context, req traffic.Request) (*dispatch.Result, error) {
		if strings.Contains(req.URL, "id=b") {
			return nil, &dispatch.Error{Kind: dispatch.KindNetwork, Err: errors.New("connection refused")}
		}
		return &dispatch.Result{Response: traffic.Response{StatusCode: 404}, Size: 12}, nil
	}}
	var mu sync.Mutex
	var seen []model.IntruderResult
	c, err := NewCampaign(ramRequest("a", "b", "c"), s, Options{
		MaxInFlight: 2,
		OnResult: func(r model.IntruderResult) {
			mu.Lock()
			seen = append(seen, r)
			mu.Unlock()
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Run(context.Background())

	p := c.Progress()
	if p.Status != model.CampaignCompleted || p.Completed != 3 || p.Failed != 1 {
		t.Fatalf("unexpected progress %+v", p)
	}
	failed := 0
	for _, r := range c.Results() {
		if r.Failed() {
			failed++
			if r.Payloads[0] != "b" || !strings.Contains(r.Error, "connection refused") {
				t.Fatalf("unexpected failed result %+v", r)
			}
		} else if r.Status != 404 || r.Length != 12 {
			t.Fatalf("unexpected result %+v", r)
		}
	}
	if failed != 1 || len(seen) != 3 {
		t.Fatalf("failed=%d callbacks=%d", failed, len(seen))
	}
}

func TestCampaignBoundedConcurrency(t *testing.T) {
	s := &fakeSender{send: func(ctx context.Context, req traffic.Request) (*dispatch.Result, error) {
		time.Sleep(5 * time.Millisecond)
		return &dispatch.Result{Response: traffic.Response{StatusCode: 200}}, nil
	}}
	c, err := NewCampaign(ramRequest(numbered(20)...), s, Options{MaxInFlight: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Run(context.Background())
	if s.calls.Load() != 20 {
		t.Fatalf("expected 20 sends, got %d", s.calls.Load())
	}
	if peak := s.peak.Load(); peak > 3 {
		t.Fatalf("in-flight peak %d exceeds limit", peak)
	}
}

func TestCampaignCancelStopsNewDispatch(t *testing.T) {
	started := make(chan struct{}, 20)
	release := make(chan struct{})
	s := &fakeSender{send: func(ctx context.Context, req traffic.Request) (*dispatch.Result, error) {
		started <- struct{}{}
		<-release
		return &dispatch.Result{Response: traffic.Response{StatusCode: 200}}, nil
	}}
	c, err := NewCampaign(ramRequest(numbered(20)...), s, Options{MaxInFlight: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		_ = c.Run(context.Background())
		close(done)
	}()
	<-started
	<-started
	c.Cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("campaign did not finish after cancel")
	}
	<-c.Finished()

	p := c.Progress()
	if p.Status != model.CampaignCancelled {
		t.Fatalf("status = %s", p.Status)
	}
	if p.Dispatched != 2 || p.Completed != 2 || s.calls.Load() != 2 {
		t.Fatalf("in-flight requests should complete and nothing new start: %+v calls=%d", p, s.calls.Load())
	}
}

func TestCampaignPerRequestTimeout(t *testing.T) {
	s := &fakeSender{send: func(ctx context.Context, req traffic.Request) (*dispatch.Result, error) {
		<-ctx.Done()
		return nil, &dispatch.Error{Kind: dispatch.KindTimeout, Err: ctx.Err()}
	}}
	c, err := NewCampaign(ramRequest("a", "b"), s, Options{MaxInFlight: 2, Timeout: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Run(context.Background())
	for _, r := range c.Results() {
		if r.Status != model.FailedStatus || !strings.Contains(r.Error, "timeout") {
			t.Fatalf("expected timeout failure, got %+v", r)
		}
	}
	if c.Progress().Status != model.CampaignCompleted {
		t.Fatal("timeouts must not stop the campaign")
	}
}

func TestNewCampaignRejectsInvalidConfig(t *testing.T) {
	s := &fakeSender{}
	req := ramRequest("a")
	req.Config.AttackType = model.Pitchfork
	req.Config.Payloads = model.PayloadLists{{"a"}, {"b"}}
	if _, err := NewCampaign(req, s, Options{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	req = ramRequest("a")
	req.Target = "not a url"
	if _, err := NewCampaign(req, s, Options{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for target, got %v", err)
	}
	if s.calls.Load() != 0 {
		t.Fatal("sender must not be called for invalid configs")
	}
}

func TestCampaignUnparsableTemplateFailsPerRequest(t *testing.T) {
	s := &fakeSender{}
	req := model.CampaignRequest{
		Template: "XX",
		Config: model.IntruderConfig{
			Positions:  []model.Position{{Start: 0, End: 2}},
			Payloads:   model.PayloadLists{{"GET /ok HTTP/1.1\nHost: h\n\n", "garbage"}},
			AttackType: model.Sniper,
		},
	}
	c, err := NewCampaign(req, s, Options{MaxInFlight: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Run(context.Background())
	res := c.Results()
	if len(res) != 2 || res[0].Failed() || !res[1].Failed() {
		t.Fatalf("unexpected results %+v", res)
	}
	if s.calls.Load() != 1 {
		t.Fatalf("expected one send, got %d", s.calls.Load())
	}
}

func TestRunStateCancelIdempotent(t *testing.T) {
	s := NewRunState()
	if s.Cancelled() {
		t.Fatal("new state must not be cancelled")
	}
	s.Cancel()
	s.Cancel()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done must be closed after Cancel")
	}
	if !s.Cancelled() {
		t.Fatal("expected cancelled")
	}
}

func TestNewCampaignRejectsOversizedOverrides(t *testing.T) {
	s := &fakeSender{}
	lim := Limits{MaxInFlight: 8, MaxResultCapacity: 100}
	for name, opts := range map[string]Options{
		"in flight over limit":      {MaxInFlight: 9, Limits: lim},
		"capacity over limit":       {ResultCapacity: 101, Limits: lim},
		"capacity over hard limit":  {ResultCapacity: math.MaxInt},
		"capacity over loose limit": {ResultCapacity: maxResultCapacity + 1, Limits: Limits{MaxResultCapacity: math.MaxInt}},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewCampaign(ramRequest("a"), s, opts, nil); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
	c, err := NewCampaign(ramRequest("a"), s, Options{MaxInFlight: 8, ResultCapacity: 100, Limits: lim}, nil)
	if err != nil {
		t.Fatalf("values at the limit must be accepted: %v", err)
	}
	if c.results.Cap() != 100 {
		t.Fatalf("result capacity = %d", c.results.Cap())
	}
}
