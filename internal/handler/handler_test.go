package handler

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"netforge/internal/capture"
	"netforge/internal/rules"
	"netforge/pkg/model"
	"netforge/pkg/rulespec"
	"netforge/pkg/traffic"
)

func newHandler(t *testing.T, rs []rulespec.Rule, events chan model.Event) (*Handler, *capture.Store) {
	t.Helper()
	eng := rules.New(nil, rules.WithRegexCache(rules.NewRegexCache()))
	if diags := eng.Load(rs); len(diags) != 0 {
		t.Fatalf("unexpected diagnostics %+v", diags)
	}
	store := capture.New(16)
	return New(Config{Engine: eng, Store: store, Events: events}), store
}

func TestHandleRequestRecordsForwardedRequest(t *testing.T) {
	events := make(chan model.Event, 8)
	h, store := newHandler(t, []rulespec.Rule{{
		ID: "ua", Active: true, Type: rulespec.StageRequest,
		Condition: rulespec.URLContains{Substr: "/api"},
		Action:    rulespec.SetHeader{Name: "User-Agent", Value: "netforge"},
	}}, events)

	req := traffic.NewRequest("GET", "https://shop.local/api/cart")
	req.Headers.Add("User-Agent", "curl/8")
	fwd, id, outcome := h.HandleRequest(req)

	if id != 1 || fwd.ID != 1 || outcome != OutcomeModified {
		t.Fatalf("id=%d fwd.ID=%d outcome=%s", id, fwd.ID, outcome)
	}
	if fwd.Headers.Get("User-Agent") != "netforge" {
		t.Fatalf("forwarded request not rewritten: %+v", fwd.Headers)
	}
	stored, ok := store.Get(id)
	if !ok || stored.Request.Headers.Get("User-Agent") != "netforge" {
		t.Fatalf("stored request should be the forwarded one: %+v", stored)
	}

	evt := <-events
	if evt.Type != model.EventRequestCaptured || evt.RequestID != 1 || evt.Timestamp == 0 {
		t.Fatalf("unexpected event %+v", evt)
	}
	if diff := cmp.Diff([]rulespec.RuleID{"ua"}, evt.Rules); diff != "" {
		t.Fatalf("rules mismatch: %s", diff)
	}
}

func TestHandleResponseAttaches(t *testing.T) {
	events := make(chan model.Event, 8)
	h, store := newHandler(t, []rulespec.Rule{{
		ID: "redact", Active: true, Type: rulespec.StageResponse,
		Condition: rulespec.BodyRegex{Pattern: `token=\w+`},
		Action:    rulespec.RegexReplaceBody{Pattern: `token=(\w+)`, Replacement: "token=REDACTED"},
	}}, events)

	req := traffic.NewRequest("GET", "http://a/")
	fwd, id, _ := h.HandleRequest(req)

	resp := traffic.NewResponse()
	resp.Body = []byte("token=SECRET123")
	final, outcome := h.HandleResponse(id, fwd, resp)
	if outcome != OutcomeModified || string(final.Body) != "token=REDACTED" || final.RequestID != id {
		t.Fatalf("unexpected response %+v outcome=%s", final, outcome)
	}

	e, _ := store.Get(id)
	if e.Response == nil || string(e.Response.Body) != "token=REDACTED" {
		t.Fatalf("attached response mismatch: %+v", e.Response)
	}
	<-events
	if evt := <-events; evt.Type != model.EventResponseCaptured || evt.Status != 200 {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestHandlerEventsNeverBlock(t *testing.T) {
	events := make(chan model.Event)
	h, _ := newHandler(t, nil, events)
	for i := 0; i < 5; i++ {
		_, _, outcome := h.HandleRequest(traffic.NewRequest("GET", "http://a/"))
		if outcome != OutcomePassed {
			t.Fatalf("outcome = %s", outcome)
		}
	}
}

func TestHandlerWithoutEngine(t *testing.T) {
	store := capture.New(2)
	h := New(Config{Store: store})
	req := traffic.NewRequest("POST", "http://a/")
	req.Body = []byte("x")
	fwd, id, outcome := h.HandleRequest(req)
	if outcome != OutcomePassed || string(fwd.Body) != "x" || id != 1 {
		t.Fatalf("unexpected passthrough %+v %d %s", fwd, id, outcome)
	}
}
