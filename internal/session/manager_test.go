package session

import (
	"context"
	"testing"

	"netforge/internal/dispatch"
	"netforge/internal/intruder"
	"netforge/pkg/model"
	"netforge/pkg/traffic"
)

type okSender struct{}

func (okSender) Send(context.Context, traffic.Request) (*dispatch.Result, error) {
	return &dispatch.Result{Response: traffic.Response{StatusCode: 200}}, nil
}

func newCampaign(t *testing.T) *intruder.Campaign {
	t.Helper()
	c, err := intruder.NewCampaign(model.CampaignRequest{
		Template: "GET /XX HTTP/1.1\r\nHost: h\r\n\r\n",
		Config: model.IntruderConfig{
			Positions:  []model.Position{{Start: 5, End: 7}},
			Payloads:   model.PayloadLists{{"a"}},
			AttackType: model.Sniper,
		},
	}, okSender{}, intruder.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRegisterGetDelete(t *testing.T) {
	m := NewManager(0, nil)
	c := newCampaign(t)
	m.Register(c)

	got, ok := m.Get(c.ID())
	if !ok || got != c {
		t.Fatal("registered campaign not found")
	}
	if len(m.List()) != 1 {
		t.Fatal("expected one campaign")
	}
	if !m.Delete(c.ID()) || m.Delete(c.ID()) {
		t.Fatal("Delete should succeed exactly once")
	}
	if _, ok := m.Get(c.ID()); ok {
		t.Fatal("deleted campaign still present")
	}
}

func TestPruneKeepsRunningCampaigns(t *testing.T) {
	m := NewManager(2, nil)

	done := newCampaign(t)
	_ = done.Run(context.Background())
	pending := newCampaign(t)
	m.Register(done)
	m.Register(pending)

	latest := newCampaign(t)
	m.Register(latest)

	if _, ok := m.Get(done.ID()); ok {
		t.Fatal("oldest finished campaign should be pruned")
	}
	if _, ok := m.Get(pending.ID()); !ok {
		t.Fatal("unfinished campaign must be kept")
	}
	list := m.List()
	if len(list) != 2 || list[0].ID != pending.ID() || list[1].ID != latest.ID() {
		t.Fatalf("unexpected list %+v", list)
	}
}
