package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"

	"netforge/pkg/model"
	"netforge/pkg/rulespec"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "test.sqlite3"), "nf_", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func sampleSet() rulespec.RuleSet {
	return rulespec.RuleSet{Rules: []rulespec.Rule{
		{ID: "a", Active: true, Type: rulespec.StageRequest, Condition: rulespec.URLContains{Substr: "/"}, Action: rulespec.SetHeader{Name: "X-A", Value: "1"}},
		{ID: "b", Active: true, Type: rulespec.StageResponse, Condition: rulespec.BodyRegex{Pattern: "x+"}, Action: rulespec.RemoveHeader{Name: "Server"}},
	}}
}

func TestOpenUsesTablePrefix(t *testing.T) {
	db := openTestDB(t)
	for _, table := range []string{"nf_rule_set_records", "nf_campaign_records", "nf_settings"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}

func TestRuleSetRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleSetRepo(openTestDB(t))

	if err := repo.Save(ctx, "default", sampleSet()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.Get(ctx, "default")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := sampleSet()
	want.Name = "default"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rule set mismatch (-want +got):\n%s", diff)
	}

	// 覆盖保存
	updated := sampleSet()
	updated.Rules = updated.Rules[:1]
	if err := repo.Save(ctx, "default", updated); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	if got, _ := repo.Get(ctx, "default"); len(got.Rules) != 1 {
		t.Fatalf("overwrite failed: %+v", got)
	}
	if recs, _ := repo.List(ctx); len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRuleSetActivation(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleSetRepo(openTestDB(t))
	_ = repo.Save(ctx, "one", sampleSet())
	_ = repo.Save(ctx, "two", sampleSet())

	if _, ok, err := repo.Active(ctx); ok || err != nil {
		t.Fatalf("no set should be active yet: %v %v", ok, err)
	}
	if _, err := repo.Activate(ctx, "one"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := repo.Activate(ctx, "two"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	active, ok, err := repo.Active(ctx)
	if err != nil || !ok || active.Name != "two" {
		t.Fatalf("expected two active, got %q %v %v", active.Name, ok, err)
	}
	recs, _ := repo.List(ctx)
	n := 0
	for _, r := range recs {
		if r.Active {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected exactly one active set, got %d", n)
	}
	if _, err := repo.Activate(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetRuleActivePatchesJSON(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleSetRepo(openTestDB(t))
	_ = repo.Save(ctx, "default", sampleSet())

	if err := repo.SetRuleActive(ctx, "default", "b", false); err != nil {
		t.Fatalf("SetRuleActive: %v", err)
	}
	got, _ := repo.Get(ctx, "default")
	if !got.Rules[0].Active || got.Rules[1].Active {
		t.Fatalf("unexpected active flags %+v", got.Rules)
	}
	if err := repo.SetRuleActive(ctx, "default", "zzz", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCampaignAndSettingRepos(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	campaigns := NewCampaignRepo(db)

	p := model.CampaignProgress{ID: "c1", AttackType: model.Sniper, Status: model.CampaignRunning, Total: 4, StartedAt: 100}
	cfg := model.IntruderConfig{Positions: []model.Position{{Start: 0, End: 1}}, Payloads: model.PayloadLists{{"a"}}, AttackType: model.Sniper}
	if err := campaigns.SaveSummary(ctx, p, "http://t", cfg); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	p.Status, p.Completed, p.FinishedAt = model.CampaignCompleted, 4, 200
	if err := campaigns.SaveSummary(ctx, p, "http://t", cfg); err != nil {
		t.Fatalf("SaveSummary update: %v", err)
	}
	recs, err := campaigns.Recent(ctx, 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("Recent: %v %d", err, len(recs))
	}
	if recs[0].Status != "completed" || recs[0].Completed != 4 || recs[0].FinishedAt != 200 {
		t.Fatalf("unexpected record %+v", recs[0])
	}

	settings := NewSettingRepo(db)
	if _, ok, _ := settings.Get(ctx, "active_rules"); ok {
		t.Fatal("setting should not exist")
	}
	_ = settings.Set(ctx, "active_rules", "one")
	_ = settings.Set(ctx, "active_rules", "two")
	v, ok, err := settings.Get(ctx, "active_rules")
	if err != nil || !ok || v != "two" {
		t.Fatalf("Get = %q %v %v", v, ok, err)
	}
}
