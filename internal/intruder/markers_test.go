package intruder

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"netforge/pkg/model"
)

func TestParseMarkers(t *testing.T) {
	tests := []struct {
		name      string
		marked    string
		template  string
		positions []model.Position
	}{
		{"none", "GET / HTTP/1.1", "GET / HTTP/1.1", nil},
		{"single", "id=§1§&x", "id=1&x", []model.Position{{Start: 3, End: 4}}},
		{"two", "§a§/§bb§", "a/bb", []model.Position{{Start: 0, End: 1}, {Start: 2, End: 4}}},
		{"empty slot", "q=§§", "q=", []model.Position{{Start: 2, End: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, pos, err := ParseMarkers(tt.marked)
			if err != nil {
				t.Fatalf("ParseMarkers: %v", err)
			}
			if tpl != tt.template {
				t.Fatalf("template = %q, want %q", tpl, tt.template)
			}
			if diff := cmp.Diff(tt.positions, pos); diff != "" {
				t.Fatalf("positions mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, _, err := ParseMarkers("a=§open"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("unterminated marker err = %v", err)
	}
}

func TestParseMarkersFeedsGenerate(t *testing.T) {
	tpl, pos, err := ParseMarkers("user=§u§&pass=§p§")
	if err != nil {
		t.Fatal(err)
	}
	out, err := Generate(tpl, model.IntruderConfig{
		Positions:  pos,
		Payloads:   model.PayloadLists{{"admin"}, {"1", "2"}},
		AttackType: model.ClusterBomb,
	}, Limits{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []string{"user=admin&pass=1", "user=admin&pass=2"}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("requests mismatch (-want +got):\n%s", diff)
	}
}
