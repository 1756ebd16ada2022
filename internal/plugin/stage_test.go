package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/dshills/plughost/api"
)

func TestResolveStages(t *testing.T) {
	off := func(s api.LoadStage) api.StageDeclaration { return api.StageDeclaration{Stage: s} }

	tests := []struct {
		name  string
		decls []api.StageDeclaration
		want  []api.LoadStage
	}{
		{"NoDeclarations", nil, []api.LoadStage{api.NormalLoad}},
		{"SingleActive", []api.StageDeclaration{api.Declare(api.PostLoad)}, []api.LoadStage{api.PostLoad}},
		{"SingleInactiveIsTaken", []api.StageDeclaration{off(api.PreLoad)}, []api.LoadStage{api.PreLoad}},
		{
			"MultipleActiveOnly",
			[]api.StageDeclaration{api.Declare(api.PreLoad), off(api.NormalLoad), api.Declare(api.PostLoad)},
			[]api.LoadStage{api.PreLoad, api.PostLoad},
		},
		{
			"DuplicatesCollapse",
			[]api.StageDeclaration{api.Declare(api.NormalLoad), api.Declare(api.NormalLoad)},
			[]api.LoadStage{api.NormalLoad},
		},
		{"OnlyInactive", []api.StageDeclaration{off(api.PreLoad), off(api.PostLoad)}, []api.LoadStage{}},
		{"SingleInvalid", []api.StageDeclaration{api.Declare(api.LoadStage(7))}, []api.LoadStage{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveStages(tt.decls)
			assert.Equal(t, tt.want, got.Stages())
			assert.Equal(t, len(tt.want), got.Len())
		})
	}
}

func TestResolveStages_MultipleDeclarationsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		decl := rapid.Custom(func(t *rapid.T) api.StageDeclaration {
			return api.StageDeclaration{
				Stage:  rapid.SampledFrom(api.Stages).Draw(t, "stage"),
				Active: rapid.Bool().Draw(t, "active"),
			}
		})
		decls := rapid.SliceOfN(decl, 2, 12).Draw(t, "decls")

		want := map[api.LoadStage]bool{}
		for _, d := range decls {
			if d.Active {
				want[d.Stage] = true
			}
		}

		got := ResolveStages(decls)
		if got.Len() != len(want) {
			t.Fatalf("resolved %v, want %d stages", got, len(want))
		}
		for _, s := range api.Stages {
			if got.Contains(s) != want[s] {
				t.Fatalf("Contains(%v) = %v, want %v", s, got.Contains(s), want[s])
			}
		}
	})
}

func TestStagesOf(t *testing.T) {
	assert.Equal(t, NewStageSet(api.NormalLoad), StagesOf(newFake("plain")))

	p := staged("pre", api.Declare(api.PreLoad), api.Declare(api.PostLoad))
	assert.Equal(t, NewStageSet(api.PreLoad, api.PostLoad), StagesOf(p))
}

func TestStageSetString(t *testing.T) {
	assert.Equal(t, "{NORMAL_LOAD}", NewStageSet(api.NormalLoad).String())
	assert.Equal(t, "{PRE_LOAD, POST_LOAD}", NewStageSet(api.PostLoad, api.PreLoad).String())
	assert.Equal(t, "{}", StageSet(0).String())
	assert.True(t, StageSet(0).IsEmpty())
	assert.False(t, NewStageSet(api.PreLoad).Contains(api.LoadStage(-1)))
}
