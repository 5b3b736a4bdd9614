//go:build !integration && !e2e

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/model-router-go/internal/models"
	"github.com/user/model-router-go/internal/testutil"
	"go.uber.org/zap"
)

func newTestRanker() *Ranker {
	return NewRanker(128, zap.NewNop())
}

func TestRankKeywordRuleSelectsPreferredModel(t *testing.T) {
	// Regression case: one anyKeyword rule plus default, both preferring
	// p1:m1; routing "this is a test" must name m1.
	profile := testutil.NewTestProfile(models.RoutingRule{
		ID: "keyword-test",
		If: models.RuleCondition{
			AnyKeyword: []string{"test"},
		},
		Then: models.RuleAction{Prefer: []string{"p1:m1"}, Target: "chat", Priority: 1},
	})

	got := newTestRanker().Rank(profile, &models.RoutingRequest{Prompt: "this is a test"})

	require.NotEmpty(t, got)
	assert.Equal(t, "m1", got[0].Model)
	assert.Equal(t, "p1", got[0].ProviderID)
	assert.Equal(t, "keyword-test", got[0].RuleID)
}

func TestRankIsDeterministic(t *testing.T) {
	profile := testutil.NewTestProfile(
		models.RoutingRule{
			ID:   "r1",
			If:   models.RuleCondition{AnyKeyword: []string{"code"}},
			Then: models.RuleAction{Prefer: []string{"p1:m1", "p1:m2"}, Priority: 2},
		},
		models.RoutingRule{
			ID:   "r2",
			If:   models.RuleCondition{AnyKeyword: []string{"code"}},
			Then: models.RuleAction{Prefer: []string{"p2:local-m"}, Priority: 1},
		},
	)
	req := &models.RoutingRequest{Prompt: "write some code"}

	first := newTestRanker().Rank(profile, req)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, newTestRanker().Rank(profile, req))
	}

	// Cached path returns the same result too.
	r := newTestRanker()
	assert.Equal(t, r.Rank(profile, req), r.Rank(profile, req))
}

func TestRankMatchingSemantics(t *testing.T) {
	minKB, maxKB := 10, 100
	strict := true

	tests := []struct {
		name    string
		cond    models.RuleCondition
		req     models.RoutingRequest
		matched bool
	}{
		{
			name:    "absent fields are wildcards",
			cond:    models.RuleCondition{},
			req:     models.RoutingRequest{Prompt: "anything"},
			matched: true,
		},
		{
			name:    "anyKeyword is case-insensitive substring",
			cond:    models.RuleCondition{AnyKeyword: []string{"REFACTOR", "rewrite"}},
			req:     models.RoutingRequest{Prompt: "please refactor this"},
			matched: true,
		},
		{
			name:    "anyKeyword misses",
			cond:    models.RuleCondition{AnyKeyword: []string{"refactor"}},
			req:     models.RoutingRequest{Prompt: "translate this"},
			matched: false,
		},
		{
			name:    "allKeywords requires every keyword",
			cond:    models.RuleCondition{AllKeywords: []string{"fix", "bug"}},
			req:     models.RoutingRequest{Prompt: "fix this bug"},
			matched: true,
		},
		{
			name:    "allKeywords fails on one missing",
			cond:    models.RuleCondition{AllKeywords: []string{"fix", "bug"}},
			req:     models.RoutingRequest{Prompt: "fix this"},
			matched: false,
		},
		{
			name:    "fileLangIn matches case-insensitively",
			cond:    models.RuleCondition{FileLangIn: []string{"Go", "rust"}},
			req:     models.RoutingRequest{Prompt: "x", FileLang: "go"},
			matched: true,
		},
		{
			name:    "glob path match",
			cond:    models.RuleCondition{FilePathMatches: []string{"**/*_test.go"}},
			req:     models.RoutingRequest{Prompt: "x", FilePath: "internal/service/ranker_test.go"},
			matched: true,
		},
		{
			name:    "glob path miss",
			cond:    models.RuleCondition{FilePathMatches: []string{"**/*.py"}},
			req:     models.RoutingRequest{Prompt: "x", FilePath: "main.go"},
			matched: false,
		},
		{
			name:    "context bounds are inclusive",
			cond:    models.RuleCondition{MinContextKB: &minKB, MaxContextKB: &maxKB},
			req:     models.RoutingRequest{Prompt: "x", ContextKB: 10},
			matched: true,
		},
		{
			name:    "context below min",
			cond:    models.RuleCondition{MinContextKB: &minKB},
			req:     models.RoutingRequest{Prompt: "x", ContextKB: 9},
			matched: false,
		},
		{
			name:    "context above max",
			cond:    models.RuleCondition{MaxContextKB: &maxKB},
			req:     models.RoutingRequest{Prompt: "x", ContextKB: 101},
			matched: false,
		},
		{
			name:    "privacyStrict must equal declared value",
			cond:    models.RuleCondition{PrivacyStrict: &strict},
			req:     models.RoutingRequest{Prompt: "x", PrivacyStrict: false},
			matched: false,
		},
		{
			name:    "mode restricts to the declared set",
			cond:    models.RuleCondition{Mode: []models.Mode{models.ModeSpeed}},
			req:     models.RoutingRequest{Prompt: "x", Mode: models.ModeSpeed},
			matched: true,
		},
		{
			name:    "mode outside the set",
			cond:    models.RuleCondition{Mode: []models.Mode{models.ModeSpeed}},
			req:     models.RoutingRequest{Prompt: "x", Mode: models.ModeQuality},
			matched: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := testutil.NewTestProfile(models.RoutingRule{
				ID:   "probe",
				If:   tt.cond,
				Then: models.RuleAction{Prefer: []string{"p2:local-m"}, Priority: 5},
			})

			got := newTestRanker().Rank(profile, &tt.req)

			require.NotEmpty(t, got) // default rule backstop
			if tt.matched {
				assert.Equal(t, "probe", got[0].RuleID)
			} else {
				assert.Equal(t, "default", got[0].RuleID)
			}
		})
	}
}

func TestRankAllMatchingRulesContribute(t *testing.T) {
	profile := testutil.NewTestProfile(
		models.RoutingRule{
			ID:   "high",
			If:   models.RuleCondition{AnyKeyword: []string{"deploy"}},
			Then: models.RuleAction{Prefer: []string{"p1:m1"}, Priority: 10},
		},
		models.RoutingRule{
			ID:   "low",
			If:   models.RuleCondition{AnyKeyword: []string{"deploy"}},
			Then: models.RuleAction{Prefer: []string{"p1:m2"}, Priority: 1},
		},
	)

	got := newTestRanker().Rank(profile, &models.RoutingRequest{Prompt: "deploy it"})

	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].RuleID)
	assert.Equal(t, "low", got[1].RuleID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestRankTieBreaks(t *testing.T) {
	// Identical priorities: declaration order wins, then prefer position.
	profile := testutil.NewTestProfile(
		models.RoutingRule{
			ID:   "first",
			If:   models.RuleCondition{AnyKeyword: []string{"go"}},
			Then: models.RuleAction{Prefer: []string{"p1:m1"}, Priority: 3},
		},
		models.RoutingRule{
			ID:   "second",
			If:   models.RuleCondition{AnyKeyword: []string{"go"}},
			Then: models.RuleAction{Prefer: []string{"p1:m2", "p2:local-m"}, Priority: 3},
		},
	)

	got := newTestRanker().Rank(profile, &models.RoutingRequest{Prompt: "go"})

	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].RuleID)
	assert.Equal(t, "m2", got[1].Model)
	assert.Equal(t, "local-m", got[2].Model)
}

func TestRankDropsUnknownReferences(t *testing.T) {
	profile := testutil.NewTestProfile(models.RoutingRule{
		ID: "ghosts",
		If: models.RuleCondition{AnyKeyword: []string{"hello"}},
		Then: models.RuleAction{
			Prefer:   []string{"missing:m1", "p1:missing-model", "not-a-token", "p1:m1"},
			Priority: 1,
		},
	})

	got := newTestRanker().Rank(profile, &models.RoutingRequest{Prompt: "hello"})

	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ProviderID)
	assert.Equal(t, "m1", got[0].Model)
}

func TestRankDefaultWhenNoRuleMatches(t *testing.T) {
	profile := testutil.NewTestProfile(models.RoutingRule{
		ID:   "never",
		If:   models.RuleCondition{AnyKeyword: []string{"zzz-no-match"}},
		Then: models.RuleAction{Prefer: []string{"p2:local-m"}, Priority: 100},
	})

	got := newTestRanker().Rank(profile, &models.RoutingRequest{Prompt: "plain prompt"})

	require.Len(t, got, 1)
	assert.Equal(t, "default", got[0].RuleID)
	assert.Equal(t, "p1:m1", got[0].Key())
}

func TestRankModeBias(t *testing.T) {
	rule := models.RoutingRule{
		ID:   "both",
		If:   models.RuleCondition{AnyKeyword: []string{"task"}},
		Then: models.RuleAction{Prefer: []string{"p1:m1", "p1:m2"}, Priority: 1},
	}

	tests := []struct {
		name      string
		mode      models.Mode
		wantFirst string
	}{
		{"speed favors the fast model", models.ModeSpeed, "m2"},
		{"quality favors the capable model", models.ModeQuality, "m1"},
		{"cheap favors the lower price", models.ModeCheap, "m2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestRanker().Rank(testutil.NewTestProfile(rule), &models.RoutingRequest{
				Prompt: "task",
				Mode:   tt.mode,
			})
			require.NotEmpty(t, got)
			assert.Equal(t, tt.wantFirst, got[0].Model)
		})
	}
}

func TestRankCapabilityFit(t *testing.T) {
	rule := models.RoutingRule{
		ID:   "both",
		If:   models.RuleCondition{AnyKeyword: []string{"task"}},
		Then: models.RuleAction{Prefer: []string{"p1:m2", "p1:m1"}, Priority: 1},
	}

	// Large context pushes m1 (large-context capable) ahead of the
	// otherwise earlier m2.
	got := newTestRanker().Rank(testutil.NewTestProfile(rule), &models.RoutingRequest{
		Prompt:    "task",
		ContextKB: 512,
	})

	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].Model)
}
