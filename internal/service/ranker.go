package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/user/model-router-go/internal/models"
	"go.uber.org/zap"
)

// Scoring weights. Priority dominates capability fit, which dominates the
// mode bias, so rule authors stay in control of the ordering.
const (
	scoreBase      = 1.0
	priorityWeight = 10.0
	capabilityFit  = 5.0
	modeBias       = 3.0

	// Requests at or above this estimated context size prefer models
	// advertising the large-context capability.
	largeContextKB = 128
)

// Ranker evaluates the declarative rules of a profile against a request and
// produces the ordered candidate list. Ranking is pure and deterministic, so
// results are memoized in a bounded LRU keyed by profile snapshot and request
// signature.
type Ranker struct {
	logger *zap.Logger
	cache  *lru.Cache[string, []models.Candidate]
}

// NewRanker creates a Ranker with a decision cache of the given size.
func NewRanker(cacheSize int, logger *zap.Logger) *Ranker {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, _ := lru.New[string, []models.Candidate](cacheSize)
	return &Ranker{logger: logger, cache: cache}
}

// rankedCandidate carries the tie-break keys alongside the candidate.
type rankedCandidate struct {
	models.Candidate
	priority  int
	ruleIdx   int // declaration order; the default rule sorts last
	preferIdx int // position within the rule's prefer list
}

// Rank evaluates profile rules in declaration order against the request and
// returns candidates ordered by score with stable, reproducible tie-breaks:
// higher rule priority, earlier declaration, earlier prefer position.
// Prefer tokens referencing unknown providers or models are dropped.
// All matching rules contribute; when none match, the default rule supplies
// the candidate list.
func (r *Ranker) Rank(profile *models.RoutingProfile, req *models.RoutingRequest) []models.Candidate {
	key := rankCacheKey(profile, req)
	if cached, ok := r.cache.Get(key); ok {
		out := make([]models.Candidate, len(cached))
		copy(out, cached)
		return out
	}

	mode := effectiveMode(profile, req)

	var ranked []rankedCandidate
	for i := range profile.Rules {
		rule := &profile.Rules[i]
		if !matchRule(&rule.If, req, mode) {
			continue
		}
		ranked = append(ranked, r.expandAction(profile, req, mode, &rule.Then, rule.ID, i)...)
	}

	// The default rule guarantees a non-empty list whenever its prefer
	// tokens are resolvable; it also backstops the case where every
	// matching rule's tokens were dropped.
	if len(ranked) == 0 {
		ranked = r.expandAction(profile, req, mode, &profile.Default, "default", len(profile.Rules))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if a.ruleIdx != b.ruleIdx {
			return a.ruleIdx < b.ruleIdx
		}
		return a.preferIdx < b.preferIdx
	})

	// The same provider:model pair may be preferred by several rules; only
	// its best-ranked occurrence can be dispatched.
	seen := make(map[string]bool, len(ranked))
	candidates := make([]models.Candidate, 0, len(ranked))
	for _, rc := range ranked {
		if seen[rc.Key()] {
			continue
		}
		seen[rc.Key()] = true
		candidates = append(candidates, rc.Candidate)
	}

	cached := make([]models.Candidate, len(candidates))
	copy(cached, candidates)
	r.cache.Add(key, cached)

	return candidates
}

// expandAction resolves an action's prefer list into scored candidates.
func (r *Ranker) expandAction(
	profile *models.RoutingProfile,
	req *models.RoutingRequest,
	mode models.Mode,
	action *models.RuleAction,
	ruleID string,
	ruleIdx int,
) []rankedCandidate {
	out := make([]rankedCandidate, 0, len(action.Prefer))
	for preferIdx, token := range action.Prefer {
		providerID, modelName, ok := models.SplitPreferToken(token)
		if !ok {
			r.logger.Debug("dropping malformed prefer token",
				zap.String("rule", ruleID), zap.String("token", token))
			continue
		}

		providerCfg := profile.Provider(providerID)
		if providerCfg == nil {
			r.logger.Debug("dropping candidate: provider not in profile",
				zap.String("rule", ruleID), zap.String("token", token))
			continue
		}
		spec := providerCfg.Model(modelName)
		if spec == nil {
			r.logger.Debug("dropping candidate: model not advertised",
				zap.String("rule", ruleID), zap.String("token", token))
			continue
		}

		score := scoreBase +
			float64(action.Priority)*priorityWeight +
			capabilityScore(spec, req) +
			modeScore(mode, spec)

		out = append(out, rankedCandidate{
			Candidate: models.Candidate{
				ProviderID: providerID,
				Model:      modelName,
				Score:      score,
				RuleID:     ruleID,
				Target:     action.Target,
			},
			priority:  action.Priority,
			ruleIdx:   ruleIdx,
			preferIdx: preferIdx,
		})
	}
	return out
}

// matchRule reports whether every present predicate field evaluates true.
// Absent fields are wildcards.
func matchRule(cond *models.RuleCondition, req *models.RoutingRequest, mode models.Mode) bool {
	prompt := strings.ToLower(req.Prompt)

	if len(cond.AnyKeyword) > 0 {
		any := false
		for _, kw := range cond.AnyKeyword {
			if strings.Contains(prompt, strings.ToLower(kw)) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}

	for _, kw := range cond.AllKeywords {
		if !strings.Contains(prompt, strings.ToLower(kw)) {
			return false
		}
	}

	if len(cond.FileLangIn) > 0 {
		found := false
		for _, lang := range cond.FileLangIn {
			if strings.EqualFold(lang, req.FileLang) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(cond.FilePathMatches) > 0 {
		matched := false
		for _, pattern := range cond.FilePathMatches {
			// Malformed patterns never match; profile validation rejects
			// them at load so this only guards hand-built profiles.
			if ok, err := doublestar.Match(pattern, req.FilePath); err == nil && ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if cond.MinContextKB != nil && req.ContextKB < *cond.MinContextKB {
		return false
	}
	if cond.MaxContextKB != nil && req.ContextKB > *cond.MaxContextKB {
		return false
	}

	if cond.PrivacyStrict != nil && req.PrivacyStrict != *cond.PrivacyStrict {
		return false
	}

	if len(cond.Mode) > 0 {
		found := false
		for _, m := range cond.Mode {
			if m == mode {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// capabilityScore rewards models whose capability flags satisfy the
// request's context requirements.
func capabilityScore(spec *models.ModelSpec, req *models.RoutingRequest) float64 {
	var score float64
	if req.ContextKB >= largeContextKB && spec.HasCapability(models.CapLargeContext) {
		score += capabilityFit
	}
	if (req.FileLang != "" || req.FilePath != "") && spec.HasCapability(models.CapCode) {
		score += capabilityFit
	}
	return score
}

// modeScore applies the routing mode's bias: speed favors low-latency models,
// quality favors higher-capability ones, cheap favors lower price per token.
func modeScore(mode models.Mode, spec *models.ModelSpec) float64 {
	switch mode {
	case models.ModeSpeed:
		if spec.HasCapability(models.CapFast) {
			return modeBias
		}
	case models.ModeQuality:
		if spec.HasCapability(models.CapQuality) {
			return modeBias
		}
	case models.ModeCheap:
		return modeBias / (1 + spec.Price.PerMTok())
	}
	return 0
}

// effectiveMode returns the request's desired mode, falling back to the
// profile default.
func effectiveMode(profile *models.RoutingProfile, req *models.RoutingRequest) models.Mode {
	if req.Mode != "" {
		return req.Mode
	}
	if profile.Mode != "" {
		return profile.Mode
	}
	return models.ModeAuto
}

// rankCacheKey derives a cache key from the profile snapshot identity and
// every request field that influences ranking.
func rankCacheKey(profile *models.RoutingProfile, req *models.RoutingRequest) string {
	sum := sha256.Sum256([]byte(req.Prompt))
	return fmt.Sprintf("%s|%s|%s|%s|%d|%t|%s",
		profile.SnapshotID, hex.EncodeToString(sum[:8]),
		req.FileLang, req.FilePath, req.ContextKB, req.PrivacyStrict, req.Mode)
}
