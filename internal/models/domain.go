// Package models defines the domain models for the model router engine.
package models

import (
	"strings"
	"time"
)

// Mode is a routing bias applied during candidate scoring.
type Mode string

const (
	ModeAuto          Mode = "auto"
	ModeSpeed         Mode = "speed"
	ModeQuality       Mode = "quality"
	ModeCheap         Mode = "cheap"
	ModeLocalOnly     Mode = "local-only"
	ModePrivacyStrict Mode = "privacy-strict"
)

// ParseMode converts a string to a Mode with fallback to auto.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSpeed:
		return ModeSpeed
	case ModeQuality:
		return ModeQuality
	case ModeCheap:
		return ModeCheap
	case ModeLocalOnly:
		return ModeLocalOnly
	case ModePrivacyStrict:
		return ModePrivacyStrict
	default:
		return ModeAuto
	}
}

// ModelPrice holds per-million-token pricing for a model.
type ModelPrice struct {
	InputPerMTok  float64 `yaml:"inputPerMillionTokens" json:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"outputPerMillionTokens" json:"output_per_mtok"`
}

// PerMTok returns the averaged input/output price, used by the cheap-mode
// scoring bias where only relative ordering matters.
func (p ModelPrice) PerMTok() float64 {
	return (p.InputPerMTok + p.OutputPerMTok) / 2
}

// Capability flags advertised by a model.
const (
	CapLargeContext = "large-context"
	CapCode         = "code"
	CapFast         = "fast"
	CapQuality      = "quality"
)

// ModelSpec describes one model a provider advertises.
type ModelSpec struct {
	Name         string     `yaml:"name" json:"name"`
	Price        ModelPrice `yaml:"price" json:"price"`
	Capabilities []string   `yaml:"capabilities" json:"capabilities,omitempty"`
}

// HasCapability reports whether the model advertises the given flag.
func (m *ModelSpec) HasCapability(flag string) bool {
	for _, c := range m.Capabilities {
		if c == flag {
			return true
		}
	}
	return false
}

// ProviderConfig describes one configured backend. Immutable once loaded.
type ProviderConfig struct {
	ID        string      `yaml:"id" json:"id"`
	Kind      string      `yaml:"kind" json:"kind"`
	BaseURL   string      `yaml:"baseURL" json:"base_url"`
	LocalOnly bool        `yaml:"localOnly" json:"local_only"`
	Models    []ModelSpec `yaml:"models" json:"models"`
}

// Model returns the named model spec, or nil if the provider does not
// advertise it.
func (p *ProviderConfig) Model(name string) *ModelSpec {
	for i := range p.Models {
		if p.Models[i].Name == name {
			return &p.Models[i]
		}
	}
	return nil
}

// RuleCondition is the predicate bundle of a routing rule. Every field is
// optional; an absent field is a wildcard.
type RuleCondition struct {
	AnyKeyword      []string `yaml:"anyKeyword" json:"any_keyword,omitempty"`
	AllKeywords     []string `yaml:"allKeywords" json:"all_keywords,omitempty"`
	FileLangIn      []string `yaml:"fileLangIn" json:"file_lang_in,omitempty"`
	FilePathMatches []string `yaml:"filePathMatches" json:"file_path_matches,omitempty"`
	MinContextKB    *int     `yaml:"minContextKB" json:"min_context_kb,omitempty"`
	MaxContextKB    *int     `yaml:"maxContextKB" json:"max_context_kb,omitempty"`
	PrivacyStrict   *bool    `yaml:"privacyStrict" json:"privacy_strict,omitempty"`
	Mode            []Mode   `yaml:"mode" json:"mode,omitempty"`
}

// RuleAction is the `then` part of a routing rule: an ordered prefer list of
// "providerId:modelName" tokens, a target tag and an integer priority.
type RuleAction struct {
	Prefer   []string `yaml:"prefer" json:"prefer"`
	Target   string   `yaml:"target" json:"target"`
	Priority int      `yaml:"priority" json:"priority"`
}

// RoutingRule is one declarative routing rule.
type RoutingRule struct {
	ID   string        `yaml:"id" json:"id"`
	If   RuleCondition `yaml:"if" json:"if"`
	Then RuleAction    `yaml:"then" json:"then"`
}

// RoutingProfile is an immutable snapshot of the routing configuration:
// providers, declaration-ordered rules, the mandatory default action and the
// session budget. Loaded once and swapped atomically on reload.
type RoutingProfile struct {
	// SnapshotID identifies this loaded snapshot; it changes on every
	// reload and keys the ranking decision cache.
	SnapshotID string `yaml:"-" json:"snapshot_id"`

	Mode      Mode             `yaml:"mode" json:"mode"`
	Providers []ProviderConfig `yaml:"providers" json:"providers"`
	Rules     []RoutingRule    `yaml:"rules" json:"rules"`
	Default   RuleAction       `yaml:"default" json:"default"`
	Budget    *BudgetConfig    `yaml:"budget" json:"budget,omitempty"`
}

// Provider returns the provider config with the given id, or nil.
func (p *RoutingProfile) Provider(id string) *ProviderConfig {
	for i := range p.Providers {
		if p.Providers[i].ID == id {
			return &p.Providers[i]
		}
	}
	return nil
}

// RoutingRequest is one routing call entering the engine.
type RoutingRequest struct {
	Prompt        string        `json:"prompt"`
	FileLang      string        `json:"file_lang,omitempty"`
	FilePath      string        `json:"file_path,omitempty"`
	ContextKB     int           `json:"context_kb,omitempty"`
	PrivacyStrict bool          `json:"privacy_strict,omitempty"`
	Mode          Mode          `json:"mode,omitempty"`
	Budget        *BudgetConfig `json:"budget,omitempty"` // overrides the profile budget
}

// Candidate is a (provider, model) pair proposed by the rule engine for one
// request. Produced fresh per request, never persisted.
type Candidate struct {
	ProviderID string  `json:"provider_id"`
	Model      string  `json:"model"`
	Score      float64 `json:"score"`
	RuleID     string  `json:"rule_id"`
	Target     string  `json:"target"`
}

// Key returns the canonical "providerId:modelName" token.
func (c *Candidate) Key() string {
	return c.ProviderID + ":" + c.Model
}

// SplitPreferToken splits a "providerId:modelName" token on the first colon.
// Returns ok=false when either half is empty.
func SplitPreferToken(token string) (providerID, model string, ok bool) {
	providerID, model, found := strings.Cut(token, ":")
	if !found || providerID == "" || model == "" {
		return "", "", false
	}
	return providerID, model, true
}

// Transaction is one committed spend record. Immutable once appended.
type Transaction struct {
	ID           int64     `json:"id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Cost         float64   `json:"cost"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Target       string    `json:"target"`
	CreatedAt    time.Time `json:"created_at"`
}

// BudgetScope selects whether a hard-stop violation fails the whole request
// or only skips the violating candidate.
type BudgetScope string

const (
	BudgetScopeRequest   BudgetScope = "request"
	BudgetScopeCandidate BudgetScope = "candidate"
)

// BudgetConfig is the spending policy for a session.
type BudgetConfig struct {
	DailyUSD         float64     `yaml:"dailyUSD" json:"daily_usd"`
	MonthlyUSD       float64     `yaml:"monthlyUSD" json:"monthly_usd,omitempty"` // 0 = unset
	HardStop         bool        `yaml:"hardStop" json:"hard_stop"`
	WarningThreshold int         `yaml:"warningThreshold" json:"warning_threshold"` // percent, 0-100
	Scope            BudgetScope `yaml:"scope" json:"scope,omitempty"`
}

// EffectiveScope returns the configured scope, defaulting to request-wide
// hard stop.
func (b *BudgetConfig) EffectiveScope() BudgetScope {
	if b.Scope == BudgetScopeCandidate {
		return BudgetScopeCandidate
	}
	return BudgetScopeRequest
}

// BudgetUsage is derived from the transaction log, never stored directly.
// Windows are calendar windows in UTC: day, ISO week (Monday start), month.
type BudgetUsage struct {
	DailySpent   float64 `json:"daily_spent"`
	WeeklySpent  float64 `json:"weekly_spent"`
	MonthlySpent float64 `json:"monthly_spent"`
}

// RoutingResult is the outcome of a successful dispatch.
type RoutingResult struct {
	RequestID    string  `json:"request_id"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	RuleID       string  `json:"rule_id"`
	Target       string  `json:"target"`
	Content      string  `json:"content"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Attempts     int     `json:"attempts"`
}
