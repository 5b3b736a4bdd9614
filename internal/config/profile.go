package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	_ "embed"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/user/model-router-go/internal/models"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed profile_schema.json
var profileSchemaJSON string

// LoadProfile reads a routing profile from a YAML file, validates it against
// the embedded JSON schema plus semantic checks, and stamps a fresh snapshot
// id. Malformed profiles fail here, never during routing.
func LoadProfile(path string) (*models.RoutingProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile validates and decodes routing profile YAML.
func ParseProfile(data []byte) (*models.RoutingProfile, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var profile models.RoutingProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	if err := validateProfile(&profile); err != nil {
		return nil, err
	}

	profile.SnapshotID = uuid.NewString()
	return &profile, nil
}

// validateSchema checks the YAML document against the embedded JSON schema.
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse profile yaml: %w", err)
	}

	// yaml.v3 already decodes mappings with string keys, so the document
	// round-trips through JSON for schema validation.
	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("profile is not schema-checkable: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(profileSchemaJSON),
		gojsonschema.NewBytesLoader(jsonDoc),
	)
	if err != nil {
		return fmt.Errorf("validate profile schema: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ConfigError{Field: "profile", Message: strings.Join(msgs, "; ")}
	}
	return nil
}

// validateProfile runs the semantic checks the schema cannot express.
func validateProfile(p *models.RoutingProfile) error {
	providerIDs := make(map[string]bool, len(p.Providers))
	for _, prov := range p.Providers {
		if providerIDs[prov.ID] {
			return &ConfigError{Field: "providers", Message: "duplicate provider id " + prov.ID}
		}
		providerIDs[prov.ID] = true

		modelNames := make(map[string]bool, len(prov.Models))
		for _, m := range prov.Models {
			if modelNames[m.Name] {
				return &ConfigError{
					Field:   "providers." + prov.ID,
					Message: "duplicate model " + m.Name,
				}
			}
			modelNames[m.Name] = true
		}
	}

	ruleIDs := make(map[string]bool, len(p.Rules))
	for _, rule := range p.Rules {
		if ruleIDs[rule.ID] {
			return &ConfigError{Field: "rules", Message: "duplicate rule id " + rule.ID}
		}
		ruleIDs[rule.ID] = true

		if err := validateCondition(rule.ID, &rule.If); err != nil {
			return err
		}
		if err := validateAction("rules."+rule.ID, &rule.Then); err != nil {
			return err
		}
	}

	if len(p.Default.Prefer) == 0 {
		return &ConfigError{Field: "default", Message: "default rule with a prefer list is mandatory"}
	}
	if err := validateAction("default", &p.Default); err != nil {
		return err
	}

	if p.Budget != nil {
		if p.Budget.WarningThreshold < 0 || p.Budget.WarningThreshold > 100 {
			return &ConfigError{Field: "budget.warningThreshold", Message: "must be between 0 and 100"}
		}
		if p.Budget.Scope != "" && p.Budget.Scope != models.BudgetScopeRequest && p.Budget.Scope != models.BudgetScopeCandidate {
			return &ConfigError{Field: "budget.scope", Message: "must be \"request\" or \"candidate\""}
		}
	}

	return nil
}

func validateCondition(ruleID string, cond *models.RuleCondition) error {
	for _, pattern := range cond.FilePathMatches {
		if !doublestar.ValidatePattern(pattern) {
			return &ConfigError{
				Field:   "rules." + ruleID + ".filePathMatches",
				Message: "invalid glob pattern " + pattern,
			}
		}
	}
	if cond.MinContextKB != nil && cond.MaxContextKB != nil && *cond.MinContextKB > *cond.MaxContextKB {
		return &ConfigError{
			Field:   "rules." + ruleID,
			Message: "minContextKB exceeds maxContextKB",
		}
	}
	return nil
}

func validateAction(field string, action *models.RuleAction) error {
	for _, token := range action.Prefer {
		if _, _, ok := models.SplitPreferToken(token); !ok {
			return &ConfigError{Field: field + ".prefer", Message: "malformed token " + token}
		}
	}
	return nil
}

// ProfileStore holds the active routing profile snapshot. Reloads swap the
// snapshot reference atomically; callers of Snapshot keep a consistent view
// for the lifetime of a routing call even across hot swaps.
type ProfileStore struct {
	current atomic.Pointer[models.RoutingProfile]
}

// NewProfileStore creates a store holding the given initial profile.
func NewProfileStore(profile *models.RoutingProfile) *ProfileStore {
	s := &ProfileStore{}
	s.current.Store(profile)
	return s
}

// Snapshot returns the current immutable profile snapshot.
func (s *ProfileStore) Snapshot() *models.RoutingProfile {
	return s.current.Load()
}

// Reload loads a profile file and swaps it in. On error the previous
// snapshot stays active.
func (s *ProfileStore) Reload(path string) error {
	profile, err := LoadProfile(path)
	if err != nil {
		return err
	}
	s.current.Store(profile)
	return nil
}
