package models

import (
	"fmt"
	"strings"
)

// NoMatchingCandidateError means ranking produced nothing dispatchable, e.g.
// every prefer token referenced a provider or model absent from the profile.
type NoMatchingCandidateError struct {
	Mode Mode
}

func (e *NoMatchingCandidateError) Error() string {
	return fmt.Sprintf("no dispatchable candidate for mode %q", e.Mode)
}

// PrivacyViolationError means a privacy-strict request had no eligible
// local-only candidate.
type PrivacyViolationError struct {
	Candidates int
}

func (e *PrivacyViolationError) Error() string {
	return fmt.Sprintf("privacy-strict request has no local-only candidate (%d ranked)", e.Candidates)
}

// BudgetExceededError means the budget hard stop was reached before any
// network call was made.
type BudgetExceededError struct {
	Window        string // "daily" or "monthly"
	EstimatedCost float64
	Spent         float64
	Limit         float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget hard stop: spent %.6f + estimated %.6f exceeds limit %.6f",
		e.Window, e.Spent, e.EstimatedCost, e.Limit)
}

// ProviderError is a per-candidate transport, auth or rate-limit failure.
// It is recovered locally by moving to the next candidate and only surfaces
// as the terminal failure of the last one.
type ProviderError struct {
	Provider string
	Model    string
	Stage    string // "availability", "chat", "stream"
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s model %s failed during %s: %v", e.Provider, e.Model, e.Stage, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CandidateRejection records why one candidate was not dispatched.
type CandidateRejection struct {
	Candidate Candidate `json:"candidate"`
	Reason    string    `json:"reason"`
}

// AllCandidatesExhaustedError means no candidate succeeded. It carries the
// ordered per-candidate rejection reasons for diagnostics.
type AllCandidatesExhaustedError struct {
	Rejections []CandidateRejection
}

func (e *AllCandidatesExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		parts = append(parts, r.Candidate.Key()+": "+r.Reason)
	}
	return "all candidates exhausted: [" + strings.Join(parts, "; ") + "]"
}

// PartialStreamError means a provider stream failed after user-visible
// content was already delivered. The request is not retried against further
// candidates to avoid duplicate output; any partial usage is still recorded.
type PartialStreamError struct {
	Provider string
	Model    string
	Content  string // partial content delivered before the failure
	Err      error
}

func (e *PartialStreamError) Error() string {
	return fmt.Sprintf("provider %s model %s stream failed after partial output: %v", e.Provider, e.Model, e.Err)
}

func (e *PartialStreamError) Unwrap() error { return e.Err }
