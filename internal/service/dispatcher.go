package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/user/model-router-go/internal/models"
	"github.com/user/model-router-go/internal/pricing"
	"github.com/user/model-router-go/internal/provider"
	"go.uber.org/zap"
)

// DispatcherConfig tunes the fallback dispatcher.
type DispatcherConfig struct {
	// MaxOutputTokens is both the per-call output cap and the assumed
	// output size for pre-call budget estimates.
	MaxOutputTokens int
	// Temperature passed to providers.
	Temperature float64
}

// DefaultDispatcherConfig returns the default dispatcher tuning.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{MaxOutputTokens: 2048, Temperature: 0.7}
}

// Dispatcher orchestrates one routing request: rank, then for each candidate
// run the privacy, availability and budget gates, attempt the call, and fall
// back to the next candidate on recoverable failure. Attempts are strictly
// sequential; a successful call has a real-money side effect that must not
// be duplicated.
type Dispatcher struct {
	ranker   *Ranker
	registry *provider.Registry
	ledger   *BudgetLedger
	cfg      DispatcherConfig
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(ranker *Ranker, registry *provider.Registry, ledger *BudgetLedger, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultDispatcherConfig().MaxOutputTokens
	}
	return &Dispatcher{
		ranker:   ranker,
		registry: registry,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger,
	}
}

// Dispatch routes one request against an immutable profile snapshot. Content
// deltas stream to onDelta (may be nil) as they arrive. Exactly one
// transaction is recorded per completed call; cost already incurred before a
// cancellation or mid-stream failure is recorded as well, never dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, profile *models.RoutingProfile, req *models.RoutingRequest, onDelta func(string)) (*models.RoutingResult, error) {
	requestID := uuid.NewString()
	log := d.logger.With(zap.String("request_id", requestID))

	candidates := d.ranker.Rank(profile, req)
	if len(candidates) == 0 {
		return nil, &models.NoMatchingCandidateError{Mode: effectiveMode(profile, req)}
	}

	strict := privacyStrict(profile, req)
	if strict && !hasLocalCandidate(profile, candidates) {
		return nil, &models.PrivacyViolationError{Candidates: len(candidates)}
	}

	budget := req.Budget
	if budget == nil {
		budget = profile.Budget
	}

	messages := []provider.Message{{Role: "user", Content: req.Prompt}}
	opts := provider.ChatOptions{MaxTokens: d.cfg.MaxOutputTokens, Temperature: d.cfg.Temperature}

	rejections := make([]models.CandidateRejection, 0, len(candidates))
	reject := func(c models.Candidate, reason string) {
		log.Info("candidate rejected",
			zap.String("candidate", c.Key()),
			zap.String("rule", c.RuleID),
			zap.String("reason", reason))
		rejections = append(rejections, models.CandidateRejection{Candidate: c, Reason: reason})
	}

	attempts := 0
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("request cancelled: %w", err)
		}

		providerCfg := profile.Provider(cand.ProviderID)
		spec := providerCfg.Model(cand.Model)

		// Privacy gate: rejected without cost.
		if strict && !providerCfg.LocalOnly {
			reject(cand, "provider is not local-only")
			continue
		}

		// Availability gate.
		prov := d.registry.Get(cand.ProviderID)
		if prov == nil {
			reject(cand, "provider not registered")
			continue
		}
		if !prov.Supports(cand.Model) {
			reject(cand, "model not supported by provider")
			continue
		}
		if !prov.IsAvailable(ctx) {
			reject(cand, "provider unavailable")
			continue
		}

		// Budget gate: estimate from the prompt and the configured
		// max-output assumption, then reserve atomically.
		var reservationID string
		if budget != nil {
			estimate := pricing.Cost(spec.Price, prov.EstimateTokens(req.Prompt), d.cfg.MaxOutputTokens)
			id, check, err := d.ledger.Reserve(ctx, estimate, budget)
			if err != nil {
				reject(cand, "budget check failed: "+err.Error())
				continue
			}
			if !check.Allowed {
				if budget.EffectiveScope() == models.BudgetScopeRequest {
					// A global hard stop means no remaining candidate can
					// help; fail the whole request before any network call.
					return nil, &models.BudgetExceededError{
						Window:        check.Window,
						EstimatedCost: estimate,
						Spent:         check.Spent,
						Limit:         check.Limit,
					}
				}
				reject(cand, "budget: "+check.Reason)
				continue
			}
			reservationID = id
		}

		attempts++
		result, err := d.attempt(ctx, log, cand, spec, prov, messages, opts, reservationID, onDelta)
		if err == nil {
			result.RequestID = requestID
			result.Attempts = attempts
			log.Info("dispatch succeeded",
				zap.String("candidate", cand.Key()),
				zap.String("rule", cand.RuleID),
				zap.Int("attempts", attempts),
				zap.Float64("cost", result.Cost))
			return result, nil
		}

		// Retryable only when nothing was committed: no partial content,
		// no cancellation.
		var provErr *models.ProviderError
		if errors.As(err, &provErr) {
			log.Warn("candidate failed, falling back",
				zap.String("candidate", cand.Key()),
				zap.String("rule", cand.RuleID),
				zap.Error(err))
			reject(cand, provErr.Error())
			continue
		}
		return nil, err
	}

	return nil, &models.AllCandidatesExhaustedError{Rejections: rejections}
}

// attempt runs one provider call, streaming deltas and settling the budget
// reservation. It returns a *models.ProviderError for retryable failures;
// any other error terminates the request.
func (d *Dispatcher) attempt(
	ctx context.Context,
	log *zap.Logger,
	cand models.Candidate,
	spec *models.ModelSpec,
	prov provider.Provider,
	messages []provider.Message,
	opts provider.ChatOptions,
	reservationID string,
	onDelta func(string),
) (*models.RoutingResult, error) {
	resp, chatErr := provider.Collect(ctx, prov, cand.Model, messages, opts, onDelta)

	if chatErr != nil && (resp == nil || resp.Content == "") {
		// Failed before producing user-visible output: nothing committed,
		// safe to retry with the next candidate.
		d.ledger.Release(reservationID)
		if cancelErr := ctx.Err(); cancelErr != nil {
			return nil, fmt.Errorf("request cancelled: %w", cancelErr)
		}
		return nil, &models.ProviderError{
			Provider: cand.ProviderID,
			Model:    cand.Model,
			Stage:    "chat",
			Err:      chatErr,
		}
	}

	// From here on output exists, so cost was incurred and must be recorded
	// whether the stream completed, failed mid-way or was cancelled.
	inputTokens, outputTokens := settleUsage(resp, prov, messages, spec)
	cost := pricing.Cost(spec.Price, inputTokens, outputTokens)

	tx := &models.Transaction{
		Provider:     cand.ProviderID,
		Model:        cand.Model,
		Cost:         cost,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Target:       targetOf(cand),
	}
	// Settle on a detached context: when the caller cancelled mid-stream the
	// request context is already done, and the spend must still be recorded.
	if err := d.ledger.Commit(context.WithoutCancel(ctx), reservationID, tx); err != nil {
		// The call itself happened; losing the ledger write is an
		// operational fault, not a reason to fail the user's request.
		log.Error("failed to record transaction",
			zap.String("candidate", cand.Key()), zap.Error(err))
	}

	if cancelErr := ctx.Err(); cancelErr != nil {
		// Cancelled after tokens were generated: spend is recorded above,
		// further candidates are suppressed.
		return nil, fmt.Errorf("request cancelled: %w", cancelErr)
	}

	if chatErr != nil {
		// Mid-stream failure after partial content is never retried
		// against another candidate to avoid duplicate visible output.
		return nil, &models.PartialStreamError{
			Provider: cand.ProviderID,
			Model:    cand.Model,
			Content:  resp.Content,
			Err:      chatErr,
		}
	}

	return &models.RoutingResult{
		Provider:     cand.ProviderID,
		Model:        cand.Model,
		RuleID:       cand.RuleID,
		Target:       targetOf(cand),
		Content:      resp.Content,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
	}, nil
}

// settleUsage prefers provider-reported usage and falls back to length
// estimates only when the stream carried no usage event.
func settleUsage(resp *provider.Response, prov provider.Provider, messages []provider.Message, _ *models.ModelSpec) (int, int) {
	if resp.Usage != nil {
		return resp.Usage.InputTokens, resp.Usage.OutputTokens
	}
	var promptLen int
	for _, m := range messages {
		promptLen += prov.EstimateTokens(m.Content)
	}
	return promptLen, prov.EstimateTokens(resp.Content)
}

func targetOf(cand models.Candidate) string {
	if cand.Target != "" {
		return cand.Target
	}
	return "chat"
}

// privacyStrict reports whether the request must be restricted to local-only
// providers, either via the explicit flag or a privacy routing mode.
func privacyStrict(profile *models.RoutingProfile, req *models.RoutingRequest) bool {
	if req.PrivacyStrict {
		return true
	}
	switch effectiveMode(profile, req) {
	case models.ModeLocalOnly, models.ModePrivacyStrict:
		return true
	}
	return false
}

func hasLocalCandidate(profile *models.RoutingProfile, candidates []models.Candidate) bool {
	for _, c := range candidates {
		if p := profile.Provider(c.ProviderID); p != nil && p.LocalOnly {
			return true
		}
	}
	return false
}
