package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/model-router-go/internal/models"
	"github.com/user/model-router-go/internal/repository"
	"go.uber.org/zap"
)

// CheckResult is the outcome of a budget check.
type CheckResult struct {
	Allowed bool    `json:"allowed"`
	Window  string  `json:"window,omitempty"` // "daily" or "monthly" when blocked
	Spent   float64 `json:"spent,omitempty"`
	Limit   float64 `json:"limit,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// BudgetLedger is the append-only spend ledger plus its aggregation and limit
// checks. Usage is always recomputed from the transaction log; no counter is
// mutated independently of it.
//
// The check-and-commit pair is serialized behind a single mutex and bridged
// by reservations: Reserve holds the estimated cost against the limit until
// Commit replaces it with the actual transaction or Release drops it. Under
// arbitrary interleavings, committed spend never exceeds a hard limit by more
// than one outstanding reservation.
//
// Budget windows are calendar windows in UTC: the current day, the ISO week
// starting Monday, and the current month.
type BudgetLedger struct {
	repo   repository.TransactionRepository
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	reservations map[string]float64
	listeners    []func(models.BudgetUsage)
}

// NewBudgetLedger creates a ledger over the given transaction repository.
func NewBudgetLedger(repo repository.TransactionRepository, logger *zap.Logger) *BudgetLedger {
	return &BudgetLedger{
		repo:         repo,
		logger:       logger,
		now:          time.Now,
		reservations: make(map[string]float64),
	}
}

// OnUsageChanged registers a listener invoked after every committed
// transaction with the fresh usage aggregate.
func (l *BudgetLedger) OnUsageChanged(fn func(models.BudgetUsage)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// GetBudgetUsage aggregates the transaction log over the current daily,
// weekly and monthly windows.
func (l *BudgetLedger) GetBudgetUsage(ctx context.Context) (models.BudgetUsage, error) {
	return l.usage(ctx)
}

func (l *BudgetLedger) usage(ctx context.Context) (models.BudgetUsage, error) {
	nowUTC := l.now().UTC()

	daily, err := l.repo.SumCostSince(ctx, startOfDay(nowUTC))
	if err != nil {
		return models.BudgetUsage{}, fmt.Errorf("aggregate daily spend: %w", err)
	}
	weekly, err := l.repo.SumCostSince(ctx, startOfISOWeek(nowUTC))
	if err != nil {
		return models.BudgetUsage{}, fmt.Errorf("aggregate weekly spend: %w", err)
	}
	monthly, err := l.repo.SumCostSince(ctx, startOfMonth(nowUTC))
	if err != nil {
		return models.BudgetUsage{}, fmt.Errorf("aggregate monthly spend: %w", err)
	}

	return models.BudgetUsage{
		DailySpent:   daily,
		WeeklySpent:  weekly,
		MonthlySpent: monthly,
	}, nil
}

// CheckBudget reports whether an estimated spend is allowed under cfg,
// counting outstanding reservations against the limits.
func (l *BudgetLedger) CheckBudget(ctx context.Context, estimatedCost float64, cfg *models.BudgetConfig) (CheckResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage, err := l.usage(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	return l.checkLocked(usage, estimatedCost, cfg), nil
}

// checkLocked evaluates the hard-stop limits. Callers hold l.mu.
func (l *BudgetLedger) checkLocked(usage models.BudgetUsage, estimatedCost float64, cfg *models.BudgetConfig) CheckResult {
	if cfg == nil || !cfg.HardStop {
		return CheckResult{Allowed: true}
	}

	var reserved float64
	for _, amount := range l.reservations {
		reserved += amount
	}

	if cfg.DailyUSD > 0 && usage.DailySpent+reserved+estimatedCost > cfg.DailyUSD {
		return CheckResult{
			Allowed: false,
			Window:  "daily",
			Spent:   usage.DailySpent,
			Limit:   cfg.DailyUSD,
			Reason: fmt.Sprintf("daily spend %.6f + reserved %.6f + estimated %.6f exceeds limit %.6f",
				usage.DailySpent, reserved, estimatedCost, cfg.DailyUSD),
		}
	}
	if cfg.MonthlyUSD > 0 && usage.MonthlySpent+reserved+estimatedCost > cfg.MonthlyUSD {
		return CheckResult{
			Allowed: false,
			Window:  "monthly",
			Spent:   usage.MonthlySpent,
			Limit:   cfg.MonthlyUSD,
			Reason: fmt.Sprintf("monthly spend %.6f + reserved %.6f + estimated %.6f exceeds limit %.6f",
				usage.MonthlySpent, reserved, estimatedCost, cfg.MonthlyUSD),
		}
	}

	return CheckResult{Allowed: true}
}

// Reserve atomically checks the budget and, when allowed, holds the estimate
// against the limits until Commit or Release. Returns the reservation id.
func (l *BudgetLedger) Reserve(ctx context.Context, estimatedCost float64, cfg *models.BudgetConfig) (string, CheckResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage, err := l.usage(ctx)
	if err != nil {
		return "", CheckResult{}, err
	}

	check := l.checkLocked(usage, estimatedCost, cfg)
	if !check.Allowed {
		return "", check, nil
	}

	id := uuid.NewString()
	l.reservations[id] = estimatedCost
	return id, check, nil
}

// Release drops a reservation without recording spend, used when a candidate
// fails before producing any output.
func (l *BudgetLedger) Release(reservationID string) {
	if reservationID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reservations, reservationID)
}

// Commit replaces a reservation with the actual transaction. An empty
// reservation id is a plain append (direct recording, no prior reserve).
func (l *BudgetLedger) Commit(ctx context.Context, reservationID string, tx *models.Transaction) error {
	if tx.Cost < 0 {
		return fmt.Errorf("transaction cost must be non-negative, got %f", tx.Cost)
	}

	l.mu.Lock()
	delete(l.reservations, reservationID)

	if _, err := l.repo.Insert(ctx, tx); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("append transaction: %w", err)
	}

	usage, usageErr := l.usage(ctx)
	listeners := make([]func(models.BudgetUsage), len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	l.logger.Info("transaction recorded",
		zap.String("provider", tx.Provider),
		zap.String("model", tx.Model),
		zap.Float64("cost", tx.Cost),
		zap.Int("input_tokens", tx.InputTokens),
		zap.Int("output_tokens", tx.OutputTokens),
		zap.String("target", tx.Target),
	)

	if usageErr != nil {
		l.logger.Warn("usage aggregation after commit failed", zap.Error(usageErr))
		return nil
	}
	for _, fn := range listeners {
		fn(usage)
	}
	return nil
}

// RecordTransaction appends one transaction to the log and notifies
// usage-changed listeners.
func (l *BudgetLedger) RecordTransaction(ctx context.Context, provider, model string, cost float64, inputTokens, outputTokens int, target string) error {
	return l.Commit(ctx, "", &models.Transaction{
		Provider:     provider,
		Model:        model,
		Cost:         cost,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Target:       target,
		CreatedAt:    l.now(),
	})
}

// GetBudgetWarnings returns informational messages for windows whose spend
// has reached the warning threshold. Warnings never block.
func (l *BudgetLedger) GetBudgetWarnings(ctx context.Context, cfg *models.BudgetConfig) ([]string, error) {
	if cfg == nil {
		return nil, nil
	}

	usage, err := l.usage(ctx)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if cfg.DailyUSD > 0 {
		pct := usage.DailySpent / cfg.DailyUSD * 100
		if pct >= float64(cfg.WarningThreshold) {
			warnings = append(warnings, fmt.Sprintf(
				"daily spend $%.4f is %.0f%% of the $%.2f budget (warning threshold %d%%)",
				usage.DailySpent, pct, cfg.DailyUSD, cfg.WarningThreshold))
		}
	}
	if cfg.MonthlyUSD > 0 {
		pct := usage.MonthlySpent / cfg.MonthlyUSD * 100
		if pct >= float64(cfg.WarningThreshold) {
			warnings = append(warnings, fmt.Sprintf(
				"monthly spend $%.4f is %.0f%% of the $%.2f budget (warning threshold %d%%)",
				usage.MonthlySpent, pct, cfg.MonthlyUSD, cfg.WarningThreshold))
		}
	}
	return warnings, nil
}

// Window starts, all in UTC.

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfISOWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
