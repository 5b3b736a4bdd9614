// Package repository defines data access interfaces and implementations for
// the transaction ledger.
package repository

import (
	"context"
	"time"

	"github.com/user/model-router-go/internal/models"
)

// TransactionRepository provides access to the append-only transaction log.
// Rows are inserted and aggregated, never updated or deleted.
type TransactionRepository interface {
	Insert(ctx context.Context, tx *models.Transaction) (int64, error)
	SumCostSince(ctx context.Context, since time.Time) (float64, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Transaction, error)
	Count(ctx context.Context) (int64, error)
}
