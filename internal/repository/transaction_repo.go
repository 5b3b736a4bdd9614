package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/user/model-router-go/internal/models"
	"go.uber.org/zap"
)

// Timestamps are stored as UTC text in this layout; lexicographic comparison
// matches chronological order, so window queries are plain >= filters.
const timeLayout = "2006-01-02 15:04:05"

// SQLTransactionRepository implements TransactionRepository on SQLite.
type SQLTransactionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransactionRepository creates a new SQLTransactionRepository.
func NewTransactionRepository(db *sql.DB, logger *zap.Logger) *SQLTransactionRepository {
	return &SQLTransactionRepository{db: db, logger: logger}
}

// Insert appends one transaction and returns its row id.
func (r *SQLTransactionRepository) Insert(ctx context.Context, tx *models.Transaction) (int64, error) {
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (provider, model, cost, input_tokens, output_tokens, target, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.Provider, tx.Model, tx.Cost, tx.InputTokens, tx.OutputTokens, tx.Target,
		createdAt.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return result.LastInsertId()
}

// SumCostSince returns the total cost of transactions at or after since.
func (r *SQLTransactionRepository) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM transactions WHERE created_at >= ?`,
		since.UTC().Format(timeLayout)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}

// ListRecent returns the newest transactions, newest first.
func (r *SQLTransactionRepository) ListRecent(ctx context.Context, limit int) ([]*models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, provider, model, cost, input_tokens, output_tokens, target, created_at
		 FROM transactions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*models.Transaction, 0)
	for rows.Next() {
		var tx models.Transaction
		var createdAt string
		if err := rows.Scan(&tx.ID, &tx.Provider, &tx.Model, &tx.Cost,
			&tx.InputTokens, &tx.OutputTokens, &tx.Target, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.CreatedAt, err = time.ParseInLocation(timeLayout, createdAt, time.UTC)
		if err != nil {
			r.logger.Warn("bad transaction timestamp", zap.Int64("id", tx.ID), zap.Error(err))
		}
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

// Count returns the total number of transactions in the log.
func (r *SQLTransactionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}
