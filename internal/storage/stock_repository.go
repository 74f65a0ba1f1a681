package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/signal-scanner/internal/models"
)

// StockRepository reads and maintains the reference stock list
type StockRepository struct {
	db *PostgresDB
}

// NewStockRepository creates a new stock repository
func NewStockRepository(db *PostgresDB) *StockRepository {
	return &StockRepository{db: db}
}

// All returns every tradable stock, ordered by code
func (r *StockRepository) All(ctx context.Context) ([]models.Stock, error) {
	query := `SELECT code, name, board, pinyin, updated_at FROM stocks ORDER BY code`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	defer rows.Close()

	return collectStocks(rows)
}

// ByBoards returns the union of stocks on the given boards, ordered by code
func (r *StockRepository) ByBoards(ctx context.Context, boards []string) ([]models.Stock, error) {
	query := `SELECT code, name, board, pinyin, updated_at FROM stocks WHERE board = ANY($1) ORDER BY code`

	rows, err := r.db.Pool().Query(ctx, query, boards)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks by boards: %w", err)
	}
	defer rows.Close()

	return collectStocks(rows)
}

// ByCodes returns reference rows for the given codes; codes without a row
// are simply absent from the result.
func (r *StockRepository) ByCodes(ctx context.Context, codes []string) ([]models.Stock, error) {
	query := `SELECT code, name, board, pinyin, updated_at FROM stocks WHERE code = ANY($1) ORDER BY code`

	rows, err := r.db.Pool().Query(ctx, query, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks by codes: %w", err)
	}
	defer rows.Close()

	return collectStocks(rows)
}

// Upsert inserts or refreshes reference rows; used by the import tool
func (r *StockRepository) Upsert(ctx context.Context, stocks []models.Stock) error {
	query := `
		INSERT INTO stocks (code, name, board, pinyin, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (code)
		DO UPDATE SET name = $2, board = $3, pinyin = $4, updated_at = NOW()
	`

	for _, s := range stocks {
		if _, err := r.db.Pool().Exec(ctx, query, s.Code, s.Name, s.Board, s.Pinyin); err != nil {
			return fmt.Errorf("failed to upsert stock %s: %w", s.Code, err)
		}
	}

	return nil
}

func collectStocks(rows pgx.Rows) ([]models.Stock, error) {
	var stocks []models.Stock
	for rows.Next() {
		var s models.Stock
		if err := rows.Scan(&s.Code, &s.Name, &s.Board, &s.Pinyin, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock row: %w", err)
		}
		stocks = append(stocks, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stocks: %w", err)
	}

	return stocks, nil
}
