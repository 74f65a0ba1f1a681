package storage

import (
	"context"
	"fmt"

	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/types"
)

// KlineRepository reads OHLCV bars from the ClickHouse series store
type KlineRepository struct {
	db *ClickHouseDB
}

// NewKlineRepository creates a new kline repository
func NewKlineRepository(db *ClickHouseDB) *KlineRepository {
	return &KlineRepository{db: db}
}

// Recent returns the most recent bars for a stock at the given granularity,
// in ascending time order (oldest first), at most limit bars.
func (r *KlineRepository) Recent(ctx context.Context, code string, klineType types.KlineType, limit int) ([]models.Kline, error) {
	query := `
		SELECT code, time, open, high, low, close, volume, amount
		FROM klines
		WHERE code = ? AND kline_type = ?
		ORDER BY time DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, code, string(klineType), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query klines: %w", err)
	}
	defer rows.Close()

	var klines []models.Kline
	for rows.Next() {
		var k models.Kline
		if err := rows.Scan(&k.Code, &k.Time, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &k.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan kline row: %w", err)
		}
		klines = append(klines, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating klines: %w", err)
	}

	// Query returns newest-first; analysis wants oldest-first
	for i, j := 0, len(klines)-1; i < j; i, j = i+1, j-1 {
		klines[i], klines[j] = klines[j], klines[i]
	}

	return klines, nil
}

// InsertBatch writes bars to the series store; used by the import tool
func (r *KlineRepository) InsertBatch(ctx context.Context, klineType types.KlineType, klines []models.Kline) error {
	if len(klines) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx,
		`INSERT INTO klines (code, kline_type, time, open, high, low, close, volume, amount)`)
	if err != nil {
		return fmt.Errorf("failed to prepare kline batch: %w", err)
	}

	for _, k := range klines {
		if err := batch.Append(k.Code, string(klineType), k.Time, k.Open, k.High, k.Low, k.Close, k.Volume, k.Amount); err != nil {
			return fmt.Errorf("failed to append kline: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send kline batch: %w", err)
	}

	return nil
}
