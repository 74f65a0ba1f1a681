// Package market exposes the reference data the scan engine reads: the
// tradable stock list and historical kline series.
package market

import (
	"context"

	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/types"
)

// DataSource is the scan engine's view of market reference data.
type DataSource interface {
	// AllStocks returns every tradable stock, in stable (code) order.
	AllStocks(ctx context.Context) ([]models.Stock, error)
	// StocksByBoards returns the de-duplicated union of stocks on the
	// given boards, in stable order.
	StocksByBoards(ctx context.Context, boards []string) ([]models.Stock, error)
	// StocksByCodes returns reference rows for known codes; unknown codes
	// are absent from the result.
	StocksByCodes(ctx context.Context, codes []string) ([]models.Stock, error)
	// Klines returns up to limit bars for a stock, oldest first.
	Klines(ctx context.Context, code string, klineType types.KlineType, limit int) ([]models.Kline, error)
}

// StockStore is the slice of storage the store-backed source needs for the
// reference list.
type StockStore interface {
	All(ctx context.Context) ([]models.Stock, error)
	ByBoards(ctx context.Context, boards []string) ([]models.Stock, error)
	ByCodes(ctx context.Context, codes []string) ([]models.Stock, error)
}

// KlineStore is the slice of storage the store-backed source needs for bars.
type KlineStore interface {
	Recent(ctx context.Context, code string, klineType types.KlineType, limit int) ([]models.Kline, error)
}

// StoreSource serves reference data from the Postgres stock list and the
// ClickHouse kline store.
type StoreSource struct {
	stocks StockStore
	klines KlineStore
}

// NewStoreSource creates a store-backed data source
func NewStoreSource(stocks StockStore, klines KlineStore) *StoreSource {
	return &StoreSource{stocks: stocks, klines: klines}
}

// AllStocks returns every tradable stock
func (s *StoreSource) AllStocks(ctx context.Context) ([]models.Stock, error) {
	return s.stocks.All(ctx)
}

// StocksByBoards returns the union of stocks on the given boards
func (s *StoreSource) StocksByBoards(ctx context.Context, boards []string) ([]models.Stock, error) {
	return s.stocks.ByBoards(ctx, boards)
}

// StocksByCodes returns reference rows for the given codes
func (s *StoreSource) StocksByCodes(ctx context.Context, codes []string) ([]models.Stock, error) {
	return s.stocks.ByCodes(ctx, codes)
}

// Klines returns up to limit bars for a stock, oldest first
func (s *StoreSource) Klines(ctx context.Context, code string, klineType types.KlineType, limit int) ([]models.Kline, error) {
	return s.klines.Recent(ctx, code, klineType, limit)
}
