package scan

import (
	"context"
	"strings"

	apperrors "github.com/signal-scanner/internal/errors"
	"github.com/signal-scanner/internal/market"
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/types"
)

// Resolver expands a stock pool selector into the concrete, ordered
// list of stocks a scan will walk. Resolution is deterministic: the
// same request against the same stock table yields the same universe.
type Resolver struct {
	source market.DataSource
}

func NewResolver(source market.DataSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the stock universe for the given pool. Board and
// custom pools are validated here; an empty selection is a request
// error, not an empty scan.
func (r *Resolver) Resolve(ctx context.Context, pool types.StockPool, boards []string, codes []string) ([]models.Stock, error) {
	switch pool {
	case types.PoolAll:
		return r.source.AllStocks(ctx)
	case types.PoolBoards:
		return r.resolveBoards(ctx, boards)
	case types.PoolCustom:
		return r.resolveCustom(ctx, codes)
	default:
		return nil, apperrors.NewInvalidRequestError("unknown stock pool: " + string(pool))
	}
}

func (r *Resolver) resolveBoards(ctx context.Context, boards []string) ([]models.Stock, error) {
	cleaned := cleanList(boards)
	if len(cleaned) == 0 {
		return nil, apperrors.NewInvalidRequestError("stockPool is boards but no boards were given")
	}
	return r.source.StocksByBoards(ctx, cleaned)
}

// resolveCustom keeps the caller's code order. Codes the stock table
// does not know still get scanned; they just carry no display name.
func (r *Resolver) resolveCustom(ctx context.Context, codes []string) ([]models.Stock, error) {
	cleaned := cleanList(codes)
	if len(cleaned) == 0 {
		return nil, apperrors.NewInvalidRequestError("stockPool is custom but no stock codes were given")
	}

	known, err := r.source.StocksByCodes(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]models.Stock, len(known))
	for _, s := range known {
		byCode[s.Code] = s
	}

	universe := make([]models.Stock, 0, len(cleaned))
	for _, code := range cleaned {
		if s, ok := byCode[code]; ok {
			universe = append(universe, s)
		} else {
			universe = append(universe, models.Stock{Code: code})
		}
	}
	return universe, nil
}

// cleanList trims whitespace, drops empties and de-duplicates while
// preserving first-seen order.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
