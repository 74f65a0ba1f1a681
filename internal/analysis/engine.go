// Package analysis wraps the external signal-detection engine. The engine is
// opaque to the scanner: it receives a stock's price series and returns the
// structural segments and buy/sell signal points it found.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/signal-scanner/internal/circuitbreaker"
	"github.com/signal-scanner/internal/config"
	apperrors "github.com/signal-scanner/internal/errors"
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/retry"
	"github.com/signal-scanner/internal/types"
)

// BSPoint is one buy/sell signal point reported by the engine
type BSPoint struct {
	Type   types.BSPType `json:"type"`
	Time   string        `json:"time"`
	Value  float64       `json:"value"`
	KluIdx int           `json:"klu_idx"`
	IsBuy  bool          `json:"is_buy"`
}

// Engine timestamps are exchange-local wall times with no zone marker.
var marketLocation = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}()

// ParsedTime parses the engine's bar timestamp in the exchange's
// timezone. Daily and coarser bars come back as dates, intraday bars
// with a clock component.
func (p BSPoint) ParsedTime() (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.ParseInLocation(layout, p.Time, marketLocation); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized signal time %q", p.Time)
}

// Result is the slice of the engine's response the scanner consumes
type Result struct {
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	BSPoints []BSPoint `json:"bs_points"`
}

// Analyzer runs the external analysis engine on one stock's series
type Analyzer interface {
	Analyze(ctx context.Context, code string, klines []models.Kline, klineType types.KlineType) (*Result, error)
}

// engineBar is the wire shape of one bar sent to the engine
type engineBar struct {
	Time   string  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Amount float64 `json:"amount"`
}

// engineRequest is the engine's analyze request body
type engineRequest struct {
	Code      string      `json:"code"`
	KlineType string      `json:"kline_type"`
	Klines    []engineBar `json:"klines"`
}

// EngineClient calls the analysis engine over HTTP
type EngineClient struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   *retry.Config
	breaker    *circuitbreaker.CircuitBreaker
}

// NewEngineClient creates an analysis engine client
func NewEngineClient(cfg *config.EngineConfig) *EngineClient {
	return &EngineClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryCfg: &retry.Config{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("analysis-engine")),
	}
}

// Analyze posts the series to the engine and decodes the signal points.
// Transient failures are retried; a final failure is an AnalysisFailure,
// which the worker recovers from per stock.
func (c *EngineClient) Analyze(ctx context.Context, code string, klines []models.Kline, klineType types.KlineType) (*Result, error) {
	bars := make([]engineBar, len(klines))
	for i, k := range klines {
		bars[i] = engineBar{
			Time:   k.Time.Format("2006-01-02 15:04:05"),
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
			Amount: k.Amount,
		}
	}

	body, err := json.Marshal(engineRequest{
		Code:      code,
		KlineType: string(klineType),
		Klines:    bars,
	})
	if err != nil {
		return nil, apperrors.NewAnalysisFailureError(code, err)
	}

	// The breaker wraps the whole retry loop: a dead engine opens it
	// once, then the remaining stocks fail fast instead of retrying.
	var result Result
	err = c.breaker.Execute(func() error {
		return retry.Do(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
			return c.analyzeOnce(ctx, body, &result)
		})
	})
	if err != nil {
		return nil, apperrors.NewAnalysisFailureError(code, err)
	}

	return &result, nil
}

func (c *EngineClient) analyzeOnce(ctx context.Context, body []byte, result *Result) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode engine response: %w", err)
	}

	return nil
}
