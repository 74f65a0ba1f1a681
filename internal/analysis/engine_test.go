package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-scanner/internal/config"
	apperrors "github.com/signal-scanner/internal/errors"
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/types"
)

func testEngineConfig(url string) *config.EngineConfig {
	return &config.EngineConfig{
		BaseURL:    url,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
}

func sampleKlines() []models.Kline {
	return []models.Kline{
		{Code: "sh.600000", Time: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), Open: 10, High: 10.5, Low: 9.8, Close: 10.2, Volume: 1200, Amount: 12240},
		{Code: "sh.600000", Time: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), Open: 10.2, High: 10.9, Low: 10.1, Close: 10.8, Volume: 1500, Amount: 16200},
	}
}

func TestEngineClient_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/analyze", r.URL.Path)

		var req engineRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sh.600000", req.Code)
		assert.Equal(t, "day", req.KlineType)
		assert.Len(t, req.Klines, 2)

		_ = json.NewEncoder(w).Encode(Result{
			Code: req.Code,
			Name: "Test Bank",
			BSPoints: []BSPoint{
				{Type: types.BSPType1, Time: "2026-08-28", Value: 10.8, KluIdx: 1, IsBuy: true},
			},
		})
	}))
	defer srv.Close()

	client := NewEngineClient(testEngineConfig(srv.URL))

	result, err := client.Analyze(context.Background(), "sh.600000", sampleKlines(), types.KlineDay)
	require.NoError(t, err)
	assert.Equal(t, "Test Bank", result.Name)
	require.Len(t, result.BSPoints, 1)
	assert.Equal(t, types.BSPType1, result.BSPoints[0].Type)
	assert.True(t, result.BSPoints[0].IsBuy)
}

func TestEngineClient_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Result{Code: "sh.600000"})
	}))
	defer srv.Close()

	client := NewEngineClient(testEngineConfig(srv.URL))

	_, err := client.Analyze(context.Background(), "sh.600000", sampleKlines(), types.KlineDay)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEngineClient_ExhaustedRetriesIsAnalysisFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewEngineClient(testEngineConfig(srv.URL))

	_, err := client.Analyze(context.Background(), "sh.600000", sampleKlines(), types.KlineDay)
	require.Error(t, err)
	assert.True(t, apperrors.IsPerStock(err), "engine failure must be a per-stock error")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAnalysisFailure))
}

func TestBSPoint_ParsedTime(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Time
		wantErr bool
	}{
		{name: "date only", value: "2026-08-28", want: time.Date(2026, 8, 28, 0, 0, 0, 0, marketLocation)},
		{name: "intraday", value: "2026-08-28 10:30", want: time.Date(2026, 8, 28, 10, 30, 0, 0, marketLocation)},
		{name: "with seconds", value: "2026-08-28 10:30:00", want: time.Date(2026, 8, 28, 10, 30, 0, 0, marketLocation)},
		{name: "garbage", value: "not a time", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BSPoint{Time: tt.value}.ParsedTime()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "ParsedTime() = %v, want %v", got, tt.want)
		})
	}
}

func TestBSPoint_ParsedTimeIsExchangeLocal(t *testing.T) {
	got, err := BSPoint{Time: "2026-08-28 10:30"}.ParsedTime()
	require.NoError(t, err)

	// The instant must be anchored to the exchange's clock regardless of
	// the server's timezone, or the scan window boundary drifts.
	_, offset := got.Zone()
	assert.Equal(t, 8*60*60, offset)
	assert.True(t, got.Equal(time.Date(2026, 8, 28, 2, 30, 0, 0, time.UTC)))
}
