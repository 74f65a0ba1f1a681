// Package main provides a CLI tool for loading reference data: the
// stock list into Postgres and historical kline series into ClickHouse.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/signal-scanner/internal/config"
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/storage"
	"github.com/signal-scanner/internal/types"
)

func main() {
	var (
		stocksFile = flag.String("stocks", "", "JSON file with the stock list to upsert")
		klinesFile = flag.String("klines", "", "CSV file with kline bars to insert")
		klineType  = flag.String("kline-type", "day", "Kline type of the CSV bars")
		batchSize  = flag.Int("batch-size", 10000, "Bars per ClickHouse insert batch")
	)
	flag.Parse()

	if *stocksFile == "" && *klinesFile == "" {
		log.Fatal("Nothing to do: pass -stocks and/or -klines")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	if *stocksFile != "" {
		if err := importStocks(ctx, cfg, *stocksFile); err != nil {
			log.Fatalf("Stock import failed: %v", err)
		}
	}

	if *klinesFile != "" {
		kt := types.KlineType(*klineType)
		if !kt.Valid() {
			log.Fatalf("Invalid kline type: %s", *klineType)
		}
		if err := importKlines(ctx, cfg, *klinesFile, kt, *batchSize); err != nil {
			log.Fatalf("Kline import failed: %v", err)
		}
	}
}

func importStocks(ctx context.Context, cfg *config.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var stocks []models.Stock
	if err := json.NewDecoder(f).Decode(&stocks); err != nil {
		return fmt.Errorf("failed to parse stock list: %w", err)
	}
	if len(stocks) == 0 {
		return fmt.Errorf("stock list is empty")
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	defer postgres.Close()

	repo := storage.NewStockRepository(postgres)
	if err := repo.Upsert(ctx, stocks); err != nil {
		return err
	}

	log.Printf("Upserted %d stocks", len(stocks))
	return nil
}

// importKlines streams a CSV of bars into ClickHouse. Expected columns:
// code,time,open,high,low,close,volume,amount with time as
// "2006-01-02 15:04:05" or "2006-01-02".
func importKlines(ctx context.Context, cfg *config.Config, path string, klineType types.KlineType, batchSize int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer clickhouse.Close()

	repo := storage.NewKlineRepository(clickhouse)

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 8

	total := 0
	batch := make([]models.Kline, 0, batchSize)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && record[0] == "code" {
			continue // header row
		}

		bar, err := parseBar(record)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, bar)

		if len(batch) >= batchSize {
			if err := repo.InsertBatch(ctx, klineType, batch); err != nil {
				return err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := repo.InsertBatch(ctx, klineType, batch); err != nil {
			return err
		}
		total += len(batch)
	}

	log.Printf("Inserted %d %s bars", total, klineType)
	return nil
}

func parseBar(record []string) (models.Kline, error) {
	ts, err := parseBarTime(record[1])
	if err != nil {
		return models.Kline{}, err
	}

	fields := make([]float64, 6)
	for i, raw := range record[2:8] {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Kline{}, fmt.Errorf("bad numeric field %q: %w", raw, err)
		}
		fields[i] = v
	}

	return models.Kline{
		Code:   record[0],
		Time:   ts,
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
		Amount: fields[5],
	}, nil
}

func parseBarTime(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized bar time %q", raw)
}
