package models

import "time"

// Stock is one entry in the reference stock list.
type Stock struct {
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	Board     string    `json:"board" db:"board"`
	Pinyin    string    `json:"pinyin,omitempty" db:"pinyin"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Display returns the identifier shown in progress reports.
func (s Stock) Display() string {
	if s.Name == "" {
		return s.Code
	}
	return s.Code + " " + s.Name
}

// Kline is one OHLCV bar of a stock's price series.
type Kline struct {
	Code   string    `json:"code" db:"code"`
	Time   time.Time `json:"time" db:"time"`
	Open   float64   `json:"open" db:"open"`
	High   float64   `json:"high" db:"high"`
	Low    float64   `json:"low" db:"low"`
	Close  float64   `json:"close" db:"close"`
	Volume float64   `json:"volume" db:"volume"`
	Amount float64   `json:"amount" db:"amount"`
}
