package store

import "time"

// OptionQuote is one observed option snapshot. The (option_code, timestamp)
// pair is unique so re-observing the same gateway row is an upsert, not a
// duplicate.
type OptionQuote struct {
	ID              uint64    `gorm:"primaryKey"`
	Market          string    `gorm:"size:8;index"`
	StockCode       string    `gorm:"size:16;index:idx_quotes_stock_day,priority:1"`
	OptionCode      string    `gorm:"size:40;uniqueIndex:uniq_quotes_code_ts,priority:1;index:idx_quotes_code_day,priority:1"`
	Name            string    `gorm:"size:64"`
	Price           float64
	Volume          int64
	Turnover        float64
	ChangeRate      float64
	OpenInterest    int64
	NetOpenInterest int64
	StrikePrice     float64
	OptionType      string    `gorm:"size:4"`
	ExpiryDate      string    `gorm:"size:10"`
	TradeDate       string    `gorm:"size:10;index:idx_quotes_code_day,priority:2;index:idx_quotes_stock_day,priority:2"`
	Timestamp       time.Time `gorm:"uniqueIndex:uniq_quotes_code_ts,priority:2;index"`
	CreatedAt       time.Time
}

// StockInfo caches the latest name and price seen for an underlying.
type StockInfo struct {
	ID        uint64 `gorm:"primaryKey"`
	Code      string `gorm:"size:16;uniqueIndex"`
	Name      string `gorm:"size:64"`
	Market    string `gorm:"size:8"`
	LastPrice float64
	UpdatedAt time.Time
}

// Alert is a raised big-trade alert, kept for the dashboard and for daily
// statistics.
type Alert struct {
	ID                   uint64 `gorm:"primaryKey"`
	ScanID               string `gorm:"size:40;index"`
	Market               string `gorm:"size:8;index"`
	StockCode            string `gorm:"size:16;index"`
	StockName            string `gorm:"size:64"`
	OptionCode           string `gorm:"size:40;index"`
	Price                float64
	Volume               int64
	PreviousVolume       int64
	VolumeDelta          int64
	Turnover             float64
	ChangeRate           float64
	OpenInterest         int64
	NetOpenInterest      int64
	OpenInterestDelta    int64
	NetOpenInterestDelta int64
	StrikePrice          float64
	OptionType           string `gorm:"size:4"`
	ExpiryDate           string `gorm:"size:10"`
	StockPrice           float64
	PriceDiff            float64
	PriceDiffPct         float64
	Direction            string    `gorm:"size:8"`
	TradeDate            string    `gorm:"size:10;index"`
	DetectedAt           time.Time `gorm:"index"`
	CreatedAt            time.Time
}
