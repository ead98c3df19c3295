package models

import (
	"time"
)

// Option class letters as reported by the gateway and encoded in instrument codes.
const (
	OptionTypeCall = "Call"
	OptionTypePut  = "Put"
)

// OptionSnapshot represents one observed market snapshot row for an option
// instrument. All counters are cumulative for the trading session. A snapshot
// is immutable once built at the gateway boundary.
type OptionSnapshot struct {
	StockCode       string    `json:"stock_code"`
	OptionCode      string    `json:"option_code"`
	Name            string    `json:"name"`
	Price           float64   `json:"price"`
	Volume          int64     `json:"volume"`
	Turnover        float64   `json:"turnover"`
	ChangeRate      float64   `json:"change_rate"`
	OpenInterest    int64     `json:"open_interest"`
	NetOpenInterest int64     `json:"net_open_interest"`
	StrikeFromAPI   float64   `json:"strike_from_api"`
	Timestamp       time.Time `json:"timestamp"`
}

// OptionContract represents a single option chain entry: the instrument code
// and its strike price as reported by the gateway.
type OptionContract struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	StrikePrice float64 `json:"strike_price"`
	OptionType  string  `json:"option_type"`
	ExpiryDate  string  `json:"expiry_date"`
}

// StockQuote represents a snapshot row for an underlying equity or index.
type StockQuote struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeEvent is an OptionSnapshot enriched with per-cycle deltas and resolved
// contract fields. VolumeDelta is always recomputed from the tracker state,
// never read back from storage.
type TradeEvent struct {
	ScanID     string    `json:"scan_id"`
	StockCode  string    `json:"stock_code"`
	StockName  string    `json:"stock_name"`
	OptionCode string    `json:"option_code"`
	Timestamp  time.Time `json:"timestamp"`
	DetectedAt time.Time `json:"detected_at"`

	Price      float64 `json:"price"`
	Volume     int64   `json:"volume"`
	Turnover   float64 `json:"turnover"`
	ChangeRate float64 `json:"change_rate"`

	StrikePrice float64 `json:"strike_price"`
	OptionType  string  `json:"option_type"`
	ExpiryDate  string  `json:"expiry_date"`

	StockPrice   float64 `json:"stock_price"`
	PriceDiff    float64 `json:"price_diff"`
	PriceDiffPct float64 `json:"price_diff_pct"`

	PreviousVolume       int64 `json:"previous_volume"`
	VolumeDelta          int64 `json:"volume_delta"`
	OpenInterest         int64 `json:"open_interest"`
	NetOpenInterest      int64 `json:"net_open_interest"`
	OpenInterestDelta    int64 `json:"open_interest_delta"`
	NetOpenInterestDelta int64 `json:"net_open_interest_delta"`

	Direction string `json:"direction"`
}

// ThresholdRule holds the per-underlying-class limits a snapshot must clear to
// be flagged as a big trade. All volume/turnover/delta conditions are
// conjunctive.
type ThresholdRule struct {
	MinVolume           int64   `yaml:"min_volume" json:"min_volume"`
	MinTurnover         float64 `yaml:"min_turnover" json:"min_turnover"`
	MinVolumeDelta      int64   `yaml:"min_volume_delta" json:"min_volume_delta"`
	StrikeRangeFraction float64 `yaml:"strike_range_fraction" json:"strike_range_fraction"`
	MaxDaysToExpiry     int     `yaml:"max_days_to_expiry" json:"max_days_to_expiry"`
}

// TradeDay returns the trading-day key for a timestamp in the given location,
// formatted YYYY-MM-DD. Cumulative counters reset at this boundary.
func TradeDay(ts time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return ts.In(loc).Format("2006-01-02")
}
