// Package gateway talks to the local brokerage market-data daemon over its
// HTTP JSON API. All calls go through a shared rate limiter so the daemon's
// own quota towards the brokerage is never exceeded.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

const (
	pathSnapshot    = "/api/v1/market/snapshot"
	pathExpirations = "/api/v1/option/expirations"
	pathChain       = "/api/v1/option/chain"
)

// APIError is returned when the daemon answers with a non-zero ret code. It
// is distinct from transport errors so callers can tell a rejected request
// from an unreachable daemon.
type APIError struct {
	Ret int
	Msg string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error ret=%d: %s", e.Ret, e.Msg)
}

type envelope struct {
	Ret  int             `json:"ret"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client is a thin typed wrapper over the daemon's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	batchSize  int
	log        *logger.Entry
}

// NewClient builds a client from the gateway configuration.
func NewClient(cfg config.GatewayConfig, log *logger.Log) *Client {
	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}
	batch := cfg.SnapshotBatchSize
	if batch <= 0 {
		batch = 200
	}

	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		batchSize:  batch,
		log:        log.WithComponent("gateway"),
	}
}

func (c *Client) call(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Ret != 0 {
		return nil, &APIError{Ret: env.Ret, Msg: env.Msg}
	}

	return env.Data, nil
}

type snapshotRequest struct {
	Codes []string `json:"codes"`
}

type snapshotData struct {
	Snapshots []map[string]any `json:"snapshots"`
}

// StockQuotes fetches per-stock snapshots for the given codes. Timestamps are
// interpreted in the market's timezone.
func (c *Client) StockQuotes(ctx context.Context, loc *time.Location, codes []string) ([]models.StockQuote, error) {
	quotes := make([]models.StockQuote, 0, len(codes))
	for _, batch := range chunk(codes, c.batchSize) {
		data, err := c.call(ctx, pathSnapshot, snapshotRequest{Codes: batch})
		if err != nil {
			return nil, err
		}
		var payload snapshotData
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode snapshots: %w", err)
		}
		for _, row := range payload.Snapshots {
			code := StringOr(row["code"], "")
			if code == "" {
				continue
			}
			quotes = append(quotes, models.StockQuote{
				Code:      code,
				Name:      StringOr(row["name"], ""),
				Price:     FloatOr(row["last_price"], 0),
				Timestamp: parseUpdateTime(row["update_time"], loc),
			})
		}
	}
	return quotes, nil
}

// OptionSnapshots fetches option snapshots for the given contract codes,
// batching requests so a large chain never exceeds the daemon's per-request
// limit.
func (c *Client) OptionSnapshots(ctx context.Context, loc *time.Location, codes []string) ([]models.OptionSnapshot, error) {
	snapshots := make([]models.OptionSnapshot, 0, len(codes))
	for _, batch := range chunk(codes, c.batchSize) {
		data, err := c.call(ctx, pathSnapshot, snapshotRequest{Codes: batch})
		if err != nil {
			return nil, err
		}
		var payload snapshotData
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode snapshots: %w", err)
		}
		for _, row := range payload.Snapshots {
			code := StringOr(row["code"], "")
			if code == "" {
				continue
			}
			snapshots = append(snapshots, models.OptionSnapshot{
				StockCode:       StringOr(row["stock_owner"], ""),
				OptionCode:      code,
				Name:            StringOr(row["name"], ""),
				Price:           FloatOr(row["last_price"], 0),
				Volume:          IntOr(row["volume"], 0),
				Turnover:        FloatOr(row["turnover"], 0),
				ChangeRate:      FloatOr(row["change_rate"], 0),
				OpenInterest:    IntOr(row["option_open_interest"], 0),
				NetOpenInterest: IntOr(row["option_net_open_interest"], 0),
				StrikeFromAPI:   FloatOr(row["option_strike_price"], 0),
				Timestamp:       parseUpdateTime(row["update_time"], loc),
			})
		}
	}
	return snapshots, nil
}

type expirationRequest struct {
	Code string `json:"code"`
}

type expirationData struct {
	Expirations []map[string]any `json:"expirations"`
}

// ExpirationDates returns the expiry dates ("2006-01-02") that currently have
// listed contracts for the underlying.
func (c *Client) ExpirationDates(ctx context.Context, underlying string) ([]string, error) {
	data, err := c.call(ctx, pathExpirations, expirationRequest{Code: underlying})
	if err != nil {
		return nil, err
	}

	var payload expirationData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode expirations: %w", err)
	}

	dates := make([]string, 0, len(payload.Expirations))
	for _, row := range payload.Expirations {
		if d := StringOr(row["strike_time"], ""); d != "" {
			dates = append(dates, d)
		}
	}
	return dates, nil
}

type chainRequest struct {
	Code  string `json:"code"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type chainData struct {
	Chain []map[string]any `json:"chain"`
}

// OptionChain returns the contracts listed on the underlying for one expiry
// date.
func (c *Client) OptionChain(ctx context.Context, underlying, expiry string) ([]models.OptionContract, error) {
	data, err := c.call(ctx, pathChain, chainRequest{Code: underlying, Start: expiry, End: expiry})
	if err != nil {
		return nil, err
	}

	var payload chainData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode chain: %w", err)
	}

	contracts := make([]models.OptionContract, 0, len(payload.Chain))
	for _, row := range payload.Chain {
		code := StringOr(row["code"], "")
		if code == "" {
			continue
		}
		contracts = append(contracts, models.OptionContract{
			Code:        code,
			Name:        StringOr(row["name"], ""),
			StrikePrice: FloatOr(row["strike_price"], 0),
			OptionType:  normalizeOptionType(row["option_type"]),
			ExpiryDate:  StringOr(row["strike_time"], expiry),
		})
	}
	return contracts, nil
}

// normalizeOptionType maps the daemon's mixed representations (strings and
// enum numbers) onto the internal call/put constants.
func normalizeOptionType(v any) string {
	switch StringOr(v, "") {
	case "CALL", "Call", "call", "1":
		return models.OptionTypeCall
	case "PUT", "Put", "put", "2":
		return models.OptionTypePut
	default:
		return ""
	}
}

func parseUpdateTime(v any, loc *time.Location) time.Time {
	s := StringOr(v, "")
	if s == "" {
		return time.Now().In(loc)
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, loc); err == nil {
		return ts
	}
	if ts, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return ts
	}
	return time.Now().In(loc)
}

func chunk(codes []string, size int) [][]string {
	if len(codes) == 0 {
		return nil
	}
	var out [][]string
	for start := 0; start < len(codes); start += size {
		end := start + size
		if end > len(codes) {
			end = len(codes)
		}
		out = append(out, codes[start:end])
	}
	return out
}
