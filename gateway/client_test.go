package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

// newTestClient points a client at the given test server.
func newTestClient(t *testing.T, srv *httptest.Server, batchSize int) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := config.GatewayConfig{
		Host:              host,
		Port:              port,
		Timeout:           5 * time.Second,
		SnapshotBatchSize: batchSize,
		RateLimit:         config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	}
	return NewClient(cfg, logger.Logger())
}

func writeEnvelope(w http.ResponseWriter, data any) {
	json.NewEncoder(w).Encode(map[string]any{"ret": 0, "msg": "", "data": data})
}

func TestOptionSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathSnapshot {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		writeEnvelope(w, map[string]any{
			"snapshots": []map[string]any{
				{
					"code":                     "HK.TCH250330C360000",
					"stock_owner":              "HK.00700",
					"name":                     "TCH 250330 360.00 C",
					"last_price":               5.12,
					"volume":                   "1500",
					"turnover":                 768000.0,
					"change_rate":              "2.5",
					"option_open_interest":     3200,
					"option_net_open_interest": "N/A",
					"option_strike_price":      360.0,
					"update_time":              "2025-03-03 14:30:00",
				},
				{
					"code": "",
					"name": "ignored",
				},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 200)
	hk, _ := time.LoadLocation("Asia/Hong_Kong")

	got, err := c.OptionSnapshots(context.Background(), hk, []string{"HK.TCH250330C360000"})
	if err != nil {
		t.Fatalf("OptionSnapshots failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}

	snap := got[0]
	if snap.StockCode != "HK.00700" {
		t.Errorf("StockCode = %q", snap.StockCode)
	}
	if snap.Volume != 1500 {
		t.Errorf("Volume = %d, want 1500", snap.Volume)
	}
	if snap.ChangeRate != 2.5 {
		t.Errorf("ChangeRate = %v, want 2.5", snap.ChangeRate)
	}
	if snap.NetOpenInterest != 0 {
		t.Errorf("NetOpenInterest = %d, want 0 for N/A", snap.NetOpenInterest)
	}
	want := time.Date(2025, 3, 3, 14, 30, 0, 0, hk)
	if !snap.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", snap.Timestamp, want)
	}
}

func TestSnapshotBatching(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		var req snapshotRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Codes) > 2 {
			t.Errorf("batch too large: %d", len(req.Codes))
		}
		writeEnvelope(w, map[string]any{"snapshots": []map[string]any{}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)
	codes := []string{"A", "B", "C", "D", "E"}
	if _, err := c.OptionSnapshots(context.Background(), time.UTC, codes); err != nil {
		t.Fatalf("OptionSnapshots failed: %v", err)
	}
	if got := atomic.LoadInt64(&requests); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ret": -1, "msg": "session expired"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 200)
	_, err := c.ExpirationDates(context.Background(), "HK.00700")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Ret != -1 || apiErr.Msg != "session expired" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestExpirationDates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req expirationRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Code != "HK.00700" {
			t.Errorf("unexpected code: %s", req.Code)
		}
		writeEnvelope(w, map[string]any{
			"expirations": []map[string]any{
				{"strike_time": "2025-03-28"},
				{"strike_time": "2025-04-29"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 200)
	got, err := c.ExpirationDates(context.Background(), "HK.00700")
	if err != nil {
		t.Fatalf("ExpirationDates failed: %v", err)
	}
	if len(got) != 2 || got[0] != "2025-03-28" || got[1] != "2025-04-29" {
		t.Errorf("unexpected dates: %v", got)
	}
}

func TestOptionChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{
			"chain": []map[string]any{
				{
					"code":         "HK.TCH250330C360000",
					"name":         "TCH 250330 360.00 C",
					"option_type":  "CALL",
					"strike_price": 360.0,
					"strike_time":  "2025-03-30",
				},
				{
					"code":         "HK.TCH250330P360000",
					"option_type":  2,
					"strike_price": "360",
				},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 200)
	got, err := c.OptionChain(context.Background(), "HK.00700", "2025-03-30")
	if err != nil {
		t.Fatalf("OptionChain failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].OptionType != models.OptionTypeCall {
		t.Errorf("OptionType = %q, want call", got[0].OptionType)
	}
	if got[1].OptionType != models.OptionTypePut {
		t.Errorf("OptionType = %q, want put", got[1].OptionType)
	}
	if got[1].StrikePrice != 360 {
		t.Errorf("StrikePrice = %v, want 360", got[1].StrikePrice)
	}
	if got[1].ExpiryDate != "2025-03-30" {
		t.Errorf("ExpiryDate = %q, want fallback to requested expiry", got[1].ExpiryDate)
	}
}
