package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

type fakeSession struct{ open bool }

func (f fakeSession) IsOpen(time.Time) bool { return f.open }

func okWebhook(calls *int32, last *messagePayload) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if last != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, last)
		}
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
}

func sampleEvents() []models.TradeEvent {
	return []models.TradeEvent{
		{
			StockCode:            "HK.00700",
			StockName:            "Tencent",
			OptionCode:           "HK.TCH250830C360000",
			OptionType:           models.OptionTypeCall,
			Direction:            "bullish",
			Price:                12.3,
			Volume:               500,
			VolumeDelta:          150,
			Turnover:             3690000,
			OpenInterest:         5400,
			OpenInterestDelta:    120,
			NetOpenInterest:      2100,
			NetOpenInterestDelta: -30,
		},
	}
}

func TestNotifyTradesPostsSummary(t *testing.T) {
	var calls int32
	var got messagePayload
	srv := okWebhook(&calls, &got)
	defer srv.Close()

	cfg := config.NotifyConfig{
		WebhookURL:        srv.URL,
		MentionedList:     []string{"ops"},
		Timeout:           time.Second,
		QualifiedTurnover: 1000000,
	}
	n := NewWeWorkNotifier(cfg, nil, logger.Logger())

	if err := n.NotifyTrades(context.Background(), "HK", sampleEvents()); err != nil {
		t.Fatalf("NotifyTrades: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("webhook called %d times, want 1", got)
	}
	if got.MsgType != "text" {
		t.Errorf("msgtype = %q, want text", got.MsgType)
	}
	if !strings.Contains(got.Text.Content, "HK.TCH250830C360000") {
		t.Errorf("summary missing option code:\n%s", got.Text.Content)
	}
	if !strings.Contains(got.Text.Content, "Tencent HK.00700") {
		t.Errorf("summary missing stock label:\n%s", got.Text.Content)
	}
	if len(got.Text.MentionedList) != 1 || got.Text.MentionedList[0] != "ops" {
		t.Errorf("mentioned list = %v", got.Text.MentionedList)
	}
}

func TestNotifyTradesNoEventsNoCall(t *testing.T) {
	var calls int32
	srv := okWebhook(&calls, nil)
	defer srv.Close()

	n := NewWeWorkNotifier(config.NotifyConfig{WebhookURL: srv.URL, Timeout: time.Second}, nil, logger.Logger())
	if err := n.NotifyTrades(context.Background(), "HK", nil); err != nil {
		t.Fatalf("NotifyTrades: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("webhook called %d times for an empty batch", got)
	}
}

func TestNotifyTradesNoURLConfigured(t *testing.T) {
	n := NewWeWorkNotifier(config.NotifyConfig{}, nil, logger.Logger())
	if err := n.NotifyTrades(context.Background(), "HK", sampleEvents()); err != nil {
		t.Fatalf("NotifyTrades without a URL: %v", err)
	}
}

func TestNotifyTradesRejectedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":93000,"errmsg":"invalid webhook url"}`))
	}))
	defer srv.Close()

	n := NewWeWorkNotifier(config.NotifyConfig{WebhookURL: srv.URL, Timeout: time.Second}, nil, logger.Logger())
	err := n.NotifyTrades(context.Background(), "HK", sampleEvents())
	if err == nil || !strings.Contains(err.Error(), "93000") {
		t.Fatalf("err = %v, want errcode in message", err)
	}
}

func TestNotifyTradesHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWeWorkNotifier(config.NotifyConfig{WebhookURL: srv.URL, Timeout: time.Second}, nil, logger.Logger())
	if err := n.NotifyTrades(context.Background(), "HK", sampleEvents()); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestExtraWebhooksGatedByMarketHours(t *testing.T) {
	var primary, extra int32
	primarySrv := okWebhook(&primary, nil)
	defer primarySrv.Close()
	extraSrv := okWebhook(&extra, nil)
	defer extraSrv.Close()

	cfg := config.NotifyConfig{
		WebhookURL:       primarySrv.URL,
		ExtraWebhookURLs: []string{extraSrv.URL},
		Timeout:          time.Second,
	}

	closed := NewWeWorkNotifier(cfg, map[string]Session{"HK": fakeSession{open: false}}, logger.Logger())
	if err := closed.NotifyTrades(context.Background(), "HK", sampleEvents()); err != nil {
		t.Fatalf("NotifyTrades: %v", err)
	}
	if p, e := atomic.LoadInt32(&primary), atomic.LoadInt32(&extra); p != 1 || e != 0 {
		t.Fatalf("closed market: primary=%d extra=%d, want 1/0", p, e)
	}

	open := NewWeWorkNotifier(cfg, map[string]Session{"HK": fakeSession{open: true}}, logger.Logger())
	if err := open.NotifyTrades(context.Background(), "HK", sampleEvents()); err != nil {
		t.Fatalf("NotifyTrades: %v", err)
	}
	if p, e := atomic.LoadInt32(&primary), atomic.LoadInt32(&extra); p != 2 || e != 1 {
		t.Fatalf("open market: primary=%d extra=%d, want 2/1", p, e)
	}
}

func TestSendText(t *testing.T) {
	var calls int32
	var got messagePayload
	srv := okWebhook(&calls, &got)
	defer srv.Close()

	n := NewWeWorkNotifier(config.NotifyConfig{WebhookURL: srv.URL, Timeout: time.Second}, nil, logger.Logger())
	if err := n.SendText(context.Background(), "monitor started"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got.Text.Content != "monitor started" {
		t.Errorf("content = %q", got.Text.Content)
	}
}

func TestSummaryGroupsAndSorts(t *testing.T) {
	at := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)
	events := []models.TradeEvent{
		{StockCode: "HK.09988", StockName: "Alibaba", OptionCode: "HK.ALI250830C100000", OptionType: "Call", Direction: "bullish", Price: 2, Volume: 100, Turnover: 200000},
		{StockCode: "HK.00700", StockName: "Tencent", OptionCode: "HK.TCH250830C360000", OptionType: "Call", Direction: "bullish", Price: 10, Volume: 100, Turnover: 1000000},
		{StockCode: "HK.00700", StockName: "Tencent", OptionCode: "HK.TCH250830P300000", OptionType: "Put", Direction: "bearish", Price: 5, Volume: 100, Turnover: 500000},
		{StockCode: "HK.00700", StockName: "Tencent", OptionCode: "HK.TCH250930C400000", OptionType: "Call", Direction: "bullish", Price: 3, Volume: 100, Turnover: 300000},
		{StockCode: "HK.00700", StockName: "Tencent", OptionCode: "HK.TCH250930P280000", OptionType: "Put", Direction: "bearish", Price: 1, Volume: 100, Turnover: 100000},
	}

	text := Summary("HK", at, events, 1000000)

	if !strings.Contains(text, "Time: 2025-03-03 14:30:00") {
		t.Errorf("missing time header:\n%s", text)
	}
	if !strings.Contains(text, "Alerts: 5 new, 1 qualified (turnover >= 1,000,000)") {
		t.Errorf("wrong header counts:\n%s", text)
	}
	if !strings.Contains(text, "Turnover: 2,100,000 total, 1,000,000 qualified") {
		t.Errorf("wrong turnover line:\n%s", text)
	}

	tencent := strings.Index(text, "Tencent HK.00700: 4 trades, 1,900,000")
	alibaba := strings.Index(text, "Alibaba HK.09988: 1 trades, 200,000")
	if tencent < 0 || alibaba < 0 {
		t.Fatalf("missing group headers:\n%s", text)
	}
	if tencent > alibaba {
		t.Error("groups not sorted by turnover descending")
	}

	// Tencent lists only its top three contracts.
	if strings.Contains(text, "HK.TCH250930P280000") {
		t.Errorf("fourth contract should be capped out:\n%s", text)
	}
	first := strings.Index(text, "1. HK.TCH250830C360000")
	second := strings.Index(text, "2. HK.TCH250830P300000")
	if first < 0 || second < 0 || first > second {
		t.Errorf("contracts not sorted by turnover:\n%s", text)
	}
}

func TestSummaryEventLineDetails(t *testing.T) {
	at := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)
	text := Summary("HK", at, sampleEvents(), 1000000)

	want := "1. HK.TCH250830C360000: Call bullish, 12.300 x 500, +150, turnover 3,690,000, OI 5,400 (+120), net OI 2,100 (-30)"
	if !strings.Contains(text, want) {
		t.Errorf("summary missing detail line %q:\n%s", want, text)
	}
}

func TestSummaryNoEvents(t *testing.T) {
	text := Summary("US", time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC), nil, 1000000)
	if !strings.Contains(text, "No big trades in this scan") {
		t.Errorf("missing empty marker:\n%s", text)
	}
}

func TestComma(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-9876543, "-9,876,543"},
	}
	for _, tc := range cases {
		if got := comma(tc.in); got != tc.want {
			t.Errorf("comma(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
