package scheduler

import (
	"testing"
	"time"

	"optionflow/config"
)

func hkHoursConfig() config.TradingHoursConfig {
	return config.TradingHoursConfig{
		Open:       "09:30",
		Close:      "16:00",
		LunchStart: "12:00",
		LunchEnd:   "13:00",
		Timezone:   "Asia/Hong_Kong",
	}
}

func usHoursConfig() config.TradingHoursConfig {
	return config.TradingHoursConfig{
		Open:     "09:30",
		Close:    "16:00",
		Timezone: "America/New_York",
	}
}

func TestTradingHoursWithLunch(t *testing.T) {
	h, err := NewTradingHours(hkHoursConfig())
	if err != nil {
		t.Fatalf("NewTradingHours: %v", err)
	}
	loc := h.Location()

	// 2025-03-03 is a Monday.
	cases := []struct {
		hour, minute int
		want         bool
	}{
		{9, 29, false},
		{9, 30, true},
		{10, 0, true},
		{11, 59, true},
		{12, 0, false},
		{12, 30, false},
		{12, 59, false},
		{13, 0, true},
		{15, 59, true},
		{16, 0, false},
		{20, 0, false},
	}
	for _, tc := range cases {
		at := time.Date(2025, 3, 3, tc.hour, tc.minute, 0, 0, loc)
		if got := h.IsOpen(at); got != tc.want {
			t.Errorf("IsOpen(%02d:%02d) = %v, want %v", tc.hour, tc.minute, got, tc.want)
		}
	}
}

func TestTradingHoursWeekendClosed(t *testing.T) {
	h, err := NewTradingHours(hkHoursConfig())
	if err != nil {
		t.Fatalf("NewTradingHours: %v", err)
	}
	loc := h.Location()

	saturday := time.Date(2025, 3, 1, 10, 0, 0, 0, loc)
	if h.IsOpen(saturday) {
		t.Error("Saturday mid-morning reported open")
	}
	sunday := time.Date(2025, 3, 2, 10, 0, 0, 0, loc)
	if h.IsOpen(sunday) {
		t.Error("Sunday mid-morning reported open")
	}
}

func TestTradingHoursNoLunch(t *testing.T) {
	h, err := NewTradingHours(usHoursConfig())
	if err != nil {
		t.Fatalf("NewTradingHours: %v", err)
	}
	at := time.Date(2025, 3, 3, 12, 30, 0, 0, h.Location())
	if !h.IsOpen(at) {
		t.Error("midday closed for a session without a lunch break")
	}
}

func TestTradingHoursConvertsTimezone(t *testing.T) {
	h, err := NewTradingHours(hkHoursConfig())
	if err != nil {
		t.Fatalf("NewTradingHours: %v", err)
	}

	// 02:00 UTC on Monday is 10:00 in Hong Kong.
	at := time.Date(2025, 3, 3, 2, 0, 0, 0, time.UTC)
	if !h.IsOpen(at) {
		t.Error("UTC instant inside the HK session reported closed")
	}
}

func TestNewTradingHoursRejectsBadInput(t *testing.T) {
	bad := []config.TradingHoursConfig{
		{Open: "9am", Close: "16:00", Timezone: "UTC"},
		{Open: "09:30", Close: "25:00", Timezone: "UTC"},
		{Open: "09:30", Close: "16:00", Timezone: "Mars/Olympus"},
		{Open: "09:30", Close: "16:00", LunchStart: "noon", LunchEnd: "13:00", Timezone: "UTC"},
	}
	for i, cfg := range bad {
		if _, err := NewTradingHours(cfg); err == nil {
			t.Errorf("case %d: expected error for %+v", i, cfg)
		}
	}
}

func TestParseMinutes(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"0930", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := parseMinutes(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseMinutes(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMinutes(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseMinutes(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
