package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"optionflow/config"
)

// TradingHours answers whether a market is in session at a given instant,
// in the market's own timezone. Weekends are always closed; the midday
// break is optional.
type TradingHours struct {
	open       int
	close      int
	lunchStart int
	lunchEnd   int
	hasLunch   bool
	loc        *time.Location
}

// NewTradingHours parses a session config into a checker.
func NewTradingHours(cfg config.TradingHoursConfig) (*TradingHours, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	open, err := parseMinutes(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("invalid open time: %w", err)
	}
	closeAt, err := parseMinutes(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("invalid close time: %w", err)
	}

	h := &TradingHours{open: open, close: closeAt, loc: loc}

	if cfg.LunchStart != "" && cfg.LunchEnd != "" {
		start, err := parseMinutes(cfg.LunchStart)
		if err != nil {
			return nil, fmt.Errorf("invalid lunch start: %w", err)
		}
		end, err := parseMinutes(cfg.LunchEnd)
		if err != nil {
			return nil, fmt.Errorf("invalid lunch end: %w", err)
		}
		h.lunchStart = start
		h.lunchEnd = end
		h.hasLunch = true
	}

	return h, nil
}

// Location returns the market timezone.
func (h *TradingHours) Location() *time.Location {
	return h.loc
}

// IsOpen reports whether the market is in session at t.
func (h *TradingHours) IsOpen(t time.Time) bool {
	local := t.In(h.loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	if minute < h.open || minute >= h.close {
		return false
	}
	if h.hasLunch && minute >= h.lunchStart && minute < h.lunchEnd {
		return false
	}
	return true
}

// parseMinutes converts "HH:MM" to minutes after midnight.
func parseMinutes(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour*60 + minute, nil
}
