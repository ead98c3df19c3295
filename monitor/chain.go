package monitor

import (
	"context"
	"time"

	"optionflow/logger"
	"optionflow/models"
	"optionflow/retry"
)

// buildUniverse assembles the contracts to scan for one underlying: listed
// expiries inside the rule's window, then per-expiry chains narrowed to
// strikes near the current price.
func (s *Scanner) buildUniverse(ctx context.Context, underlying string, price float64, rule models.ThresholdRule) ([]models.OptionContract, error) {
	dates, err := retry.DoNonEmpty(ctx, s.log, s.retryPolicy, "expirations "+underlying, func() ([]string, error) {
		return s.data.ExpirationDates(ctx, underlying)
	})
	if err != nil {
		return nil, err
	}

	near := withinExpiryWindow(dates, time.Now(), s.loc, rule.MaxDaysToExpiry)
	if len(near) == 0 {
		s.log.WithFields(logger.Fields{"underlying": underlying, "listed": len(dates)}).Debug("no expiries inside window")
		return nil, nil
	}

	var universe []models.OptionContract
	for _, date := range near {
		chain, err := retry.DoNonEmpty(ctx, s.log, s.retryPolicy, "chain "+underlying+" "+date, func() ([]models.OptionContract, error) {
			return s.data.OptionChain(ctx, underlying, date)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.WithError(err).WithFields(logger.Fields{"underlying": underlying, "expiry": date}).Warn("skipping expiry, chain unavailable")
			continue
		}
		universe = append(universe, FilterStrikes(chain, price, rule.StrikeRangeFraction)...)
	}
	return universe, nil
}

// withinExpiryWindow keeps dates between today and maxDays out, inclusive.
func withinExpiryWindow(dates []string, now time.Time, loc *time.Location, maxDays int) []string {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var near []string
	for _, date := range dates {
		expiry, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			continue
		}
		days := int(expiry.Sub(today).Hours() / 24)
		if days >= 0 && days <= maxDays {
			near = append(near, date)
		}
	}
	return near
}
