// Package monitor implements the per-market scan cycle: build the contract
// universe near the money, snapshot it through the gateway, persist every
// quote, and raise alerts for trades that clear the configured thresholds.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
	"optionflow/optioncode"
	"optionflow/retry"
	"optionflow/store"
)

// MarketData is the slice of the gateway client the scanner calls.
type MarketData interface {
	StockQuotes(ctx context.Context, loc *time.Location, codes []string) ([]models.StockQuote, error)
	OptionSnapshots(ctx context.Context, loc *time.Location, codes []string) ([]models.OptionSnapshot, error)
	ExpirationDates(ctx context.Context, underlying string) ([]string, error)
	OptionChain(ctx context.Context, underlying, expiry string) ([]models.OptionContract, error)
}

// Storage is the slice of the store the scanner writes through.
type Storage interface {
	History
	SaveQuotes(ctx context.Context, quotes []store.OptionQuote) error
	UpsertStockInfo(ctx context.Context, info *store.StockInfo) error
	SaveAlert(ctx context.Context, a *store.Alert) error
}

// Notifier delivers grouped alert summaries.
type Notifier interface {
	NotifyTrades(ctx context.Context, market string, events []models.TradeEvent) error
}

// Scanner runs one market's scan cycle. A scanner is driven by a single
// worker goroutine; Scan is never called concurrently.
type Scanner struct {
	market      string
	underlyings []string
	loc         *time.Location
	data        MarketData
	storage     Storage
	tracker     *VolumeTracker
	classifier  *Classifier
	notifier    Notifier
	channels    *models.Channels
	retryPolicy retry.Policy
	cooldown    time.Duration
	lastAlert   map[string]time.Time
	log         *logger.Entry
}

// NewScanner wires a scanner for one market.
func NewScanner(market string, cfg *config.Config, data MarketData, storage Storage, notifier Notifier, channels *models.Channels, log *logger.Log) (*Scanner, error) {
	marketCfg, ok := cfg.Market(market)
	if !ok {
		return nil, fmt.Errorf("unknown market %q", market)
	}
	loc, err := marketCfg.TradingHours.Location()
	if err != nil {
		return nil, fmt.Errorf("market %s timezone: %w", market, err)
	}

	return &Scanner{
		market:      market,
		underlyings: marketCfg.Underlyings,
		loc:         loc,
		data:        data,
		storage:     storage,
		tracker:     NewVolumeTracker(market, loc, storage, log),
		classifier:  NewClassifier(cfg.Filters),
		notifier:    notifier,
		channels:    channels,
		retryPolicy: retry.Policy{MaxAttempts: cfg.Gateway.Retry.MaxAttempts, Delay: cfg.Gateway.Retry.Delay},
		cooldown:    cfg.Notify.Cooldown,
		lastAlert:   make(map[string]time.Time),
		log:         log.WithComponent("scanner").WithFields(logger.Fields{"market": market}),
	}, nil
}

// Market returns the market this scanner serves.
func (s *Scanner) Market() string {
	return s.market
}

// WarmUp seeds the volume tracker from today's stored history.
func (s *Scanner) WarmUp(ctx context.Context) error {
	return s.tracker.WarmUp(ctx)
}

// Scan runs one full pass over the market's underlyings.
func (s *Scanner) Scan(ctx context.Context) error {
	started := time.Now()
	scanID := uuid.New().String()

	stockQuotes, err := retry.DoNonEmpty(ctx, s.log, s.retryPolicy, "stock snapshot", func() ([]models.StockQuote, error) {
		return s.data.StockQuotes(ctx, s.loc, s.underlyings)
	})
	if err != nil {
		return fmt.Errorf("stock snapshot failed: %w", err)
	}

	prices := make(map[string]models.StockQuote, len(stockQuotes))
	for _, quote := range stockQuotes {
		prices[quote.Code] = quote
		info := store.StockInfo{Code: quote.Code, Name: quote.Name, Market: s.market, LastPrice: quote.Price, UpdatedAt: quote.Timestamp}
		if err := s.storage.UpsertStockInfo(ctx, &info); err != nil {
			s.log.WithError(err).WithFields(logger.Fields{"stock": quote.Code}).Warn("failed to update stock info")
		}
	}

	var (
		batch  []store.OptionQuote
		events []models.TradeEvent
	)

	for _, underlying := range s.underlyings {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		quote, ok := prices[underlying]
		if !ok || quote.Price <= 0 {
			s.log.WithFields(logger.Fields{"underlying": underlying}).Warn("no usable price, skipping underlying")
			continue
		}

		rule := s.classifier.RuleFor(s.market, underlying)
		universe, err := s.buildUniverse(ctx, underlying, quote.Price, rule)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.WithError(err).WithFields(logger.Fields{"underlying": underlying}).Warn("skipping underlying, universe unavailable")
			continue
		}
		if len(universe) == 0 {
			continue
		}

		contracts := make(map[string]models.OptionContract, len(universe))
		codes := make([]string, 0, len(universe))
		for _, contract := range universe {
			contracts[contract.Code] = contract
			codes = append(codes, contract.Code)
		}

		snapshots, err := retry.DoNonEmpty(ctx, s.log, s.retryPolicy, "option snapshot "+underlying, func() ([]models.OptionSnapshot, error) {
			return s.data.OptionSnapshots(ctx, s.loc, codes)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.WithError(err).WithFields(logger.Fields{"underlying": underlying}).Warn("skipping underlying, snapshots unavailable")
			continue
		}

		for _, snap := range snapshots {
			if snap.StockCode == "" {
				snap.StockCode = underlying
			}

			deltas, err := s.tracker.Observe(ctx, snap)
			if err != nil {
				s.log.WithError(err).WithFields(logger.Fields{"option": snap.OptionCode}).Warn("failed to compute deltas")
				continue
			}

			batch = append(batch, s.quoteRecord(snap, contracts[snap.OptionCode]))
			s.channels.SendQuote(ctx, snap)

			if !s.classifier.IsBigTrade(rule, snap, deltas.VolumeDelta) {
				continue
			}
			if deltas.VolumeDelta <= 0 {
				continue
			}
			if !s.cooldownPassed(snap.OptionCode) {
				continue
			}

			event := s.tradeEvent(scanID, snap, contracts[snap.OptionCode], quote, deltas)
			events = append(events, event)
			s.lastAlert[snap.OptionCode] = time.Now()
			s.channels.SendEvent(ctx, event)

			alert := alertRecord(s.market, event, models.TradeDay(snap.Timestamp, s.loc))
			if err := s.storage.SaveAlert(ctx, &alert); err != nil {
				s.log.WithError(err).WithFields(logger.Fields{"option": snap.OptionCode}).Warn("failed to persist alert")
			}
		}
	}

	if err := s.storage.SaveQuotes(ctx, batch); err != nil {
		return fmt.Errorf("failed to persist quotes: %w", err)
	}

	if len(events) > 0 && s.notifier != nil {
		if err := s.notifier.NotifyTrades(ctx, s.market, events); err != nil {
			s.log.WithError(err).Warn("alert notification failed")
		} else {
			logger.IncrementAlertsSent(len(events))
		}
	}

	logger.IncrementScan(s.market, len(batch))
	logger.IncrementQuotesStored(len(batch))
	s.log.WithFields(logger.Fields{
		"scan_id":     scanID,
		"quotes":      len(batch),
		"alerts":      len(events),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("scan complete")
	return nil
}

// quoteRecord converts a snapshot into its storage row. Contract metadata
// fills strike, type and expiry; the parsed code is the fallback when the
// chain did not cover this contract.
func (s *Scanner) quoteRecord(snap models.OptionSnapshot, contract models.OptionContract) store.OptionQuote {
	strike := contract.StrikePrice
	optionType := contract.OptionType
	expiry := contract.ExpiryDate

	if snap.StrikeFromAPI > 0 {
		strike = snap.StrikeFromAPI
	}
	if strike == 0 || optionType == "" || expiry == "" {
		if parsed := optioncode.Parse(snap.OptionCode); parsed.Valid {
			if strike == 0 {
				strike = parsed.Strike
			}
			if optionType == "" {
				optionType = parsed.OptionType
			}
			if expiry == "" {
				expiry = parsed.Expiry.Format("2006-01-02")
			}
		}
	}

	return store.OptionQuote{
		Market:          s.market,
		StockCode:       snap.StockCode,
		OptionCode:      snap.OptionCode,
		Name:            snap.Name,
		Price:           snap.Price,
		Volume:          snap.Volume,
		Turnover:        snap.Turnover,
		ChangeRate:      snap.ChangeRate,
		OpenInterest:    snap.OpenInterest,
		NetOpenInterest: snap.NetOpenInterest,
		StrikePrice:     strike,
		OptionType:      optionType,
		ExpiryDate:      expiry,
		TradeDate:       models.TradeDay(snap.Timestamp, s.loc),
		Timestamp:       snap.Timestamp,
	}
}

func (s *Scanner) tradeEvent(scanID string, snap models.OptionSnapshot, contract models.OptionContract, stock models.StockQuote, deltas Deltas) models.TradeEvent {
	record := s.quoteRecord(snap, contract)

	direction := "bullish"
	if record.OptionType == models.OptionTypePut {
		direction = "bearish"
	}

	priceDiff := record.StrikePrice - stock.Price
	priceDiffPct := 0.0
	if stock.Price > 0 {
		priceDiffPct = priceDiff / stock.Price * 100
	}

	return models.TradeEvent{
		ScanID:               scanID,
		StockCode:            snap.StockCode,
		StockName:            stock.Name,
		OptionCode:           snap.OptionCode,
		Timestamp:            snap.Timestamp,
		DetectedAt:           time.Now(),
		Price:                snap.Price,
		Volume:               snap.Volume,
		Turnover:             snap.Turnover,
		ChangeRate:           snap.ChangeRate,
		StrikePrice:          record.StrikePrice,
		OptionType:           record.OptionType,
		ExpiryDate:           record.ExpiryDate,
		StockPrice:           stock.Price,
		PriceDiff:            priceDiff,
		PriceDiffPct:         priceDiffPct,
		PreviousVolume:       deltas.PreviousVolume,
		VolumeDelta:          deltas.VolumeDelta,
		OpenInterest:         snap.OpenInterest,
		NetOpenInterest:      snap.NetOpenInterest,
		OpenInterestDelta:    deltas.OpenInterestDelta,
		NetOpenInterestDelta: deltas.NetOpenInterestDelta,
		Direction:            direction,
	}
}

func alertRecord(market string, e models.TradeEvent, tradeDate string) store.Alert {
	return store.Alert{
		ScanID:               e.ScanID,
		Market:               market,
		StockCode:            e.StockCode,
		StockName:            e.StockName,
		OptionCode:           e.OptionCode,
		Price:                e.Price,
		Volume:               e.Volume,
		PreviousVolume:       e.PreviousVolume,
		VolumeDelta:          e.VolumeDelta,
		Turnover:             e.Turnover,
		ChangeRate:           e.ChangeRate,
		OpenInterest:         e.OpenInterest,
		NetOpenInterest:      e.NetOpenInterest,
		OpenInterestDelta:    e.OpenInterestDelta,
		NetOpenInterestDelta: e.NetOpenInterestDelta,
		StrikePrice:          e.StrikePrice,
		OptionType:           e.OptionType,
		ExpiryDate:           e.ExpiryDate,
		StockPrice:           e.StockPrice,
		PriceDiff:            e.PriceDiff,
		PriceDiffPct:         e.PriceDiffPct,
		Direction:            e.Direction,
		TradeDate:            tradeDate,
		DetectedAt:           e.DetectedAt,
	}
}

// cooldownPassed dedupes alerts per contract across scan cycles.
func (s *Scanner) cooldownPassed(optionCode string) bool {
	last, ok := s.lastAlert[optionCode]
	if !ok {
		return true
	}
	return time.Since(last) >= s.cooldown
}
