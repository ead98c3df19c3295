package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveQuote upserts one observed quote keyed on (option_code, timestamp).
func (s *Store) SaveQuote(ctx context.Context, q *OptionQuote) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "option_code"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price", "volume", "turnover", "change_rate",
			"open_interest", "net_open_interest",
		}),
	}).Create(q).Error
}

// SaveQuotes upserts a batch of quotes from one scan cycle.
func (s *Store) SaveQuotes(ctx context.Context, quotes []OptionQuote) error {
	if len(quotes) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "option_code"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price", "volume", "turnover", "change_rate",
			"open_interest", "net_open_interest",
		}),
	}).CreateInBatches(quotes, 500).Error
}

// PreviousVolume returns the highest volume recorded for the contract today
// that is strictly below the current one. With monotone cumulative volume
// this is the previous observation; after a data glitch it is the closest
// earlier level. Returns 0 when the contract has no history today.
func (s *Store) PreviousVolume(ctx context.Context, optionCode, tradeDate string, currentVolume int64) (int64, error) {
	var q OptionQuote
	err := s.db.WithContext(ctx).
		Where("option_code = ? AND trade_date = ? AND volume < ?", optionCode, tradeDate, currentVolume).
		Order("volume DESC, timestamp DESC").
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return q.Volume, nil
}

// PreviousOpenInterest returns the open interest pair from the latest row
// recorded for the contract today, or zeros when there is none.
func (s *Store) PreviousOpenInterest(ctx context.Context, optionCode, tradeDate string) (int64, int64, error) {
	var q OptionQuote
	err := s.db.WithContext(ctx).
		Where("option_code = ? AND trade_date = ?", optionCode, tradeDate).
		Order("timestamp DESC").
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return q.OpenInterest, q.NetOpenInterest, nil
}

// TodayVolumes returns the latest recorded volume per option code for the
// market and trading day. The volume tracker hydrates from this after a
// restart.
func (s *Store) TodayVolumes(ctx context.Context, market, tradeDate string) (map[string]int64, error) {
	rows := []struct {
		OptionCode string
		Volume     int64
	}{}

	err := s.db.WithContext(ctx).Raw(`
		SELECT q.option_code, q.volume
		FROM option_quotes q
		JOIN (
			SELECT option_code, MAX(timestamp) AS ts
			FROM option_quotes
			WHERE market = ? AND trade_date = ?
			GROUP BY option_code
		) latest ON q.option_code = latest.option_code AND q.timestamp = latest.ts
		WHERE q.market = ? AND q.trade_date = ?`,
		market, tradeDate, market, tradeDate).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	volumes := make(map[string]int64, len(rows))
	for _, row := range rows {
		volumes[row.OptionCode] = row.Volume
	}
	return volumes, nil
}

// RecentQuotes returns quotes observed since the given time, newest first.
func (s *Store) RecentQuotes(ctx context.Context, market string, since time.Time) ([]OptionQuote, error) {
	var quotes []OptionQuote
	err := s.db.WithContext(ctx).
		Where("market = ? AND timestamp >= ?", market, since).
		Order("timestamp DESC").
		Find(&quotes).Error
	return quotes, err
}

// UpsertStockInfo refreshes the cached name and price of an underlying.
func (s *Store) UpsertStockInfo(ctx context.Context, info *StockInfo) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "market", "last_price", "updated_at"}),
	}).Create(info).Error
}

// StockInfos returns all cached underlyings.
func (s *Store) StockInfos(ctx context.Context) ([]StockInfo, error) {
	var infos []StockInfo
	err := s.db.WithContext(ctx).Order("code").Find(&infos).Error
	return infos, err
}

// SaveAlert records a raised alert.
func (s *Store) SaveAlert(ctx context.Context, a *Alert) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// RecentAlerts returns the latest alerts, newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	var alerts []Alert
	err := s.db.WithContext(ctx).Order("detected_at DESC").Limit(limit).Find(&alerts).Error
	return alerts, err
}

// TodayQuoteCount counts quotes recorded on the trading day.
func (s *Store) TodayQuoteCount(ctx context.Context, tradeDate string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&OptionQuote{}).Where("trade_date = ?", tradeDate).Count(&n).Error
	return n, err
}

// TodayAlertCount counts alerts raised on the trading day.
func (s *Store) TodayAlertCount(ctx context.Context, tradeDate string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Alert{}).Where("trade_date = ?", tradeDate).Count(&n).Error
	return n, err
}

// CleanupBefore deletes quotes and alerts older than the cutoff and reports
// how many rows were removed.
func (s *Store) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	quotes := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&OptionQuote{})
	if quotes.Error != nil {
		return 0, quotes.Error
	}
	alerts := s.db.WithContext(ctx).Where("detected_at < ?", cutoff).Delete(&Alert{})
	if alerts.Error != nil {
		return quotes.RowsAffected, alerts.Error
	}
	return quotes.RowsAffected + alerts.RowsAffected, nil
}
