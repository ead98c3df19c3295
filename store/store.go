// Package store persists option quotes, stock infos and raised alerts in
// PostgreSQL. Every scan writes through here; the volume tracker reads back
// the day's history after restarts.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"optionflow/config"
	"optionflow/logger"
)

// Store wraps the database handle with the queries the monitor needs.
type Store struct {
	db  *gorm.DB
	log *logger.Entry
}

// Open connects to PostgreSQL and migrates the schema.
func Open(cfg config.PostgresConfig, log *logger.Log) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.ConnString()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.AutoMigrate(&OptionQuote{}, &StockInfo{}, &Alert{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, log: log.WithComponent("store")}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartCleanup runs a periodic purge of rows older than the retention window.
func (s *Store) StartCleanup(ctx context.Context, retentionDays int, interval time.Duration) {
	if retentionDays <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retentionDays)
				deleted, err := s.CleanupBefore(ctx, cutoff)
				if err != nil {
					s.log.WithError(err).Warn("retention cleanup failed")
					continue
				}
				s.log.WithFields(logger.Fields{"deleted": deleted, "cutoff": cutoff.Format("2006-01-02")}).Info("retention cleanup done")
			}
		}
	}()
}
