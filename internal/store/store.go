package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gopikiran22001/ReWear/internal/models"
)

// partialIndexes back the "at most one pending" invariants that gorm tags
// cannot express.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_pending_product
		ON transactions(product_id) WHERE status = 'pending'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_pending_customer_product
		ON requests(customer_id, product_id) WHERE status = 'pending'`,
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// InitDB opens the sqlite database at path and applies the schema.
//
// The pool is limited to a single connection: sqlite allows one writer and
// every multi-row state change runs inside db.Transaction, so serializing at
// the pool keeps concurrent units of work from interleaving.
func InitDB(path string) (*gorm.DB, error) {
	d, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := d.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	for _, pragma := range pragmas {
		if err := d.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if err := Migrate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Migrate creates or updates every table and index. Safe to call repeatedly.
func Migrate(d *gorm.DB) error {
	if err := d.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range partialIndexes {
		if err := d.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func Ping(ctx context.Context, d *gorm.DB) error {
	sqlDB, err := d.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func Close(d *gorm.DB) error {
	sqlDB, err := d.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SweepExpiredCodes deletes one-time codes whose expiry has passed and
// returns how many rows were removed.
func SweepExpiredCodes(ctx context.Context, d *gorm.DB, now time.Time) (int64, error) {
	res := d.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.OneTimeCode{})
	return res.RowsAffected, res.Error
}

// RunCodeSweeper removes expired one-time codes every interval until ctx is
// done. It stands in for a storage-level TTL index.
func RunCodeSweeper(ctx context.Context, d *gorm.DB, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := SweepExpiredCodes(ctx, d, now.UTC())
			if err != nil {
				log.Warn("one-time code sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("swept expired one-time codes", "count", n)
			}
		}
	}
}
