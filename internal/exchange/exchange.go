// Package exchange runs the exchange lifecycle: requests against listed
// products, the transactions they turn into, and the one-time code
// handshake that settles points and ownership.
package exchange

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/models"
)

// DefaultPasscodeTTL is how long a generated one-time code stays valid.
const DefaultPasscodeTTL = 900 * time.Second

// Engine owns every multi-row state change of the exchange lifecycle. Each
// operation runs as a single db.Transaction.
type Engine struct {
	db          *gorm.DB
	log         *slog.Logger
	passcodeTTL time.Duration
	now         func() time.Time
}

func NewEngine(db *gorm.DB, log *slog.Logger, passcodeTTL time.Duration) *Engine {
	if passcodeTTL <= 0 {
		passcodeTTL = DefaultPasscodeTTL
	}
	return &Engine{db: db, log: log, passcodeTTL: passcodeTTL, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source, for tests.
func (e *Engine) WithClock(nowFn func() time.Time) {
	e.now = nowFn
}

func loadRequest(tx *gorm.DB, id string) (models.Request, error) {
	var r models.Request
	err := tx.First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Request{}, apperr.NotFound("request not found")
	}
	if err != nil {
		return models.Request{}, fmt.Errorf("load request: %w", err)
	}
	return r, nil
}

func loadTransaction(tx *gorm.DB, id string) (models.Transaction, error) {
	var t models.Transaction
	err := tx.First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Transaction{}, apperr.NotFound("transaction not found")
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	return t, nil
}

func loadUser(tx *gorm.DB, id string) (models.User, error) {
	var u models.User
	err := tx.First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// productName is used in notification text; a deleted product still gets
// a readable message.
func productName(tx *gorm.DB, id string) string {
	var p models.Product
	if err := tx.Select("name").First(&p, "id = ?", id).Error; err != nil {
		return "a product"
	}
	return p.Name
}
