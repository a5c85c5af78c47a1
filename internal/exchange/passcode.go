package exchange

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/models"
)

const passcodeAttempts = 5

// Passcode is the handle returned to the customer after generation. The
// customer reads Code to the owner during the hand-over.
type Passcode struct {
	ID        string    `json:"otpId"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func handle(o models.OneTimeCode) *Passcode {
	return &Passcode{ID: o.ID, Code: o.Code, ExpiresAt: o.ExpiresAt}
}

// randomCode returns a uniformly distributed six digit code.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate passcode: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// currentPasscode returns the live code linked to t, if any. A linked row
// may be expired, consumed, or already removed by the sweeper.
func currentPasscode(tx *gorm.DB, t models.Transaction, now time.Time) (models.OneTimeCode, bool, error) {
	if t.OnetimePasscodeID == nil {
		return models.OneTimeCode{}, false, nil
	}
	var o models.OneTimeCode
	err := tx.First(&o, "id = ?", *t.OnetimePasscodeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.OneTimeCode{}, false, nil
	}
	if err != nil {
		return models.OneTimeCode{}, false, fmt.Errorf("load passcode: %w", err)
	}
	return o, o.Live(now), nil
}

// issuePasscode creates a fresh code for t and links it. Codes are drawn
// until none of the live codes share the value, so a submitted code maps to
// at most one transaction.
func issuePasscode(tx *gorm.DB, t *models.Transaction, now time.Time, ttl time.Duration) (models.OneTimeCode, error) {
	var code string
	for attempt := 0; ; attempt++ {
		if attempt == passcodeAttempts {
			return models.OneTimeCode{}, fmt.Errorf("generate passcode: no free code after %d attempts", passcodeAttempts)
		}
		candidate, err := randomCode()
		if err != nil {
			return models.OneTimeCode{}, err
		}
		var clashes int64
		err = tx.Model(&models.OneTimeCode{}).
			Where("code = ? AND consumed_at IS NULL AND expires_at > ?", candidate, now).
			Count(&clashes).Error
		if err != nil {
			return models.OneTimeCode{}, fmt.Errorf("check passcode: %w", err)
		}
		if clashes == 0 {
			code = candidate
			break
		}
	}

	if t.OnetimePasscodeID != nil {
		if err := tx.Delete(&models.OneTimeCode{}, "id = ?", *t.OnetimePasscodeID).Error; err != nil {
			return models.OneTimeCode{}, fmt.Errorf("drop stale passcode: %w", err)
		}
	}

	o := models.OneTimeCode{
		Code:          code,
		TransactionID: t.ID,
		ExpiresAt:     now.Add(ttl),
	}
	if err := tx.Create(&o).Error; err != nil {
		return models.OneTimeCode{}, fmt.Errorf("store passcode: %w", err)
	}

	res := tx.Model(&models.Transaction{}).
		Where("id = ? AND status = ?", t.ID, models.TransactionPending).
		Updates(map[string]any{"onetime_passcode_id": o.ID, "updated_at": now})
	if res.Error != nil {
		return models.OneTimeCode{}, fmt.Errorf("link passcode: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.OneTimeCode{}, apperr.Conflict("transaction already processed")
	}
	t.OnetimePasscodeID = &o.ID
	t.UpdatedAt = now
	return o, nil
}

// resolvePasscode finds the live code matching code and checks that it
// belongs to transactionID.
func resolvePasscode(tx *gorm.DB, transactionID, code string, now time.Time) (models.OneTimeCode, error) {
	if code == "" {
		return models.OneTimeCode{}, apperr.BadRequest("one-time passcode is required")
	}
	var live []models.OneTimeCode
	err := tx.Where("code = ? AND consumed_at IS NULL AND expires_at > ?", code, now).Find(&live).Error
	if err != nil {
		return models.OneTimeCode{}, fmt.Errorf("resolve passcode: %w", err)
	}
	if len(live) == 0 {
		return models.OneTimeCode{}, apperr.BadRequest("invalid or expired one-time passcode")
	}
	for _, o := range live {
		if o.TransactionID == transactionID {
			return o, nil
		}
	}
	return models.OneTimeCode{}, apperr.BadRequest("one-time passcode does not match this transaction")
}
