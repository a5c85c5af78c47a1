package exchange

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/catalog"
	"github.com/gopikiran22001/ReWear/internal/models"
	"github.com/gopikiran22001/ReWear/internal/notify"
)

// Step is the action a party takes on a pending transaction. The step is
// chosen from the caller's role, never from the request body.
type Step interface {
	isStep()
}

// GenerateStep is the customer's side: obtain the code to hand over.
type GenerateStep struct{}

// VerifyStep is the owner's side: submit the code received from the
// customer and settle.
type VerifyStep struct {
	Code string
}

func (GenerateStep) isStep() {}
func (VerifyStep) isStep()   {}

// StepFor resolves which step actorID may take on t.
func StepFor(t models.Transaction, actorID, code string) (Step, error) {
	switch actorID {
	case t.CustomerID:
		return GenerateStep{}, nil
	case t.OwnerID:
		return VerifyStep{Code: code}, nil
	default:
		return nil, apperr.Forbidden("not part of this transaction")
	}
}

// Outcome reports the result of Advance. Passcode is set after a generate
// step; after a verify step the transaction is confirmed.
type Outcome struct {
	Transaction models.Transaction `json:"transaction"`
	Passcode    *Passcode          `json:"passcode,omitempty"`
	Settled     bool               `json:"settled"`
}

// ListTransactions returns every transaction userID takes part in, newest
// first.
func (e *Engine) ListTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	out := []models.Transaction{}
	err := e.db.WithContext(ctx).
		Where("owner_id = ? OR customer_id = ?", userID, userID).
		Order("created_at desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

// Advance moves a pending transaction forward on behalf of actorID. The
// customer generates (or re-reads) the one-time passcode; the owner submits
// it, which settles the exchange.
func (e *Engine) Advance(ctx context.Context, actorID, transactionID, code string) (Outcome, error) {
	if transactionID == "" {
		return Outcome{}, apperr.Validation("transaction ID is required")
	}

	var out Outcome
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := loadTransaction(tx, transactionID)
		if err != nil {
			return err
		}
		step, err := StepFor(t, actorID, code)
		if err != nil {
			return err
		}
		if t.Status != models.TransactionPending {
			return apperr.Conflict("transaction already processed")
		}

		now := e.now()
		switch s := step.(type) {
		case GenerateStep:
			o, live, err := currentPasscode(tx, t, now)
			if err != nil {
				return err
			}
			if !live {
				if o, err = issuePasscode(tx, &t, now, e.passcodeTTL); err != nil {
					return err
				}
			}
			out = Outcome{Transaction: t, Passcode: handle(o)}
			return nil
		case VerifyStep:
			if err := e.settle(tx, &t, s.Code, now); err != nil {
				return err
			}
			out = Outcome{Transaction: t, Settled: true}
			return nil
		default:
			return fmt.Errorf("unknown step %T", step)
		}
	})
	if err != nil {
		return Outcome{}, err
	}
	if out.Settled {
		e.log.Info("transaction settled", "transaction_id", transactionID, "product_id", out.Transaction.ProductID)
	}
	return out, nil
}

// settle verifies code and applies the exchange: points move from customer
// to owner, the product is marked sold, the passcode is consumed and both
// parties are notified. It must run inside tx.
func (e *Engine) settle(tx *gorm.DB, t *models.Transaction, code string, now time.Time) error {
	otp, err := resolvePasscode(tx, t.ID, code, now)
	if err != nil {
		return err
	}

	product, err := catalog.Find(tx, t.ProductID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.Conflict("product not available")
		}
		return err
	}
	if product.Status != models.ProductAvailable {
		return apperr.Conflict("product not available")
	}
	if product.Owner.UserID != t.OwnerID {
		return apperr.Conflict("ownership mismatch")
	}

	customer, err := loadUser(tx, t.CustomerID)
	if err != nil {
		return err
	}
	owner, err := loadUser(tx, t.OwnerID)
	if err != nil {
		return err
	}
	if customer.Points < product.Cost {
		return apperr.Conflict("customer has insufficient points").
			With("required", fmt.Sprint(product.Cost)).
			With("available", fmt.Sprint(customer.Points))
	}

	res := tx.Model(&models.Transaction{}).
		Where("id = ? AND status = ?", t.ID, models.TransactionPending).
		Updates(map[string]any{
			"status":       models.TransactionConfirmed,
			"confirmed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("confirm transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("transaction already processed")
	}
	t.Status = models.TransactionConfirmed
	t.ConfirmedAt = &now
	t.UpdatedAt = now

	debit := map[string]any{
		"points":      gorm.Expr("points - ?", product.Cost),
		"total_swaps": gorm.Expr("total_swaps + 1"),
		"updated_at":  now,
	}
	if product.CarbonFootprint != nil {
		debit["co2_saved"] = gorm.Expr("co2_saved + ?", *product.CarbonFootprint)
	}
	if product.WaterUsage != nil {
		debit["water_saved"] = gorm.Expr("water_saved + ?", *product.WaterUsage)
	}
	res = tx.Model(&models.User{}).
		Where("id = ? AND points >= ?", customer.ID, product.Cost).
		Updates(debit)
	if res.Error != nil {
		return fmt.Errorf("debit customer: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("customer has insufficient points")
	}

	err = tx.Model(&models.User{}).
		Where("id = ?", owner.ID).
		Updates(map[string]any{
			"points":      gorm.Expr("points + ?", product.Cost),
			"total_swaps": gorm.Expr("total_swaps + 1"),
			"updated_at":  now,
		}).Error
	if err != nil {
		return fmt.Errorf("credit owner: %w", err)
	}

	res = tx.Model(&models.Product{}).
		Where("id = ? AND status = ?", product.ID, models.ProductAvailable).
		Updates(map[string]any{
			"status":        models.ProductSold,
			"customer_id":   customer.ID,
			"customer_name": customer.DisplayName(),
			"updated_at":    now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark product sold: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("product not available")
	}

	if err := tx.Model(&models.OneTimeCode{}).Where("id = ?", otp.ID).Update("consumed_at", now).Error; err != nil {
		return fmt.Errorf("consume passcode: %w", err)
	}

	tid := t.ID
	entries := []models.PointLedger{
		{
			UserID:        customer.ID,
			Change:        -product.Cost,
			BalanceAfter:  customer.Points - product.Cost,
			EventType:     models.LedgerExchangeDebit,
			TransactionID: &tid,
			CreatedAt:     now,
		},
		{
			UserID:        owner.ID,
			Change:        product.Cost,
			BalanceAfter:  owner.Points + product.Cost,
			EventType:     models.LedgerExchangeCredit,
			TransactionID: &tid,
			CreatedAt:     now,
		},
	}
	if err := tx.Create(&entries).Error; err != nil {
		return fmt.Errorf("record ledger: %w", err)
	}

	msg := fmt.Sprintf("The transaction for %s has been completed.", product.Name)
	for _, userID := range []string{customer.ID, owner.ID} {
		if err := notify.Emit(tx, notify.TransactionEvent(userID, "Transaction Completed", msg, t.ID, product.ID)); err != nil {
			return err
		}
	}
	return nil
}

// CancelTransaction lets either party abandon a pending transaction. The
// product is made available again and the counterparty is notified.
func (e *Engine) CancelTransaction(ctx context.Context, actorID, transactionID string) (models.Transaction, error) {
	if transactionID == "" {
		return models.Transaction{}, apperr.Validation("transaction ID is required")
	}

	var t models.Transaction
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		t, err = loadTransaction(tx, transactionID)
		if err != nil {
			return err
		}
		var counterparty string
		switch actorID {
		case t.OwnerID:
			counterparty = t.CustomerID
		case t.CustomerID:
			counterparty = t.OwnerID
		default:
			return apperr.Forbidden("not allowed to cancel this transaction")
		}
		if t.Status != models.TransactionPending {
			return apperr.Conflict("only pending transactions can be cancelled")
		}

		product, err := catalog.Find(tx, t.ProductID)
		if err != nil {
			return err
		}

		now := e.now()
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", t.ID, models.TransactionPending).
			Updates(map[string]any{
				"status":       models.TransactionCancelled,
				"cancelled_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return fmt.Errorf("cancel transaction: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("only pending transactions can be cancelled")
		}
		t.Status = models.TransactionCancelled
		t.CancelledAt = &now
		t.UpdatedAt = now

		err = tx.Model(&models.Product{}).Where("id = ?", product.ID).
			Updates(map[string]any{"status": models.ProductAvailable, "updated_at": now}).Error
		if err != nil {
			return fmt.Errorf("release product: %w", err)
		}
		if t.OnetimePasscodeID != nil {
			if err := tx.Delete(&models.OneTimeCode{}, "id = ?", *t.OnetimePasscodeID).Error; err != nil {
				return fmt.Errorf("drop passcode: %w", err)
			}
		}

		return notify.Emit(tx, notify.TransactionEvent(
			counterparty,
			"Transaction Cancelled",
			fmt.Sprintf("The transaction for %s has been cancelled.", product.Name),
			t.ID, product.ID,
		))
	})
	if err != nil {
		return models.Transaction{}, err
	}
	e.log.Info("transaction cancelled", "transaction_id", t.ID, "by", actorID)
	return t, nil
}
