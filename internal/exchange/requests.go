package exchange

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/catalog"
	"github.com/gopikiran22001/ReWear/internal/models"
	"github.com/gopikiran22001/ReWear/internal/notify"
)

// CreateRequest records customerID's ask for productID and notifies the
// product owner.
func (e *Engine) CreateRequest(ctx context.Context, customerID, productID string) (models.Request, error) {
	if productID == "" {
		return models.Request{}, apperr.Validation("product ID is required")
	}

	var req models.Request
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := catalog.Find(tx, productID)
		if err != nil {
			return err
		}
		if product.Owner.UserID == customerID {
			return apperr.Validation("cannot request your own product")
		}
		if product.Status != models.ProductAvailable {
			return apperr.Conflict("product is no longer available")
		}

		req = models.Request{
			OwnerID:    product.Owner.UserID,
			CustomerID: customerID,
			ProductID:  product.ID,
			Status:     models.RequestPending,
		}
		if err := tx.Create(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("you already have a pending request for this product")
			}
			return fmt.Errorf("create request: %w", err)
		}
		return notify.Emit(tx, notify.RequestEvent(
			product.Owner.UserID,
			"New Request Received",
			fmt.Sprintf("You have received a new request for your product %s.", product.Name),
			req.ID, product.ID,
		))
	})
	if err != nil {
		return models.Request{}, err
	}
	e.log.Info("request created", "request_id", req.ID, "product_id", productID, "customer_id", customerID)
	return req, nil
}

// AcceptRequest turns a pending request into a pending transaction. The
// request update, the transaction insert and the customer notification
// commit together; the partial unique index on pending transactions settles
// races between accepts for the same product.
func (e *Engine) AcceptRequest(ctx context.Context, actorID, requestID string) (models.Request, error) {
	if requestID == "" {
		return models.Request{}, apperr.Validation("request ID is required")
	}

	var req models.Request
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = loadRequest(tx, requestID)
		if err != nil {
			return err
		}
		if req.OwnerID != actorID {
			return apperr.Forbidden("only the product owner can accept this request")
		}
		if req.Status != models.RequestPending {
			return apperr.Conflict("request already processed")
		}

		product, err := catalog.Find(tx, req.ProductID)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return apperr.Conflict("product no longer exists")
			}
			return err
		}
		if product.Owner.UserID != actorID {
			return apperr.Conflict("invalid product or ownership mismatch")
		}
		if product.Status != models.ProductAvailable {
			return apperr.Conflict("product is no longer available")
		}
		if _, err := loadUser(tx, req.OwnerID); err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return apperr.Conflict("invalid product or ownership mismatch")
			}
			return err
		}

		var existing models.Transaction
		err = tx.Where("product_id = ? AND status = ?", req.ProductID, models.TransactionPending).
			Limit(1).Find(&existing).Error
		if err != nil {
			return fmt.Errorf("check pending transaction: %w", err)
		}
		if existing.ID != "" {
			return apperr.Conflict("pending transaction already exists").With("transactionId", existing.ID)
		}

		t := models.Transaction{
			CustomerID: req.CustomerID,
			OwnerID:    req.OwnerID,
			ProductID:  req.ProductID,
			Status:     models.TransactionPending,
		}
		if err := tx.Create(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("pending transaction already exists")
			}
			return fmt.Errorf("create transaction: %w", err)
		}

		now := e.now()
		res := tx.Model(&models.Request{}).
			Where("id = ? AND status = ?", req.ID, models.RequestPending).
			Updates(map[string]any{
				"status":         models.RequestAccepted,
				"transaction_id": t.ID,
				"updated_at":     now,
			})
		if res.Error != nil {
			return fmt.Errorf("accept request: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("request already processed")
		}
		req.Status = models.RequestAccepted
		req.TransactionID = &t.ID
		req.UpdatedAt = now

		return notify.Emit(tx, notify.RequestEvent(
			req.CustomerID,
			"Request Accepted",
			fmt.Sprintf("Your request for %s has been accepted.", product.Name),
			req.ID, product.ID,
		))
	})
	if err != nil {
		return models.Request{}, err
	}
	e.log.Info("request accepted", "request_id", req.ID, "transaction_id", *req.TransactionID)
	return req, nil
}

// RejectRequest lets the owner decline a pending request.
func (e *Engine) RejectRequest(ctx context.Context, actorID, requestID string) (models.Request, error) {
	return e.closeRequest(ctx, actorID, requestID, models.RequestRejected)
}

// CancelRequest lets the customer withdraw a pending request.
func (e *Engine) CancelRequest(ctx context.Context, actorID, requestID string) (models.Request, error) {
	return e.closeRequest(ctx, actorID, requestID, models.RequestCancelled)
}

// closeRequest moves a pending request to a terminal state that does not involve a
// transaction and notifies the counterparty.
func (e *Engine) closeRequest(ctx context.Context, actorID, requestID string, to models.RequestStatus) (models.Request, error) {
	if requestID == "" {
		return models.Request{}, apperr.Validation("request ID is required")
	}

	var req models.Request
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = loadRequest(tx, requestID)
		if err != nil {
			return err
		}

		var recipient, header, verb string
		switch to {
		case models.RequestRejected:
			if req.OwnerID != actorID {
				return apperr.Forbidden("only the product owner can reject this request")
			}
			recipient, header, verb = req.CustomerID, "Request Rejected", "rejected"
		case models.RequestCancelled:
			if req.CustomerID != actorID {
				return apperr.Forbidden("only the requester can cancel this request")
			}
			recipient, header, verb = req.OwnerID, "Request Cancelled", "cancelled"
		default:
			return fmt.Errorf("unsupported request transition to %q", to)
		}
		if req.Status != models.RequestPending {
			return apperr.Conflict("request already processed")
		}

		now := e.now()
		res := tx.Model(&models.Request{}).
			Where("id = ? AND status = ?", req.ID, models.RequestPending).
			Updates(map[string]any{"status": to, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("update request: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("request already processed")
		}
		req.Status = to
		req.UpdatedAt = now

		return notify.Emit(tx, notify.RequestEvent(
			recipient,
			header,
			fmt.Sprintf("The request for %s has been %s.", productName(tx, req.ProductID), verb),
			req.ID, req.ProductID,
		))
	})
	if err != nil {
		return models.Request{}, err
	}
	e.log.Info("request closed", "request_id", req.ID, "status", string(to))
	return req, nil
}

// ListRequests returns every request where userID is the owner or the
// customer, newest first.
func (e *Engine) ListRequests(ctx context.Context, userID string) ([]models.Request, error) {
	out := []models.Request{}
	err := e.db.WithContext(ctx).
		Where("owner_id = ? OR customer_id = ?", userID, userID).
		Order("created_at desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

// GetRequest returns a request visible to userID. Requests of other users
// are reported as not found.
func (e *Engine) GetRequest(ctx context.Context, userID, requestID string) (models.Request, error) {
	if requestID == "" {
		return models.Request{}, apperr.Validation("request ID is required")
	}
	req, err := loadRequest(e.db.WithContext(ctx), requestID)
	if err != nil {
		return models.Request{}, err
	}
	if req.OwnerID != userID && req.CustomerID != userID {
		return models.Request{}, apperr.NotFound("request not found")
	}
	return req, nil
}
