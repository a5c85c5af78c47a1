// Package notify is the append-only, per-user notification log written by
// the exchange engines.
package notify

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/models"
)

// Emit appends n using tx so that it commits or rolls back together with
// the caller's unit of work.
func Emit(tx *gorm.DB, n *models.Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("notification without recipient")
	}
	if n.Type == "" {
		n.Type = models.NotificationSystem
	}
	if err := tx.Create(n).Error; err != nil {
		return fmt.Errorf("emit notification: %w", err)
	}
	return nil
}

// RequestEvent builds a notification linked to an exchange request.
func RequestEvent(userID, header, message, requestID, productID string) *models.Notification {
	return linked(models.NotificationRequest, models.LinkRequest, userID, header, message, requestID, productID)
}

// TransactionEvent builds a notification linked to a transaction.
func TransactionEvent(userID, header, message, transactionID, productID string) *models.Notification {
	return linked(models.NotificationTransaction, models.LinkTransaction, userID, header, message, transactionID, productID)
}

func linked(kind models.NotificationType, link models.LinkType, userID, header, message, targetID, productID string) *models.Notification {
	n := &models.Notification{
		UserID:  userID,
		Header:  header,
		Message: message,
		Type:    kind,
		Link:    models.NotificationLink{TargetID: &targetID, Type: link},
	}
	if productID != "" {
		n.ProductID = &productID
	}
	return n
}

// Detail is a notification with its link expanded.
type Detail struct {
	models.Notification
	ProductDetails     *models.Product     `json:"productDetails,omitempty"`
	RequestDetails     *models.Request     `json:"requestDetails,omitempty"`
	TransactionDetails *models.Transaction `json:"transactionDetails,omitempty"`
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// List returns userID's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]models.Notification, error) {
	var out []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// Get returns one of userID's notifications with its linked request or
// transaction and product attached.
func (s *Service) Get(ctx context.Context, userID, id string) (Detail, error) {
	db := s.db.WithContext(ctx)

	var n models.Notification
	if err := db.First(&n, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Detail{}, apperr.NotFound("notification not found")
		}
		return Detail{}, fmt.Errorf("load notification: %w", err)
	}
	if n.UserID != userID {
		return Detail{}, apperr.Forbidden("not allowed to view this notification")
	}

	detail := Detail{Notification: n}
	if n.ProductID != nil {
		var p models.Product
		if err := db.First(&p, "id = ?", *n.ProductID).Error; err == nil {
			detail.ProductDetails = &p
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Detail{}, fmt.Errorf("load linked product: %w", err)
		}
	}

	if n.Link.TargetID == nil {
		return detail, nil
	}
	switch n.Link.Type {
	case models.LinkRequest:
		var r models.Request
		err := db.First(&r, "id = ?", *n.Link.TargetID).Error
		if err == nil {
			detail.RequestDetails = &r
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Detail{}, fmt.Errorf("load linked request: %w", err)
		}
	case models.LinkTransaction:
		var tx models.Transaction
		err := db.First(&tx, "id = ?", *n.Link.TargetID).Error
		if err == nil {
			detail.TransactionDetails = &tx
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Detail{}, fmt.Errorf("load linked transaction: %w", err)
		}
	}
	return detail, nil
}
