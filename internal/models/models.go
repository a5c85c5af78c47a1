package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Model carries the identifier and timestamps shared by every entity.
type Model struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Model) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// StringList is stored as a JSON array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("string list: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("string list: %w", err)
	}
	*l = out
	return nil
}

type User struct {
	Model
	FirstName    string     `json:"firstName" gorm:"not null"`
	LastName     string     `json:"lastName" gorm:"not null"`
	Email        string     `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string     `json:"-" gorm:"not null"`
	Phone        string     `json:"phone"`
	Address      string     `json:"address"`
	Gender       string     `json:"gender" gorm:"default:other"`
	DateOfBirth  *time.Time `json:"dateOfBirth"`
	ProfilePhoto string     `json:"profilePhoto"`
	Role         string     `json:"role" gorm:"default:user"`
	Points       int        `json:"points" gorm:"not null;default:0;check:points >= 0"`
	WaterSaved   float64    `json:"waterSaved" gorm:"column:water_saved"`
	CO2Saved     float64    `json:"co2Saved" gorm:"column:co2_saved"`
	TotalSwaps   int        `json:"totalSwaps" gorm:"not null;default:0"`
}

// DisplayName is the "first last" form shown to counterparties.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Party is a denormalized {id, name} snapshot of a user. It is a display
// cache only and never used for authorization.
type Party struct {
	UserID string `json:"id" gorm:"column:id;size:36;index"`
	Name   string `json:"name"`
}

type ProductStatus string

const (
	ProductAvailable ProductStatus = "available"
	ProductSold      ProductStatus = "sold"
)

type Product struct {
	Model
	Name            string        `json:"name" gorm:"not null"`
	Brand           string        `json:"brand"`
	Size            string        `json:"size"`
	Condition       string        `json:"condition" gorm:"default:used"`
	Images          StringList    `json:"images" gorm:"type:text;not null"`
	Colors          StringList    `json:"colors" gorm:"type:text"`
	Description     string        `json:"description"`
	Tags            StringList    `json:"tags" gorm:"type:text"`
	Cost            int           `json:"cost" gorm:"not null;check:cost >= 0"`
	Status          ProductStatus `json:"status" gorm:"size:16;not null;default:available;index"`
	Category        string        `json:"category" gorm:"not null"`
	CarbonFootprint *float64      `json:"carbonFootprint"`
	WaterUsage      *float64      `json:"waterUsage"`
	Owner           Party         `json:"owner" gorm:"embedded;embeddedPrefix:owner_"`
	Customer        Party         `json:"customer" gorm:"embedded;embeddedPrefix:customer_"`
}

// MarshalJSON renders customer as null until the product has been sold.
func (p Product) MarshalJSON() ([]byte, error) {
	type product Product
	out := struct {
		product
		Customer *Party `json:"customer"`
	}{product: product(p)}
	if p.Customer.UserID != "" {
		customer := p.Customer
		out.Customer = &customer
	}
	return json.Marshal(out)
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

// Request is a customer's ask to exchange points for a product.
type Request struct {
	Model
	OwnerID       string        `json:"owner" gorm:"size:36;index;not null"`
	CustomerID    string        `json:"customer" gorm:"size:36;index;not null"`
	ProductID     string        `json:"product" gorm:"size:36;index;not null"`
	Status        RequestStatus `json:"status" gorm:"size:16;not null;default:pending"`
	TransactionID *string       `json:"transactionId" gorm:"size:36"`
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionConfirmed TransactionStatus = "confirmed"
	TransactionCancelled TransactionStatus = "cancelled"
	TransactionExpired   TransactionStatus = "expired"
)

type Transaction struct {
	Model
	CustomerID        string            `json:"customer" gorm:"size:36;index;not null"`
	OwnerID           string            `json:"owner" gorm:"size:36;index;not null"`
	ProductID         string            `json:"product" gorm:"size:36;index;not null"`
	OnetimePasscodeID *string           `json:"-" gorm:"column:onetime_passcode_id;size:36"`
	Status            TransactionStatus `json:"status" gorm:"size:16;not null;default:pending"`
	ConfirmedAt       *time.Time        `json:"confirmedAt"`
	CancelledAt       *time.Time        `json:"cancelledAt"`
}

// OneTimeCode is the short-lived code a customer hands to the owner to
// confirm an offline exchange.
type OneTimeCode struct {
	Model
	Code          string     `json:"-" gorm:"size:6;not null;index"`
	TransactionID string     `json:"transaction" gorm:"size:36;index;not null"`
	ExpiresAt     time.Time  `json:"expiresAt" gorm:"index;not null"`
	ConsumedAt    *time.Time `json:"consumedAt"`
}

// Live reports whether the code can still be verified at now.
func (o OneTimeCode) Live(now time.Time) bool {
	return o.ConsumedAt == nil && now.Before(o.ExpiresAt)
}

type NotificationType string

const (
	NotificationMessage     NotificationType = "message"
	NotificationRequest     NotificationType = "request"
	NotificationTransaction NotificationType = "transaction"
	NotificationAlert       NotificationType = "alert"
	NotificationSystem      NotificationType = "system"
)

type LinkType string

const (
	LinkRequest     LinkType = "request"
	LinkTransaction LinkType = "transaction"
)

type NotificationLink struct {
	TargetID *string  `json:"id" gorm:"column:id;size:36"`
	Type     LinkType `json:"type" gorm:"size:16"`
}

type Notification struct {
	Model
	UserID    string           `json:"userId" gorm:"size:36;index;not null"`
	Header    string           `json:"header" gorm:"not null"`
	Message   string           `json:"message" gorm:"not null"`
	ProductID *string          `json:"productId" gorm:"size:36"`
	Type      NotificationType `json:"type" gorm:"size:16;not null;default:system"`
	Read      bool             `json:"read" gorm:"not null;default:false"`
	Link      NotificationLink `json:"link" gorm:"embedded;embeddedPrefix:link_"`
}

// Conversation is keyed by the sorted participant pair so that one pair maps
// to exactly one row.
type Conversation struct {
	Model
	ParticipantA  string  `json:"-" gorm:"size:36;not null;uniqueIndex:idx_conversation_pair"`
	ParticipantB  string  `json:"-" gorm:"size:36;not null;uniqueIndex:idx_conversation_pair;index"`
	LastMessageID *string `json:"lastMessage" gorm:"size:36"`
}

// NewConversation orders the pair so (a, b) and (b, a) collide.
func NewConversation(a, b string) Conversation {
	if b < a {
		a, b = b, a
	}
	return Conversation{ParticipantA: a, ParticipantB: b}
}

func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

type Message struct {
	Model
	ConversationID string   `json:"conversation" gorm:"size:36;index;not null"`
	SenderID       string   `json:"sender" gorm:"size:36;not null"`
	Text           string   `json:"text" gorm:"type:text;not null"`
	SeenBy         []string `json:"seenBy" gorm:"-"`
}

// MessageReceipt records that a user has seen a message; the composite key
// gives seenBy its set semantics.
type MessageReceipt struct {
	MessageID string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"primaryKey;size:36"`
	CreatedAt time.Time
}

type WishlistEntry struct {
	UserID    string    `gorm:"primaryKey;size:36"`
	ProductID string    `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time
}

type PointLedger struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID        string    `json:"userId" gorm:"size:36;index;not null"`
	Change        int       `json:"change" gorm:"not null"`
	BalanceAfter  int       `json:"balance_after" gorm:"not null"`
	EventType     string    `json:"event_type" gorm:"not null"`
	TransactionID *string   `json:"transaction_id" gorm:"size:36;index"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	LedgerSignupBonus    = "signup_bonus"
	LedgerExchangeDebit  = "exchange_debit"
	LedgerExchangeCredit = "exchange_credit"
)

// All lists every model for migrations.
func All() []any {
	return []any{
		&User{}, &Product{}, &Request{}, &Transaction{}, &OneTimeCode{},
		&Notification{}, &Conversation{}, &Message{}, &MessageReceipt{},
		&WishlistEntry{}, &PointLedger{},
	}
}
