package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/models"
)

// MaxMessageLength caps the characters of a single chat message.
const MaxMessageLength = 8000

// OwnerResolver maps a product to the user id of its owner.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, productID string) (string, error)
}

// Store persists conversations and messages.
type Store struct {
	db     *gorm.DB
	owners OwnerResolver
}

func NewStore(db *gorm.DB, owners OwnerResolver) *Store {
	return &Store{db: db, owners: owners}
}

// Receiver is the other participant as shown to the caller.
type Receiver struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MessagePreview struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary is a conversation from one participant's point of view.
type Summary struct {
	ID          string          `json:"id"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Receiver    *Receiver       `json:"receiver"`
	LastMessage *MessagePreview `json:"lastMessage"`
}

func (s *Store) loadConversation(ctx context.Context, userID, conversationID string) (models.Conversation, error) {
	if conversationID == "" {
		return models.Conversation{}, apperr.Validation("conversation ID is required")
	}
	var conv models.Conversation
	err := s.db.WithContext(ctx).First(&conv, "id = ?", conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Conversation{}, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, apperr.Forbidden("unauthorized access to conversation")
	}
	return conv, nil
}

// Conversations lists userID's conversations, most recently active first.
func (s *Store) Conversations(ctx context.Context, userID string) ([]Summary, error) {
	db := s.db.WithContext(ctx)
	var convs []models.Conversation
	err := db.Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("updated_at desc").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	userIDs := make([]string, 0, len(convs))
	messageIDs := make([]string, 0, len(convs))
	for _, c := range convs {
		userIDs = append(userIDs, c.Other(userID))
		if c.LastMessageID != nil {
			messageIDs = append(messageIDs, *c.LastMessageID)
		}
	}
	receivers, err := s.receivers(db, userIDs)
	if err != nil {
		return nil, err
	}
	previews := map[string]*MessagePreview{}
	if len(messageIDs) > 0 {
		var msgs []models.Message
		if err := db.Where("id IN ?", messageIDs).Find(&msgs).Error; err != nil {
			return nil, fmt.Errorf("load last messages: %w", err)
		}
		for _, m := range msgs {
			previews[m.ID] = &MessagePreview{ID: m.ID, Text: m.Text, CreatedAt: m.CreatedAt}
		}
	}

	out := make([]Summary, 0, len(convs))
	for _, c := range convs {
		sum := Summary{ID: c.ID, UpdatedAt: c.UpdatedAt, Receiver: receivers[c.Other(userID)]}
		if c.LastMessageID != nil {
			sum.LastMessage = previews[*c.LastMessageID]
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Store) receivers(db *gorm.DB, ids []string) (map[string]*Receiver, error) {
	out := map[string]*Receiver{}
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := db.Select("id", "first_name", "last_name").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	for _, u := range users {
		out[u.ID] = &Receiver{ID: u.ID, Name: u.DisplayName()}
	}
	return out, nil
}

// Open returns the conversation between userID and the receiver, creating
// it on first contact. The receiver is either given directly or resolved as
// the owner of productID.
func (s *Store) Open(ctx context.Context, userID, receiverID, productID string) (Summary, error) {
	if receiverID == "" && productID != "" {
		owner, err := s.owners.OwnerOf(ctx, productID)
		if err != nil {
			return Summary{}, err
		}
		receiverID = owner
	}
	if receiverID == "" || receiverID == userID {
		return Summary{}, apperr.Validation("invalid receiver")
	}

	db := s.db.WithContext(ctx)
	receivers, err := s.receivers(db, []string{receiverID})
	if err != nil {
		return Summary{}, err
	}
	receiver, ok := receivers[receiverID]
	if !ok {
		return Summary{}, apperr.NotFound("receiver not found")
	}

	pair := models.NewConversation(userID, receiverID)
	var conv models.Conversation
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&pair).Error; err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		return tx.Where("participant_a = ? AND participant_b = ?", pair.ParticipantA, pair.ParticipantB).
			First(&conv).Error
	})
	if err != nil {
		return Summary{}, fmt.Errorf("open conversation: %w", err)
	}
	return Summary{ID: conv.ID, UpdatedAt: conv.UpdatedAt, Receiver: receiver}, nil
}

// Messages returns the full history of a conversation, oldest first.
func (s *Store) Messages(ctx context.Context, userID, conversationID string) ([]models.Message, error) {
	conv, err := s.loadConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	msgs := []models.Message{}
	if err := db.Where("conversation_id = ?", conv.ID).Order("created_at asc").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	var receipts []models.MessageReceipt
	if err := db.Where("message_id IN ?", ids).Order("created_at asc").Find(&receipts).Error; err != nil {
		return nil, fmt.Errorf("load receipts: %w", err)
	}
	seen := map[string][]string{}
	for _, r := range receipts {
		seen[r.MessageID] = append(seen[r.MessageID], r.UserID)
	}
	for i := range msgs {
		msgs[i].SeenBy = seen[msgs[i].ID]
		if msgs[i].SeenBy == nil {
			msgs[i].SeenBy = []string{}
		}
	}
	return msgs, nil
}

// Send stores a message and bumps the conversation. It returns the stored
// message and the id of the participant to deliver it to.
func (s *Store) Send(ctx context.Context, userID, conversationID, text string) (models.Message, string, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, "", apperr.Validation("invalid conversation or empty message")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return models.Message{}, "", apperr.Validation("message exceeds %d characters", MaxMessageLength)
	}
	conv, err := s.loadConversation(ctx, userID, conversationID)
	if err != nil {
		return models.Message{}, "", err
	}

	msg := models.Message{ConversationID: conv.ID, SenderID: userID, Text: text, SeenBy: []string{}}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("store message: %w", err)
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			Updates(map[string]any{"last_message_id": msg.ID, "updated_at": msg.CreatedAt}).Error
	})
	if err != nil {
		return models.Message{}, "", fmt.Errorf("send message: %w", err)
	}
	return msg, conv.Other(userID), nil
}

// MarkSeen adds userID to the message's seen set. Repeated calls are no-ops.
func (s *Store) MarkSeen(ctx context.Context, userID, messageID string) error {
	if messageID == "" {
		return apperr.Validation("missing messageId")
	}
	db := s.db.WithContext(ctx)
	var msg models.Message
	err := db.First(&msg, "id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("message not found")
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if _, err := s.loadConversation(ctx, userID, msg.ConversationID); err != nil {
		return err
	}
	receipt := models.MessageReceipt{MessageID: msg.ID, UserID: userID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt).Error; err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}
