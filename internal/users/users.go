// Package users covers registration, login, profile edits and the wishlist.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/auth"
	"github.com/gopikiran22001/ReWear/internal/models"
	"github.com/gopikiran22001/ReWear/internal/notify"
)

const minPasswordLength = 6

type RegisterInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Gender    string `json:"gender"`
}

// ProfileUpdate lists the only fields a user may edit; everything else in
// the request body is ignored.
type ProfileUpdate struct {
	FirstName    *string    `json:"firstName"`
	LastName     *string    `json:"lastName"`
	Phone        *string    `json:"phone"`
	Address      *string    `json:"address"`
	Gender       *string    `json:"gender"`
	DateOfBirth  *time.Time `json:"dateOfBirth"`
	ProfilePhoto *string    `json:"profilePhoto"`
}

// Profile is the user as returned to themselves.
type Profile struct {
	models.User
	Wishlist []string `json:"wishlist"`
}

type Service struct {
	db           *gorm.DB
	log          *slog.Logger
	signupPoints int
}

func NewService(db *gorm.DB, log *slog.Logger, signupPoints int) *Service {
	return &Service{db: db, log: log, signupPoints: signupPoints}
}

func (in RegisterInput) validate() error {
	var problems []string
	if strings.TrimSpace(in.FirstName) == "" {
		problems = append(problems, "first name is required")
	}
	if strings.TrimSpace(in.LastName) == "" {
		problems = append(problems, "last name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		problems = append(problems, "a valid email is required")
	}
	if len(in.Password) < minPasswordLength {
		problems = append(problems, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if !validGender(in.Gender) {
		problems = append(problems, "gender must be male, female or other")
	}
	if len(problems) > 0 {
		return apperr.Validation("%s", strings.Join(problems, "; "))
	}
	return nil
}

func validGender(g string) bool {
	switch g {
	case "", "male", "female", "other":
		return true
	}
	return false
}

// Register creates the account, credits any signup bonus and leaves a
// welcome notification, all in one unit of work.
func (s *Service) Register(ctx context.Context, in RegisterInput) (models.User, error) {
	if err := in.validate(); err != nil {
		return models.User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		Phone:        strings.TrimSpace(in.Phone),
		Address:      strings.TrimSpace(in.Address),
		Gender:       in.Gender,
		Role:         "user",
		Points:       s.signupPoints,
	}
	if user.Gender == "" {
		user.Gender = "other"
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("email already registered")
			}
			return fmt.Errorf("create user: %w", err)
		}
		if s.signupPoints > 0 {
			entry := models.PointLedger{
				UserID:       user.ID,
				Change:       s.signupPoints,
				BalanceAfter: user.Points,
				EventType:    models.LedgerSignupBonus,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("record signup bonus: %w", err)
			}
		}
		return notify.Emit(tx, &models.Notification{
			UserID:  user.ID,
			Header:  "Welcome to ReWear!",
			Message: "We're excited to have you on board. Start exploring and find great deals on products you love.",
			Type:    models.NotificationMessage,
		})
	})
	if err != nil {
		return models.User{}, err
	}
	s.log.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login checks credentials and returns the matching user.
func (s *Service) Login(ctx context.Context, email, password string) (models.User, error) {
	if email == "" || password == "" {
		return models.User{}, apperr.Validation("email and password are required")
	}
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, apperr.Unauthenticated("invalid email or password")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	ok, err := auth.CheckPassword(user.PasswordHash, password)
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, apperr.Unauthenticated("invalid email or password")
	}
	return user, nil
}

func (s *Service) find(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// Principal implements auth.Resolver.
func (s *Service) Principal(ctx context.Context, userID string) (auth.Principal, error) {
	user, err := s.find(ctx, userID)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{UserID: user.ID, DisplayName: user.DisplayName()}, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	user, err := s.find(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	ids := []string{}
	err = s.db.WithContext(ctx).Model(&models.WishlistEntry{}).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Pluck("product_id", &ids).Error
	if err != nil {
		return Profile{}, fmt.Errorf("load wishlist: %w", err)
	}
	return Profile{User: user, Wishlist: ids}, nil
}

// UpdateProfile applies the editable fields present in upd.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (models.User, error) {
	changes := map[string]any{}
	if upd.FirstName != nil {
		if strings.TrimSpace(*upd.FirstName) == "" {
			return models.User{}, apperr.Validation("first name cannot be empty")
		}
		changes["first_name"] = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		if strings.TrimSpace(*upd.LastName) == "" {
			return models.User{}, apperr.Validation("last name cannot be empty")
		}
		changes["last_name"] = strings.TrimSpace(*upd.LastName)
	}
	if upd.Phone != nil {
		changes["phone"] = strings.TrimSpace(*upd.Phone)
	}
	if upd.Address != nil {
		changes["address"] = strings.TrimSpace(*upd.Address)
	}
	if upd.Gender != nil {
		if !validGender(*upd.Gender) {
			return models.User{}, apperr.Validation("gender must be male, female or other")
		}
		changes["gender"] = *upd.Gender
	}
	if upd.DateOfBirth != nil {
		changes["date_of_birth"] = *upd.DateOfBirth
	}
	if upd.ProfilePhoto != nil {
		changes["profile_photo"] = *upd.ProfilePhoto
	}

	if _, err := s.find(ctx, userID); err != nil {
		return models.User{}, err
	}
	if len(changes) > 0 {
		err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(changes).Error
		if err != nil {
			return models.User{}, fmt.Errorf("update user: %w", err)
		}
	}
	return s.find(ctx, userID)
}

// AddToWishlist saves productID for userID.
func (s *Service) AddToWishlist(ctx context.Context, userID, productID string) error {
	if productID == "" {
		return apperr.Validation("product ID is required")
	}
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.Product{}).Where("id = ?", productID).Count(&count).Error; err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if count == 0 {
		return apperr.NotFound("product not found")
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.WishlistEntry{UserID: userID, ProductID: productID})
	if res.Error != nil {
		return fmt.Errorf("add to wishlist: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("product already in wishlist")
	}
	return nil
}

// RemoveFromWishlist is a no-op when the product is not wishlisted.
func (s *Service) RemoveFromWishlist(ctx context.Context, userID, productID string) error {
	if productID == "" {
		return apperr.Validation("product ID is required")
	}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Delete(&models.WishlistEntry{}).Error
	if err != nil {
		return fmt.Errorf("remove from wishlist: %w", err)
	}
	return nil
}

// Wishlist returns the wishlisted products, most recently listed first.
func (s *Service) Wishlist(ctx context.Context, userID string) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&models.WishlistEntry{}).Select("product_id").Where("user_id = ?", userID)).
		Order("created_at desc").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("load wishlist: %w", err)
	}
	return products, nil
}
