// Package catalog holds listed products: creation with footprint scoring,
// browsing, search and owner-scoped listing.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/auth"
	"github.com/gopikiran22001/ReWear/internal/models"
)

type CreateInput struct {
	Name        string   `json:"name"`
	Brand       string   `json:"brand"`
	Size        string   `json:"size"`
	Condition   string   `json:"condition"`
	Images      []string `json:"images"`
	Colors      []string `json:"colors"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Cost        int      `json:"cost"`
	Category    string   `json:"category"`
}

func (in CreateInput) validate() error {
	var problems []string
	if strings.TrimSpace(in.Name) == "" {
		problems = append(problems, "product name is required")
	}
	if strings.TrimSpace(in.Category) == "" {
		problems = append(problems, "category is required")
	}
	if len(in.Images) == 0 {
		problems = append(problems, "at least one image is required")
	}
	if in.Cost < 0 {
		problems = append(problems, "cost must not be negative")
	}
	if len(problems) > 0 {
		return apperr.Validation("%s", strings.Join(problems, "; "))
	}
	return nil
}

type Service struct {
	db     *gorm.DB
	scorer Scorer
	log    *slog.Logger
}

func NewService(db *gorm.DB, scorer Scorer, log *slog.Logger) *Service {
	return &Service{db: db, scorer: scorer, log: log}
}

// Create lists a new product owned by the principal. A failing scorer does
// not block the listing: the footprint fields stay null and the failure is
// logged.
func (s *Service) Create(ctx context.Context, owner auth.Principal, in CreateInput) (models.Product, error) {
	if err := in.validate(); err != nil {
		return models.Product{}, err
	}

	p := models.Product{
		Name:        strings.TrimSpace(in.Name),
		Brand:       strings.TrimSpace(in.Brand),
		Size:        strings.TrimSpace(in.Size),
		Condition:   in.Condition,
		Images:      models.StringList(in.Images),
		Colors:      models.StringList(in.Colors),
		Description: strings.TrimSpace(in.Description),
		Tags:        models.StringList(in.Tags),
		Cost:        in.Cost,
		Status:      models.ProductAvailable,
		Category:    strings.TrimSpace(in.Category),
		Owner:       models.Party{UserID: owner.UserID, Name: owner.DisplayName},
	}
	if p.Condition == "" {
		p.Condition = "used"
	}
	if p.Description == "" {
		p.Description = "No description provided."
	}

	if s.scorer != nil {
		fp, err := s.scorer.Score(ctx, p.Brand, p.Category)
		if err != nil {
			s.log.Warn("footprint scoring failed, listing without footprint",
				"error", err, "brand", p.Brand, "category", p.Category)
		} else {
			p.CarbonFootprint = &fp.CO2
			p.WaterUsage = &fp.Water
		}
	}

	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return models.Product{}, fmt.Errorf("create product: %w", err)
	}
	return p, nil
}

// List returns every product, newest first.
func (s *Service) List(ctx context.Context) ([]models.Product, error) {
	return s.find(ctx, s.db.WithContext(ctx))
}

// Search matches query case-insensitively against name, brand, category
// and description.
func (s *Service) Search(ctx context.Context, query string) ([]models.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("search query is required")
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	q := s.db.WithContext(ctx).Where(
		`LOWER(name) LIKE ? ESCAPE '\' OR LOWER(brand) LIKE ? ESCAPE '\' OR LOWER(category) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\'`,
		pattern, pattern, pattern, pattern,
	)
	return s.find(ctx, q)
}

// ListByOwner returns the products listed by ownerID, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]models.Product, error) {
	return s.find(ctx, s.db.WithContext(ctx).Where("owner_id = ?", ownerID))
}

func (s *Service) find(ctx context.Context, q *gorm.DB) ([]models.Product, error) {
	products := []models.Product{}
	if err := q.Order("created_at desc").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// Get returns the product with the given id.
func (s *Service) Get(ctx context.Context, id string) (models.Product, error) {
	if id == "" {
		return models.Product{}, apperr.Validation("product ID is required")
	}
	return Find(s.db.WithContext(ctx), id)
}

// Find loads a product using db, which may be a transaction.
func Find(db *gorm.DB, id string) (models.Product, error) {
	var p models.Product
	err := db.First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Product{}, apperr.NotFound("product not found")
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("load product: %w", err)
	}
	return p, nil
}

// OwnerOf resolves the listing owner's user id for productID.
func (s *Service) OwnerOf(ctx context.Context, productID string) (string, error) {
	p, err := s.Get(ctx, productID)
	if err != nil {
		return "", err
	}
	return p.Owner.UserID, nil
}

// Delete removes a product. Only its owner may delete it, and not while an
// exchange for it is pending.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	if id == "" {
		return apperr.Validation("product ID is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := Find(tx, id)
		if err != nil {
			return err
		}
		if p.Owner.UserID != actorID {
			return apperr.Forbidden("not allowed to delete this product")
		}
		var pending int64
		err = tx.Model(&models.Transaction{}).
			Where("product_id = ? AND status = ?", id, models.TransactionPending).
			Count(&pending).Error
		if err != nil {
			return fmt.Errorf("check pending transactions: %w", err)
		}
		if pending > 0 {
			return apperr.Conflict("product has a pending transaction")
		}
		if err := tx.Where("product_id = ?", id).Delete(&models.WishlistEntry{}).Error; err != nil {
			return fmt.Errorf("clear wishlists: %w", err)
		}
		if err := tx.Delete(&models.Product{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		return nil
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
