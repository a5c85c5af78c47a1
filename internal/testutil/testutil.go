// Package testutil provides database fixtures and a controllable clock for
// package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/models"
	"github.com/gopikiran22001/ReWear/internal/store"
)

// NewDB opens a per-test in-memory database with the full schema.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := store.InitDB(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })
	return db
}

// CreateUser inserts a user with the given first name and point balance.
func CreateUser(t *testing.T, db *gorm.DB, firstName string, points int) models.User {
	t.Helper()
	u := models.User{
		FirstName:    firstName,
		LastName:     "Tester",
		Email:        strings.ToLower(firstName) + "@example.com",
		PasswordHash: "not-a-real-hash",
		Points:       points,
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

// CreateProduct lists an available product owned by owner.
func CreateProduct(t *testing.T, db *gorm.DB, owner models.User, name string, cost int) models.Product {
	t.Helper()
	p := models.Product{
		Name:     name,
		Brand:    "Acme",
		Category: "tops",
		Cost:     cost,
		Status:   models.ProductAvailable,
		Images:   models.StringList{"https://cdn.example.com/" + strings.ToLower(name) + ".jpg"},
		Owner:    models.Party{UserID: owner.ID, Name: owner.DisplayName()},
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

// Reload re-reads a row by primary key into out.
func Reload(t *testing.T, db *gorm.DB, out any, id string) {
	t.Helper()
	require.NoError(t, db.First(out, "id = ?", id).Error)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
