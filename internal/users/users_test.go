package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/logging"
	"github.com/gopikiran22001/ReWear/internal/models"
	"github.com/gopikiran22001/ReWear/internal/testutil"
)

func validInput() RegisterInput {
	return RegisterInput{FirstName: "Ada", LastName: "Lovelace", Email: "Ada@Example.com", Password: "secret1"}
}

func TestRegisterAndLogin(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, logging.Discard(), 25)
	ctx := context.Background()

	user, err := svc.Register(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", user.Email)
	require.Equal(t, 25, user.Points)
	require.NotEqual(t, "secret1", user.PasswordHash)

	var ledger []models.PointLedger
	require.NoError(t, db.Where("user_id = ?", user.ID).Find(&ledger).Error)
	require.Len(t, ledger, 1)
	require.Equal(t, models.LedgerSignupBonus, ledger[0].EventType)

	var welcome models.Notification
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&welcome).Error)
	require.Equal(t, models.NotificationMessage, welcome.Type)

	got, err := svc.Login(ctx, "ADA@example.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = svc.Login(ctx, "ada@example.com", "wrong-password")
	require.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	_, err = svc.Login(ctx, "nobody@example.com", "secret1")
	require.True(t, apperr.Is(err, apperr.KindUnauthenticated))
}

func TestRegisterValidationAndDuplicates(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, logging.Discard(), 0)
	ctx := context.Background()

	bad := validInput()
	bad.Password = "123"
	_, err := svc.Register(ctx, bad)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	bad = validInput()
	bad.Email = "not-an-email"
	_, err = svc.Register(ctx, bad)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Register(ctx, validInput())
	require.NoError(t, err)
	_, err = svc.Register(ctx, validInput())
	require.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestUpdateProfileIgnoresProtectedFields(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, logging.Discard(), 0)
	ctx := context.Background()
	u := testutil.CreateUser(t, db, "Bea", 40)

	phone := "555-0100"
	updated, err := svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Phone: &phone})
	require.NoError(t, err)
	require.Equal(t, "555-0100", updated.Phone)
	require.Equal(t, 40, updated.Points)

	empty := " "
	_, err = svc.UpdateProfile(ctx, u.ID, ProfileUpdate{FirstName: &empty})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.UpdateProfile(ctx, "missing", ProfileUpdate{Phone: &phone})
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestWishlist(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, logging.Discard(), 0)
	ctx := context.Background()

	owner := testutil.CreateUser(t, db, "Olive", 0)
	fan := testutil.CreateUser(t, db, "Finn", 0)
	p := testutil.CreateProduct(t, db, owner, "Boots", 30)

	require.NoError(t, svc.AddToWishlist(ctx, fan.ID, p.ID))
	err := svc.AddToWishlist(ctx, fan.ID, p.ID)
	require.True(t, apperr.Is(err, apperr.KindConflict))
	err = svc.AddToWishlist(ctx, fan.ID, "missing")
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	list, err := svc.Wishlist(ctx, fan.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, p.ID, list[0].ID)

	profile, err := svc.Profile(ctx, fan.ID)
	require.NoError(t, err)
	require.Equal(t, []string{p.ID}, profile.Wishlist)

	require.NoError(t, svc.RemoveFromWishlist(ctx, fan.ID, p.ID))
	require.NoError(t, svc.RemoveFromWishlist(ctx, fan.ID, p.ID))
	list, err = svc.Wishlist(ctx, fan.ID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestPrincipal(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, logging.Discard(), 0)
	u := testutil.CreateUser(t, db, "Cleo", 0)

	p, err := svc.Principal(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "Cleo Tester", p.DisplayName)

	_, err = svc.Principal(context.Background(), "missing")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}
