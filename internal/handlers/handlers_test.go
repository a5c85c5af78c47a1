package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/auth"
	"github.com/gopikiran22001/ReWear/internal/catalog"
	"github.com/gopikiran22001/ReWear/internal/exchange"
	"github.com/gopikiran22001/ReWear/internal/logging"
	"github.com/gopikiran22001/ReWear/internal/models"
	"github.com/gopikiran22001/ReWear/internal/notify"
	"github.com/gopikiran22001/ReWear/internal/testutil"
	"github.com/gopikiran22001/ReWear/internal/users"
)

const signupPoints = 100

func setupRouterWithDB(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	log := logging.Discard()
	h := &Handler{
		DB:            db,
		Users:         users.NewService(db, log, signupPoints),
		Catalog:       catalog.NewService(db, nil, log),
		Exchange:      exchange.NewEngine(db, log, exchange.DefaultPasscodeTTL),
		Notifications: notify.NewService(db),
		Issuer:        auth.NewIssuer("test-secret", time.Hour),
		Log:           log,
	}
	r := gin.New()
	RegisterRoutes(r, h)
	return r, db
}

func httpDo(r *gin.Engine, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			require.True(t, c.HttpOnly)
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.CookieName)
	return nil
}

func registerUser(t *testing.T, r *gin.Engine, first, email string) (auth.Principal, *http.Cookie) {
	t.Helper()
	w := httpDo(r, "POST", "/user/register", users.RegisterInput{
		FirstName: first, LastName: "Tester", Email: email, Password: "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		User auth.Principal `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.User, sessionCookie(t, w)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	r, _ := setupRouterWithDB(t)
	w := httpDo(r, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthBoundary(t *testing.T) {
	r, _ := setupRouterWithDB(t)

	w := httpDo(r, "GET", "/user", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httpDo(r, "GET", "/request/all", nil, &http.Cookie{Name: auth.CookieName, Value: "garbage"})
	require.Equal(t, http.StatusForbidden, w.Code)

	_, cookie := registerUser(t, r, "Olive", "olive@example.com")
	w = httpDo(r, "GET", "/user/login", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = httpDo(r, "POST", "/user/login", gin.H{"email": "olive@example.com", "password": "wrong-pass"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = httpDo(r, "POST", "/user/login", gin.H{"email": "olive@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, w.Code)
	sessionCookie(t, w)

	w = httpDo(r, "POST", "/user/register", users.RegisterInput{
		FirstName: "Olive", LastName: "Again", Email: "olive@example.com", Password: "secret123",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = httpDo(r, "POST", "/user/register", users.RegisterInput{FirstName: "X", Email: "bad"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "GET", "/user/logout", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, -1, sessionCookie(t, w).MaxAge)
}

func TestProfileAndWishlist(t *testing.T) {
	r, db := setupRouterWithDB(t)
	me, cookie := registerUser(t, r, "Wendy", "wendy@example.com")
	other := testutil.CreateUser(t, db, "Otto", 0)
	p := testutil.CreateProduct(t, db, other, "Cardigan", 10)

	w := httpDo(r, "PUT", "/user", gin.H{"address": "12 Elm St", "points": 99999, "email": "evil@example.com"}, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[models.User](t, w)
	require.Equal(t, "12 Elm St", updated.Address)
	require.Equal(t, signupPoints, updated.Points)
	require.Equal(t, "wendy@example.com", updated.Email)

	w = httpDo(r, "PUT", "/user/wishlist?productId="+p.ID, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	w = httpDo(r, "PUT", "/user/wishlist?productId="+p.ID, nil, cookie)
	require.Equal(t, http.StatusConflict, w.Code)
	w = httpDo(r, "PUT", "/user/wishlist?productId=missing", nil, cookie)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(r, "GET", "/user", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode[users.Profile](t, w)
	require.Equal(t, me.UserID, profile.ID)
	require.Equal(t, []string{p.ID}, profile.Wishlist)

	w = httpDo(r, "GET", "/user/wishlist", nil, cookie)
	require.Len(t, decode[[]models.Product](t, w), 1)

	w = httpDo(r, "DELETE", "/user/wishlist?productId="+p.ID, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	w = httpDo(r, "DELETE", "/user/wishlist?productId="+p.ID, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestProductRoutes(t *testing.T) {
	r, _ := setupRouterWithDB(t)
	_, owner := registerUser(t, r, "Olive", "olive@example.com")
	_, other := registerUser(t, r, "Otto", "otto@example.com")

	w := httpDo(r, "POST", "/product", catalog.CreateInput{Name: "Trench Coat", Category: "outerwear", Cost: 30}, owner)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "POST", "/product", catalog.CreateInput{
		Name: "Trench Coat", Brand: "Burberry", Category: "outerwear", Cost: 30,
		Images: []string{"https://cdn.example.com/coat.jpg"},
	}, owner)
	require.Equal(t, http.StatusCreated, w.Code)
	p := decode[models.Product](t, w)
	require.Equal(t, "Olive Tester", p.Owner.Name)
	require.Nil(t, p.CarbonFootprint)

	w = httpDo(r, "GET", "/product/search?searchQuery=trench", nil)
	require.Len(t, decode[[]models.Product](t, w), 1)
	w = httpDo(r, "GET", "/product/search?searchQuery=", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "GET", "/product/my-products", nil, other)
	require.Empty(t, decode[[]models.Product](t, w))
	w = httpDo(r, "GET", "/product/byId?productId="+p.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = httpDo(r, "GET", "/product/byId?productId=missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(r, "DELETE", "/product?productId="+p.ID, nil, other)
	require.Equal(t, http.StatusForbidden, w.Code)
	w = httpDo(r, "DELETE", "/product?productId="+p.ID, nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	w = httpDo(r, "GET", "/product", nil)
	require.Empty(t, decode[[]models.Product](t, w))
}

func TestExchangeEndToEnd(t *testing.T) {
	r, _ := setupRouterWithDB(t)
	ownerP, owner := registerUser(t, r, "Olive", "olive@example.com")
	customerP, customer := registerUser(t, r, "Carl", "carl@example.com")
	_, stranger := registerUser(t, r, "Sam", "sam@example.com")

	w := httpDo(r, "POST", "/product", catalog.CreateInput{
		Name: "Denim Jacket", Category: "outerwear", Cost: 50,
		Images: []string{"https://cdn.example.com/jacket.jpg"},
	}, owner)
	require.Equal(t, http.StatusCreated, w.Code)
	product := decode[models.Product](t, w)

	w = httpDo(r, "POST", "/request", gin.H{"productId": product.ID}, customer)
	require.Equal(t, http.StatusCreated, w.Code)
	requestID := decode[map[string]string](t, w)["request"]

	w = httpDo(r, "POST", "/request", gin.H{}, customer)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httpDo(r, "GET", "/request?requestId="+requestID, nil, stranger)
	require.Equal(t, http.StatusNotFound, w.Code)
	w = httpDo(r, "PUT", "/request/accept?requestId="+requestID, nil, customer)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httpDo(r, "PUT", "/request/accept?requestId="+requestID, nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	transactionID := decode[map[string]string](t, w)["transactionId"]
	require.NotEmpty(t, transactionID)

	w = httpDo(r, "PUT", "/request/accept?requestId="+requestID, nil, owner)
	require.Equal(t, http.StatusConflict, w.Code)

	w = httpDo(r, "GET", "/request/all", nil, owner)
	reqs := decode[[]models.Request](t, w)
	require.Len(t, reqs, 1)
	require.Equal(t, models.RequestAccepted, reqs[0].Status)

	w = httpDo(r, "PUT", "/transaction", gin.H{"transactionId": transactionID}, customer)
	require.Equal(t, http.StatusOK, w.Code)
	otp := decode[map[string]any](t, w)
	code, _ := otp["code"].(string)
	require.Len(t, code, 6)

	w = httpDo(r, "PUT", "/transaction", gin.H{"transactionId": transactionID, "onetimePasscode": "not-it"}, owner)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = httpDo(r, "PUT", "/transaction", gin.H{"transactionId": transactionID, "onetimePasscode": code}, stranger)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httpDo(r, "PUT", "/transaction", gin.H{"transactionId": transactionID, "onetimePasscode": code}, owner)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httpDo(r, "PUT", "/transaction", gin.H{"transactionId": transactionID, "onetimePasscode": code}, owner)
	require.Equal(t, http.StatusConflict, w.Code)

	w = httpDo(r, "GET", "/user", nil, customer)
	require.Equal(t, signupPoints-50, decode[users.Profile](t, w).Points)
	w = httpDo(r, "GET", "/user", nil, owner)
	require.Equal(t, signupPoints+50, decode[users.Profile](t, w).Points)

	w = httpDo(r, "GET", "/transaction", nil, customer)
	require.NotContains(t, w.Body.String(), code)
	txs := decode[map[string][]models.Transaction](t, w)["transactions"]
	require.Len(t, txs, 1)
	require.Equal(t, models.TransactionConfirmed, txs[0].Status)

	w = httpDo(r, "GET", "/product/byId?productId="+product.ID, nil)
	sold := decode[models.Product](t, w)
	require.Equal(t, models.ProductSold, sold.Status)
	require.Equal(t, customerP.UserID, sold.Customer.UserID)

	w = httpDo(r, "GET", "/notification", nil, owner)
	notes := decode[[]models.Notification](t, w)
	require.Equal(t, "Transaction Completed", notes[0].Header)

	w = httpDo(r, "GET", "/notification/"+notes[0].ID, nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[notify.Detail](t, w)
	require.NotNil(t, detail.TransactionDetails)
	require.Equal(t, ownerP.UserID, detail.TransactionDetails.OwnerID)
	require.NotNil(t, detail.ProductDetails)

	w = httpDo(r, "GET", "/notification/"+notes[0].ID, nil, customer)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestCancelTransactionRoute(t *testing.T) {
	r, db := setupRouterWithDB(t)
	_, owner := registerUser(t, r, "Olive", "olive@example.com")
	_, customer := registerUser(t, r, "Carl", "carl@example.com")

	var ownerUser models.User
	require.NoError(t, db.First(&ownerUser, "email = ?", "olive@example.com").Error)
	p := testutil.CreateProduct(t, db, ownerUser, "Scarf", 10)

	w := httpDo(r, "POST", "/request", gin.H{"productId": p.ID}, customer)
	requestID := decode[map[string]string](t, w)["request"]
	w = httpDo(r, "PUT", "/request/accept?requestId="+requestID, nil, owner)
	transactionID := decode[map[string]string](t, w)["transactionId"]

	w = httpDo(r, "DELETE", "/transaction", gin.H{"transactionId": transactionID}, customer)
	require.Equal(t, http.StatusOK, w.Code)
	w = httpDo(r, "DELETE", "/transaction?transactionId="+transactionID, nil, owner)
	require.Equal(t, http.StatusConflict, w.Code)

	w = httpDo(r, "POST", "/request", gin.H{"productId": p.ID}, customer)
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode[map[string]string](t, w)["request"]
	w = httpDo(r, "PUT", "/request/cancel?requestId="+second, nil, customer)
	require.Equal(t, http.StatusOK, w.Code)
	w = httpDo(r, "PUT", "/request/reject?requestId="+second, nil, owner)
	require.Equal(t, http.StatusConflict, w.Code)

	var notes []models.Notification
	require.NoError(t, db.Where("user_id = ? AND header = ?", ownerUser.ID, "Transaction Cancelled").Find(&notes).Error)
	require.Len(t, notes, 1)
	require.Equal(t, models.LinkTransaction, notes[0].Link.Type)
}

func TestWriteErrorMapping(t *testing.T) {
	h := &Handler{Log: logging.Discard()}
	cases := []struct {
		err    error
		status int
		body   string
	}{
		{apperr.Unauthenticated("no token"), http.StatusUnauthorized, "no token"},
		{apperr.Forbidden("nope"), http.StatusForbidden, "nope"},
		{apperr.NotFound("gone"), http.StatusNotFound, "gone"},
		{apperr.Conflict("busy").With("transactionId", "t1"), http.StatusConflict, "busy"},
		{apperr.Validation("bad field"), http.StatusUnprocessableEntity, "bad field"},
		{apperr.BadRequest("bad code"), http.StatusBadRequest, "bad code"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest("GET", "/x", nil)
		h.writeError(c, tc.err)
		require.Equal(t, tc.status, w.Code)
		body := decode[map[string]string](t, w)
		require.Equal(t, tc.body, body["error"])
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/x", nil)
	h.writeError(c, apperr.Conflict("busy").With("transactionId", "t1"))
	require.Equal(t, "t1", decode[map[string]string](t, w)["transactionId"])
}
