// Package handlers is the gin HTTP surface of the marketplace.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/auth"
	"github.com/gopikiran22001/ReWear/internal/catalog"
	"github.com/gopikiran22001/ReWear/internal/exchange"
	"github.com/gopikiran22001/ReWear/internal/notify"
	"github.com/gopikiran22001/ReWear/internal/store"
	"github.com/gopikiran22001/ReWear/internal/users"
)

// Handler carries the services behind every route.
type Handler struct {
	DB            *gorm.DB
	Users         *users.Service
	Catalog       *catalog.Service
	Exchange      *exchange.Engine
	Notifications *notify.Service
	Issuer        *auth.Issuer
	// Relay serves the chat websocket; nil disables /ws.
	Relay        http.Handler
	CookieSecure bool
	Log          *slog.Logger
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	requireAuth := auth.Require(h.Issuer, h.Users, h.writeError)

	r.GET("/healthz", h.health)

	product := r.Group("/product")
	product.GET("", h.listProducts)
	product.GET("/search", h.searchProducts)
	product.GET("/byId", h.getProduct)
	product.GET("/my-products", requireAuth, h.myProducts)
	product.POST("", requireAuth, h.createProduct)
	product.DELETE("", requireAuth, h.deleteProduct)

	user := r.Group("/user")
	user.POST("/register", h.register)
	user.POST("/login", h.login)
	user.GET("/login", requireAuth, h.session)
	user.GET("/logout", h.logout)
	user.GET("", requireAuth, h.profile)
	user.PUT("", requireAuth, h.updateProfile)
	user.GET("/wishlist", requireAuth, h.wishlist)
	user.PUT("/wishlist", requireAuth, h.addToWishlist)
	user.DELETE("/wishlist", requireAuth, h.removeFromWishlist)

	request := r.Group("/request", requireAuth)
	request.POST("", h.createRequest)
	request.GET("/all", h.listRequests)
	request.GET("", h.getRequest)
	request.PUT("/accept", h.acceptRequest)
	request.PUT("/reject", h.rejectRequest)
	request.PUT("/cancel", h.cancelRequest)

	transaction := r.Group("/transaction", requireAuth)
	transaction.GET("", h.listTransactions)
	transaction.PUT("", h.advanceTransaction)
	transaction.DELETE("", h.cancelTransaction)

	notification := r.Group("/notification", requireAuth)
	notification.GET("", h.listNotifications)
	notification.GET("/:id", h.getNotification)

	if h.Relay != nil {
		r.GET("/ws", gin.WrapH(h.Relay))
	}
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindUnauthenticated: http.StatusUnauthorized,
	apperr.KindForbidden:       http.StatusForbidden,
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindConflict:        http.StatusConflict,
	apperr.KindValidation:      http.StatusUnprocessableEntity,
	apperr.KindBadRequest:      http.StatusBadRequest,
}

// writeError renders err as {"error": message}. Anything that is not a
// domain error is logged and hidden behind a generic 500.
func (h *Handler) writeError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		_ = c.Error(err)
		h.Log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	status, ok := statusByKind[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := gin.H{"error": appErr.Message}
	for k, v := range appErr.Details {
		body[k] = v
	}
	c.JSON(status, body)
}

// principal returns the caller resolved by auth.Require.
func principal(c *gin.Context) auth.Principal {
	p, _ := auth.FromContext(c)
	return p
}

// bind decodes a JSON body, reporting malformed input as a bad request.
func bind(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return apperr.BadRequest("invalid request body: %s", err.Error())
	}
	return nil
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := store.Ping(ctx, h.DB); err != nil {
		h.Log.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
