package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gopikiran22001/ReWear/internal/auth"
	"github.com/gopikiran22001/ReWear/internal/models"
	"github.com/gopikiran22001/ReWear/internal/users"
)

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// startSession issues the session cookie for u.
func (h *Handler) startSession(c *gin.Context, u models.User) (auth.Principal, error) {
	p := auth.Principal{UserID: u.ID, DisplayName: u.DisplayName()}
	token, err := h.Issuer.Issue(p)
	if err != nil {
		return auth.Principal{}, err
	}
	auth.SetCookie(c, token, h.Issuer.TTL(), h.CookieSecure)
	return p, nil
}

func (h *Handler) register(c *gin.Context) {
	var in users.RegisterInput
	if err := bind(c, &in); err != nil {
		h.writeError(c, err)
		return
	}
	u, err := h.Users.Register(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	p, err := h.startSession(c, u)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user": p})
}

func (h *Handler) login(c *gin.Context) {
	var req loginReq
	if err := bind(c, &req); err != nil {
		h.writeError(c, err)
		return
	}
	u, err := h.Users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	p, err := h.startSession(c, u)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "user": p})
}

// session reports the principal behind a still-valid cookie.
func (h *Handler) session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": principal(c)})
}

func (h *Handler) logout(c *gin.Context) {
	auth.ClearCookie(c, h.CookieSecure)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *Handler) profile(c *gin.Context) {
	p, err := h.Users.Profile(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var upd users.ProfileUpdate
	if err := bind(c, &upd); err != nil {
		h.writeError(c, err)
		return
	}
	u, err := h.Users.UpdateProfile(c.Request.Context(), principal(c).UserID, upd)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) wishlist(c *gin.Context) {
	products, err := h.Users.Wishlist(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) addToWishlist(c *gin.Context) {
	if err := h.Users.AddToWishlist(c.Request.Context(), principal(c).UserID, c.Query("productId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product added to wishlist"})
}

func (h *Handler) removeFromWishlist(c *gin.Context) {
	if err := h.Users.RemoveFromWishlist(c.Request.Context(), principal(c).UserID, c.Query("productId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product removed from wishlist"})
}
