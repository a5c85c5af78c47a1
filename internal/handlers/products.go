package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gopikiran22001/ReWear/internal/catalog"
)

func (h *Handler) createProduct(c *gin.Context) {
	var in catalog.CreateInput
	if err := bind(c, &in); err != nil {
		h.writeError(c, err)
		return
	}
	p, err := h.Catalog.Create(c.Request.Context(), principal(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.Catalog.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) searchProducts(c *gin.Context) {
	products, err := h.Catalog.Search(c.Request.Context(), c.Query("searchQuery"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) myProducts(c *gin.Context) {
	products, err := h.Catalog.ListByOwner(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) getProduct(c *gin.Context) {
	p, err := h.Catalog.Get(c.Request.Context(), c.Query("productId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.Catalog.Delete(c.Request.Context(), principal(c).UserID, c.Query("productId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}
