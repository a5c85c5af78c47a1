package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gopikiran22001/ReWear/internal/models"
)

type requestCreateReq struct {
	ProductID string `json:"productId" binding:"required"`
}

type transactionReq struct {
	TransactionID   string `json:"transactionId" binding:"required"`
	OnetimePasscode string `json:"onetimePasscode"`
}

func (h *Handler) createRequest(c *gin.Context) {
	var req requestCreateReq
	if err := bind(c, &req); err != nil {
		h.writeError(c, err)
		return
	}
	r, err := h.Exchange.CreateRequest(c.Request.Context(), principal(c).UserID, req.ProductID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Request created successfully", "request": r.ID})
}

func (h *Handler) listRequests(c *gin.Context) {
	out, err := h.Exchange.ListRequests(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getRequest(c *gin.Context) {
	r, err := h.Exchange.GetRequest(c.Request.Context(), principal(c).UserID, c.Query("requestId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) acceptRequest(c *gin.Context) {
	r, err := h.Exchange.AcceptRequest(c.Request.Context(), principal(c).UserID, c.Query("requestId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Request accepted and transaction created",
		"transactionId": r.TransactionID,
	})
}

func (h *Handler) rejectRequest(c *gin.Context) {
	r, err := h.Exchange.RejectRequest(c.Request.Context(), principal(c).UserID, c.Query("requestId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Request rejected", "request": r})
}

func (h *Handler) cancelRequest(c *gin.Context) {
	r, err := h.Exchange.CancelRequest(c.Request.Context(), principal(c).UserID, c.Query("requestId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Request cancelled", "request": r})
}

func (h *Handler) listTransactions(c *gin.Context) {
	out, err := h.Exchange.ListTransactions(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// advanceTransaction is the single PUT endpoint of the hand-over: the
// customer gets the passcode, the owner submits it.
func (h *Handler) advanceTransaction(c *gin.Context) {
	var req transactionReq
	if err := bind(c, &req); err != nil {
		h.writeError(c, err)
		return
	}
	out, err := h.Exchange.Advance(c.Request.Context(), principal(c).UserID, req.TransactionID, req.OnetimePasscode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if out.Settled {
		c.JSON(http.StatusOK, gin.H{"message": "Exchange successful", "transaction": out.Transaction})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "OTP generated",
		"otpId":     out.Passcode.ID,
		"code":      out.Passcode.Code,
		"expiresAt": out.Passcode.ExpiresAt,
	})
}

func (h *Handler) cancelTransaction(c *gin.Context) {
	var req transactionReq
	if id := c.Query("transactionId"); id != "" {
		req.TransactionID = id
	} else if err := bind(c, &req); err != nil {
		h.writeError(c, err)
		return
	}
	t, err := h.Exchange.CancelTransaction(c.Request.Context(), principal(c).UserID, req.TransactionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Transaction cancelled successfully", "transaction": t})
}

func (h *Handler) listNotifications(c *gin.Context) {
	out, err := h.Notifications.List(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if out == nil {
		out = []models.Notification{}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getNotification(c *gin.Context) {
	d, err := h.Notifications.Get(c.Request.Context(), principal(c).UserID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
