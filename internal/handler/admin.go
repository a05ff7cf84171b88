package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"promo-rewards/internal/service"
)

type adminCommandRequest struct {
	ID           uuid.UUID       `json:"id"`
	TargetUserID int64           `json:"target_user_id"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Level        int             `json:"level"`
	Override     bool            `json:"override"`
	Reason       string          `json:"reason"`
}

// AdminCommand runs one admin command. The actor is the authenticated admin.
func (h *Handler) AdminCommand(c *gin.Context) {
	var req adminCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.Admin.Execute(c.Request.Context(), service.AdminCommand{
		ID:           req.ID,
		ActorID:      c.GetInt64(adminIDKey),
		TargetUserID: req.TargetUserID,
		Kind:         service.AdminKind(req.Kind),
		Amount:       req.Amount,
		Level:        req.Level,
		Override:     req.Override,
		Reason:       req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"duplicate":   res.Duplicate,
		"account":     res.Account,
		"transaction": transactionJSON(res.Transaction),
		"wallet":      walletJSON(res.Wallet),
	})
}

// AdminActions lists the admin notes for a user.
func (h *Handler) AdminActions(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	actions, err := h.Admin.Actions(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}
