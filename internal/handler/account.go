package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"promo-rewards/internal/model"
)

// New accounts always start at level 0; levels change through upgrades and admin commands.
type upsertAccountRequest struct {
	Status   string `json:"status"`
	Timezone string `json:"timezone"`
}

// UpsertAccount syncs an account from the identity provider.
func (h *Handler) UpsertAccount(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req upsertAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	acc, err := h.Accounts.EnsureAccount(c.Request.Context(), &model.Account{
		UserID:   userID,
		Status:   model.AccountStatus(req.Status),
		Timezone: req.Timezone,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// Wallet returns the wallet summary.
func (h *Handler) Wallet(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	w, err := h.Accounts.Wallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, walletJSON(w))
}

// Transactions returns recent transactions, newest first.
func (h *Handler) Transactions(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	txs, err := h.Accounts.History(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]gin.H, 0, len(txs))
	for _, t := range txs {
		items = append(items, transactionJSON(t))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

// Upgrade moves the user up one level.
func (h *Handler) Upgrade(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	res, err := h.Accounts.UpgradeLevel(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"level":  res.Account.Level,
		"fee":    res.Fee.StringFixed(model.MoneyPlaces),
		"wallet": walletJSON(res.Wallet),
	})
}

type withdrawRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	PayoutRef string          `json:"payout_ref"`
}

// Withdraw records a settled payout.
func (h *Handler) Withdraw(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.Accounts.Withdraw(c.Request.Context(), userID, req.Amount, req.PayoutRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"duplicate":   res.Duplicate,
		"transaction": transactionJSON(res.Transaction),
		"wallet":      walletJSON(res.Wallet),
	})
}
