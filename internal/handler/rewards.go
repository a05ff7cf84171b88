package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"promo-rewards/internal/earnings"
	"promo-rewards/internal/model"
)

type adCallbackRequest struct {
	Kind        string      `json:"kind" binding:"required"`
	UserID      int64       `json:"user_id" binding:"required"`
	Platform    string      `json:"platform"`
	EventID     string      `json:"event_id"`
	BaseRevenue json.Number `json:"base_revenue"`
}

// AdCallback credits an ad network event.
func (h *Handler) AdCallback(c *gin.Context) {
	var req adCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ev, err := earnings.ParseAdEvent(req.Kind, req.UserID, req.Platform, req.EventID, req.BaseRevenue.String())
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.Ads.ApplyAdEvent(c.Request.Context(), ev)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entitlement": res.Entitlement.StringFixed(model.MoneyPlaces),
		"duplicate":   res.Result.Duplicate,
		"transaction": transactionJSON(res.Result.Transaction),
		"wallet":      walletJSON(res.Result.Wallet),
	})
}

// CanSpin reports whether today's spin is still available.
func (h *Handler) CanSpin(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	can, err := h.Spins.CanSpin(c.Request.Context(), userID, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_spin": can})
}

// Spin draws today's prize.
func (h *Handler) Spin(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	res, err := h.Spins.Draw(c.Request.Context(), userID, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"prize":  res.Prize.StringFixed(model.MoneyPlaces),
		"date":   res.Date,
		"wallet": walletJSON(res.Wallet),
	})
}

type referralRequest struct {
	ReferrerID int64 `json:"referrer_id" binding:"required"`
	ReferredID int64 `json:"referred_id" binding:"required"`
}

// RecordReferral links a referred user to their referrer.
func (h *Handler) RecordReferral(c *gin.Context) {
	var req referralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	added, err := h.Referrals.RecordReferral(c.Request.Context(), req.ReferrerID, req.ReferredID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// CheckReferrals pays any referral tiers the user has reached.
func (h *Handler) CheckReferrals(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	award, err := h.Referrals.CheckAndAward(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	tiers := make([]gin.H, 0, len(award.Awarded))
	for _, t := range award.Awarded {
		tiers = append(tiers, gin.H{"threshold": t.Threshold, "bonus": t.Bonus.StringFixed(model.MoneyPlaces)})
	}
	c.JSON(http.StatusOK, gin.H{
		"qualified": award.Qualified,
		"awarded":   tiers,
		"wallet":    walletJSON(award.Wallet),
	})
}
