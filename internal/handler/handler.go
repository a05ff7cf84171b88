// Package handler exposes the rewards services over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"promo-rewards/internal/config"
	"promo-rewards/internal/earnings"
	"promo-rewards/internal/model"
	"promo-rewards/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the services behind the HTTP API.
type Handler struct {
	Accounts  *service.AccountService
	Ads       *service.AdService
	Spins     *service.SpinService
	Referrals *service.ReferralService
	Admin     *service.AdminService
	Store     Pinger
	IsAdmin   func(int64) bool
	Auth      config.AuthConfig
	Gatherer  prometheus.Gatherer // nil uses the default registry
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(RecoveryMiddleware(), LoggingMiddleware())

	r.GET("/healthz", h.Health)
	gatherer := h.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.POST("/callbacks/ad", SignatureMiddleware(h.Auth), h.AdCallback)

	svc := api.Group("", ServiceMiddleware(h.Auth))
	svc.POST("/referrals", h.RecordReferral)

	users := svc.Group("/users/:id")
	users.PUT("", h.UpsertAccount)
	users.GET("/wallet", h.Wallet)
	users.GET("/transactions", h.Transactions)
	users.POST("/upgrade", h.Upgrade)
	users.POST("/withdrawals", h.Withdraw)
	users.GET("/spin", h.CanSpin)
	users.POST("/spin", h.Spin)
	users.POST("/referrals/check", h.CheckReferrals)

	admin := api.Group("/admin", AdminMiddleware(h.Auth, h.isAdmin))
	admin.POST("/commands", h.AdminCommand)
	admin.GET("/users/:id/actions", h.AdminActions)

	return r
}

func (h *Handler) isAdmin(id int64) bool {
	return h.IsAdmin != nil && h.IsAdmin(id)
}

// Health reports store reachability.
func (h *Handler) Health(c *gin.Context) {
	if h.Store != nil {
		if err := h.Store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid user id"})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
}

// statusFor maps a service error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, earnings.ErrInvalidEvent),
		errors.Is(err, earnings.ErrInvalidLevelChange),
		errors.Is(err, service.ErrInvalidAccount),
		errors.Is(err, service.ErrInvalidCommand),
		errors.Is(err, service.ErrInvalidPayoutRef),
		errors.Is(err, service.ErrSelfReferral):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, model.ErrAccountInactive):
		return http.StatusForbidden, "account_inactive"
	case errors.Is(err, model.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, model.ErrAlreadySpunToday):
		return http.StatusConflict, "already_spun_today"
	case errors.Is(err, model.ErrDailyLimitReached):
		return http.StatusConflict, "daily_limit_reached"
	case errors.Is(err, model.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, service.ErrWithdrawalNotAllowed):
		return http.StatusConflict, "withdrawal_not_allowed"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, model.ErrConfiguration):
		return http.StatusInternalServerError, "configuration_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func walletJSON(w *model.Wallet) gin.H {
	if w == nil {
		return nil
	}
	const places = model.MoneyPlaces
	return gin.H{
		"user_id":                 w.UserID,
		"available_balance":       w.AvailableBalance.StringFixed(places),
		"pending_balance":         w.PendingBalance.StringFixed(places),
		"withdrawable_balance":    w.Withdrawable().StringFixed(places),
		"total_earned":            w.TotalEarned.StringFixed(places),
		"total_withdrawn":         w.TotalWithdrawn.StringFixed(places),
		"earnings_from_tasks":     w.EarningsFromTasks.StringFixed(places),
		"earnings_from_referrals": w.EarningsFromReferrals.StringFixed(places),
		"earnings_from_bonuses":   w.EarningsFromBonuses.StringFixed(places),
		"updated_at":              w.UpdatedAt,
	}
}

func transactionJSON(t *model.Transaction) gin.H {
	if t == nil {
		return nil
	}
	out := gin.H{
		"id":          t.ID,
		"type":        t.Type,
		"amount":      t.Amount.StringFixed(model.MoneyPlaces),
		"description": t.Description,
		"created_at":  t.CreatedAt,
	}
	if t.IdempotencyKey != nil {
		out["idempotency_key"] = *t.IdempotencyKey
	}
	return out
}
