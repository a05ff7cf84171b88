package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"promo-rewards/internal/config"
)

const (
	adminIDKey      = "admin_id"
	signatureHeader = "X-Signature"
	bearerPrefix    = "Bearer "
)

var errMissingToken = errors.New("missing bearer token")

func unauthorized(c *gin.Context, reason string) {
	log.Warn().
		Str("path", c.FullPath()).
		Str("remote", c.ClientIP()).
		Str("reason", reason).
		Msg("Rejected unauthenticated request")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "authentication required"})
}

// CallbackSignature returns the hex HMAC-SHA256 of body under secret.
func CallbackSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureMiddleware requires X-Signature to carry CallbackSignature of the raw body.
// The body is restored for the handler.
func SignatureMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.CallbackSecret == "" {
			unauthorized(c, "callback secret not configured")
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBody(cfg)))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "invalid_request", "message": "request body too large"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		provided, err := hex.DecodeString(c.GetHeader(signatureHeader))
		if err != nil || len(provided) == 0 {
			unauthorized(c, "missing signature")
			return
		}
		expected, _ := hex.DecodeString(CallbackSignature(cfg.CallbackSecret, body))
		if !hmac.Equal(provided, expected) {
			unauthorized(c, "bad signature")
			return
		}
		c.Next()
	}
}

// IssueToken signs an HS256 token for subject valid for ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// verifyToken checks the bearer token and returns its claims. Tokens must expire.
func verifyToken(c *gin.Context, secret string, skew time.Duration) (*jwt.RegisteredClaims, error) {
	raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), bearerPrefix)
	if !ok || raw == "" {
		return nil, errMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(skew))
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt == nil {
		return nil, errors.New("token has no expiry")
	}
	return claims, nil
}

// ServiceMiddleware admits backend services holding a token signed with the service secret.
func ServiceMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.ServiceSecret == "" {
			unauthorized(c, "service secret not configured")
			return
		}
		if _, err := verifyToken(c, cfg.ServiceSecret, cfg.ClockSkew); err != nil {
			unauthorized(c, err.Error())
			return
		}
		c.Next()
	}
}

// AdminMiddleware admits tokens signed with the admin secret whose subject is a configured admin.
func AdminMiddleware(cfg config.AuthConfig, isAdmin func(int64) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AdminSecret == "" {
			unauthorized(c, "admin secret not configured")
			return
		}
		claims, err := verifyToken(c, cfg.AdminSecret, cfg.ClockSkew)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		id, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || !isAdmin(id) {
			log.Warn().
				Str("admin_id", claims.Subject).
				Str("path", c.FullPath()).
				Msg("Non-admin attempted admin command")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "admin permission required"})
			return
		}
		c.Set(adminIDKey, id)
		c.Next()
	}
}

func maxBody(cfg config.AuthConfig) int64 {
	if cfg.MaxBodyBytes <= 0 {
		return 1 << 20
	}
	return cfg.MaxBodyBytes
}

// LoggingMiddleware logs every request once it has been served.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := log.Debug()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("Request served")
	}
}

// RecoveryMiddleware turns a panic into a 500 response.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Msg("Recovered from panic in handler")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
			}
		}()
		c.Next()
	}
}
