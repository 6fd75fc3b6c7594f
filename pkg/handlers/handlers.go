package handlers

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shiftpay/lifecycle-api-go/internal/scheduler"
	"github.com/shiftpay/lifecycle-api-go/pkg/auth"
	"github.com/shiftpay/lifecycle-api-go/pkg/database"
	"github.com/shiftpay/lifecycle-api-go/pkg/lifecycle"
	"github.com/shiftpay/lifecycle-api-go/pkg/models"
)

// Handler contains dependencies for the route handlers
type Handler struct {
	DB     *gorm.DB
	Engine *lifecycle.Engine
	Sched  *scheduler.Scheduler
}

// AuthMiddleware verifies the JWT token for admin routes
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Strip "Bearer " if present
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}

		claims, err := auth.VerifyToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}

// ServiceKeyMiddleware verifies the HMAC service key for trigger routes
func (h *Handler) ServiceKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Authorization")
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Service key required"})
			c.Abort()
			return
		}

		if len(key) > 7 && key[:7] == "Bearer " {
			key = key[7:]
		}

		callerID, err := auth.VerifyHMACKey(key)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid service key signature"})
			c.Abort()
			return
		}

		// Fetch or create the key record to track usage
		var serviceKey database.ServiceKey
		h.DB.Where(database.ServiceKey{Key: key}).FirstOrCreate(&serviceKey, database.ServiceKey{
			Key:       key,
			Name:      callerID,
			RateLimit: 10000,
		})

		c.Set("serviceKey", &serviceKey)
		c.Set("callerID", callerID)
		c.Next()
	}
}

// Healthz reports liveness and store reachability
func (h *Handler) Healthz(c *gin.Context) {
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunRule triggers one lifecycle rule by name and returns its summary
func (h *Handler) RunRule(c *gin.Context) {
	rule := c.Param("rule")

	if keyRaw, ok := c.Get("serviceKey"); ok {
		if key := keyRaw.(*database.ServiceKey); !key.CanRun(rule) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Service key is not scoped to this rule"})
			return
		}
	}

	sum, err := h.Engine.Run(c.Request.Context(), rule)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "rules": lifecycle.Rules()})
		return
	}

	h.RecordUsage(c)

	// Creating refunds should not wait for the next processing tick
	if rule == lifecycle.RuleRefundDetection && sum.Succeeded > 0 && h.Sched != nil {
		h.Sched.KickRefundProcessing()
	}

	c.JSON(http.StatusOK, sum)
}

// ListRuns returns recent run records, optionally filtered by rule
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	q := h.DB.Order("id desc").Limit(limit)
	if rule := c.Query("rule"); rule != "" {
		q = q.Where("rule = ?", rule)
	}

	var runs []models.RunRecord
	if err := q.Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not fetch run records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// StuckPayouts lists released payments past the payout failure cap;
// these need manual intervention
func (h *Handler) StuckPayouts(c *gin.Context) {
	var payments []models.Payment
	err := h.DB.
		Where("status = ? AND payout_failure_count >= ?",
			models.PaymentReleased, h.Engine.Config.MaxPayoutFailures).
		Find(&payments).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not fetch payments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// FailedRefunds lists terminally failed refunds awaiting reconciliation
func (h *Handler) FailedRefunds(c *gin.Context) {
	var refunds []models.Refund
	err := h.DB.
		Where("status = ?", models.RefundFailed).
		Order("processed_at desc").Limit(100).
		Find(&refunds).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not fetch refunds"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

// RecordUsage records trigger usage in the database using an efficient upsert
func (h *Handler) RecordUsage(c *gin.Context) {
	keyRaw, exists := c.Get("serviceKey")
	if !exists {
		return
	}
	serviceKey := keyRaw.(*database.ServiceKey)

	today := time.Now().Format("2006-01-02")

	// Use OnConflict for a single-query upsert (supported by both Postgres and SQLite)
	h.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"request_count": gorm.Expr("request_count + ?", 1),
			"runs_started":  gorm.Expr("runs_started + ?", 1),
		}),
	}).Create(&database.ServiceKeyUsage{
		KeyID:        serviceKey.ID,
		Date:         today,
		RequestCount: 1,
		RunsStarted:  1,
	})
}

// Login handles admin login
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user database.MasterUser
	if err := h.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := auth.CreateToken(user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

// GenerateKey creates a new service key using the HMAC strategy
func (h *Handler) GenerateKey(c *gin.Context) {
	var req struct {
		Name      string   `json:"name"`
		RateLimit int      `json:"rate_limit"`
		Rules     []string `json:"rules"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	for _, r := range req.Rules {
		if !slices.Contains(lifecycle.Rules(), r) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown rule: " + r, "rules": lifecycle.Rules()})
			return
		}
	}

	if req.RateLimit == 0 {
		req.RateLimit = 10000
	}

	key := auth.GenerateHMACKey(req.Name)

	serviceKey := database.ServiceKey{
		Key:          key,
		Name:         req.Name,
		RateLimit:    req.RateLimit,
		AllowedRules: strings.Join(req.Rules, ","),
	}

	if err := h.DB.Create(&serviceKey).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create key record"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":          req.Name,
		"key":           key,
		"allowed_rules": serviceKey.AllowedRules,
	})
}

// ListKeys returns all service keys
func (h *Handler) ListKeys(c *gin.Context) {
	var keys []database.ServiceKey
	h.DB.Find(&keys)
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// RevokeKey deletes a service key
func (h *Handler) RevokeKey(c *gin.Context) {
	id := c.Param("id")
	if err := h.DB.Delete(&database.ServiceKey{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not delete key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key revoked"})
}

// UpdateKeyLimit updates the rate limit for a key
func (h *Handler) UpdateKeyLimit(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		RateLimit int `json:"rate_limit" form:"rate_limit"`
	}

	// Try JSON first, then Form/Query
	if err := c.ShouldBindJSON(&req); err != nil {
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rate_limit is required"})
			return
		}
	}

	if req.RateLimit == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rate limit"})
		return
	}

	if err := h.DB.Model(&database.ServiceKey{}).Where("id = ?", id).Update("rate_limit", req.RateLimit).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not update key limit"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rate limit updated successfully"})
}

// GetUsage returns usage stats for a key
func (h *Handler) GetUsage(c *gin.Context) {
	id := c.Param("id")
	var usage []database.ServiceKeyUsage
	h.DB.Where("key_id = ?", id).Order("date desc").Limit(30).Find(&usage)
	c.JSON(http.StatusOK, gin.H{"usage": usage})
}
