package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shiftpay/lifecycle-api-go/pkg/database"
)

// GetMyUsage returns usage stats for the authenticated service key
func (h *Handler) GetMyUsage(c *gin.Context) {
	keyRaw, exists := c.Get("serviceKey")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Service key context missing"})
		return
	}
	serviceKey := keyRaw.(*database.ServiceKey)

	var usage []database.ServiceKeyUsage
	if err := h.DB.Where("key_id = ?", serviceKey.ID).Order("date desc").Limit(30).Find(&usage).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not fetch usage details"})
		return
	}

	// Calculate totals
	var totalRequests, totalRuns int64
	for _, u := range usage {
		totalRequests += int64(u.RequestCount)
		totalRuns += int64(u.RunsStarted)
	}

	c.JSON(http.StatusOK, gin.H{
		"key_name":      serviceKey.Name,
		"rate_limit":    serviceKey.RateLimit,
		"usage_history": usage,
		"totals": gin.H{
			"requests": totalRequests,
			"runs":     totalRuns,
		},
	})
}
