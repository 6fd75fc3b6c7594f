package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shiftpay/lifecycle-api-go/pkg/lifecycle"
	"github.com/shiftpay/lifecycle-api-go/pkg/models"
)

// ValidateShift checks a proposed shift schedule before it is posted:
// parseable times, overnight detection, computed duration and the break
// the schedule would mandate
func (h *Handler) ValidateShift(c *gin.Context) {
	var input struct {
		Date      string `json:"date"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	date, err := time.Parse("2006-01-02", input.Date)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": "date must be YYYY-MM-DD"})
		return
	}

	shift := models.Shift{Date: date, StartTime: input.StartTime, EndTime: input.EndTime}

	start, err := lifecycle.ShiftStart(&shift)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	end, err := lifecycle.ShiftEnd(&shift)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}

	duration := end.Sub(start)

	c.JSON(http.StatusOK, gin.H{
		"valid": true,
		"stats": gin.H{
			"start":                  start.Format(time.RFC3339),
			"end":                    end.Format(time.RFC3339),
			"overnight":              end.Day() != start.Day(),
			"duration_hours":         duration.Hours(),
			"required_break_minutes": lifecycle.RequiredBreakMinutes(duration.Hours()),
		},
	})
}
